// Command mcp serves the escrow API as MCP tools over stdio, for agents
// that drive escrows on behalf of the client and owner.
//
// BLOCKSMITH_API_URL points at the escrow API. BLOCKSMITH_CLIENT_TOKEN and
// BLOCKSMITH_OWNER_TOKEN are optional; without them the server logs in
// itself on first use.
package main

import (
	"cmp"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/mark3labs/mcp-go/server"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/mcpserver"
)

func main() {
	srv := mcpserver.NewMCPServer(mcpserver.Config{
		APIURL:      cmp.Or(os.Getenv("BLOCKSMITH_API_URL"), "http://localhost:8080"),
		ClientToken: os.Getenv("BLOCKSMITH_CLIENT_TOKEN"),
		OwnerToken:  os.Getenv("BLOCKSMITH_OWNER_TOKEN"),
	})
	// stdout carries the protocol, so diagnostics go to stderr.
	if err := server.ServeStdio(srv); err != nil {
		fmt.Fprintln(os.Stderr, "mcp:", err)
		os.Exit(1)
	}
}
