package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// Version is reported to MCP clients.
const Version = "0.1.0"

// NewMCPServer creates a configured MCP server with all escrow tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("blocksmith-escrow", Version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)
	h := NewHandlers(cfg)

	s.AddTool(ToolCreateEscrow, h.HandleCreateEscrow)
	s.AddTool(ToolFinishEscrow, h.HandleFinishEscrow)
	s.AddTool(ToolCancelEscrow, h.HandleCancelEscrow)
	s.AddTool(ToolGetEscrow, h.HandleGetEscrow)
	s.AddTool(ToolSubmitClaimDecision, h.HandleSubmitClaimDecision)
	s.AddTool(ToolCheckBalance, h.HandleCheckBalance)

	return s
}
