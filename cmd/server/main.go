// Command server runs the XRPL token escrow API.
package main

import (
	"context"
	"os"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/config"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/logging"
	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/server"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(context.Background()))
}

func run(ctx context.Context) int {
	cfg, err := config.Load()
	if err != nil {
		// Config decides the log format, so this one line uses the default.
		logging.New("info", "text").Error("invalid configuration", "error", err)
		return 2
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("escrow service starting",
		"version", version,
		"commit", commit,
		"env", cfg.Env,
		"rpc_url", cfg.RPCURL,
		"currency", cfg.Currency,
		"persistent", cfg.DatabaseURL != "",
	)
	server.Version = version

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("server setup failed", "error", err)
		return 1
	}
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped with error", "error", err)
		return 1
	}
	return 0
}
