// Toolgate - Payment-gated MCP tools for HTTP APIs
package main

import (
	"context"
	"os"

	"github.com/toolgate-io/toolgate/internal/config"
	"github.com/toolgate-io/toolgate/internal/logging"
	"github.com/toolgate-io/toolgate/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting toolgate",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"chain_id", cfg.ChainID,
		"usdc_contract", cfg.USDCContract,
	)

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
