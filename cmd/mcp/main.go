// Toolgate MCP Server - Serves one tenant's gated tools over stdio
//
// Intended for local MCP clients that speak stdio instead of the
// streamable HTTP endpoint. The caller identity is fixed at startup
// via TOOLGATE_CALLER since stdio carries no per-request headers.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/toolgate-io/toolgate/internal/config"
	"github.com/toolgate-io/toolgate/internal/logging"
	srv "github.com/toolgate-io/toolgate/internal/server"
	"github.com/toolgate-io/toolgate/internal/sessions"
	"github.com/toolgate-io/toolgate/internal/validation"
)

func main() {
	logger := logging.New(envOrDefault("LOG_LEVEL", "error"), "text")

	tenant := os.Getenv("TOOLGATE_TENANT")
	if tenant == "" {
		fmt.Fprintln(os.Stderr, "TOOLGATE_TENANT is required")
		os.Exit(1)
	}

	caller := os.Getenv("TOOLGATE_CALLER")
	if !validation.IsValidEthAddress(caller) {
		fmt.Fprintln(os.Stderr, "TOOLGATE_CALLER must be a valid address")
		os.Exit(1)
	}
	caller = validation.SanitizeAddress(caller)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	s, err := srv.New(cfg, srv.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = s.Shutdown() }()

	mcpSrv, err := s.Sessions().GetOrCreate(context.Background(), tenant)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build session for %s: %v\n", tenant, err)
		os.Exit(1)
	}

	err = server.ServeStdio(mcpSrv, server.WithStdioContextFunc(
		func(ctx context.Context) context.Context {
			return sessions.WithPayer(ctx, caller)
		},
	))
	if err != nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
