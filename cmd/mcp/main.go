// Command mcp serves ContextForge analytics and job status as MCP tools over
// stdio. It talks to a running API server with an API key.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/contextforge/contextforge/internal/logging"
	"github.com/contextforge/contextforge/internal/mcpserver"
)

func main() {
	_ = godotenv.Load()

	// stdout carries the protocol; logs go to stderr.
	logger := logging.NewWithWriter(os.Stderr, os.Getenv("LOG_LEVEL"), "text")

	cfg := mcpserver.Config{
		APIURL: os.Getenv("CONTEXTFORGE_API_URL"),
		APIKey: os.Getenv("CONTEXTFORGE_API_KEY"),
	}
	if cfg.APIURL == "" {
		cfg.APIURL = "http://localhost:8080"
	}
	if cfg.APIKey == "" {
		logger.Error("CONTEXTFORGE_API_KEY is required")
		os.Exit(1)
	}

	logger.Info("starting mcp server", "version", mcpserver.Version, "api_url", cfg.APIURL)
	errLog := slog.NewLogLogger(logger.Handler(), slog.LevelError)
	if err := server.ServeStdio(mcpserver.NewMCPServer(cfg), server.WithErrorLogger(errLog)); err != nil {
		logger.Error("mcp server stopped", "error", err)
		os.Exit(1)
	}
}
