// Package main is the entry point for the reelhouse API server.
//
// main stays small: load configuration, build the logger, hand both to
// internal/server and block until shutdown. Everything else lives in
// internal/.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sakif/reelhouse/internal/config"
	"github.com/sakif/reelhouse/internal/server"
)

func main() {
	// === 1. CONFIGURATION ===
	// Defaults, then config.yaml (or CONFIG_PATH), then env vars.
	// JWT_SECRET is required:
	//   JWT_SECRET=$(openssl rand -hex 32)
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "reelhouse: %v\n", err)
		os.Exit(1)
	}

	// === 2. LOGGING ===
	logger := newLogger(os.Stdout, cfg)
	slog.SetDefault(logger)

	if !cfg.GitHubEnabled() {
		logger.Warn("GITHUB_CLIENT_ID not set, GitHub login is disabled")
	}

	// === 3. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM or a listener fails.
	if err := srv.Start(context.Background()); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// newLogger builds a text logger for local development or a JSON logger
// for log shippers, depending on LOG_FORMAT.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel()}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
