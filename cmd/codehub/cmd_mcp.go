package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/felixgeelhaar/codehub/internal/config"
	"github.com/felixgeelhaar/codehub/internal/daemon"
	"github.com/felixgeelhaar/codehub/internal/history"
	mcpserver "github.com/felixgeelhaar/codehub/internal/mcp"
	"github.com/felixgeelhaar/codehub/internal/storage/local"
	"github.com/felixgeelhaar/codehub/internal/storage/sqlite"
)

// cmdMCP starts the MCP server in-process. Generation runs locally
// against the configured providers, so the daemon does not need to be up.
func cmdMCP(args []string) error {
	httpAddr := ""
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--http":
			if i+1 >= len(args) {
				return fmt.Errorf("--http requires an address")
			}
			httpAddr = args[i+1]
			i++
		default:
			return fmt.Errorf("unknown mcp flag: %s", args[i])
		}
	}

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// stdout carries the protocol on stdio; keep logs on stderr
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	registry, err := daemon.BuildRegistry(cfg, logger)
	if err != nil {
		return fmt.Errorf("setup llm providers: %w", err)
	}
	defer registry.Close()

	svc, err := daemon.NewGenerationService(cfg, registry, logger)
	if err != nil {
		return err
	}

	// MCP generations land in the same local history as the daemon's
	store, err := openLocalHistory(cfg)
	if err != nil {
		logger.Warn("history unavailable", "error", err)
	} else if store != nil {
		defer store.Close()
		svc.SetRecorder(history.NewRecorder(store))
	}

	mcpSrv := mcpserver.NewServer(mcpserver.Config{
		Generation: svc,
		Version:    Version,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if httpAddr != "" {
		fmt.Fprintf(os.Stderr, "MCP server listening on %s\n", httpAddr)
		return mcpSrv.ServeHTTP(ctx, httpAddr)
	}
	return mcpSrv.ServeStdio(ctx)
}

// openLocalHistory opens the file-backed history drivers. Postgres is
// left to the daemon.
func openLocalHistory(cfg *config.LocalConfig) (history.Store, error) {
	switch cfg.History.Driver {
	case "sqlite", "file", "":
	default:
		return nil, nil
	}

	codehubDir, err := config.EnsureCodehubDir()
	if err != nil {
		return nil, err
	}
	path := cfg.History.DSN

	if cfg.History.Driver == "file" {
		if path == "" {
			path = filepath.Join(codehubDir, "history")
		}
		store, err := local.OpenHistory(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	if path == "" {
		path = filepath.Join(codehubDir, "history.db")
	}
	store, err := sqlite.OpenHistory(path)
	if err != nil {
		return nil, err
	}
	return store, nil
}
