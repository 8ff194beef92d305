package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/codehub/internal/auth"
	"github.com/felixgeelhaar/codehub/internal/cache"
	"github.com/felixgeelhaar/codehub/internal/config"
	"github.com/felixgeelhaar/codehub/internal/daemon"
	"github.com/felixgeelhaar/codehub/internal/history"
	"github.com/felixgeelhaar/codehub/internal/observability"
	"github.com/felixgeelhaar/codehub/internal/queue"
	"github.com/felixgeelhaar/codehub/internal/storage/local"
	"github.com/felixgeelhaar/codehub/internal/storage/postgres"
	"github.com/felixgeelhaar/codehub/internal/storage/sqlite"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	pidFileName = "codehubd.pid"
	historyFile = "history.db"
)

func main() {
	if err := run(); err != nil {
		slog.Error("daemon error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	codehubDir, err := config.EnsureCodehubDir()
	if err != nil {
		return fmt.Errorf("ensure codehub dir: %w", err)
	}

	cfg, err := config.LoadLocalConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logFile, err := setupLogging(codehubDir, parseLogLevel(cfg.Daemon.LogLevel))
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logFile.Close()

	pidPath := filepath.Join(codehubDir, pidFileName)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, observability.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     Version,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	registry, err := daemon.BuildRegistry(cfg, slog.Default())
	if err != nil {
		return fmt.Errorf("setup llm providers: %w", err)
	}
	defer registry.Close()
	if len(registry.List()) == 0 {
		slog.Warn("no LLM providers registered; generation requests will fail until one is configured")
	}

	svc, err := daemon.NewGenerationService(cfg, registry, slog.Default())
	if err != nil {
		return err
	}

	store, err := openHistory(ctx, cfg, codehubDir)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	if store != nil {
		defer store.Close()
		svc.SetRecorder(history.NewRecorder(store))
	}

	if cfg.Cache.Enabled {
		rc, err := cache.New(ctx, cache.Config{Addr: cfg.Cache.Addr, TTL: cfg.Cache.TTL()})
		if err != nil {
			slog.Warn("response cache unavailable, continuing without it", "addr", cfg.Cache.Addr, "error", err)
		} else {
			defer rc.Close()
			svc.SetCache(rc)
			slog.Info("response cache enabled", "addr", cfg.Cache.Addr, "ttl", cfg.Cache.TTL())
		}
	}

	var verifier *auth.Verifier
	if cfg.Auth.Enabled {
		verifier, err = auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
		if err != nil {
			return fmt.Errorf("setup auth: %w", err)
		}
	}

	serverCfg := daemon.ServerConfig{
		Config:     cfg,
		Generation: svc,
		History:    store,
		Verifier:   verifier,
		Providers:  registry.List(),
		Version:    Version,
	}

	var conn *queue.Connection
	if cfg.Queue.Enabled {
		conn, err = queue.NewConnection(cfg.Queue.URL)
		if err != nil {
			return fmt.Errorf("connect queue: %w", err)
		}
		defer conn.Close()
		serverCfg.Jobs = queue.NewProducer(conn)
	}

	server, err := daemon.NewServer(serverCfg)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}

	var startWorkers func(context.Context) (func(), error)
	if conn != nil {
		startWorkers = func(ctx context.Context) (func(), error) {
			consumer := queue.NewConsumer(conn, queue.NewGenerationHandler(svc), queue.ConsumerConfig{
				Workers:    cfg.Queue.Workers,
				Prefetch:   cfg.Queue.Prefetch,
				JobTimeout: cfg.Generation.RequestTimeout(),
			})
			results := queue.NewResultConsumer(conn, server.HandleJobResult)

			if err := consumer.Start(ctx); err != nil {
				return nil, fmt.Errorf("start consumer: %w", err)
			}
			if err := results.Start(ctx); err != nil {
				consumer.Stop()
				return nil, fmt.Errorf("start result consumer: %w", err)
			}
			return func() {
				results.Stop()
				consumer.Stop()
			}, nil
		}
	}

	if err := serve(ctx, server, startWorkers); err != nil {
		return err
	}

	slog.Info("daemon stopped")
	return nil
}

// httpServer is the part of *daemon.Server that serve drives.
type httpServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// serve starts the queue workers, if any, and only then the HTTP listener,
// so a worker failure never leaves a listener behind. It blocks until ctx
// is done or the listener fails.
func serve(ctx context.Context, server httpServer, startWorkers func(context.Context) (func(), error)) error {
	g, gctx := errgroup.WithContext(ctx)

	if startWorkers != nil {
		stop, err := startWorkers(gctx)
		if err != nil {
			return err
		}
		defer stop()
	}

	g.Go(server.Start)

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// openHistory opens the configured history backend. The none driver
// returns a nil store.
func openHistory(ctx context.Context, cfg *config.LocalConfig, codehubDir string) (history.Store, error) {
	switch cfg.History.Driver {
	case "postgres":
		store, err := postgres.Open(ctx, cfg.History.DSN)
		if err != nil {
			return nil, err
		}
		slog.Info("history enabled", "driver", "postgres")
		return store, nil
	case "sqlite", "":
		path := cfg.History.DSN
		if path == "" {
			path = filepath.Join(codehubDir, historyFile)
		}
		store, err := sqlite.OpenHistory(path)
		if err != nil {
			return nil, err
		}
		slog.Info("history enabled", "driver", "sqlite", "path", path)
		return store, nil
	case "file":
		dir := cfg.History.DSN
		if dir == "" {
			dir = filepath.Join(codehubDir, "history")
		}
		store, err := local.OpenHistory(dir)
		if err != nil {
			return nil, err
		}
		slog.Info("history enabled", "driver", "file", "dir", dir)
		return store, nil
	default:
		return nil, nil
	}
}

func writePIDFile(path string) error {
	pid := os.Getpid()
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", pid)), 0644)
}
