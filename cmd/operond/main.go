package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/operon-dev/operon/internal/catalog"
	"github.com/operon-dev/operon/internal/logging"
	"github.com/operon-dev/operon/internal/ops"
	"github.com/operon-dev/operon/internal/scheduler"
	"github.com/operon-dev/operon/internal/server"
	"github.com/operon-dev/operon/internal/streaming"
	"github.com/operon-dev/operon/internal/workflow"
	"github.com/operon-dev/operon/pkg/mcp"
)

func main() {
	if err := run(); err != nil {
		slog.Error("operond exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Catalog store (templates + schedules). Operation and workflow history
	// is in-memory only.
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}
	store, err := catalog.NewLibSQLStore("file:" + cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	cat, err := catalog.New(store)
	if err != nil {
		return err
	}

	hub := streaming.NewMemoryHub()
	opsStore := ops.NewStore(ops.WithHub(hub), ops.WithLogger(logger))

	registry := workflow.NewActionRegistry()
	if err := workflow.RegisterBuiltins(registry); err != nil {
		return err
	}
	engine := workflow.NewEngine(registry, workflow.WithHub(hub), workflow.WithLogger(logger))
	runner := workflow.NewRunner(engine, cat, opsStore, logger)

	sched := scheduler.New(store, runner, logger)
	if cfg.Scheduler {
		if err := sched.RecoverMissed(ctx); err != nil {
			logger.Warn("missed-run recovery failed", slog.String("error", err.Error()))
		}
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()
	}

	if cfg.MCP {
		mcpSrv := mcp.NewOperonServer(mcp.OperonServerDeps{
			Runner:   runner,
			OpsStore: opsStore,
			Catalog:  cat,
			Logger:   logger,
		})
		go func() {
			if err := mcpSrv.Serve(ctx); err != nil {
				logger.Error("mcp server stopped", slog.String("error", err.Error()))
			}
		}()
	}

	api := server.New(server.Deps{
		Runner:    runner,
		OpsStore:  opsStore,
		Catalog:   cat,
		Jobs:      store,
		Scheduler: sched,
		Hub:       hub,
		Logger:    logger,
	})

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("operond listening", slog.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	base := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(base))
}
