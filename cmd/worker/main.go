package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joshu-sajeev/jobqueue/internal/app"
	"github.com/joshu-sajeev/jobqueue/internal/config"
)

// The worker binary runs the engine without the HTTP surface. It only
// makes sense against a store shared with an api process.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	if cfg.StoreDriver == "memory" {
		logger.Error("worker needs a shared store; set STORE_DRIVER to postgres or redis")
		os.Exit(1)
	}

	store, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	engine := app.NewEngine(cfg, store, logger)
	defer engine.Close()
	engine.Metrics.Install()

	logger.Info("worker pool active", slog.Int("workers", cfg.MaxWorkers), slog.String("store", cfg.StoreDriver))

	if err := engine.Run(ctx); err != nil {
		logger.Error("worker stopped with error", slog.String("error", err.Error()))
		return
	}
	logger.Info("shutdown complete")
}
