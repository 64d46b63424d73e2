package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/storage/postgres"
)

func main() {
	dir := flag.String("dir", "migrations", "directory holding goose migrations")
	flag.Parse()

	ctx := context.Background()
	logger := config.NewLogger(config.ParseLogLevel(os.Getenv("LOG_LEVEL")))
	slog.SetDefault(logger)

	cfg, err := postgres.LoadConfigFromEnv(ctx)
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := postgres.RunMigrations(ctx, cfg, *dir); err != nil {
		logger.Error("migration failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
