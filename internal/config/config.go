package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-envconfig"
)

// Config holds engine and process settings shared by the api and worker
// binaries. Storage backends carry their own config structs.
type Config struct {
	HTTPPort            string        `env:"HTTP_PORT,default=8080"`
	MaxWorkers          int           `env:"MAX_WORKERS,default=10"`
	StoreDriver         string        `env:"STORE_DRIVER,default=memory"`
	PollInterval        time.Duration `env:"POLL_INTERVAL,default=1s"`
	SweepInterval       time.Duration `env:"SWEEP_INTERVAL,default=500ms"`
	HealthFailureWindow time.Duration `env:"HEALTH_FAILURE_WINDOW,default=5m"`
	RetentionSchedule   string        `env:"RETENTION_SCHEDULE,default=@every 30s"`
	RetentionGrace      time.Duration `env:"RETENTION_GRACE,default=1m"`
	ShutdownTimeout     time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT,default=5s"`
	HandlerStepDelay    time.Duration `env:"HANDLER_STEP_DELAY,default=500ms"`
	BackoffJitter       float64       `env:"BACKOFF_JITTER,default=0"`
	StalledJobTimeout   time.Duration `env:"STALLED_JOB_TIMEOUT,default=5m"`
	JanitorInterval     time.Duration `env:"JANITOR_INTERVAL,default=30s"`
	MigrationMode       string        `env:"MIGRATION_MODE,default=goose"`
	MigrationsDir       string        `env:"MIGRATIONS_DIR,default=migrations"`
	LogLevelString      string        `env:"LOG_LEVEL,default=info"`
	LogLevel            slog.Level
}

// to help with testing
var envProcess = envconfig.Process

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envProcess(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.LogLevel = ParseLogLevel(cfg.LogLevelString)
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errors []string

	if cfg.MaxWorkers < 1 {
		errors = append(errors, "MAX_WORKERS must be at least 1")
	}

	switch cfg.StoreDriver {
	case "memory", "postgres", "redis":
	default:
		errors = append(errors, "STORE_DRIVER must be one of memory, postgres, redis")
	}

	switch cfg.MigrationMode {
	case "goose", "gorm", "none":
	default:
		errors = append(errors, "MIGRATION_MODE must be one of goose, gorm, none")
	}

	if cfg.PollInterval <= 0 {
		errors = append(errors, "POLL_INTERVAL must be positive")
	}

	if cfg.SweepInterval <= 0 {
		errors = append(errors, "SWEEP_INTERVAL must be positive")
	}

	if cfg.HealthFailureWindow <= 0 {
		errors = append(errors, "HEALTH_FAILURE_WINDOW must be positive")
	}

	if cfg.BackoffJitter < 0 || cfg.BackoffJitter > 1 {
		errors = append(errors, "BACKOFF_JITTER must be between 0 and 1")
	}

	if cfg.StalledJobTimeout < 0 {
		errors = append(errors, "STALLED_JOB_TIMEOUT must be non-negative")
	}

	if cfg.JanitorInterval <= 0 {
		errors = append(errors, "JANITOR_INTERVAL must be positive")
	}

	if cfg.RetentionGrace < 0 {
		errors = append(errors, "RETENTION_GRACE must be non-negative")
	}

	// An empty schedule turns retention purging off.
	if cfg.RetentionSchedule != "" {
		if _, err := cron.ParseStandard(cfg.RetentionSchedule); err != nil {
			errors = append(errors, "RETENTION_SCHEDULE is not a valid cron spec")
		}
	}

	if strings.TrimSpace(cfg.HTTPPort) == "" {
		errors = append(errors, "HTTP_PORT is required")
	}

	if len(errors) > 0 {
		return fmt.Errorf("%s", strings.Join(errors, "; "))
	}

	return nil
}

// ParseLogLevel converts a level name into a slog.Level, defaulting to info.
func ParseLogLevel(levelStr string) slog.Level {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger builds the process-wide JSON logger.
func NewLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
