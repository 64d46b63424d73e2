// Package app wires the queue engine together from configuration. Both
// binaries build on it: the api process serves HTTP on top of an Engine,
// the worker process only runs one.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/backoff"
	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/job"
	"github.com/joshu-sajeev/jobqueue/internal/metrics"
	"github.com/joshu-sajeev/jobqueue/internal/models"
	"github.com/joshu-sajeev/jobqueue/internal/monitor"
	"github.com/joshu-sajeev/jobqueue/internal/pool"
	"github.com/joshu-sajeev/jobqueue/internal/queue"
	"github.com/joshu-sajeev/jobqueue/internal/storage"
	"github.com/joshu-sajeev/jobqueue/internal/storage/memory"
	"github.com/joshu-sajeev/jobqueue/internal/storage/postgres"
	redisstore "github.com/joshu-sajeev/jobqueue/internal/storage/redis"
	"github.com/joshu-sajeev/jobqueue/internal/worker"
	"golang.org/x/sync/errgroup"
)

// OpenStore connects the backend named by cfg.StoreDriver.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("using in-memory store; jobs are lost on restart")
		return memory.New(), nil

	case "postgres":
		pgCfg, err := postgres.LoadConfigFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		db, err := postgres.ConnectDB(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		switch cfg.MigrationMode {
		case "goose":
			if err := postgres.RunMigrations(ctx, pgCfg, cfg.MigrationsDir); err != nil {
				return nil, err
			}
		case "gorm":
			if err := db.WithContext(ctx).AutoMigrate(&models.Job{}); err != nil {
				return nil, fmt.Errorf("auto migrate: %w", err)
			}
		}
		return postgres.NewJobRepository(db), nil

	case "redis":
		rCfg, err := redisstore.LoadConfigFromEnv(ctx)
		if err != nil {
			return nil, err
		}
		rdb, err := redisstore.Connect(ctx, rCfg)
		if err != nil {
			return nil, err
		}
		logger.Info("redis connected", slog.String("addr", rCfg.Addr))
		return redisstore.New(rdb, rCfg.Prefix), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// Engine is one running instance of the queue: a dispatcher, its worker
// pool and the background sweeper, plus the services built on them.
type Engine struct {
	Store      storage.Store
	Dispatcher *queue.Dispatcher
	Registry   *worker.Registry
	Pool       *pool.WorkerPool
	Sweeper    *queue.Sweeper
	Monitor    *monitor.Monitor
	Service    *job.JobService
	// Metrics holds the attempt metrics of this engine. Install makes it
	// the global otel MeterProvider.
	Metrics *metrics.Provider

	shutdownTimeout time.Duration
	logger          *slog.Logger
}

func NewEngine(cfg *config.Config, store storage.Store, logger *slog.Logger) *Engine {
	dispatcher := queue.NewDispatcher(store,
		queue.WithPollInterval(cfg.PollInterval),
		queue.WithLogger(logger),
	)

	meters := metrics.NewProvider()

	builtins := &worker.Builtins{StepDelay: cfg.HandlerStepDelay, Logger: logger}
	registry := worker.NewRegistry(builtins.Generic)
	builtins.Register(registry)

	workers := pool.NewWorkerPool(cfg.MaxWorkers, worker.Deps{
		Source:   dispatcher,
		Store:    store,
		Registry: registry,
		Backoff:  backoff.New(backoff.WithJitter(cfg.BackoffJitter)),
		Middleware: worker.Chain(
			worker.Recover(logger),
			worker.Logging(logger),
			worker.MetricsWithMeter(meters.Meter(worker.MeterName)),
		),
		Logger: logger,
	}, pool.Options{
		StalledAfter:    cfg.StalledJobTimeout,
		JanitorInterval: cfg.JanitorInterval,
	})

	sweeper := queue.NewSweeper(dispatcher, store, queue.SweeperConfig{
		Interval: cfg.SweepInterval,
		Schedule: cfg.RetentionSchedule,
		Grace:    cfg.RetentionGrace,
	}, logger)

	mon := monitor.New(store, workers, registry,
		monitor.WithFailureWindow(cfg.HealthFailureWindow),
		monitor.WithAttemptMetrics(meters),
	)

	return &Engine{
		Store:           store,
		Dispatcher:      dispatcher,
		Registry:        registry,
		Pool:            workers,
		Sweeper:         sweeper,
		Monitor:         mon,
		Service:         job.NewJobService(store, mon, dispatcher),
		Metrics:         meters,
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger,
	}
}

// Run starts the pool and the sweeper and blocks until ctx ends. On the
// way out in-flight attempts get the shutdown timeout to finish.
func (e *Engine) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.Sweeper.Run(gCtx)
	})

	g.Go(func() error {
		e.Pool.Start(gCtx)
		<-gCtx.Done()

		stopCtx, cancel := context.WithTimeout(context.Background(), e.shutdownTimeout)
		defer cancel()
		if err := e.Pool.Stop(stopCtx); err != nil {
			e.logger.Warn("worker pool did not drain in time", slog.String("error", err.Error()))
		}
		return nil
	})

	return g.Wait()
}

// Close stops the meter provider and releases the store connection.
func (e *Engine) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Metrics.Shutdown(ctx); err != nil {
		e.logger.Warn("meter provider shutdown failed", slog.String("error", err.Error()))
	}
	return e.Store.Close()
}
