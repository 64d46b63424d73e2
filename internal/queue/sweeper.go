package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/storage"
	"github.com/robfig/cron/v3"
)

// Sweeper promotes due delayed jobs on a fixed tick and purges finished
// jobs flagged for removal on a cron schedule.
type Sweeper struct {
	dispatcher *Dispatcher
	store      storage.Store
	logger     *slog.Logger
	interval   time.Duration
	schedule   string
	grace      time.Duration
	now        func() time.Time
}

type SweeperConfig struct {
	// Interval between promotion passes.
	Interval time.Duration
	// Schedule is a standard cron spec for retention purges. Empty
	// disables purging.
	Schedule string
	// Grace is how long a finished job stays readable before it may be
	// purged.
	Grace time.Duration
}

func NewSweeper(d *Dispatcher, store storage.Store, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	return &Sweeper{
		dispatcher: d,
		store:      store,
		logger:     logger,
		interval:   cfg.Interval,
		schedule:   cfg.Schedule,
		grace:      cfg.Grace,
		now:        d.now,
	}
}

// Run blocks until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	var c *cron.Cron
	if s.schedule != "" {
		c = cron.New()
		if _, err := c.AddFunc(s.schedule, func() { s.purge(ctx) }); err != nil {
			return err
		}
		c.Start()
	}

	s.logger.Info("sweeper started",
		slog.Duration("interval", s.interval),
		slog.String("retention_schedule", s.schedule),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.dispatcher.Promote(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("promotion failed", slog.String("error", err.Error()))
			}
		case <-ctx.Done():
			if c != nil {
				<-c.Stop().Done()
			}
			s.logger.Info("sweeper stopped")
			return nil
		}
	}
}

func (s *Sweeper) purge(ctx context.Context) {
	n, err := s.Purge(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("retention purge failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		s.logger.Info("finished jobs purged", slog.Int("count", n))
	}
}

// Purge removes completed jobs flagged RemoveOnComplete and failed jobs
// flagged RemoveOnFail once the grace period has passed since they
// finished.
func (s *Sweeper) Purge(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.grace)

	removed := 0
	for _, status := range []config.JobStatus{config.JobStatusCompleted, config.JobStatusFailed} {
		jobs, err := s.store.Query(ctx, storage.Filter{
			Statuses:       []config.JobStatus{status},
			FinishedBefore: &cutoff,
			Order:          storage.OrderFinishedDesc,
		})
		if err != nil {
			return removed, err
		}

		for _, j := range jobs {
			if (status == config.JobStatusCompleted && !j.RemoveOnComplete) ||
				(status == config.JobStatusFailed && !j.RemoveOnFail) {
				continue
			}
			if err := s.store.Remove(ctx, j.ID); err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue
				}
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
