// Package queue selects ready jobs for workers and moves delayed jobs
// back into the ready set when their delay elapses.
package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/models"
	"github.com/joshu-sajeev/jobqueue/internal/storage"
)

const defaultScanLimit = 32

var errNotDue = errors.New("job not due yet")

// Dispatcher claims waiting jobs in priority order. Claims are serialized
// in-process by a mutex and across processes by the store's conditional
// update, so a job is handed to at most one caller.
type Dispatcher struct {
	store        storage.Store
	logger       *slog.Logger
	pollInterval time.Duration
	scanLimit    int
	now          func() time.Time

	claimMu sync.Mutex
	wake    chan struct{}
}

type Option func(*Dispatcher)

// WithPollInterval sets how often an idle caller re-checks the store
// without being notified.
func WithPollInterval(d time.Duration) Option {
	return func(q *Dispatcher) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(q *Dispatcher) { q.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(q *Dispatcher) { q.now = now }
}

// WithScanLimit sets how many candidates one claim pass reads.
func WithScanLimit(n int) Option {
	return func(q *Dispatcher) {
		if n > 0 {
			q.scanLimit = n
		}
	}
}

func NewDispatcher(store storage.Store, opts ...Option) *Dispatcher {
	q := &Dispatcher{
		store:        store,
		logger:       slog.Default(),
		pollInterval: time.Second,
		scanLimit:    defaultScanLimit,
		now:          time.Now,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Notify wakes one blocked NextReady caller.
func (q *Dispatcher) Notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// NextReady blocks until it claims a job or ctx ends. The returned job is
// already active with its attempt counted.
func (q *Dispatcher) NextReady(ctx context.Context) (*models.Job, error) {
	for {
		job, err := q.TryClaim(ctx)
		if err != nil {
			return nil, err
		}
		if job != nil {
			// pass the wake-up on; more jobs may be waiting
			q.Notify()
			return job, nil
		}

		t := time.NewTimer(q.pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-q.wake:
			t.Stop()
		case <-t.C:
		}
	}
}

// TryClaim claims the highest priority waiting job, or returns nil when
// there is none.
func (q *Dispatcher) TryClaim(ctx context.Context) (*models.Job, error) {
	q.claimMu.Lock()
	defer q.claimMu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	candidates, err := q.store.Query(ctx, storage.Filter{
		Statuses: []config.JobStatus{config.JobStatusWaiting},
		Order:    storage.OrderDispatch,
		Limit:    q.scanLimit,
	})
	if err != nil {
		return nil, err
	}

	for _, c := range candidates {
		now := q.now()
		job, err := q.store.Update(ctx, c.ID, []config.JobStatus{config.JobStatusWaiting}, func(j *models.Job) error {
			if err := j.TransitionTo(config.JobStatusActive, now); err != nil {
				return err
			}
			j.AttemptsMade++
			j.Progress = 0
			j.ProcessedAt = &now
			return nil
		})
		switch {
		case err == nil:
			q.logger.Debug("job claimed",
				slog.String("job_id", job.ID),
				slog.Int("priority", job.Priority),
				slog.Int("attempt", job.AttemptsMade),
			)
			return job, nil
		case errors.Is(err, storage.ErrStatusConflict), errors.Is(err, storage.ErrNotFound):
			// cancelled or claimed elsewhere since the query
			continue
		default:
			return nil, err
		}
	}
	return nil, nil
}

// Promote moves every delayed job whose delay has elapsed back to
// waiting. A job cancelled meanwhile is skipped. It returns how many jobs
// were promoted.
func (q *Dispatcher) Promote(ctx context.Context) (int, error) {
	now := q.now()
	due, err := q.store.Query(ctx, storage.Filter{
		Statuses:  []config.JobStatus{config.JobStatusDelayed},
		DueBefore: &now,
		Order:     storage.OrderDispatch,
	})
	if err != nil {
		return 0, err
	}

	promoted := 0
	for _, d := range due {
		_, err := q.store.Update(ctx, d.ID, []config.JobStatus{config.JobStatusDelayed}, func(j *models.Job) error {
			if j.DelayUntil != nil && j.DelayUntil.After(now) {
				return errNotDue
			}
			return j.TransitionTo(config.JobStatusWaiting, now)
		})
		switch {
		case err == nil:
			promoted++
		case errors.Is(err, storage.ErrStatusConflict),
			errors.Is(err, storage.ErrNotFound),
			errors.Is(err, errNotDue):
		default:
			return promoted, err
		}
	}

	if promoted > 0 {
		q.logger.Debug("delayed jobs promoted", slog.Int("count", promoted))
		q.Notify()
	}
	return promoted, nil
}
