package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/backoff"
	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/models"
	"github.com/joshu-sajeev/jobqueue/internal/storage"
	"gorm.io/datatypes"
)

// recordTimeout bounds the store write that records an attempt outcome,
// which still runs after the slot's context is cancelled.
const recordTimeout = 5 * time.Second

// Source hands out claimed jobs. NextReady blocks until a job is
// active and owned by the caller, or ctx ends.
type Source interface {
	NextReady(ctx context.Context) (*models.Job, error)
}

// Deps are shared by every slot of a pool.
type Deps struct {
	Source     Source
	Store      storage.Store
	Registry   *Registry
	Backoff    *backoff.Engine
	Middleware Middleware
	Logger     *slog.Logger
	// RetryInterval is how long a slot waits after a store error.
	RetryInterval time.Duration
	// Heartbeat is how often a running attempt refreshes the job's
	// UpdatedAt so stalled-job recovery in any process leaves it alone.
	// Zero disables it.
	Heartbeat time.Duration
	Now       func() time.Time
}

// Slot is a point-in-time view of one worker.
type Slot struct {
	ID    int
	Busy  bool
	JobID string
}

type Worker struct {
	ID   int
	deps Deps

	mu    sync.Mutex
	jobID string
}

func NewWorker(id int, deps Deps) *Worker {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Backoff == nil {
		deps.Backoff = backoff.New()
	}
	if deps.RetryInterval <= 0 {
		deps.RetryInterval = time.Second
	}
	return &Worker{ID: id, deps: deps}
}

// Run claims and processes jobs until ctx ends. Handlers run under
// execCtx, so an in-flight attempt outlives ctx until execCtx ends too.
func (w *Worker) Run(ctx, execCtx context.Context) {
	log := w.deps.Logger.With(slog.Int("worker_id", w.ID))

	for {
		job, err := w.deps.Source.NextReady(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("claim failed", slog.String("error", err.Error()))
			select {
			case <-time.After(w.deps.RetryInterval):
				continue
			case <-ctx.Done():
				return
			}
		}

		w.Process(execCtx, job)
	}
}

// Snapshot reports whether the worker is executing a job.
func (w *Worker) Snapshot() Slot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Slot{ID: w.ID, Busy: w.jobID != "", JobID: w.jobID}
}

// Holds reports whether this worker is executing job id.
func (w *Worker) Holds(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.jobID == id
}

func (w *Worker) setJob(id string) {
	w.mu.Lock()
	w.jobID = id
	w.mu.Unlock()
}

// Process runs one attempt of an already claimed job and records the
// outcome. A lost conditional update (the job was cancelled meanwhile)
// discards the outcome.
func (w *Worker) Process(ctx context.Context, job *models.Job) {
	w.setJob(job.ID)
	defer w.setJob("")

	stopHeartbeat := w.heartbeat(ctx, job)
	result, err := w.execute(ctx, job)
	stopHeartbeat()

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err == nil {
		err = w.complete(recordCtx, job, result)
		if err == nil {
			return
		}
		if !errors.Is(err, errEncodeResult) {
			w.logOutcomeError(job, err)
			return
		}
	}

	if err := w.fail(recordCtx, job, err); err != nil {
		w.logOutcomeError(job, err)
	}
}

func (w *Worker) execute(ctx context.Context, job *models.Job) (any, error) {
	handler := w.deps.Registry.Resolve(job.Type)
	if handler == nil {
		return nil, fmt.Errorf("no handler registered for job type %q", job.Type)
	}

	progress := newReporter(w.deps.Store, job, w.deps.Now)
	call := func(ctx context.Context) (any, error) {
		return handler(ctx, job, progress)
	}

	if w.deps.Middleware == nil {
		return call(ctx)
	}
	return w.deps.Middleware(ctx, job, call)
}

// heartbeat touches the job every Heartbeat while the attempt runs. The
// returned func stops it and waits for an in-flight touch to finish.
func (w *Worker) heartbeat(ctx context.Context, job *models.Job) func() {
	if w.deps.Heartbeat <= 0 {
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.deps.Heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				err := w.touch(ctx, job)
				switch {
				case err == nil:
				case errors.Is(err, errStaleAttempt),
					errors.Is(err, storage.ErrStatusConflict),
					errors.Is(err, storage.ErrNotFound):
					return
				case ctx.Err() == nil:
					w.deps.Logger.Warn("job heartbeat failed",
						slog.String("job_id", job.ID),
						slog.String("error", err.Error()),
					)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (w *Worker) touch(ctx context.Context, job *models.Job) error {
	_, err := w.deps.Store.Update(ctx, job.ID, []config.JobStatus{config.JobStatusActive}, func(j *models.Job) error {
		if j.AttemptsMade != job.AttemptsMade {
			return errStaleAttempt
		}
		j.UpdatedAt = w.deps.Now()
		return nil
	})
	return err
}

var errEncodeResult = errors.New("encode result")

func (w *Worker) complete(ctx context.Context, job *models.Job, result any) error {
	var data datatypes.JSON
	if result != nil {
		b, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("%w: %w", errEncodeResult, err)
		}
		data = b
	}

	_, err := w.deps.Store.Update(ctx, job.ID, []config.JobStatus{config.JobStatusActive}, func(j *models.Job) error {
		if j.AttemptsMade != job.AttemptsMade {
			return errStaleAttempt
		}
		if err := j.TransitionTo(config.JobStatusCompleted, w.deps.Now()); err != nil {
			return err
		}
		j.Result = data
		j.FailureReason = ""
		return nil
	})
	return err
}

func (w *Worker) fail(ctx context.Context, job *models.Job, cause error) error {
	var retry bool
	_, err := w.deps.Store.Update(ctx, job.ID, []config.JobStatus{config.JobStatusActive}, func(j *models.Job) error {
		if j.AttemptsMade != job.AttemptsMade {
			return errStaleAttempt
		}
		return applyFailure(j, w.deps.Backoff, cause.Error(), w.deps.Now(), &retry)
	})
	if err != nil {
		return err
	}

	if retry {
		w.deps.Logger.Info("job scheduled for retry",
			slog.String("job_id", job.ID),
			slog.Int("attempts_made", job.AttemptsMade),
			slog.Int("max_attempts", job.MaxAttempts),
		)
	} else {
		w.deps.Logger.Warn("job failed",
			slog.String("job_id", job.ID),
			slog.Int("attempts_made", job.AttemptsMade),
			slog.String("reason", cause.Error()),
		)
	}
	return nil
}

// applyFailure moves an active job to delayed or failed according to the
// backoff decision. The reason of the latest failure is kept either way.
func applyFailure(j *models.Job, engine *backoff.Engine, reason string, now time.Time, retry *bool) error {
	d := engine.Decide(j, now)
	*retry = d.Retry

	if d.Retry {
		if err := j.TransitionTo(config.JobStatusDelayed, now); err != nil {
			return err
		}
		until := d.DelayUntil
		j.DelayUntil = &until
	} else if err := j.TransitionTo(config.JobStatusFailed, now); err != nil {
		return err
	}

	j.FailureReason = reason
	j.Result = nil
	return nil
}

func (w *Worker) logOutcomeError(job *models.Job, err error) {
	if errors.Is(err, storage.ErrStatusConflict) || errors.Is(err, storage.ErrNotFound) || errors.Is(err, errStaleAttempt) {
		w.deps.Logger.Info("attempt outcome discarded",
			slog.String("job_id", job.ID),
			slog.String("reason", err.Error()),
		)
		return
	}
	w.deps.Logger.Error("failed to record attempt outcome",
		slog.String("job_id", job.ID),
		slog.String("error", err.Error()),
	)
}

// StalledReason is recorded when an attempt stops reporting.
const StalledReason = "job stalled: no update from its worker"

// FailStalled fails the current attempt of job as if its handler had
// returned an error. It does nothing when the job moved on since job was
// read. It reports whether the job will be retried.
func FailStalled(ctx context.Context, store storage.Store, engine *backoff.Engine, job *models.Job, now time.Time) (bool, error) {
	var retry bool
	_, err := store.Update(ctx, job.ID, []config.JobStatus{config.JobStatusActive}, func(j *models.Job) error {
		if j.AttemptsMade != job.AttemptsMade || !j.UpdatedAt.Equal(job.UpdatedAt) {
			return errStaleAttempt
		}
		return applyFailure(j, engine, StalledReason, now, &retry)
	})
	if errors.Is(err, errStaleAttempt) {
		return false, storage.ErrStatusConflict
	}
	return retry, err
}
