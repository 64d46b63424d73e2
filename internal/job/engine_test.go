package job

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/backoff"
	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/models"
	"github.com/joshu-sajeev/jobqueue/internal/monitor"
	"github.com/joshu-sajeev/jobqueue/internal/pool"
	"github.com/joshu-sajeev/jobqueue/internal/queue"
	"github.com/joshu-sajeev/jobqueue/internal/storage/memory"
	"github.com/joshu-sajeev/jobqueue/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engine struct {
	svc      *JobService
	store    *memory.Store
	registry *worker.Registry
	pool     *pool.WorkerPool
}

func newEngine(t *testing.T, workers int) *engine {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store := memory.New()
	disp := queue.NewDispatcher(store, queue.WithPollInterval(10*time.Millisecond), queue.WithLogger(logger))

	builtins := &worker.Builtins{Logger: logger}
	registry := worker.NewRegistry(builtins.Generic)
	builtins.Register(registry)

	p := pool.NewWorkerPool(workers, worker.Deps{
		Source:     disp,
		Store:      store,
		Registry:   registry,
		Backoff:    backoff.New(),
		Middleware: worker.Chain(worker.Recover(logger)),
		Logger:     logger,
	}, pool.Options{})

	mon := monitor.New(store, p, registry)
	sweeper := queue.NewSweeper(disp, store, queue.SweeperConfig{Interval: 5 * time.Millisecond}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = sweeper.Run(ctx) }()

	e := &engine{
		svc:      NewJobService(store, mon, disp),
		store:    store,
		registry: registry,
		pool:     p,
	}
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		defer stop()
		_ = p.Stop(stopCtx)
		cancel()
	})
	return e
}

func (e *engine) start() {
	e.pool.Start(context.Background())
}

func (e *engine) waitFor(t *testing.T, id string, status config.JobStatus) *models.Job {
	t.Helper()
	var last *models.Job
	require.Eventually(t, func() bool {
		j, err := e.store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		last = j
		return j.Status == status
	}, 3*time.Second, 5*time.Millisecond, "job %s never reached %s", id, status)
	return last
}

func TestEngine_EmailJobCompletes(t *testing.T) {
	e := newEngine(t, 2)
	e.start()
	ctx := context.Background()

	id, err := e.svc.Enqueue(ctx, config.JobTypeEmailSending, json.RawMessage(`{"recipient":"a@x.com"}`), EnqueueOptions{Priority: "high"})
	require.NoError(t, err)

	st, err := e.svc.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, []string{"waiting", "active", "completed"}, st.Status)

	j := e.waitFor(t, id, config.JobStatusCompleted)
	assert.Equal(t, 1, j.AttemptsMade)
	assert.Equal(t, 100, j.Progress)
	assert.Empty(t, j.FailureReason)
	require.NotNil(t, j.FinishedAt)

	var result map[string]any
	require.NoError(t, json.Unmarshal(j.Result, &result))
	assert.Equal(t, "Email sent to: a@x.com", result["result"])
}

func TestEngine_FailsAfterMaxAttempts(t *testing.T) {
	e := newEngine(t, 1)

	var mu sync.Mutex
	var progressAtStart []int
	e.registry.Register("always-fails", func(ctx context.Context, job *models.Job, progress worker.Progress) (any, error) {
		mu.Lock()
		progressAtStart = append(progressAtStart, job.Progress)
		mu.Unlock()
		_ = progress.Report(ctx, 40)
		return nil, errors.New("upstream refused")
	})
	e.start()
	ctx := context.Background()

	id, err := e.svc.Enqueue(ctx, "always-fails", json.RawMessage(`{}`), EnqueueOptions{
		MaxAttempts: 3,
		Backoff:     &models.BackoffPolicy{Kind: models.BackoffFixed, BaseDelayMs: 1},
	})
	require.NoError(t, err)

	j := e.waitFor(t, id, config.JobStatusFailed)
	assert.Equal(t, 3, j.AttemptsMade)
	assert.Equal(t, "upstream refused", j.FailureReason)
	assert.Nil(t, j.Result)
	require.NotNil(t, j.FinishedAt)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 0, 0}, progressAtStart, "progress resets at every attempt")
}

func TestEngine_PanickingHandlerDoesNotKillSlot(t *testing.T) {
	e := newEngine(t, 1)
	e.registry.Register("panics", func(context.Context, *models.Job, worker.Progress) (any, error) {
		panic("boom")
	})
	e.start()
	ctx := context.Background()

	bad, err := e.svc.Enqueue(ctx, "panics", json.RawMessage(`{}`), EnqueueOptions{MaxAttempts: 1})
	require.NoError(t, err)
	j := e.waitFor(t, bad, config.JobStatusFailed)
	assert.Contains(t, j.FailureReason, "boom")

	good, err := e.svc.Enqueue(ctx, config.JobTypeDataProcessing, json.RawMessage(`{"input":"x"}`), EnqueueOptions{})
	require.NoError(t, err)
	e.waitFor(t, good, config.JobStatusCompleted)
}

func TestEngine_CriticalClaimedBeforeLow(t *testing.T) {
	e := newEngine(t, 1)

	var mu sync.Mutex
	var order []string
	e.registry.Register("ordered", func(_ context.Context, job *models.Job, _ worker.Progress) (any, error) {
		mu.Lock()
		order = append(order, job.ID)
		mu.Unlock()
		return nil, nil
	})
	ctx := context.Background()

	low, err := e.svc.Enqueue(ctx, "ordered", json.RawMessage(`{}`), EnqueueOptions{Priority: "low"})
	require.NoError(t, err)
	critical, err := e.svc.Enqueue(ctx, "ordered", json.RawMessage(`{}`), EnqueueOptions{Priority: "critical"})
	require.NoError(t, err)

	e.start()
	e.waitFor(t, low, config.JobStatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{critical, low}, order)
}

func TestEngine_CancelledWaitingJobNeverRuns(t *testing.T) {
	e := newEngine(t, 2)
	ctx := context.Background()

	var ran sync.Map
	e.registry.Register("tracked", func(_ context.Context, job *models.Job, _ worker.Progress) (any, error) {
		ran.Store(job.ID, true)
		return "done", nil
	})

	cancelled, err := e.svc.Enqueue(ctx, "tracked", json.RawMessage(`{}`), EnqueueOptions{})
	require.NoError(t, err)
	require.NoError(t, e.svc.Cancel(ctx, cancelled))

	st, err := e.svc.GetStatus(ctx, cancelled)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", st.Status)

	e.start()
	other, err := e.svc.Enqueue(ctx, "tracked", json.RawMessage(`{}`), EnqueueOptions{})
	require.NoError(t, err)
	e.waitFor(t, other, config.JobStatusCompleted)

	active, err := e.svc.ListByType(ctx, "tracked", "active", 10)
	require.NoError(t, err)
	for _, j := range active {
		assert.NotEqual(t, cancelled, j.ID)
	}

	_, wasRun := ran.Load(cancelled)
	assert.False(t, wasRun)
	j, err := e.store.Get(ctx, cancelled)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusCancelled, j.Status)
	assert.Equal(t, 0, j.AttemptsMade)
}

func TestEngine_CancelActiveDiscardsOutcome(t *testing.T) {
	e := newEngine(t, 1)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	e.registry.Register("slow", func(context.Context, *models.Job, worker.Progress) (any, error) {
		close(started)
		<-release
		return "finished anyway", nil
	})
	e.start()

	id, err := e.svc.Enqueue(ctx, "slow", json.RawMessage(`{}`), EnqueueOptions{})
	require.NoError(t, err)

	<-started
	require.NoError(t, e.svc.Cancel(ctx, id))
	close(release)

	require.Eventually(t, func() bool {
		for _, s := range e.pool.Snapshot() {
			if s.Busy {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	j, err := e.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, config.JobStatusCancelled, j.Status)
	assert.Nil(t, j.Result)
}

func TestEngine_DelayedJobRunsAfterDelay(t *testing.T) {
	e := newEngine(t, 1)
	e.start()
	ctx := context.Background()

	id, err := e.svc.Enqueue(ctx, config.JobTypeImageProcessing, json.RawMessage(`{"imagePath":"/a.png"}`), EnqueueOptions{DelayMs: 50})
	require.NoError(t, err)

	st, err := e.svc.GetStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "delayed", st.Status)

	j := e.waitFor(t, id, config.JobStatusCompleted)
	require.NotNil(t, j.ProcessedAt)
	assert.False(t, j.ProcessedAt.Before(*j.DelayUntil))
}
