package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/dto"
	"github.com/joshu-sajeev/jobqueue/internal/mocks"
	"github.com/joshu-sajeev/jobqueue/internal/models"
	"github.com/joshu-sajeev/jobqueue/internal/storage"
	"github.com/joshu-sajeev/jobqueue/internal/storage/memory"
	"github.com/joshu-sajeev/jobqueue/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type fakeWorkers []worker.Slot

func (f fakeWorkers) Size() int               { return len(f) }
func (f fakeWorkers) Snapshot() []worker.Slot { return f }

type fakeTypes []string

type fakeAttempts struct {
	rows []dto.AttemptMetricsDTO
	err  error
}

func (f fakeAttempts) Attempts(context.Context) ([]dto.AttemptMetricsDTO, error) {
	return f.rows, f.err
}

func (f fakeTypes) Types() []string { return f }

func job(id, jobType string, status config.JobStatus, priority int, created time.Time) *models.Job {
	j := &models.Job{
		ID:          id,
		Type:        jobType,
		Payload:     []byte(`{"k":"` + id + `"}`),
		Priority:    priority,
		MaxAttempts: 3,
		Status:      status,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	if status == config.JobStatusActive || status.Terminal() {
		processed := created.Add(time.Second)
		j.ProcessedAt = &processed
		j.AttemptsMade = 1
	}
	if status.Terminal() {
		finished := created.Add(3 * time.Second)
		j.FinishedAt = &finished
	}
	return j
}

func seed(t *testing.T, jobs ...*models.Job) *memory.Store {
	t.Helper()
	store := memory.New()
	for _, j := range jobs {
		require.NoError(t, store.Create(context.Background(), j))
	}
	return store
}

func TestMonitor_Stats(t *testing.T) {
	store := seed(t,
		job("w1", config.JobTypeEmailSending, config.JobStatusWaiting, config.PriorityNormal, t0),
		job("w2", config.JobTypeEmailSending, config.JobStatusWaiting, config.PriorityNormal, t0.Add(time.Millisecond)),
		job("a1", config.JobTypeEmailSending, config.JobStatusActive, config.PriorityNormal, t0),
		job("c1", config.JobTypeEmailSending, config.JobStatusCompleted, config.PriorityNormal, t0),
		job("x1", "custom", config.JobStatusCancelled, config.PriorityLow, t0),
	)
	m := New(store, nil, fakeTypes{config.JobTypeEmailSending, config.JobTypeDataProcessing})

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, dto.StatusCountsDTO{Waiting: 2, Active: 1, Completed: 1, Cancelled: 1, Total: 5}, stats.Overall)
	assert.Equal(t, []dto.TypeStatsDTO{
		{Type: "custom", StatusCountsDTO: dto.StatusCountsDTO{Cancelled: 1, Total: 1}},
		{Type: config.JobTypeDataProcessing},
		{Type: config.JobTypeEmailSending, StatusCountsDTO: dto.StatusCountsDTO{Waiting: 2, Active: 1, Completed: 1, Total: 4}},
	}, stats.ByJobType)
}

func TestMonitor_StatsEmptyStore(t *testing.T) {
	m := New(memory.New(), nil, nil)

	stats, err := m.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dto.StatusCountsDTO{}, stats.Overall)
	assert.Empty(t, stats.ByJobType)
	assert.NotNil(t, stats.ByJobType)
}

func TestMonitor_Workers(t *testing.T) {
	m := New(memory.New(), fakeWorkers{{ID: 1, Busy: true, JobID: "j"}, {ID: 2}}, nil)

	assert.Equal(t, dto.WorkersDTO{
		Count:  2,
		Active: 1,
		Slots:  []dto.WorkerSlotDTO{{ID: 1, Busy: true, JobID: "j"}, {ID: 2}},
	}, m.Workers())

	none := New(memory.New(), nil, nil).Workers()
	assert.Equal(t, 0, none.Count)
	assert.Empty(t, none.Slots)
}

func TestMonitor_Health(t *testing.T) {
	now := t0.Add(time.Hour)
	clock := func() time.Time { return now }

	oldFailure := job("f-old", "t", config.JobStatusFailed, config.PriorityNormal, now.Add(-10*time.Minute))
	newFailure := job("f-new", "t", config.JobStatusFailed, config.PriorityNormal, now.Add(-time.Minute))

	tests := []struct {
		name     string
		workers  Workers
		jobs     []*models.Job
		status   string
		size     int64
		active   int64
		failures bool
	}{
		{
			name:    "idle pool with no failures",
			workers: fakeWorkers{{ID: 1}},
			status:  HealthHealthy,
		},
		{
			name:    "no workers",
			workers: fakeWorkers{},
			status:  HealthUnhealthy,
		},
		{
			name:    "failure outside the window",
			workers: fakeWorkers{{ID: 1}},
			jobs: []*models.Job{
				oldFailure,
				job("w", "t", config.JobStatusWaiting, config.PriorityNormal, now),
				job("d", "t", config.JobStatusDelayed, config.PriorityNormal, now),
				job("a", "t", config.JobStatusActive, config.PriorityNormal, now),
			},
			status: HealthHealthy,
			size:   2,
			active: 1,
		},
		{
			name:     "recent failure",
			workers:  fakeWorkers{{ID: 1}},
			jobs:     []*models.Job{newFailure},
			status:   HealthUnhealthy,
			failures: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(seed(t, tt.jobs...), tt.workers, nil, WithClock(clock), WithFailureWindow(5*time.Minute))

			h, err := m.Health(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.status, h.Status)
			assert.Equal(t, tt.size, h.Queue.Size)
			assert.Equal(t, tt.active, h.Queue.Processing)
			assert.Equal(t, tt.failures, h.Queue.RecentFailures)
			assert.Equal(t, now, h.LastChecked)
		})
	}
}

func TestMonitor_HealthStoreError(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Close())

	_, err := New(store, fakeWorkers{{ID: 1}}, nil).Health(context.Background())
	assert.ErrorIs(t, err, storage.ErrUnavailable)
}

func TestMonitor_HealthCountError(t *testing.T) {
	store := &mocks.StoreMock{}
	store.On("Query", mock.Anything, mock.Anything).Return([]models.Job{}, nil)
	store.On("Count", mock.Anything).Return(nil, storage.ErrUnavailable)

	_, err := New(store, fakeWorkers{{ID: 1}}, nil).Health(context.Background())
	assert.ErrorIs(t, err, storage.ErrUnavailable)
	store.AssertExpectations(t)
}

func TestMonitor_Metrics(t *testing.T) {
	rows := []dto.AttemptMetricsDTO{{JobType: "email-sending", Status: "ok", Attempts: 4, DurationCount: 4}}

	tests := []struct {
		name    string
		opts    []Option
		want    []dto.AttemptMetricsDTO
		wantErr string
	}{
		{name: "no source", want: []dto.AttemptMetricsDTO{}},
		{name: "from source", opts: []Option{WithAttemptMetrics(fakeAttempts{rows: rows})}, want: rows},
		{name: "source error", opts: []Option{WithAttemptMetrics(fakeAttempts{err: errors.New("collect metrics: closed")})}, wantErr: "closed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]Option{WithClock(func() time.Time { return t0 })}, tt.opts...)
			m := New(seed(t), fakeWorkers{}, fakeTypes{}, opts...)

			got, err := m.Metrics(context.Background())
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Attempts)
			assert.Equal(t, t0, got.CollectedAt)
		})
	}
}

func TestMonitor_Progress(t *testing.T) {
	now := t0.Add(time.Minute)
	running := job("run", "t", config.JobStatusActive, config.PriorityNormal, t0)
	running.Progress = 40
	done := job("done", "t", config.JobStatusCompleted, config.PriorityNormal, t0)
	done.Result = []byte(`{"ok":true}`)
	queued := job("queued", "t", config.JobStatusWaiting, config.PriorityNormal, t0)

	m := New(seed(t, running, done, queued), nil, nil, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	p, err := m.Progress(ctx, "run")
	require.NoError(t, err)
	assert.Equal(t, "active", p.State)
	assert.Equal(t, 40, p.Progress)
	require.NotNil(t, p.ProcessingTimeMs)
	assert.Equal(t, int64(59_000), *p.ProcessingTimeMs)

	p, err = m.Progress(ctx, "done")
	require.NoError(t, err)
	require.NotNil(t, p.ProcessingTimeMs)
	assert.Equal(t, int64(2_000), *p.ProcessingTimeMs)
	assert.JSONEq(t, `{"ok":true}`, string(p.Result))

	p, err = m.Progress(ctx, "queued")
	require.NoError(t, err)
	assert.Nil(t, p.ProcessingTimeMs)
	assert.JSONEq(t, `{"k":"queued"}`, string(p.Data))

	_, err = m.Progress(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMonitor_Listings(t *testing.T) {
	ctx := context.Background()
	store := seed(t,
		job("low", "a", config.JobStatusWaiting, config.PriorityLow, t0),
		job("crit", "a", config.JobStatusWaiting, config.PriorityCritical, t0.Add(time.Second)),
		job("later", "b", config.JobStatusDelayed, config.PriorityNormal, t0),
		job("run", "b", config.JobStatusActive, config.PriorityNormal, t0),
		job("f1", "a", config.JobStatusFailed, config.PriorityNormal, t0),
		job("f2", "b", config.JobStatusFailed, config.PriorityNormal, t0.Add(time.Minute)),
	)
	m := New(store, nil, nil)

	ids := func(items []dto.JobSummaryDTO) []string {
		out := make([]string, len(items))
		for i, it := range items {
			out[i] = it.ID
		}
		return out
	}

	byType, err := m.ListByType(ctx, "a", config.JobStatusWaiting, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"crit", "low"}, ids(byType))

	limited, err := m.ListByType(ctx, "a", config.JobStatusWaiting, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"crit"}, ids(limited))

	pending, err := m.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"crit", "later", "low"}, ids(pending))

	active, err := m.Active(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"run"}, ids(active))

	failed, err := m.Failed(ctx, 0)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "f2", failed[0].ID)
	assert.Equal(t, "f1", failed[1].ID)
	assert.Equal(t, 1, failed[0].Attempts)
}
