package worker

import (
	"context"
	"testing"
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/models"
	"github.com/joshu-sajeev/jobqueue/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func activeJob(id string, attempt int) *models.Job {
	processed := t0
	return &models.Job{
		ID:           id,
		Type:         "t",
		Payload:      []byte(`{}`),
		Priority:     config.PriorityNormal,
		MaxAttempts:  3,
		AttemptsMade: attempt,
		Backoff:      models.BackoffPolicy{Kind: models.BackoffExponential, BaseDelayMs: 1000},
		Status:       config.JobStatusActive,
		CreatedAt:    t0,
		UpdatedAt:    t0,
		ProcessedAt:  &processed,
	}
}

func TestReporter_Report(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	j := activeJob("a", 1)
	require.NoError(t, store.Create(ctx, j))

	r := newReporter(store, j, func() time.Time { return t0 })

	steps := []struct {
		report int
		want   int
	}{
		{report: 10, want: 10},
		{report: 5, want: 10},
		{report: 60, want: 60},
		{report: 250, want: 100},
		{report: -3, want: 100},
	}
	for _, s := range steps {
		require.NoError(t, r.Report(ctx, s.report))
		got, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, s.want, got.Progress, "after reporting %d", s.report)
	}
}

func TestReporter_IgnoresStaleAttempt(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	j := activeJob("a", 2)
	require.NoError(t, store.Create(ctx, j))

	stale := newReporter(store, activeJob("a", 1), func() time.Time { return t0 })
	require.NoError(t, stale.Report(ctx, 80))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Progress)
}

func TestReporter_NoEffectUnlessActive(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	j := activeJob("a", 1)
	require.NoError(t, store.Create(ctx, j))

	_, err := store.Update(ctx, "a", []config.JobStatus{config.JobStatusActive}, func(j *models.Job) error {
		return j.TransitionTo(config.JobStatusCancelled, t0)
	})
	require.NoError(t, err)

	r := newReporter(store, j, func() time.Time { return t0 })
	require.NoError(t, r.Report(ctx, 50))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, config.JobStatusCancelled, got.Status)

	require.NoError(t, newReporter(store, &models.Job{ID: "gone", AttemptsMade: 1}, time.Now).Report(ctx, 50))
}

func TestReporter_StoreErrorReturned(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.Close())

	r := newReporter(store, activeJob("a", 1), time.Now)
	assert.Error(t, r.Report(context.Background(), 10))
}
