package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/joshu-sajeev/jobqueue/internal/dto"
	"github.com/joshu-sajeev/jobqueue/internal/models"
	"github.com/joshu-sajeev/jobqueue/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Attempts(t *testing.T) {
	p := NewProvider()
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	mw := worker.MetricsWithMeter(p.Meter(worker.MeterName))
	ok := func(context.Context) (any, error) { return nil, nil }
	bad := func(context.Context) (any, error) { return nil, errors.New("boom") }

	email := &models.Job{ID: "1", Type: "email-sending"}
	report := &models.Job{ID: "2", Type: "report-generation"}
	_, _ = mw(context.Background(), email, ok)
	_, _ = mw(context.Background(), email, ok)
	_, _ = mw(context.Background(), email, bad)
	_, _ = mw(context.Background(), report, ok)

	got, err := p.Attempts(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)

	want := []struct {
		jobType, status string
		attempts        int64
	}{
		{"email-sending", "error", 1},
		{"email-sending", "ok", 2},
		{"report-generation", "ok", 1},
	}
	for i, w := range want {
		assert.Equal(t, w.jobType, got[i].JobType)
		assert.Equal(t, w.status, got[i].Status)
		assert.Equal(t, w.attempts, got[i].Attempts)
		assert.Equal(t, uint64(w.attempts), got[i].DurationCount)
		assert.GreaterOrEqual(t, got[i].DurationSeconds, 0.0)
	}
}

func TestProvider_AttemptsIgnoresOtherScopes(t *testing.T) {
	p := NewProvider()
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	mw := worker.MetricsWithMeter(p.Meter("some/other/library"))
	_, _ = mw(context.Background(), &models.Job{Type: "x"}, func(context.Context) (any, error) { return nil, nil })

	got, err := p.Attempts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []dto.AttemptMetricsDTO{}, got)
}

func TestProvider_AttemptsAfterShutdown(t *testing.T) {
	p := NewProvider()
	require.NoError(t, p.Shutdown(context.Background()))

	_, err := p.Attempts(context.Background())
	assert.ErrorContains(t, err, "collect metrics")
}
