// Package monitor answers read-only questions about the queue: counts,
// worker occupancy, health and per-job progress. Results are best-effort
// snapshots; the store may change between the reads behind one answer.
package monitor

import (
	"context"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/dto"
	"github.com/joshu-sajeev/jobqueue/internal/models"
	"github.com/joshu-sajeev/jobqueue/internal/storage"
	"github.com/joshu-sajeev/jobqueue/internal/worker"
)

const (
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// Workers exposes pool occupancy.
type Workers interface {
	Size() int
	Snapshot() []worker.Slot
}

// TypeLister reports the job types that have a registered handler.
type TypeLister interface {
	Types() []string
}

// AttemptMetrics reads the attempt metrics recorded in this process.
type AttemptMetrics interface {
	Attempts(ctx context.Context) ([]dto.AttemptMetricsDTO, error)
}

type Monitor struct {
	store         storage.Store
	workers       Workers
	types         TypeLister
	metrics       AttemptMetrics
	failureWindow time.Duration
	now           func() time.Time
}

type Option func(*Monitor)

// WithFailureWindow sets how recent a failure must be to make the queue
// unhealthy.
func WithFailureWindow(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.failureWindow = d
		}
	}
}

func WithAttemptMetrics(src AttemptMetrics) Option {
	return func(m *Monitor) { m.metrics = src }
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

func New(store storage.Store, workers Workers, types TypeLister, opts ...Option) *Monitor {
	m := &Monitor{
		store:         store,
		workers:       workers,
		types:         types,
		failureWindow: 5 * time.Minute,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Metrics reports the attempts this process has run, per job type and
// outcome. Without a metrics source the list is empty.
func (m *Monitor) Metrics(ctx context.Context) (*dto.MetricsDTO, error) {
	out := &dto.MetricsDTO{Attempts: []dto.AttemptMetricsDTO{}, CollectedAt: m.now()}
	if m.metrics == nil {
		return out, nil
	}
	attempts, err := m.metrics.Attempts(ctx)
	if err != nil {
		return nil, err
	}
	out.Attempts = attempts
	return out, nil
}

// Stats counts jobs per status overall and per type. Every registered
// type is listed even when it has no jobs.
func (m *Monitor) Stats(ctx context.Context) (*dto.StatsDTO, error) {
	counts, err := m.store.Count(ctx)
	if err != nil {
		return nil, err
	}

	byType := map[string]*dto.TypeStatsDTO{}
	if m.types != nil {
		for _, t := range m.types.Types() {
			byType[t] = &dto.TypeStatsDTO{Type: t}
		}
	}

	var out dto.StatsDTO
	for _, c := range counts {
		ts, ok := byType[c.Type]
		if !ok {
			ts = &dto.TypeStatsDTO{Type: c.Type}
			byType[c.Type] = ts
		}
		add(&out.Overall, c.Status, c.Count)
		add(&ts.StatusCountsDTO, c.Status, c.Count)
	}

	out.ByJobType = make([]dto.TypeStatsDTO, 0, len(byType))
	for _, ts := range byType {
		out.ByJobType = append(out.ByJobType, *ts)
	}
	slices.SortFunc(out.ByJobType, func(a, b dto.TypeStatsDTO) int {
		return strings.Compare(a.Type, b.Type)
	})
	return &out, nil
}

func add(c *dto.StatusCountsDTO, status config.JobStatus, n int64) {
	switch status {
	case config.JobStatusWaiting:
		c.Waiting += n
	case config.JobStatusDelayed:
		c.Delayed += n
	case config.JobStatusActive:
		c.Active += n
	case config.JobStatusCompleted:
		c.Completed += n
	case config.JobStatusFailed:
		c.Failed += n
	case config.JobStatusCancelled:
		c.Cancelled += n
	default:
		return
	}
	c.Total += n
}

func (m *Monitor) Workers() dto.WorkersDTO {
	var out dto.WorkersDTO
	if m.workers == nil {
		out.Slots = []dto.WorkerSlotDTO{}
		return out
	}

	slots := m.workers.Snapshot()
	out.Count = m.workers.Size()
	out.Slots = make([]dto.WorkerSlotDTO, len(slots))
	for i, s := range slots {
		out.Slots[i] = dto.WorkerSlotDTO{ID: s.ID, Busy: s.Busy, JobID: s.JobID}
		if s.Busy {
			out.Active++
		}
	}
	return out
}

// Health is healthy when at least one worker slot exists and no job
// failed within the failure window.
func (m *Monitor) Health(ctx context.Context) (*dto.HealthDTO, error) {
	now := m.now()
	since := now.Add(-m.failureWindow)

	recent, err := m.store.Query(ctx, storage.Filter{
		Statuses:      []config.JobStatus{config.JobStatusFailed},
		FinishedAfter: &since,
		Limit:         1,
	})
	if err != nil {
		return nil, err
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		return nil, err
	}
	workers := m.Workers()

	var out dto.HealthDTO
	out.Workers.Count = workers.Count
	out.Workers.Active = workers.Active
	out.Queue.Size = stats.Overall.Waiting + stats.Overall.Delayed
	out.Queue.Processing = stats.Overall.Active
	out.Queue.RecentFailures = len(recent) > 0
	out.LastChecked = now

	out.Status = HealthUnhealthy
	if workers.Count >= 1 && !out.Queue.RecentFailures {
		out.Status = HealthHealthy
	}
	return &out, nil
}

// Progress returns the detail view of one job.
func (m *Monitor) Progress(ctx context.Context, id string) (*dto.JobProgressDTO, error) {
	j, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &dto.JobProgressDTO{
		ID:          j.ID,
		Type:        j.Type,
		State:       string(j.Status),
		Progress:    j.Progress,
		Attempts:    j.AttemptsMade,
		Data:        json.RawMessage(j.Payload),
		Result:      json.RawMessage(j.Result),
		Error:       j.FailureReason,
		CreatedAt:   j.CreatedAt,
		ProcessedAt: j.ProcessedAt,
		FinishedAt:  j.FinishedAt,
	}
	if j.ProcessedAt != nil {
		end := m.now()
		if j.FinishedAt != nil {
			end = *j.FinishedAt
		}
		ms := end.Sub(*j.ProcessedAt).Milliseconds()
		out.ProcessingTimeMs = &ms
	}
	return out, nil
}

// ListByType lists jobs of one type in one status, in dispatch order.
func (m *Monitor) ListByType(ctx context.Context, jobType string, status config.JobStatus, limit int) ([]dto.JobSummaryDTO, error) {
	return m.list(ctx, storage.Filter{
		Type:     jobType,
		Statuses: []config.JobStatus{status},
		Order:    storage.OrderDispatch,
		Limit:    normalizeLimit(limit),
	})
}

// Pending lists waiting and delayed jobs of every type.
func (m *Monitor) Pending(ctx context.Context, limit int) ([]dto.JobSummaryDTO, error) {
	return m.list(ctx, storage.Filter{
		Statuses: []config.JobStatus{config.JobStatusWaiting, config.JobStatusDelayed},
		Order:    storage.OrderDispatch,
		Limit:    normalizeLimit(limit),
	})
}

func (m *Monitor) Active(ctx context.Context, limit int) ([]dto.JobSummaryDTO, error) {
	return m.list(ctx, storage.Filter{
		Statuses: []config.JobStatus{config.JobStatusActive},
		Order:    storage.OrderDispatch,
		Limit:    normalizeLimit(limit),
	})
}

// Failed lists failed jobs, most recently finished first.
func (m *Monitor) Failed(ctx context.Context, limit int) ([]dto.FailedJobDTO, error) {
	jobs, err := m.store.Query(ctx, storage.Filter{
		Statuses: []config.JobStatus{config.JobStatusFailed},
		Order:    storage.OrderFinishedDesc,
		Limit:    normalizeLimit(limit),
	})
	if err != nil {
		return nil, err
	}

	out := make([]dto.FailedJobDTO, len(jobs))
	for i, j := range jobs {
		out[i] = dto.FailedJobDTO{
			ID:           j.ID,
			Type:         j.Type,
			Data:         json.RawMessage(j.Payload),
			FailedReason: j.FailureReason,
			FinishedAt:   j.FinishedAt,
			Attempts:     j.AttemptsMade,
		}
	}
	return out, nil
}

func (m *Monitor) list(ctx context.Context, f storage.Filter) ([]dto.JobSummaryDTO, error) {
	jobs, err := m.store.Query(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]dto.JobSummaryDTO, len(jobs))
	for i := range jobs {
		out[i] = summary(&jobs[i])
	}
	return out, nil
}

func summary(j *models.Job) dto.JobSummaryDTO {
	return dto.JobSummaryDTO{
		ID:        j.ID,
		Type:      j.Type,
		Data:      json.RawMessage(j.Payload),
		Status:    string(j.Status),
		Priority:  j.Priority,
		Progress:  j.Progress,
		Attempts:  j.AttemptsMade,
		CreatedAt: j.CreatedAt,
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return config.DefaultListLimit
	}
	return limit
}
