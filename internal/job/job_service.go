package job

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joshu-sajeev/jobqueue/common"
	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/dto"
	"github.com/joshu-sajeev/jobqueue/internal/models"
	"github.com/joshu-sajeev/jobqueue/internal/storage"
	"gorm.io/datatypes"
)

const maxJobTypeLen = 255

// EnqueueOptions tune a single enqueue. Zero values select the defaults.
type EnqueueOptions struct {
	// Priority is a symbolic level: low, normal, high or critical.
	Priority    string
	MaxAttempts int
	DelayMs     int64
	// RemoveOnComplete defaults to true when nil.
	RemoveOnComplete *bool
	RemoveOnFail     bool
	// Backoff defaults to exponential with a 1000ms base.
	Backoff *models.BackoffPolicy
}

type JobService struct {
	store    storage.Store
	monitor  MonitorInterface
	notifier Notifier
	now      func() time.Time

	// createdAt stamps are strictly increasing so FIFO order within a
	// priority band survives clock ties and coarse store precision.
	stampMu   sync.Mutex
	lastStamp time.Time
}

func NewJobService(store storage.Store, monitor MonitorInterface, notifier Notifier) *JobService {
	return &JobService{store: store, monitor: monitor, notifier: notifier, now: time.Now}
}

var _ JobServiceInterface = (*JobService)(nil)

// Enqueue validates the request, creates the job as waiting (or delayed
// when DelayMs > 0) and returns its id.
func (s *JobService) Enqueue(ctx context.Context, jobType string, payload json.RawMessage, opts EnqueueOptions) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", common.Errf(http.StatusRequestTimeout, "request canceled or timed out")
	}

	if err := validateJobType(jobType); err != nil {
		return "", err
	}
	if err := validateObject(payload); err != nil {
		return "", err
	}
	if check, ok := payloadValidators[jobType]; ok {
		if err := check(payload); err != nil {
			return "", err
		}
	}

	priority, err := parsePriority(opts.Priority)
	if err != nil {
		return "", err
	}

	policy := models.BackoffPolicy{Kind: models.BackoffExponential, BaseDelayMs: config.DefaultTypedBackoffMs}
	if opts.Backoff != nil {
		policy = *opts.Backoff
	}

	removeOnComplete := true
	if opts.RemoveOnComplete != nil {
		removeOnComplete = *opts.RemoveOnComplete
	}

	return s.create(ctx, jobType, payload, priority, opts.MaxAttempts, opts.DelayMs, policy, removeOnComplete, opts.RemoveOnFail)
}

// EnqueueGeneric is the legacy path: the job has no type of its own, a
// numeric priority and a fixed 5000ms backoff. Failed jobs are retained.
func (s *JobService) EnqueueGeneric(ctx context.Context, payload json.RawMessage, priority int, attempts int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", common.Errf(http.StatusRequestTimeout, "request canceled or timed out")
	}
	if err := validateObject(payload); err != nil {
		return "", err
	}
	if priority < 0 {
		return "", ValidationError{
			Message: "invalid priority",
			Fields:  map[string]any{"priority": "must be non-negative"},
		}
	}

	policy := models.BackoffPolicy{Kind: models.BackoffFixed, BaseDelayMs: config.DefaultGenericBackoffMs}
	return s.create(ctx, config.JobTypeDefault, payload, priority, attempts, 0, policy, true, false)
}

func (s *JobService) create(
	ctx context.Context,
	jobType string,
	payload json.RawMessage,
	priority int,
	maxAttempts int,
	delayMs int64,
	policy models.BackoffPolicy,
	removeOnComplete, removeOnFail bool,
) (string, error) {
	if maxAttempts == 0 {
		maxAttempts = config.DefaultMaxAttempts
	}
	if maxAttempts < 0 {
		return "", ValidationError{
			Message: "invalid attempts",
			Fields:  map[string]any{"attempts": "must be positive"},
		}
	}
	if delayMs < 0 {
		return "", ValidationError{
			Message: "invalid delay",
			Fields:  map[string]any{"delay": "must be non-negative"},
		}
	}
	if err := validateBackoff(policy); err != nil {
		return "", err
	}

	now := s.stamp()
	job := &models.Job{
		ID:               uuid.NewString(),
		Type:             jobType,
		Payload:          datatypes.JSON(payload),
		Priority:         priority,
		MaxAttempts:      maxAttempts,
		Backoff:          policy,
		Status:           config.JobStatusWaiting,
		RemoveOnComplete: removeOnComplete,
		RemoveOnFail:     removeOnFail,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if delayMs > 0 {
		until := now.Add(time.Duration(delayMs) * time.Millisecond)
		job.Status = config.JobStatusDelayed
		job.DelayUntil = &until
	}

	if err := s.store.Create(ctx, job); err != nil {
		return "", storeError(err, "failed to enqueue job")
	}

	if job.Status == config.JobStatusWaiting && s.notifier != nil {
		s.notifier.Notify()
	}
	return job.ID, nil
}

// GetStatus returns the current state of a job.
func (s *JobService) GetStatus(ctx context.Context, id string) (*dto.JobStatusDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	j, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeError(err, "failed to get job")
	}

	return &dto.JobStatusDTO{
		ID:            j.ID,
		Type:          j.Type,
		Status:        string(j.Status),
		Priority:      j.Priority,
		Progress:      j.Progress,
		AttemptsMade:  j.AttemptsMade,
		MaxAttempts:   j.MaxAttempts,
		Result:        json.RawMessage(j.Result),
		FailureReason: j.FailureReason,
		DelayUntil:    j.DelayUntil,
		CreatedAt:     j.CreatedAt,
		ProcessedAt:   j.ProcessedAt,
		FinishedAt:    j.FinishedAt,
	}, nil
}

// Cancel moves a waiting, delayed or active job to cancelled. An active
// attempt keeps running; its outcome is discarded.
func (s *JobService) Cancel(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	_, err := s.store.Update(ctx, id, models.SourcesOf(config.JobStatusCancelled), func(j *models.Job) error {
		return j.TransitionTo(config.JobStatusCancelled, s.now())
	})
	if err != nil {
		return storeError(err, "failed to cancel job")
	}
	return nil
}

// ListByType lists jobs of jobType in status (default waiting).
func (s *JobService) ListByType(ctx context.Context, jobType string, status string, limit int) ([]dto.JobSummaryDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request timed out")
	}

	st := config.JobStatusWaiting
	if status != "" {
		st = config.JobStatus(strings.ToLower(status))
	}
	if !st.Valid() {
		return nil, ValidationError{
			Message: "invalid status",
			Fields: map[string]any{
				"provided": status,
				"allowed":  config.AllJobStatuses,
			},
		}
	}

	jobs, err := s.monitor.ListByType(ctx, jobType, st, limit)
	if err != nil {
		return nil, storeError(err, "failed to list jobs")
	}
	return jobs, nil
}

func (s *JobService) Stats(ctx context.Context) (*dto.StatsDTO, error) {
	stats, err := s.monitor.Stats(ctx)
	if err != nil {
		return nil, storeError(err, "failed to get queue stats")
	}
	return stats, nil
}

func (s *JobService) Health(ctx context.Context) (*dto.HealthDTO, error) {
	health, err := s.monitor.Health(ctx)
	if err != nil {
		return nil, storeError(err, "failed to get queue health")
	}
	return health, nil
}

func (s *JobService) Workers(ctx context.Context) (dto.WorkersDTO, error) {
	if err := ctx.Err(); err != nil {
		return dto.WorkersDTO{}, common.Errf(http.StatusRequestTimeout, "request timed out")
	}
	return s.monitor.Workers(), nil
}

func (s *JobService) Metrics(ctx context.Context) (*dto.MetricsDTO, error) {
	m, err := s.monitor.Metrics(ctx)
	if err != nil {
		return nil, common.Wrap(http.StatusInternalServerError, err, "failed to collect metrics")
	}
	return m, nil
}

func (s *JobService) Progress(ctx context.Context, id string) (*dto.JobProgressDTO, error) {
	p, err := s.monitor.Progress(ctx, id)
	if err != nil {
		return nil, storeError(err, "failed to get job progress")
	}
	return p, nil
}

func (s *JobService) Failed(ctx context.Context, limit int) ([]dto.FailedJobDTO, error) {
	jobs, err := s.monitor.Failed(ctx, limit)
	if err != nil {
		return nil, storeError(err, "failed to list failed jobs")
	}
	return jobs, nil
}

func (s *JobService) Pending(ctx context.Context, limit int) ([]dto.JobSummaryDTO, error) {
	jobs, err := s.monitor.Pending(ctx, limit)
	if err != nil {
		return nil, storeError(err, "failed to list pending jobs")
	}
	return jobs, nil
}

func (s *JobService) Active(ctx context.Context, limit int) ([]dto.JobSummaryDTO, error) {
	jobs, err := s.monitor.Active(ctx, limit)
	if err != nil {
		return nil, storeError(err, "failed to list active jobs")
	}
	return jobs, nil
}

// stamp returns a creation time strictly after the previous one, at the
// microsecond precision durable stores keep.
func (s *JobService) stamp() time.Time {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()

	t := s.now().UTC().Truncate(time.Microsecond)
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = t
	return t
}

func validateJobType(jobType string) error {
	switch {
	case strings.TrimSpace(jobType) == "":
		return ValidationError{
			Message: "invalid job type",
			Fields:  map[string]any{"job_type": "required"},
		}
	case len(jobType) > maxJobTypeLen:
		return ValidationError{
			Message: "invalid job type",
			Fields:  map[string]any{"job_type": "too long"},
		}
	case jobType == config.JobTypeDefault:
		return ValidationError{
			Message: "invalid job type",
			Fields:  map[string]any{"job_type": "reserved"},
		}
	}
	return nil
}

func parsePriority(symbol string) (int, error) {
	if symbol == "" {
		return config.PriorityNormal, nil
	}
	p, ok := config.Priorities[strings.ToLower(symbol)]
	if !ok {
		return 0, ValidationError{
			Message: "invalid priority",
			Fields: map[string]any{
				"provided": symbol,
				"allowed":  []string{"low", "normal", "high", "critical"},
			},
		}
	}
	return p, nil
}

func validateBackoff(p models.BackoffPolicy) error {
	if p.Kind != models.BackoffFixed && p.Kind != models.BackoffExponential {
		return ValidationError{
			Message: "invalid backoff",
			Fields:  map[string]any{"kind": "must be fixed or exponential"},
		}
	}
	if p.BaseDelayMs <= 0 {
		return ValidationError{
			Message: "invalid backoff",
			Fields:  map[string]any{"base_delay_ms": "must be positive"},
		}
	}
	return nil
}

func badRequest(message string, fields map[string]any) common.APIError {
	return common.NewAPIError(http.StatusBadRequest, message, fields)
}

// storeError maps store and context errors to API errors. The cause stays
// reachable through errors.Is.
func storeError(err error, message string) error {
	var vErr ValidationError
	var apiErr common.APIError
	switch {
	case errors.As(err, &vErr), errors.As(err, &apiErr):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return common.Wrap(http.StatusRequestTimeout, err, "request timed out")
	case errors.Is(err, storage.ErrNotFound):
		return common.Wrap(http.StatusNotFound, err, "job not found")
	case errors.Is(err, storage.ErrStatusConflict):
		return common.Wrap(http.StatusConflict, err, "job is already finished")
	case errors.Is(err, storage.ErrAlreadyExists):
		return common.Wrap(http.StatusConflict, err, "job already exists")
	default:
		return common.Wrap(http.StatusInternalServerError, err, "%s", message)
	}
}
