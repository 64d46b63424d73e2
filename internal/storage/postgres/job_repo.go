package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/models"
	"github.com/joshu-sajeev/jobqueue/internal/storage"
	"gorm.io/gorm"
)

// maxCASAttempts bounds how often Update re-reads a row whose version
// moved underneath it while its status still satisfied the precondition.
const maxCASAttempts = 8

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

var _ storage.Store = (*JobRepository)(nil)

// Create inserts a new job record into the database. It uses the provided
// context for cancellation and timeout propagation.
func (r *JobRepository) Create(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("create job: %w", storage.ErrAlreadyExists)
		}
		return fmt.Errorf("create job: %w: %w", storage.ErrUnavailable, err)
	}
	return nil
}

// Get retrieves a single job record by its ID.
func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get job: %w: %w", storage.ErrUnavailable, err)
	}
	return &job, nil
}

// Update applies mutate to the job when its status is one of from. The
// write is conditional on the version read, so a concurrent writer makes
// this call re-read and re-check the precondition instead of overwriting.
func (r *JobRepository) Update(ctx context.Context, id string, from []config.JobStatus, mutate storage.Mutation) (*models.Job, error) {
	for range maxCASAttempts {
		cur, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if len(from) > 0 && !slices.Contains(from, cur.Status) {
			return nil, storage.ErrStatusConflict
		}

		next := cur.Clone()
		if err := mutate(next); err != nil {
			return nil, err
		}
		next.ID = cur.ID
		next.Version = cur.Version + 1

		res := r.db.WithContext(ctx).Model(&models.Job{}).
			Where("id = ? AND version = ?", id, cur.Version).
			Updates(columns(next))
		if res.Error != nil {
			return nil, fmt.Errorf("update job: %w: %w", storage.ErrUnavailable, res.Error)
		}
		if res.RowsAffected == 1 {
			return next, nil
		}
	}
	return nil, storage.ErrStatusConflict
}

// Remove deletes the job row.
func (r *JobRepository) Remove(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Delete(&models.Job{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("remove job: %w: %w", storage.ErrUnavailable, res.Error)
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Query lists jobs matching the filter. Status and type predicates hit
// the (type, status) and dispatch indexes.
func (r *JobRepository) Query(ctx context.Context, f storage.Filter) ([]models.Job, error) {
	q := r.db.WithContext(ctx).Model(&models.Job{})

	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.FinishedAfter != nil {
		q = q.Where("finished_at > ?", *f.FinishedAfter)
	}
	if f.FinishedBefore != nil {
		q = q.Where("finished_at <= ?", *f.FinishedBefore)
	}
	if f.DueBefore != nil {
		q = q.Where("(delay_until IS NULL OR delay_until <= ?)", *f.DueBefore)
	}

	switch f.Order {
	case storage.OrderNewest:
		q = q.Order("created_at DESC").Order("id DESC")
	case storage.OrderFinishedDesc:
		q = q.Order("finished_at DESC").Order("id ASC")
	default:
		q = q.Order("priority DESC").Order("created_at ASC").Order("id ASC")
	}

	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var jobs []models.Job
	if err := q.Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("query jobs: %w: %w", storage.ErrUnavailable, err)
	}
	return jobs, nil
}

// Count groups jobs by (type, status) in the database.
func (r *JobRepository) Count(ctx context.Context) ([]storage.StatusCount, error) {
	var rows []struct {
		Type   string
		Status config.JobStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Select("type, status, COUNT(*) AS count").
		Group("type, status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count jobs: %w: %w", storage.ErrUnavailable, err)
	}

	out := make([]storage.StatusCount, len(rows))
	for i, row := range rows {
		out[i] = storage.StatusCount{Type: row.Type, Status: row.Status, Count: row.Count}
	}
	return out, nil
}

func (r *JobRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("ping: %w: %w", storage.ErrUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w: %w", storage.ErrUnavailable, err)
	}
	return nil
}

func (r *JobRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// columns lists every mutable column so zero values (progress 0, empty
// failure reason, nil timestamps) are written too.
func columns(j *models.Job) map[string]any {
	return map[string]any{
		"type":               j.Type,
		"payload":            j.Payload,
		"priority":           j.Priority,
		"max_attempts":       j.MaxAttempts,
		"attempts_made":      j.AttemptsMade,
		"backoff_kind":       j.Backoff.Kind,
		"backoff_base_ms":    j.Backoff.BaseDelayMs,
		"status":             j.Status,
		"delay_until":        j.DelayUntil,
		"progress":           j.Progress,
		"result":             j.Result,
		"failure_reason":     j.FailureReason,
		"remove_on_complete": j.RemoveOnComplete,
		"remove_on_fail":     j.RemoveOnFail,
		"updated_at":         j.UpdatedAt,
		"processed_at":       j.ProcessedAt,
		"finished_at":        j.FinishedAt,
		"version":            j.Version,
	}
}
