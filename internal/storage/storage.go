// Package storage defines the job store contract shared by every backend.
package storage

import (
	"context"
	"errors"
	"slices"
	"sort"
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/models"
)

var (
	ErrNotFound       = errors.New("job not found")
	ErrAlreadyExists  = errors.New("job already exists")
	ErrStatusConflict = errors.New("job status precondition failed")
	ErrUnavailable    = errors.New("job store unavailable")
)

// Order selects how Query sorts its results.
type Order int

const (
	// OrderDispatch sorts by priority descending, then creation ascending.
	OrderDispatch Order = iota
	// OrderNewest sorts by creation descending.
	OrderNewest
	// OrderFinishedDesc sorts by finish time descending.
	OrderFinishedDesc
)

type Filter struct {
	Statuses []config.JobStatus
	Type     string
	// FinishedAfter keeps jobs whose FinishedAt is strictly after it.
	FinishedAfter *time.Time
	// FinishedBefore keeps jobs whose FinishedAt is at or before it.
	FinishedBefore *time.Time
	// DueBefore keeps jobs whose DelayUntil is unset or at or before it.
	DueBefore *time.Time
	Order     Order
	Limit     int
	Offset    int
}

// StatusCount is a (type, status) bucket from Store.Count.
type StatusCount struct {
	Type   string
	Status config.JobStatus
	Count  int64
}

// Mutation edits a job inside an atomic update. Returning an error aborts
// the update and leaves the stored record untouched.
type Mutation func(job *models.Job) error

// Store owns the canonical job records. Every state change goes through
// Update, which applies the mutation only when the current status is one
// of from. A failed precondition returns ErrStatusConflict.
type Store interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	Update(ctx context.Context, id string, from []config.JobStatus, mutate Mutation) (*models.Job, error)
	Remove(ctx context.Context, id string) error
	Query(ctx context.Context, filter Filter) ([]models.Job, error)
	Count(ctx context.Context) ([]StatusCount, error)
	Ping(ctx context.Context) error
	Close() error
}

// Less reports whether a sorts before b under dispatch order.
func Less(a, b *models.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Matches reports whether job satisfies every criterion of f except
// ordering and pagination.
func (f Filter) Matches(job *models.Job) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, job.Status) {
		return false
	}
	if f.Type != "" && job.Type != f.Type {
		return false
	}
	if f.FinishedAfter != nil && (job.FinishedAt == nil || !job.FinishedAt.After(*f.FinishedAfter)) {
		return false
	}
	if f.FinishedBefore != nil && (job.FinishedAt == nil || job.FinishedAt.After(*f.FinishedBefore)) {
		return false
	}
	if f.DueBefore != nil && job.DelayUntil != nil && job.DelayUntil.After(*f.DueBefore) {
		return false
	}
	return true
}

// Sort orders jobs in place.
func Sort(jobs []*models.Job, order Order) {
	switch order {
	case OrderNewest:
		sort.Slice(jobs, func(i, k int) bool {
			if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
				return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
			}
			return jobs[i].ID > jobs[k].ID
		})
	case OrderFinishedDesc:
		sort.Slice(jobs, func(i, k int) bool {
			a, b := jobs[i].FinishedAt, jobs[k].FinishedAt
			switch {
			case a == nil && b == nil:
				return jobs[i].ID < jobs[k].ID
			case a == nil:
				return false
			case b == nil:
				return true
			}
			if a.Equal(*b) {
				return jobs[i].ID < jobs[k].ID
			}
			return a.After(*b)
		})
	default:
		sort.Slice(jobs, func(i, k int) bool { return Less(jobs[i], jobs[k]) })
	}
}

// Page applies offset and limit to an already sorted slice.
func Page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
