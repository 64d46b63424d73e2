package worker

import (
	"context"
	"errors"
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/models"
	"github.com/joshu-sajeev/jobqueue/internal/storage"
)

var (
	errStaleAttempt = errors.New("attempt is no longer current")
	errNoProgress   = errors.New("progress not ahead of stored value")
)

// reporter writes progress for one attempt of one job. Reports for an
// attempt that is no longer active are dropped.
type reporter struct {
	store   storage.Store
	jobID   string
	attempt int
	now     func() time.Time
}

func newReporter(store storage.Store, job *models.Job, now func() time.Time) *reporter {
	return &reporter{store: store, jobID: job.ID, attempt: job.AttemptsMade, now: now}
}

func (r *reporter) Report(ctx context.Context, percent int) error {
	p := min(max(percent, 0), 100)

	_, err := r.store.Update(ctx, r.jobID, []config.JobStatus{config.JobStatusActive}, func(j *models.Job) error {
		if j.AttemptsMade != r.attempt {
			return errStaleAttempt
		}
		if p <= j.Progress {
			return errNoProgress
		}
		j.Progress = p
		j.UpdatedAt = r.now()
		return nil
	})

	switch {
	case err == nil,
		errors.Is(err, errStaleAttempt),
		errors.Is(err, errNoProgress),
		errors.Is(err, storage.ErrStatusConflict),
		errors.Is(err, storage.ErrNotFound):
		return nil
	default:
		return err
	}
}
