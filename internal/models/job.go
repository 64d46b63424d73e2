package models

import (
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/config"
	"gorm.io/datatypes"
)

type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// BackoffPolicy describes how long to wait between a failed attempt and
// the next one.
type BackoffPolicy struct {
	Kind        BackoffKind `gorm:"column:backoff_kind;type:varchar(20);not null" json:"kind"`
	BaseDelayMs int64       `gorm:"column:backoff_base_ms;not null" json:"baseDelayMs"`
}

// Job is the stored record. Columns that accept a zero value carry no
// gorm default: gorm omits zero fields with a default on insert, which
// would replace an explicit 0 with the column default.
type Job struct {
	ID               string           `gorm:"primaryKey;type:varchar(36)"`
	Type             string           `gorm:"type:varchar(255);not null;index:idx_jobs_type_status,priority:1"`
	Payload          datatypes.JSON   `gorm:"type:jsonb"`
	Priority         int              `gorm:"not null;index:idx_jobs_status_dispatch,priority:2"`
	MaxAttempts      int              `gorm:"not null;default:3"`
	AttemptsMade     int              `gorm:"not null;default:0"`
	Backoff          BackoffPolicy    `gorm:"embedded"`
	Status           config.JobStatus `gorm:"type:varchar(20);not null;default:'waiting';index:idx_jobs_type_status,priority:2;index:idx_jobs_status_dispatch,priority:1"`
	DelayUntil       *time.Time
	Progress         int            `gorm:"not null;default:0"`
	Result           datatypes.JSON `gorm:"type:jsonb"`
	FailureReason    string         `gorm:"type:text"`
	RemoveOnComplete bool           `gorm:"not null"`
	RemoveOnFail     bool           `gorm:"not null;default:false"`
	CreatedAt        time.Time      `gorm:"not null;index:idx_jobs_status_dispatch,priority:3"`
	UpdatedAt        time.Time
	ProcessedAt      *time.Time
	FinishedAt       *time.Time `gorm:"index"`
	// Version increments on every stored update; durable stores use it
	// for compare-and-swap.
	Version int64 `gorm:"not null;default:0"`
}

// Clone returns a deep copy so stores can hand out records without
// sharing mutable state with callers.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Payload = cloneBytes(j.Payload)
	cp.Result = cloneBytes(j.Result)
	cp.DelayUntil = cloneTime(j.DelayUntil)
	cp.ProcessedAt = cloneTime(j.ProcessedAt)
	cp.FinishedAt = cloneTime(j.FinishedAt)
	return &cp
}

func cloneBytes(b datatypes.JSON) datatypes.JSON {
	if b == nil {
		return nil
	}
	out := make(datatypes.JSON, len(b))
	copy(out, b)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
