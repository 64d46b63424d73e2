package dto

import (
	"encoding/json"
	"time"
)

type JobCreateDTO struct {
	JobType          string          `json:"job_type" validate:"required,oneof=data-processing image-processing email-sending report-generation"`
	Data             json.RawMessage `json:"data" validate:"required"`
	Priority         string          `json:"priority" validate:"omitempty,oneof=low normal high critical"`
	Attempts         int             `json:"attempts" validate:"gte=0,lte=20"`
	Delay            int64           `json:"delay" validate:"gte=0"`
	RemoveOnComplete *bool           `json:"remove_on_complete,omitempty"`
}

// TypedEnqueueDTO is the body of POST /api/jobs/:type/enqueue; the type
// comes from the path.
type TypedEnqueueDTO struct {
	Data     json.RawMessage `json:"data" validate:"required"`
	Priority string          `json:"priority" validate:"omitempty,oneof=low normal high critical"`
	Attempts int             `json:"attempts" validate:"gte=0,lte=20"`
	Delay    int64           `json:"delay" validate:"gte=0"`
}

type EnqueueResponseDTO struct {
	JobID    string `json:"job_id"`
	JobType  string `json:"job_type"`
	Priority string `json:"priority"`
	Message  string `json:"message"`
}

type JobStatusDTO struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Priority      int             `json:"priority"`
	Progress      int             `json:"progress"`
	AttemptsMade  int             `json:"attempts_made"`
	MaxAttempts   int             `json:"max_attempts"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	DelayUntil    *time.Time      `json:"delay_until,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

type JobProgressDTO struct {
	ID               string          `json:"id"`
	Type             string          `json:"type"`
	State            string          `json:"state"`
	Progress         int             `json:"progress"`
	Attempts         int             `json:"attempts"`
	Data             json.RawMessage `json:"data"`
	Result           json.RawMessage `json:"result,omitempty"`
	Error            string          `json:"error,omitempty"`
	ProcessingTimeMs *int64          `json:"processing_time_ms"`
	CreatedAt        time.Time       `json:"created_at"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
	FinishedAt       *time.Time      `json:"finished_at,omitempty"`
}

type JobSummaryDTO struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Status    string          `json:"status"`
	Priority  int             `json:"priority"`
	Progress  int             `json:"progress"`
	Attempts  int             `json:"attempts"`
	CreatedAt time.Time       `json:"created_at"`
}

type FailedJobDTO struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Data         json.RawMessage `json:"data"`
	FailedReason string          `json:"failed_reason"`
	FinishedAt   *time.Time      `json:"finished_at"`
	Attempts     int             `json:"attempts"`
}
