package config

import "slices"

type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusDelayed   JobStatus = "delayed"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// AllJobStatuses lists every status in lifecycle order.
var AllJobStatuses = []JobStatus{
	JobStatusWaiting,
	JobStatusDelayed,
	JobStatusActive,
	JobStatusCompleted,
	JobStatusFailed,
	JobStatusCancelled,
}

// Terminal reports whether no further transition can leave s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

func (s JobStatus) Valid() bool {
	return slices.Contains(AllJobStatuses, s)
}

func (s JobStatus) String() string {
	return string(s)
}

const (
	JobTypeDataProcessing   = "data-processing"
	JobTypeImageProcessing  = "image-processing"
	JobTypeEmailSending     = "email-sending"
	JobTypeReportGeneration = "report-generation"

	// JobTypeDefault is the type assigned to jobs enqueued through the
	// generic path, which carries no type of its own.
	JobTypeDefault = "__default__"
)

var AllowedJobTypes = []string{
	JobTypeDataProcessing,
	JobTypeImageProcessing,
	JobTypeEmailSending,
	JobTypeReportGeneration,
}

// Priority weights. These values are persisted and must not change.
const (
	PriorityLow      = 5
	PriorityNormal   = 10
	PriorityHigh     = 15
	PriorityCritical = 20
)

var Priorities = map[string]int{
	"low":      PriorityLow,
	"normal":   PriorityNormal,
	"high":     PriorityHigh,
	"critical": PriorityCritical,
}

const (
	DefaultMaxAttempts = 3

	DefaultTypedBackoffMs   = 1000
	DefaultGenericBackoffMs = 5000

	DefaultListLimit = 10
)
