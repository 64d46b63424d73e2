package models

import (
	"fmt"
	"time"

	"github.com/joshu-sajeev/jobqueue/internal/config"
)

type Transition struct {
	From config.JobStatus
	To   config.JobStatus
}

var ValidTransitions = []Transition{
	{From: config.JobStatusWaiting, To: config.JobStatusActive},
	{From: config.JobStatusDelayed, To: config.JobStatusWaiting},
	{From: config.JobStatusActive, To: config.JobStatusCompleted},
	{From: config.JobStatusActive, To: config.JobStatusDelayed},
	{From: config.JobStatusActive, To: config.JobStatusFailed},
	{From: config.JobStatusWaiting, To: config.JobStatusCancelled},
	{From: config.JobStatusDelayed, To: config.JobStatusCancelled},
	{From: config.JobStatusActive, To: config.JobStatusCancelled},
}

func CanTransition(from, to config.JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// SourcesOf returns every status that may transition into to.
func SourcesOf(to config.JobStatus) []config.JobStatus {
	var from []config.JobStatus
	for _, t := range ValidTransitions {
		if t.To == to {
			from = append(from, t.From)
		}
	}
	return from
}

// TransitionTo moves the job to status `to`, stamping UpdatedAt and, for
// terminal statuses, FinishedAt. It refuses transitions outside the table.
func (j *Job) TransitionTo(to config.JobStatus, now time.Time) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("invalid transition %s -> %s", j.Status, to)
	}
	j.Status = to
	j.UpdatedAt = now
	if to.Terminal() && j.FinishedAt == nil {
		t := now
		j.FinishedAt = &t
	}
	return nil
}
