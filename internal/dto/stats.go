package dto

import "time"

type StatusCountsDTO struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
	Total     int64 `json:"total"`
}

type TypeStatsDTO struct {
	Type string `json:"type"`
	StatusCountsDTO
}

type StatsDTO struct {
	Overall   StatusCountsDTO `json:"overall"`
	ByJobType []TypeStatsDTO  `json:"by_job_type"`
}

type WorkerSlotDTO struct {
	ID    int    `json:"id"`
	Busy  bool   `json:"busy"`
	JobID string `json:"job_id,omitempty"`
}

type WorkersDTO struct {
	Count  int             `json:"count"`
	Active int             `json:"active"`
	Slots  []WorkerSlotDTO `json:"slots"`
}

type HealthDTO struct {
	Status  string `json:"status"`
	Workers struct {
		Count  int `json:"count"`
		Active int `json:"active"`
	} `json:"workers"`
	Queue struct {
		Size           int64 `json:"size"`
		Processing     int64 `json:"processing"`
		RecentFailures bool  `json:"recent_failures"`
	} `json:"queue"`
	LastChecked time.Time `json:"last_checked"`
}

// AttemptMetricsDTO aggregates the attempts recorded by this process for
// one job type and outcome (ok or error).
type AttemptMetricsDTO struct {
	JobType         string  `json:"job_type"`
	Status          string  `json:"status"`
	Attempts        int64   `json:"attempts"`
	DurationCount   uint64  `json:"duration_count"`
	DurationSeconds float64 `json:"duration_seconds_total"`
}

type MetricsDTO struct {
	Attempts    []AttemptMetricsDTO `json:"attempts"`
	CollectedAt time.Time           `json:"collected_at"`
}
