package job

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/dto"
)

// Notifier is told when a job becomes ready so an idle worker can pick
// it up without waiting for the next poll.
type Notifier interface {
	Notify()
}

// MonitorInterface is the read side the service exposes.
type MonitorInterface interface {
	Stats(ctx context.Context) (*dto.StatsDTO, error)
	Workers() dto.WorkersDTO
	Health(ctx context.Context) (*dto.HealthDTO, error)
	Metrics(ctx context.Context) (*dto.MetricsDTO, error)
	Progress(ctx context.Context, id string) (*dto.JobProgressDTO, error)
	ListByType(ctx context.Context, jobType string, status config.JobStatus, limit int) ([]dto.JobSummaryDTO, error)
	Pending(ctx context.Context, limit int) ([]dto.JobSummaryDTO, error)
	Active(ctx context.Context, limit int) ([]dto.JobSummaryDTO, error)
	Failed(ctx context.Context, limit int) ([]dto.FailedJobDTO, error)
}

// JobServiceInterface defines the contract for job business logic operations.
type JobServiceInterface interface {
	Enqueue(ctx context.Context, jobType string, payload json.RawMessage, opts EnqueueOptions) (string, error)
	EnqueueGeneric(ctx context.Context, payload json.RawMessage, priority int, attempts int) (string, error)
	GetStatus(ctx context.Context, id string) (*dto.JobStatusDTO, error)
	Cancel(ctx context.Context, id string) error
	ListByType(ctx context.Context, jobType string, status string, limit int) ([]dto.JobSummaryDTO, error)
	Stats(ctx context.Context) (*dto.StatsDTO, error)
	Health(ctx context.Context) (*dto.HealthDTO, error)
	Workers(ctx context.Context) (dto.WorkersDTO, error)
	Metrics(ctx context.Context) (*dto.MetricsDTO, error)
	Progress(ctx context.Context, id string) (*dto.JobProgressDTO, error)
	Failed(ctx context.Context, limit int) ([]dto.FailedJobDTO, error)
	Pending(ctx context.Context, limit int) ([]dto.JobSummaryDTO, error)
	Active(ctx context.Context, limit int) ([]dto.JobSummaryDTO, error)
}

// JobHandlerInterface defines the contract for HTTP request handlers.
type JobHandlerInterface interface {
	Enqueue(c *gin.Context)
	EnqueueTyped(c *gin.Context)
	Status(c *gin.Context)
	Stats(c *gin.Context)
	Health(c *gin.Context)
	Workers(c *gin.Context)
	Metrics(c *gin.Context)
	Failed(c *gin.Context)
	Pending(c *gin.Context)
	Active(c *gin.Context)
	ListByType(c *gin.Context)
	Progress(c *gin.Context)
	Cancel(c *gin.Context)
}
