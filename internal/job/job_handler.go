package job

import (
	"net/http"
	"slices"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/jobqueue/common"
	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/dto"
	"github.com/joshu-sajeev/jobqueue/middleware"
)

// maxListLimit caps the limit query parameter of listing endpoints.
const maxListLimit = 1000

type JobHandler struct {
	service JobServiceInterface
}

func NewJobHandler(s JobServiceInterface) *JobHandler {
	return &JobHandler{service: s}
}

var _ JobHandlerInterface = (*JobHandler)(nil)

// RegisterRoutes mounts every job endpoint on r. gin allows one wildcard
// name per path segment, so the type routes read their type from :id.
func (h *JobHandler) RegisterRoutes(r gin.IRouter) {
	jobs := r.Group("/api/jobs")
	jobs.POST("/enqueue", h.Enqueue)
	jobs.POST("/:id/enqueue", h.EnqueueTyped)
	jobs.GET("/stats", h.Stats)
	jobs.GET("/health", h.Health)
	jobs.GET("/workers", h.Workers)
	jobs.GET("/metrics", h.Metrics)
	jobs.GET("/failed", h.Failed)
	jobs.GET("/pending", h.Pending)
	jobs.GET("/active", h.Active)
	jobs.GET("/:id/status", h.Status)
	jobs.GET("/:id/jobs", h.ListByType)
	jobs.GET("/:id/progress", h.Progress)
	jobs.DELETE("/:id", h.Cancel)
}

// Enqueue handles HTTP requests for submitting a typed job.
// It validates and binds the request body, delegates to the JobService,
// and returns HTTP 201 with the new job id.
func (h *JobHandler) Enqueue(c *gin.Context) {
	var req dto.JobCreateDTO

	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	id, err := h.service.Enqueue(c.Request.Context(), req.JobType, req.Data, EnqueueOptions{
		Priority:         req.Priority,
		MaxAttempts:      req.Attempts,
		DelayMs:          req.Delay,
		RemoveOnComplete: req.RemoveOnComplete,
	})
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusCreated, enqueued(id, req.JobType, req.Priority))
}

// EnqueueTyped handles POST /api/jobs/:type/enqueue.
func (h *JobHandler) EnqueueTyped(c *gin.Context) {
	jobType := c.Param("id")
	if !isKnownType(jobType) {
		c.Error(common.NewAPIError(http.StatusBadRequest, "invalid job type", map[string]any{
			"provided": jobType,
			"allowed":  config.AllowedJobTypes,
		}))
		return
	}

	var req dto.TypedEnqueueDTO
	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	id, err := h.service.Enqueue(c.Request.Context(), jobType, req.Data, EnqueueOptions{
		Priority:    req.Priority,
		MaxAttempts: req.Attempts,
		DelayMs:     req.Delay,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, enqueued(id, jobType, req.Priority))
}

// Status handles HTTP requests to fetch a job's current state.
func (h *JobHandler) Status(c *gin.Context) {
	resp, err := h.service.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) Stats(c *gin.Context) {
	resp, err := h.service.Stats(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Health returns 200 when healthy and 503 otherwise, with the same body.
func (h *JobHandler) Health(c *gin.Context) {
	resp, err := h.service.Health(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (h *JobHandler) Workers(c *gin.Context) {
	resp, err := h.service.Workers(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Metrics handles GET /api/jobs/metrics.
func (h *JobHandler) Metrics(c *gin.Context) {
	resp, err := h.service.Metrics(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) Failed(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	resp, err := h.service.Failed(c.Request.Context(), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) Pending(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	resp, err := h.service.Pending(c.Request.Context(), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) Active(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}
	resp, err := h.service.Active(c.Request.Context(), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListByType handles GET /api/jobs/:type/jobs?status=&limit=.
func (h *JobHandler) ListByType(c *gin.Context) {
	limit, ok := parseLimit(c)
	if !ok {
		return
	}

	resp, err := h.service.ListByType(c.Request.Context(), c.Param("id"), c.Query("status"), limit)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *JobHandler) Progress(c *gin.Context) {
	resp, err := h.service.Progress(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Cancel handles DELETE /api/jobs/:id.
func (h *JobHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	if err := h.service.Cancel(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": config.JobStatusCancelled, "message": "job cancelled"})
}

func parseLimit(c *gin.Context) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return config.DefaultListLimit, true
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > maxListLimit {
		c.Error(common.Errf(http.StatusBadRequest, "limit must be between 1 and %d", maxListLimit))
		return 0, false
	}
	return limit, true
}

func isKnownType(jobType string) bool {
	return slices.Contains(config.AllowedJobTypes, jobType)
}

func enqueued(id, jobType, priority string) dto.EnqueueResponseDTO {
	if priority == "" {
		priority = "normal"
	}
	return dto.EnqueueResponseDTO{
		JobID:    id,
		JobType:  jobType,
		Priority: priority,
		Message:  "job enqueued",
	}
}
