package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/joshu-sajeev/jobqueue/internal/models"
)

// Progress lets a running handler publish how far along it is, 0 to 100.
type Progress interface {
	Report(ctx context.Context, percent int) error
}

// Handler performs the work for one attempt of a job. A returned error
// fails the attempt; the result is stored as JSON on success.
type Handler func(ctx context.Context, job *models.Job, progress Progress) (any, error)

// Registry maps job types to handlers. Unknown types resolve to the
// fallback handler. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	fallback Handler
}

func NewRegistry(fallback Handler) *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
		fallback: fallback,
	}
}

func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

// Lookup returns the handler registered for jobType, if any.
func (r *Registry) Lookup(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Resolve returns the handler for jobType or the fallback handler.
func (r *Registry) Resolve(jobType string) Handler {
	if h, ok := r.Lookup(jobType); ok {
		return h
	}
	return r.fallback
}

// Types lists registered job types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}

// RegisterTyped registers a handler that receives the payload decoded
// into T. A payload that does not decode fails the attempt.
func RegisterTyped[T any](r *Registry, jobType string, h func(ctx context.Context, job *models.Job, payload T, progress Progress) (any, error)) {
	r.Register(jobType, func(ctx context.Context, job *models.Job, progress Progress) (any, error) {
		var payload T
		if len(job.Payload) > 0 {
			if err := json.Unmarshal(job.Payload, &payload); err != nil {
				return nil, fmt.Errorf("decode payload for job type %q: %w", jobType, err)
			}
		}
		return h(ctx, job, payload, progress)
	})
}
