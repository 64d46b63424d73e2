// Package memory is the in-process reference implementation of
// storage.Store. Safe for concurrent use.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/models"
	"github.com/joshu-sajeev/jobqueue/internal/storage"
)

var _ storage.Store = (*Store)(nil)

type bucket struct {
	jobType string
	status  config.JobStatus
}

type Store struct {
	mu sync.RWMutex

	jobs map[string]*models.Job
	// byBucket indexes job ids by (type, status) so counts and filtered
	// queries never scan unrelated jobs.
	byBucket map[bucket]map[string]struct{}
	closed   bool
}

func New() *Store {
	return &Store{
		jobs:     make(map[string]*models.Job),
		byBucket: make(map[bucket]map[string]struct{}),
	}
}

func (s *Store) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrUnavailable
	}
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("create job %s: %w", job.ID, storage.ErrAlreadyExists)
	}

	cp := job.Clone()
	s.jobs[cp.ID] = cp
	s.index(cp)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrUnavailable
	}
	j, ok := s.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return j.Clone(), nil
}

func (s *Store) Update(_ context.Context, id string, from []config.JobStatus, mutate storage.Mutation) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, storage.ErrUnavailable
	}
	cur, ok := s.jobs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if len(from) > 0 && !slices.Contains(from, cur.Status) {
		return nil, storage.ErrStatusConflict
	}

	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.Version = cur.Version + 1

	s.unindex(cur)
	s.jobs[id] = next
	s.index(next)
	return next.Clone(), nil
}

func (s *Store) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return storage.ErrUnavailable
	}
	j, ok := s.jobs[id]
	if !ok {
		return storage.ErrNotFound
	}
	s.unindex(j)
	delete(s.jobs, id)
	return nil
}

func (s *Store) Query(_ context.Context, f storage.Filter) ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrUnavailable
	}

	var candidates []*models.Job
	for b, ids := range s.byBucket {
		if f.Type != "" && b.jobType != f.Type {
			continue
		}
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, b.status) {
			continue
		}
		for id := range ids {
			j := s.jobs[id]
			if f.Matches(j) {
				candidates = append(candidates, j)
			}
		}
	}

	storage.Sort(candidates, f.Order)
	candidates = storage.Page(candidates, f.Offset, f.Limit)

	out := make([]models.Job, len(candidates))
	for i, j := range candidates {
		out[i] = *j.Clone()
	}
	return out, nil
}

func (s *Store) Count(_ context.Context) ([]storage.StatusCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, storage.ErrUnavailable
	}

	out := make([]storage.StatusCount, 0, len(s.byBucket))
	for b, ids := range s.byBucket {
		if len(ids) == 0 {
			continue
		}
		out = append(out, storage.StatusCount{Type: b.jobType, Status: b.status, Count: int64(len(ids))})
	}
	return out, nil
}

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return storage.ErrUnavailable
	}
	return nil
}

// Close marks the store unavailable; every later call fails.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) index(j *models.Job) {
	b := bucket{jobType: j.Type, status: j.Status}
	ids, ok := s.byBucket[b]
	if !ok {
		ids = make(map[string]struct{})
		s.byBucket[b] = ids
	}
	ids[j.ID] = struct{}{}
}

func (s *Store) unindex(j *models.Job) {
	b := bucket{jobType: j.Type, status: j.Status}
	if ids, ok := s.byBucket[b]; ok {
		delete(ids, j.ID)
		if len(ids) == 0 {
			delete(s.byBucket, b)
		}
	}
}
