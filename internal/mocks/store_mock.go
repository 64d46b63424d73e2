package mocks

import (
	"context"

	"github.com/joshu-sajeev/jobqueue/internal/config"
	"github.com/joshu-sajeev/jobqueue/internal/models"
	"github.com/joshu-sajeev/jobqueue/internal/storage"
	"github.com/stretchr/testify/mock"
)

// StoreMock is a testify mock of storage.Store.
type StoreMock struct {
	mock.Mock
}

var _ storage.Store = (*StoreMock)(nil)

func (m *StoreMock) Create(ctx context.Context, job *models.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *StoreMock) Get(ctx context.Context, id string) (*models.Job, error) {
	args := m.Called(ctx, id)

	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *StoreMock) Update(ctx context.Context, id string, from []config.JobStatus, mutate storage.Mutation) (*models.Job, error) {
	args := m.Called(ctx, id, from, mutate)

	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *StoreMock) Remove(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *StoreMock) Query(ctx context.Context, filter storage.Filter) ([]models.Job, error) {
	args := m.Called(ctx, filter)

	jobs, _ := args.Get(0).([]models.Job)
	return jobs, args.Error(1)
}

func (m *StoreMock) Count(ctx context.Context) ([]storage.StatusCount, error) {
	args := m.Called(ctx)

	counts, _ := args.Get(0).([]storage.StatusCount)
	return counts, args.Error(1)
}

func (m *StoreMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *StoreMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
