package mocks

import (
	"context"
	"encoding/json"

	"github.com/joshu-sajeev/jobqueue/internal/dto"
	"github.com/joshu-sajeev/jobqueue/internal/job"
	"github.com/stretchr/testify/mock"
)

type JobServiceMock struct {
	mock.Mock
}

var _ job.JobServiceInterface = (*JobServiceMock)(nil)

func (m *JobServiceMock) Enqueue(ctx context.Context, jobType string, payload json.RawMessage, opts job.EnqueueOptions) (string, error) {
	args := m.Called(ctx, jobType, payload, opts)
	return args.String(0), args.Error(1)
}

func (m *JobServiceMock) EnqueueGeneric(ctx context.Context, payload json.RawMessage, priority int, attempts int) (string, error) {
	args := m.Called(ctx, payload, priority, attempts)
	return args.String(0), args.Error(1)
}

func (m *JobServiceMock) GetStatus(ctx context.Context, id string) (*dto.JobStatusDTO, error) {
	args := m.Called(ctx, id)
	resp, _ := args.Get(0).(*dto.JobStatusDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) Cancel(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *JobServiceMock) ListByType(ctx context.Context, jobType string, status string, limit int) ([]dto.JobSummaryDTO, error) {
	args := m.Called(ctx, jobType, status, limit)
	resp, _ := args.Get(0).([]dto.JobSummaryDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) Stats(ctx context.Context) (*dto.StatsDTO, error) {
	args := m.Called(ctx)
	resp, _ := args.Get(0).(*dto.StatsDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) Health(ctx context.Context) (*dto.HealthDTO, error) {
	args := m.Called(ctx)
	resp, _ := args.Get(0).(*dto.HealthDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) Workers(ctx context.Context) (dto.WorkersDTO, error) {
	args := m.Called(ctx)
	resp, _ := args.Get(0).(dto.WorkersDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) Metrics(ctx context.Context) (*dto.MetricsDTO, error) {
	args := m.Called(ctx)
	resp, _ := args.Get(0).(*dto.MetricsDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) Progress(ctx context.Context, id string) (*dto.JobProgressDTO, error) {
	args := m.Called(ctx, id)
	resp, _ := args.Get(0).(*dto.JobProgressDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) Failed(ctx context.Context, limit int) ([]dto.FailedJobDTO, error) {
	args := m.Called(ctx, limit)
	resp, _ := args.Get(0).([]dto.FailedJobDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) Pending(ctx context.Context, limit int) ([]dto.JobSummaryDTO, error) {
	args := m.Called(ctx, limit)
	resp, _ := args.Get(0).([]dto.JobSummaryDTO)
	return resp, args.Error(1)
}

func (m *JobServiceMock) Active(ctx context.Context, limit int) ([]dto.JobSummaryDTO, error) {
	args := m.Called(ctx, limit)
	resp, _ := args.Get(0).([]dto.JobSummaryDTO)
	return resp, args.Error(1)
}
