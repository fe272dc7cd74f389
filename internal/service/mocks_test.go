package service

import (
	"context"
	"time"

	"github.com/haatos/guardrails-deployer/internal/cai"
	"github.com/haatos/guardrails-deployer/internal/store"
	"github.com/stretchr/testify/mock"
)

var testPoll = PollPolicy{Interval: time.Millisecond, Timeout: 200 * time.Millisecond}

type MockProjectAPI struct {
	mock.Mock
}

func (m *MockProjectAPI) ListProjects(ctx context.Context) ([]cai.Project, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cai.Project), args.Error(1)
}

func (m *MockProjectAPI) CreateProject(
	ctx context.Context,
	req cai.CreateProjectRequest,
) (*cai.Project, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cai.Project), args.Error(1)
}

func (m *MockProjectAPI) GetProject(ctx context.Context, projectID string) (*cai.Project, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cai.Project), args.Error(1)
}

type MockJobAPI struct {
	mock.Mock
}

func (m *MockJobAPI) ListJobs(ctx context.Context, projectID string) ([]cai.Job, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cai.Job), args.Error(1)
}

func (m *MockJobAPI) CreateJob(
	ctx context.Context,
	projectID string,
	req cai.CreateJobRequest,
) (*cai.Job, error) {
	args := m.Called(ctx, projectID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cai.Job), args.Error(1)
}

func (m *MockJobAPI) StartJobRun(ctx context.Context, projectID, jobID string) (*cai.JobRun, error) {
	args := m.Called(ctx, projectID, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cai.JobRun), args.Error(1)
}

func (m *MockJobAPI) GetJobRun(
	ctx context.Context,
	projectID, jobID, runID string,
) (*cai.JobRun, error) {
	args := m.Called(ctx, projectID, jobID, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cai.JobRun), args.Error(1)
}

type MockApplicationAPI struct {
	mock.Mock
}

func (m *MockApplicationAPI) ListApplications(
	ctx context.Context,
	projectID string,
) ([]cai.Application, error) {
	args := m.Called(ctx, projectID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cai.Application), args.Error(1)
}

func (m *MockApplicationAPI) CreateApplication(
	ctx context.Context,
	projectID string,
	req cai.CreateApplicationRequest,
) (*cai.Application, error) {
	args := m.Called(ctx, projectID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cai.Application), args.Error(1)
}

func (m *MockApplicationAPI) GetApplication(
	ctx context.Context,
	projectID, appID string,
) (*cai.Application, error) {
	args := m.Called(ctx, projectID, appID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cai.Application), args.Error(1)
}

type MockConnectionInfoWriter struct {
	mock.Mock
}

func (m *MockConnectionInfoWriter) WriteConnectionInfo(
	ctx context.Context,
	ci *store.ConnectionInfo,
) error {
	args := m.Called(ctx, ci)
	return args.Error(0)
}

type recordingObserver struct {
	triggered []JobOutcome
	finished  []JobOutcome
}

func (o *recordingObserver) RunTriggered(_ context.Context, out JobOutcome) {
	o.triggered = append(o.triggered, out)
}

func (o *recordingObserver) RunFinished(_ context.Context, out JobOutcome) {
	o.finished = append(o.finished, out)
}
