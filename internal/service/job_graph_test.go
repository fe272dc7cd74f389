package service

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/haatos/guardrails-deployer/internal/cai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// fakeJobPlatform keeps created jobs in memory so repeated builds observe
// earlier creates.
type fakeJobPlatform struct {
	MockJobAPI
	jobs []cai.Job
}

func (f *fakeJobPlatform) ListJobs(ctx context.Context, projectID string) ([]cai.Job, error) {
	f.Called(ctx, projectID)
	return append([]cai.Job(nil), f.jobs...), nil
}

func (f *fakeJobPlatform) CreateJob(
	ctx context.Context,
	projectID string,
	req cai.CreateJobRequest,
) (*cai.Job, error) {
	f.Called(ctx, projectID, req)
	j := cai.Job{ID: "job-" + req.Name, Name: req.Name, Script: req.Script, ParentID: req.ParentJobID}
	f.jobs = append(f.jobs, j)
	return &j, nil
}

func TestJobGraphBuilder_Build(t *testing.T) {
	specs := []JobSpec{
		{Name: "setup", Script: "scripts/setup.sh", CPU: 2, Memory: 4},
		{Name: "launch", Script: "scripts/launch.py", Parent: "setup", Args: []string{"--port", "8080"}},
	}

	t.Run("success - second build reuses every job", func(t *testing.T) {
		// arrange
		api := new(fakeJobPlatform)
		api.On("ListJobs", mock.Anything, "p-1").Return()
		api.On("CreateJob", mock.Anything, "p-1", mock.Anything).Return()
		b := NewJobGraphBuilder(api)

		// act
		first, err1 := b.Build(context.Background(), "p-1", specs)
		second, err2 := b.Build(context.Background(), "p-1", specs)

		// assert
		assert.NoError(t, err1)
		assert.NoError(t, err2)
		want := map[string]string{"setup": "job-setup", "launch": "job-launch"}
		if diff := cmp.Diff(want, first); diff != "" {
			t.Errorf("first build mismatch (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("second build mismatch (-first +second):\n%s", diff)
		}
		api.AssertNumberOfCalls(t, "CreateJob", 2)
	})

	t.Run("success - child is created with its parent's id", func(t *testing.T) {
		// arrange
		api := new(fakeJobPlatform)
		api.jobs = []cai.Job{{ID: "existing-setup", Name: "setup"}}
		api.On("ListJobs", mock.Anything, "p-1").Return()
		api.On("CreateJob", mock.Anything, "p-1", mock.Anything).Return()
		b := NewJobGraphBuilder(api)

		// act
		ids, err := b.Build(context.Background(), "p-1", specs)

		// assert
		assert.NoError(t, err)
		assert.Equal(t, "existing-setup", ids["setup"])
		api.AssertNumberOfCalls(t, "CreateJob", 1)
		api.AssertCalled(t, "CreateJob", mock.Anything, "p-1", cai.CreateJobRequest{
			Name:        "launch",
			Script:      "scripts/launch.py",
			Arguments:   "--port 8080",
			ParentJobID: "existing-setup",
		})
	})

	t.Run("failure - forward parent reference is rejected before any call", func(t *testing.T) {
		// arrange
		api := new(MockJobAPI)
		b := NewJobGraphBuilder(api)
		forward := []JobSpec{
			{Name: "launch", Script: "launch.py", Parent: "setup"},
			{Name: "setup", Script: "setup.sh"},
		}

		// act
		ids, err := b.Build(context.Background(), "p-1", forward)

		// assert
		assert.Nil(t, ids)
		var orderErr *DependencyOrderError
		assert.ErrorAs(t, err, &orderErr)
		assert.Equal(t, "launch", orderErr.Job)
		assert.Equal(t, "setup", orderErr.Parent)
		api.AssertNotCalled(t, "ListJobs", mock.Anything, mock.Anything)
		api.AssertNotCalled(t, "CreateJob", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("failure - listing jobs is fatal", func(t *testing.T) {
		// arrange
		api := new(MockJobAPI)
		api.On("ListJobs", mock.Anything, "p-1").Return(nil, &cai.APIError{StatusCode: 500})
		b := NewJobGraphBuilder(api)

		// act
		_, err := b.Build(context.Background(), "p-1", specs)

		// assert
		assert.ErrorContains(t, err, "list jobs")
		api.AssertNotCalled(t, "CreateJob", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestJoinArguments(t *testing.T) {
	cases := []struct {
		args []string
		want string
	}{
		{nil, ""},
		{[]string{"--port", "8080"}, "--port 8080"},
		{[]string{"--config", "/home/cdsw/config dir"}, "--config '/home/cdsw/config dir'"},
		{[]string{"it's"}, `'it'\''s'`},
		{[]string{""}, "''"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, joinArguments(c.args))
	}
}
