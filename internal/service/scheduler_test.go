package service

import (
	"context"
	"testing"
	"time"

	"github.com/haatos/guardrails-deployer/internal/cai"
	"github.com/haatos/guardrails-deployer/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineService_ScheduleRedeploy(t *testing.T) {
	t.Run("success - scheduled run records a deployment", func(t *testing.T) {
		// arrange
		f := newPipelineFixture(t)
		scheduler, err := NewScheduler()
		require.NoError(t, err)
		t.Cleanup(func() { _ = scheduler.Shutdown() })
		load := func() (*Manifest, error) { return testManifest(), nil }

		// act
		id, err := f.service.ScheduleRedeploy(context.Background(), scheduler, "0 0 1 1 *", load, DeployOptions{})
		require.NoError(t, err)
		scheduler.Start()
		for _, j := range scheduler.Jobs() {
			if j.ID() == id {
				require.NoError(t, j.RunNow())
			}
		}

		// assert
		assert.Eventually(t, func() bool {
			deployments, err := f.store.ListDeployments(context.Background(), 10)
			if err != nil || len(deployments) != 1 {
				return false
			}
			_, busy := f.service.InProgress()
			return deployments[0].Status == store.DeploymentSucceeded && !busy
		}, 5*time.Second, 10*time.Millisecond)
	})

	t.Run("failure - invalid cron expression", func(t *testing.T) {
		// arrange
		f := newPipelineFixture(t)
		scheduler, err := NewScheduler()
		require.NoError(t, err)
		t.Cleanup(func() { _ = scheduler.Shutdown() })

		// act
		_, err = f.service.ScheduleRedeploy(context.Background(), scheduler, "every tuesday", nil, DeployOptions{})

		// assert
		assert.ErrorContains(t, err, "error scheduling redeploy")
	})
}

func TestPipelineService_refreshOnce(t *testing.T) {
	t.Run("success - missing record is not an error", func(t *testing.T) {
		// arrange
		f := newPipelineFixture(t)

		// act
		err := f.service.refreshOnce(context.Background(), store.NewConnectionInfoFile(f.infoPath))

		// assert
		assert.NoError(t, err)
	})

	t.Run("success - changed application is rewritten", func(t *testing.T) {
		// arrange
		f := newPipelineFixture(t)
		f.platform.apps = []cai.Application{{ID: "app-1", Name: "nemo-guardrails-server", RawStatus: "APPLICATION_RUNNING", URL: "https://example/guardrails"}}
		f.platform.appPollsLeft = 0
		file := store.NewConnectionInfoFile(f.infoPath)
		require.NoError(t, file.WriteConnectionInfo(context.Background(), &store.ConnectionInfo{
			AppID:     "app-1",
			AppName:   "nemo-guardrails-server",
			ProjectID: "p-1",
			URL:       "https://example/guardrails",
			Status:    "starting",
		}))

		// act
		err := f.service.refreshOnce(context.Background(), file)

		// assert
		require.NoError(t, err)
		ci, err := store.ReadConnectionInfo(f.infoPath)
		require.NoError(t, err)
		assert.Equal(t, "running", ci.Status)
	})

	t.Run("success - skipped while a deployment runs", func(t *testing.T) {
		// arrange
		f := newPipelineFixture(t)
		f.service.inFlight = "d-1"
		file := store.NewConnectionInfoFile(f.infoPath)
		require.NoError(t, file.WriteConnectionInfo(context.Background(), &store.ConnectionInfo{
			AppID: "app-1", AppName: "nemo-guardrails-server", ProjectID: "p-1", URL: "https://example/guardrails", Status: "starting",
		}))

		// act
		err := f.service.refreshOnce(context.Background(), file)

		// assert
		require.NoError(t, err)
		ci, err := store.ReadConnectionInfo(f.infoPath)
		require.NoError(t, err)
		assert.Equal(t, "starting", ci.Status)
	})
}
