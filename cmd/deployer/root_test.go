package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haatos/guardrails-deployer/internal"
	"github.com/haatos/guardrails-deployer/internal/service"
	"github.com/haatos/guardrails-deployer/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWithEnv(t, nil, args...)
}

func executeWithEnv(t *testing.T, env map[string]string, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DEPLOYER_DB_PATH", "file:"+filepath.Join(dir, "deployer.db"))
	t.Setenv("CDSW_PROJECT_ID", "")
	for k, v := range env {
		t.Setenv(k, v)
	}
	out := new(bytes.Buffer)
	cmd := newRootCommand(out)
	cmd.SetArgs(append([]string{"--config", filepath.Join(dir, "deployer.json")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	t.Run("success - every command is registered", func(t *testing.T) {
		// arrange
		cmd := newRootCommand(new(bytes.Buffer))
		want := []string{
			"deploy", "resolve", "jobs build", "jobs run", "promote",
			"history", "serve", "start-server", "classify", "config show", "config set",
		}

		// act & assert
		for _, path := range want {
			found, _, err := cmd.Find(splitPath(path))
			require.NoError(t, err, path)
			assert.Equal(t, path, trimRoot(found.CommandPath()))
		}
	})
}

func TestConfigCommand(t *testing.T) {
	t.Run("success - show prints the defaults", func(t *testing.T) {
		// act
		out, err := execute(t, "config", "show")

		// assert
		require.NoError(t, err)
		var got internal.Configuration
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		assert.Equal(t, internal.DefaultConfiguration().HistoryLimit, got.HistoryLimit)
		assert.Equal(t, internal.DefaultManifestPath, got.ManifestPath)
	})

	t.Run("success - set persists the value", func(t *testing.T) {
		// arrange
		dir := t.TempDir()
		path := filepath.Join(dir, "deployer.json")
		cmd := newRootCommand(new(bytes.Buffer))
		cmd.SetArgs([]string{"--config", path, "config", "set", "history_limit", "50"})

		// act
		err := cmd.Execute()

		// assert
		require.NoError(t, err)
		b, err := os.ReadFile(path)
		require.NoError(t, err)
		var got internal.Configuration
		require.NoError(t, json.Unmarshal(b, &got))
		assert.Equal(t, int64(50), got.HistoryLimit)
	})

	t.Run("failure - unknown key", func(t *testing.T) {
		// act
		_, err := execute(t, "config", "set", "color", "blue")

		// assert
		assert.ErrorContains(t, err, "unknown config key")
	})
}

func TestHistoryCommand(t *testing.T) {
	t.Run("success - empty history prints the header", func(t *testing.T) {
		// act
		out, err := execute(t, "history")

		// assert
		require.NoError(t, err)
		assert.Contains(t, out, "OPERATION")
	})

	t.Run("failure - unknown deployment", func(t *testing.T) {
		// act
		_, err := execute(t, "history", "missing")

		// assert
		assert.ErrorContains(t, err, "missing")
	})
}

func TestJobsRunCommand(t *testing.T) {
	t.Run("failure - project id is required", func(t *testing.T) {
		// arrange
		manifest := filepath.Join(t.TempDir(), "deploy.yaml")
		require.NoError(t, os.WriteFile(manifest, []byte("jobs:\n  - name: setup\n    script: setup.sh\n"), 0o644))

		// act
		_, err := execute(t, "--manifest", manifest, "jobs", "run")

		// assert
		assert.ErrorContains(t, err, "project id is required")
	})
}

func TestDeployCommand(t *testing.T) {
	t.Run("failure - session project id does not replace project resolution", func(t *testing.T) {
		// arrange
		manifest := filepath.Join(t.TempDir(), "deploy.yaml")
		content := "jobs:\n  - name: setup\n    script: setup.sh\napplication:\n  name: guardrails\n  subdomain: guardrails\n  script: app.py\n"
		require.NoError(t, os.WriteFile(manifest, []byte(content), 0o644))
		env := map[string]string{
			"CDSW_PROJECT_ID": "p-session",
			"CML_HOST":        "http://127.0.0.1:1",
			"CML_API_KEY":     "test-key",
		}

		// act
		_, err := executeWithEnv(t, env, "--manifest", manifest, "deploy")

		// assert
		var se *service.StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, service.StageResolve, se.Stage)
		assert.ErrorContains(t, err, "project is required")
	})
}

func TestPrintResult(t *testing.T) {
	t.Run("success - halted execution", func(t *testing.T) {
		// arrange
		ended := time.Now()
		res := &service.DeployResult{
			DeploymentID: "d-1",
			ProjectID:    "p-1",
			JobIDs:       map[string]string{"launch": "job-2", "setup": "job-1"},
			Execution: &service.ExecutionResult{
				Outcomes: []service.JobOutcome{
					{Job: "setup", JobID: "job-1", RunID: "run-1", State: service.JobSucceeded, LastStatus: "ENGINE_SUCCEEDED", EndedOn: &ended},
					{Job: "launch", JobID: "job-2", RunID: "run-2", State: service.JobFailed, LastStatus: "ENGINE_FAILED", Err: errors.New("job run run-2 failed")},
				},
			},
			Connection: &store.ConnectionInfo{AppName: "nemo-guardrails-server", Status: "running", URL: "https://guardrails.example"},
		}
		out := new(bytes.Buffer)

		// act
		printResult(out, res)

		// assert
		s := out.String()
		assert.Contains(t, s, "deployment: d-1")
		assert.Less(t, bytes.Index(out.Bytes(), []byte("launch: job-2")), bytes.Index(out.Bytes(), []byte("setup: job-1")))
		assert.Contains(t, s, "run-2, last status ENGINE_FAILED")
		assert.Contains(t, s, "https://guardrails.example")
	})

	t.Run("success - nil result prints nothing", func(t *testing.T) {
		// arrange
		out := new(bytes.Buffer)

		// act
		printResult(out, nil)

		// assert
		assert.Empty(t, out.String())
	})
}

func splitPath(path string) []string {
	return strings.Fields(path)
}

func trimRoot(commandPath string) string {
	return strings.TrimPrefix(commandPath, "deployer ")
}
