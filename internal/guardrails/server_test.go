package guardrails

import (
	"context"
	"errors"
	"testing"

	"github.com/haatos/guardrails-deployer/internal/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	got    command.Command
	result *command.Result
	err    error
}

func (f *fakeRunner) Run(_ context.Context, c command.Command) (*command.Result, error) {
	f.got = c
	return f.result, f.err
}

func TestServerCommand(t *testing.T) {
	t.Run("success - argv and environment", func(t *testing.T) {
		// arrange
		t.Setenv("LLM_MODEL", "llama-3")

		// act
		cmd, err := ServerCommand(ServerOptions{
			Binary:    "nemoguardrails",
			ConfigDir: "/home/cdsw/config",
			Port:      "8080",
			Env:       map[string]string{"EXTRA": "1"},
		})

		// assert
		require.NoError(t, err)
		assert.Equal(t, "nemoguardrails", cmd.Path)
		assert.Equal(t, []string{"server", "--config", "/home/cdsw/config", "--port", "8080"}, cmd.Args)
		assert.Equal(t, "llama-3", cmd.Env["LLM_MODEL"])
		assert.Equal(t, "1", cmd.Env["EXTRA"])
		assert.Equal(t, "/home/cdsw/config", cmd.Env["GUARDRAILS_CONFIG_PATH"])
	})

	t.Run("failure - missing port", func(t *testing.T) {
		// act
		_, err := ServerCommand(ServerOptions{Binary: "nemoguardrails", ConfigDir: "/tmp"})

		// assert
		assert.ErrorContains(t, err, "port")
	})
}

func TestStartServer(t *testing.T) {
	t.Run("success - clean exit", func(t *testing.T) {
		// arrange
		runner := &fakeRunner{result: &command.Result{ExitCode: 0}}
		dir := t.TempDir()

		// act
		err := StartServer(context.Background(), runner, ServerOptions{Binary: "nemoguardrails", ConfigDir: dir, Port: "8080"})

		// assert
		assert.NoError(t, err)
		assert.Equal(t, []string{"server", "--config", dir, "--port", "8080"}, runner.got.Args)
	})

	t.Run("failure - non-zero exit", func(t *testing.T) {
		// arrange
		runner := &fakeRunner{result: &command.Result{ExitCode: 2, Output: "config.yml not found"}}

		// act
		err := StartServer(context.Background(), runner, ServerOptions{Binary: "nemoguardrails", ConfigDir: t.TempDir(), Port: "8080"})

		// assert
		assert.ErrorContains(t, err, "exited with code 2")
		assert.ErrorContains(t, err, "config.yml not found")
	})

	t.Run("failure - runner error", func(t *testing.T) {
		// arrange
		runner := &fakeRunner{err: errors.New("command not found")}

		// act
		err := StartServer(context.Background(), runner, ServerOptions{Binary: "nemoguardrails", ConfigDir: t.TempDir(), Port: "8080"})

		// assert
		assert.ErrorContains(t, err, "command not found")
	})

	t.Run("failure - missing config directory", func(t *testing.T) {
		// arrange
		runner := &fakeRunner{}

		// act
		err := StartServer(context.Background(), runner, ServerOptions{Binary: "nemoguardrails", ConfigDir: "/does/not/exist", Port: "8080"})

		// assert
		assert.ErrorContains(t, err, "config directory")
		assert.Empty(t, runner.got.Path)
	})
}
