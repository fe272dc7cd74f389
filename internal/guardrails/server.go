// Package guardrails holds the contracts of the two collaborators the
// deployment serves: the guardrails server process and the local
// classification model service.
package guardrails

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/haatos/guardrails-deployer/internal/command"
	"github.com/haatos/guardrails-deployer/internal/ctxlog"
)

// passthroughEnv are forwarded to the server when set in the environment.
var passthroughEnv = []string{
	"LLM_MODEL",
	"LLM_API_KEY",
	"LLM_API_BASE",
	"LOG_LEVEL",
	"GUARDRAILS_CONFIG_FILE",
}

type ServerOptions struct {
	// Binary is the guardrails server executable.
	Binary    string
	ConfigDir string
	Port      string
	Env       map[string]string
}

// ServerCommand builds the command that starts the guardrails server on
// port with the policy configuration in configDir.
func ServerCommand(opts ServerOptions) (command.Command, error) {
	if strings.TrimSpace(opts.Binary) == "" {
		return command.Command{}, errors.New("guardrails server binary is required")
	}
	if strings.TrimSpace(opts.ConfigDir) == "" {
		return command.Command{}, errors.New("guardrails config directory is required")
	}
	if strings.TrimSpace(opts.Port) == "" {
		return command.Command{}, errors.New("guardrails server port is required")
	}

	env := map[string]string{
		"GUARDRAILS_CONFIG_PATH": opts.ConfigDir,
		"CDSW_APP_PORT":          opts.Port,
	}
	for _, key := range passthroughEnv {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}
	for k, v := range opts.Env {
		env[k] = v
	}

	return command.Command{
		Path: opts.Binary,
		Args: []string{"server", "--config", opts.ConfigDir, "--port", opts.Port},
		Env:  env,
	}, nil
}

// StartServer runs the guardrails server in the foreground and blocks while
// it serves. It fails when the configuration directory is missing or the
// server exits with a non-zero code.
func StartServer(ctx context.Context, runner command.Runner, opts ServerOptions) error {
	info, err := os.Stat(opts.ConfigDir)
	if err != nil {
		return fmt.Errorf("guardrails config directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("guardrails config path %s is not a directory", opts.ConfigDir)
	}

	cmd, err := ServerCommand(opts)
	if err != nil {
		return err
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	logger := ctxlog.FromContext(ctx)
	logger.Info("starting guardrails server", "command", cmd.String(), "config_dir", opts.ConfigDir, "port", opts.Port)
	res, err := runner.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("guardrails server: %w", err)
	}
	if !res.Success() {
		err := fmt.Errorf("guardrails server exited with code %d after %s", res.ExitCode, res.Duration.Round(time.Second))
		if tail := lastLines(res.Output, 5); tail != "" {
			err = fmt.Errorf("%w:\n%s", err, tail)
		}
		return err
	}
	logger.Info("guardrails server stopped", "uptime", res.Duration.Round(time.Second))
	return nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
