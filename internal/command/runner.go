// Package command runs external programs from an argument list, without a
// shell in between, and reports their exit code and output.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

const defaultMaxOutput = 64 << 10

type Command struct {
	Path string
	Args []string
	Dir  string
	// Env is added on top of the current process environment.
	Env map[string]string
	// Stdout and Stderr, when set, receive the output as it is produced in
	// addition to the captured copy.
	Stdout io.Writer
	Stderr io.Writer
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

type Result struct {
	ExitCode int
	// Output holds the tail of stdout and stderr interleaved.
	Output   string
	Duration time.Duration
}

func (r *Result) Success() bool {
	return r.ExitCode == 0
}

type Runner interface {
	Run(context.Context, Command) (*Result, error)
}

type LocalRunner struct {
	MaxOutput int
}

func NewLocalRunner() *LocalRunner {
	return &LocalRunner{MaxOutput: defaultMaxOutput}
}

// Run starts the command and waits for it. A non-zero exit is reported in
// Result.ExitCode with a nil error; the error is reserved for commands that
// could not be started or were cancelled through ctx.
func (r *LocalRunner) Run(ctx context.Context, c Command) (*Result, error) {
	if strings.TrimSpace(c.Path) == "" {
		return nil, errors.New("command path is required")
	}
	path, err := exec.LookPath(c.Path)
	if err != nil {
		return nil, fmt.Errorf("command not found: %w", err)
	}

	limit := r.MaxOutput
	if limit <= 0 {
		limit = defaultMaxOutput
	}
	captured := &tailBuffer{max: limit}

	cmd := exec.CommandContext(ctx, path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = mergeEnv(os.Environ(), c.Env)
	cmd.Stdout = teeWriter(captured, c.Stdout)
	cmd.Stderr = teeWriter(captured, c.Stderr)
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	err = cmd.Run()
	res := &Result{Output: captured.String(), Duration: time.Since(start)}
	if ctx.Err() != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", c.Path, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("%s: %w", c.Path, err)
	}
	return res, nil
}

func teeWriter(captured io.Writer, extra io.Writer) io.Writer {
	if extra == nil {
		return captured
	}
	return io.MultiWriter(captured, extra)
}

func mergeEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, overridden := extra[name]; !overridden {
			env = append(env, kv)
		}
	}
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
