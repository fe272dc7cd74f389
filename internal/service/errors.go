package service

import (
	"errors"
	"fmt"
	"time"
)

var ErrDeploymentInProgress = errors.New("a deployment is already in progress")

type Stage string

const (
	StageResolve Stage = "resolve"
	StageBuild   Stage = "build"
	StageExecute Stage = "execute"
	StagePromote Stage = "promote"
)

// StageError names the pipeline stage that halted.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ManifestError is a problem with the declared deployment that is detected
// before any call to the platform.
type ManifestError struct {
	Field   string
	Message string
}

func (e *ManifestError) Error() string {
	return fmt.Sprintf("invalid manifest: %s: %s", e.Field, e.Message)
}

// DependencyOrderError is a job whose parent is not declared before it.
type DependencyOrderError struct {
	Job    string
	Parent string
	Index  int
}

func (e *DependencyOrderError) Error() string {
	if e.Job == e.Parent {
		return fmt.Sprintf("job %q (position %d) lists itself as parent", e.Job, e.Index+1)
	}
	return fmt.Sprintf(
		"job %q (position %d) references parent %q which is not declared before it",
		e.Job, e.Index+1, e.Parent,
	)
}

// StateTimeoutError is a polling loop that ran out of time before the entity
// reached a terminal state. The entity may still finish on the platform.
type StateTimeoutError struct {
	Kind       string
	ID         string
	LastStatus string
	Waited     time.Duration
}

func (e *StateTimeoutError) Error() string {
	last := e.LastStatus
	if last == "" {
		last = "unknown"
	}
	return fmt.Sprintf(
		"timed out after %s waiting for %s %s (last status %s)",
		e.Waited, e.Kind, e.ID, last,
	)
}

// TerminalFailureError is an entity that reached an explicit failed status.
type TerminalFailureError struct {
	Kind   string
	ID     string
	Status string
}

func (e *TerminalFailureError) Error() string {
	return fmt.Sprintf("%s %s reached terminal status %s", e.Kind, e.ID, e.Status)
}

func IsStateTimeout(err error) bool {
	var te *StateTimeoutError
	return errors.As(err, &te)
}

func IsTerminalFailure(err error) bool {
	var tf *TerminalFailureError
	return errors.As(err, &tf)
}
