package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/haatos/guardrails-deployer/internal/cai"
	"github.com/haatos/guardrails-deployer/internal/ctxlog"
)

type JobState string

const (
	JobPending   JobState = "pending"
	JobTriggered JobState = "triggered"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobTimedOut  JobState = "timed_out"
	JobSkipped   JobState = "skipped"
)

type JobOutcome struct {
	Job        string
	JobID      string
	RunID      string
	State      JobState
	LastStatus string
	StartedOn  *time.Time
	EndedOn    *time.Time
	Err        error
}

type ExecutionResult struct {
	Outcomes  []JobOutcome
	Succeeded bool
	// Halted is the outcome that stopped the sequence, nil on success.
	Halted *JobOutcome
}

// RunObserver is told about every run the executor starts and finishes.
type RunObserver interface {
	RunTriggered(context.Context, JobOutcome)
	RunFinished(context.Context, JobOutcome)
}

type ExecuteOptions struct {
	// From skips every job declared before the named one.
	From string
}

// JobExecutor triggers jobs one at a time in declaration order and stops at
// the first job whose run does not succeed.
type JobExecutor struct {
	api      JobAPI
	poll     PollPolicy
	observer RunObserver
}

func NewJobExecutor(api JobAPI, poll PollPolicy, observer RunObserver) *JobExecutor {
	return &JobExecutor{api: api, poll: poll, observer: observer}
}

// Execute runs specs against the job ids produced by JobGraphBuilder.Build.
// The returned result is never nil; the error is non-nil whenever a job
// halted the sequence or the input was invalid.
func (e *JobExecutor) Execute(
	ctx context.Context,
	projectID string,
	specs []JobSpec,
	ids map[string]string,
	opts ExecuteOptions,
) (*ExecutionResult, error) {
	result := &ExecutionResult{Outcomes: make([]JobOutcome, len(specs))}
	for i, spec := range specs {
		result.Outcomes[i] = JobOutcome{Job: spec.Name, JobID: ids[spec.Name], State: JobPending}
	}

	if err := ValidateJobOrder(specs); err != nil {
		return result, err
	}
	start := 0
	if opts.From != "" {
		start = -1
		for i, spec := range specs {
			if spec.Name == opts.From {
				start = i
				break
			}
		}
		if start < 0 {
			return result, &ManifestError{Field: "from", Message: fmt.Sprintf("job %q is not declared", opts.From)}
		}
	}
	for _, spec := range specs[start:] {
		if ids[spec.Name] == "" {
			return result, &ManifestError{Field: "jobs", Message: fmt.Sprintf("job %q has no platform id, build the job graph first", spec.Name)}
		}
	}

	for i := range specs[:start] {
		result.Outcomes[i].State = JobSkipped
	}

	for i := start; i < len(specs); i++ {
		outcome := &result.Outcomes[i]
		if err := e.runJob(ctx, projectID, specs[i], outcome); err != nil {
			outcome.Err = err
			result.Halted = outcome
			return result, err
		}
	}
	result.Succeeded = true
	return result, nil
}

func (e *JobExecutor) runJob(ctx context.Context, projectID string, spec JobSpec, outcome *JobOutcome) error {
	logger := ctxlog.FromContext(ctx).With("project_id", projectID, "job", spec.Name, "job_id", outcome.JobID)

	run, err := e.api.StartJobRun(ctx, projectID, outcome.JobID)
	if err != nil {
		outcome.State = JobFailed
		return fmt.Errorf("trigger job %q: %w", spec.Name, err)
	}
	startedOn := time.Now().UTC()
	outcome.RunID = run.ID
	outcome.State = JobTriggered
	outcome.LastStatus = run.RawStatus
	outcome.StartedOn = &startedOn
	logger = logger.With("run_id", run.ID)
	logger.Info("job run triggered")
	if e.observer != nil {
		e.observer.RunTriggered(ctx, *outcome)
	}

	policy := e.poll.withTimeout(time.Duration(spec.TimeoutSeconds) * time.Second)
	var status cai.RunStatus
	err = pollUntil(ctx, policy, func(ctx context.Context) (bool, error) {
		r, err := e.api.GetJobRun(ctx, projectID, outcome.JobID, run.ID)
		if err != nil {
			if cai.IsRetryable(err) {
				logger.Warn("run status check failed, retrying", "error", err)
				return false, nil
			}
			return false, fmt.Errorf("get run %s of job %q: %w", run.ID, spec.Name, err)
		}
		if r.RawStatus != outcome.LastStatus {
			logger.Info("job run status", "status", r.RawStatus)
			outcome.LastStatus = r.RawStatus
		}
		status = r.Status()
		return status.Terminal(), nil
	})

	endedOn := time.Now().UTC()
	outcome.EndedOn = &endedOn
	switch {
	case errors.Is(err, errPollTimeout):
		outcome.State = JobTimedOut
		err = &StateTimeoutError{Kind: "job run", ID: run.ID, LastStatus: outcome.LastStatus, Waited: policy.Timeout}
	case err != nil:
		outcome.State = JobFailed
	case status == cai.RunSucceeded:
		outcome.State = JobSucceeded
	case status == cai.RunTimedOut:
		outcome.State = JobTimedOut
		err = &TerminalFailureError{Kind: "job run", ID: run.ID, Status: outcome.LastStatus}
	default:
		outcome.State = JobFailed
		err = &TerminalFailureError{Kind: "job run", ID: run.ID, Status: outcome.LastStatus}
	}

	if err != nil {
		logger.Error("job run did not succeed, halting", "state", outcome.State, "error", err)
	} else {
		logger.Info("job run succeeded", "elapsed", endedOn.Sub(startedOn).Round(time.Second))
	}
	if e.observer != nil {
		e.observer.RunFinished(ctx, *outcome)
	}
	return err
}

// Summary renders one line per job, the way the CLI prints an execution.
func (r *ExecutionResult) Summary() []string {
	lines := make([]string, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		line := fmt.Sprintf("%-12s %s", o.State, o.Job)
		if o.RunID != "" {
			line += fmt.Sprintf(" (run %s, last status %s)", o.RunID, o.LastStatus)
		}
		if o.Err != nil {
			line += ": " + o.Err.Error()
		}
		lines = append(lines, line)
	}
	return lines
}
