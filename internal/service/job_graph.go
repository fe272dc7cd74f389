package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/haatos/guardrails-deployer/internal/cai"
	"github.com/haatos/guardrails-deployer/internal/ctxlog"
)

type JobAPI interface {
	ListJobs(context.Context, string) ([]cai.Job, error)
	CreateJob(context.Context, string, cai.CreateJobRequest) (*cai.Job, error)
	StartJobRun(context.Context, string, string) (*cai.JobRun, error)
	GetJobRun(context.Context, string, string, string) (*cai.JobRun, error)
}

// JobGraphBuilder creates the declared jobs in a project, reusing jobs that
// already exist under the same name.
type JobGraphBuilder struct {
	api JobAPI
}

func NewJobGraphBuilder(api JobAPI) *JobGraphBuilder {
	return &JobGraphBuilder{api: api}
}

// Build returns the platform job id of every spec, keyed by name. specs are
// validated before the platform is contacted.
func (b *JobGraphBuilder) Build(
	ctx context.Context,
	projectID string,
	specs []JobSpec,
) (map[string]string, error) {
	if err := ValidateJobOrder(specs); err != nil {
		return nil, err
	}
	logger := ctxlog.FromContext(ctx).With("project_id", projectID)

	existing, err := b.api.ListJobs(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	byName := make(map[string]cai.Job, len(existing))
	for _, j := range existing {
		if _, ok := byName[j.Name]; !ok {
			byName[j.Name] = j
		}
	}

	ids := make(map[string]string, len(specs))
	for _, spec := range specs {
		parentID := ""
		if spec.Parent != "" {
			parentID = ids[spec.Parent]
		}

		if j, ok := byName[spec.Name]; ok {
			if j.ParentID != "" && j.ParentID != parentID {
				logger.Warn(
					"existing job has a different parent than declared, reusing it unchanged",
					"job", spec.Name, "job_id", j.ID, "parent_id", j.ParentID, "declared_parent_id", parentID,
				)
			}
			logger.Info("reusing job", "job", spec.Name, "job_id", j.ID)
			ids[spec.Name] = j.ID
			continue
		}

		created, err := b.api.CreateJob(ctx, projectID, createJobRequest(spec, parentID))
		if err != nil {
			return nil, fmt.Errorf("create job %q: %w", spec.Name, err)
		}
		logger.Info("created job", "job", spec.Name, "job_id", created.ID, "parent_id", parentID)
		ids[spec.Name] = created.ID
	}
	return ids, nil
}

func createJobRequest(spec JobSpec, parentID string) cai.CreateJobRequest {
	return cai.CreateJobRequest{
		Name:              spec.Name,
		Script:            spec.Script,
		Arguments:         joinArguments(spec.Args),
		ParentJobID:       parentID,
		CPU:               spec.CPU,
		Memory:            spec.Memory,
		NvidiaGPU:         spec.GPU,
		RuntimeIdentifier: spec.RuntimeIdentifier,
		Environment:       spec.Environment,
		Timeout:           spec.TimeoutSeconds,
	}
}

// joinArguments encodes an argument list into the single string the platform
// stores, quoting each argument that would otherwise be split.
func joinArguments(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = quoteArgument(a)
	}
	return strings.Join(quoted, " ")
}

func quoteArgument(a string) string {
	if a == "" {
		return "''"
	}
	if !strings.ContainsAny(a, " \t\n'\"\\$`;&|<>*?()[]{}#~!") {
		return a
	}
	return "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
}
