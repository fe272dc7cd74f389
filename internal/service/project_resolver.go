package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/haatos/guardrails-deployer/internal/cai"
	"github.com/haatos/guardrails-deployer/internal/ctxlog"
)

type ProjectAPI interface {
	ListProjects(context.Context) ([]cai.Project, error)
	CreateProject(context.Context, cai.CreateProjectRequest) (*cai.Project, error)
	GetProject(context.Context, string) (*cai.Project, error)
}

// ProjectResolver finds a project by name, creating it from a git URL when it
// does not exist, and waits for the repository clone to finish.
type ProjectResolver struct {
	api  ProjectAPI
	poll PollPolicy
}

func NewProjectResolver(api ProjectAPI, poll PollPolicy) *ProjectResolver {
	return &ProjectResolver{api: api, poll: poll}
}

// Resolve returns the id of the project called name. A failed create is
// returned as is and never retried, so a re-run cannot produce duplicate
// projects.
func (r *ProjectResolver) Resolve(ctx context.Context, spec ProjectSpec) (string, error) {
	logger := ctxlog.FromContext(ctx).With("project", spec.Name)

	projects, err := r.api.ListProjects(ctx)
	if err != nil {
		return "", fmt.Errorf("list projects: %w", err)
	}

	var found *cai.Project
	for i := range projects {
		if projects[i].Name == spec.Name {
			if found != nil {
				logger.Warn("multiple projects share the name, using the first", "project_id", found.ID)
				break
			}
			found = &projects[i]
		}
	}

	if found != nil {
		logger = logger.With("project_id", found.ID)
		switch found.CloneStatus() {
		case cai.CloneReady:
			logger.Info("project found")
			return found.ID, nil
		case cai.CloneFailed:
			return "", &TerminalFailureError{Kind: "project", ID: found.ID, Status: found.CreationStatus}
		}
		logger.Info("project found, waiting for repository clone", "status", found.CreationStatus)
		return found.ID, r.waitForClone(ctx, found.ID)
	}

	logger.Info("project not found, creating", "git_url", spec.GitURL)
	created, err := r.api.CreateProject(ctx, cai.CreateProjectRequest{
		Name:        spec.Name,
		Description: spec.Description,
		Template:    "git",
		GitURL:      spec.GitURL,
	})
	if err != nil {
		return "", fmt.Errorf("create project %q: %w", spec.Name, err)
	}
	logger.Info("project created", "project_id", created.ID)

	if err := r.waitForClone(ctx, created.ID); err != nil {
		return created.ID, err
	}
	return created.ID, nil
}

func (r *ProjectResolver) waitForClone(ctx context.Context, projectID string) error {
	logger := ctxlog.FromContext(ctx).With("project_id", projectID)
	var last string
	err := pollUntil(ctx, r.poll, func(ctx context.Context) (bool, error) {
		p, err := r.api.GetProject(ctx, projectID)
		if err != nil {
			if cai.IsRetryable(err) {
				logger.Warn("project status check failed, retrying", "error", err)
				return false, nil
			}
			return false, fmt.Errorf("get project %s: %w", projectID, err)
		}
		if p.CreationStatus != last {
			logger.Info("project clone status", "status", p.CreationStatus)
			last = p.CreationStatus
		}
		switch p.CloneStatus() {
		case cai.CloneReady:
			return true, nil
		case cai.CloneFailed:
			return false, &TerminalFailureError{Kind: "project", ID: projectID, Status: p.CreationStatus}
		}
		return false, nil
	})
	if errors.Is(err, errPollTimeout) {
		return &StateTimeoutError{Kind: "project", ID: projectID, LastStatus: last, Waited: r.poll.Timeout}
	}
	return err
}
