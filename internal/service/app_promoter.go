package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/haatos/guardrails-deployer/internal/cai"
	"github.com/haatos/guardrails-deployer/internal/ctxlog"
	"github.com/haatos/guardrails-deployer/internal/store"
)

type ApplicationAPI interface {
	ListApplications(context.Context, string) ([]cai.Application, error)
	CreateApplication(context.Context, string, cai.CreateApplicationRequest) (*cai.Application, error)
	GetApplication(context.Context, string, string) (*cai.Application, error)
}

type ConnectionInfoWriter interface {
	WriteConnectionInfo(context.Context, *store.ConnectionInfo) error
}

// ApplicationPromoter turns the configured project into a running
// application and records where it can be reached.
type ApplicationPromoter struct {
	api     ApplicationAPI
	poll    PollPolicy
	domain  string
	sink    ConnectionInfoWriter
	mirrors []ConnectionInfoWriter
}

// NewApplicationPromoter writes connection info to sink and then to every
// mirror. A failing sink fails the promotion; failing mirrors are logged.
func NewApplicationPromoter(
	api ApplicationAPI,
	poll PollPolicy,
	domain string,
	sink ConnectionInfoWriter,
	mirrors ...ConnectionInfoWriter,
) *ApplicationPromoter {
	return &ApplicationPromoter{api: api, poll: poll, domain: domain, sink: sink, mirrors: mirrors}
}

// Promote finds the application by name or creates it, waits until it is
// running with an address and persists the connection info.
func (p *ApplicationPromoter) Promote(
	ctx context.Context,
	projectID string,
	spec ApplicationSpec,
) (*store.ConnectionInfo, error) {
	logger := ctxlog.FromContext(ctx).With("project_id", projectID, "app_name", spec.Name)

	apps, err := p.api.ListApplications(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	var app *cai.Application
	for i := range apps {
		if apps[i].Name == spec.Name {
			app = &apps[i]
			break
		}
	}

	if app != nil {
		logger = logger.With("app_id", app.ID)
		if app.Script != "" && app.Script != spec.Script {
			logger.Warn("existing application has a different script, reusing it unchanged", "script", app.Script)
		}
		switch app.Status() {
		case cai.AppFailed:
			return nil, &TerminalFailureError{Kind: "application", ID: app.ID, Status: app.RawStatus}
		case cai.AppRunning:
			if app.Address(p.domain) != "" {
				logger.Info("application already running")
				return p.persist(ctx, projectID, app)
			}
		}
		logger.Info("application found, waiting until running", "status", app.RawStatus)
	} else {
		logger.Info("application not found, creating")
		app, err = p.api.CreateApplication(ctx, projectID, createApplicationRequest(spec))
		if err != nil {
			return nil, fmt.Errorf("create application %q: %w", spec.Name, err)
		}
		logger = logger.With("app_id", app.ID)
		logger.Info("application created")
	}

	running, err := p.waitForRunning(ctx, projectID, app)
	if err != nil {
		return nil, err
	}
	return p.persist(ctx, projectID, running)
}

func (p *ApplicationPromoter) waitForRunning(
	ctx context.Context,
	projectID string,
	app *cai.Application,
) (*cai.Application, error) {
	logger := ctxlog.FromContext(ctx).With("project_id", projectID, "app_id", app.ID)
	last := app.RawStatus
	var current *cai.Application
	err := pollUntil(ctx, p.poll, func(ctx context.Context) (bool, error) {
		a, err := p.api.GetApplication(ctx, projectID, app.ID)
		if err != nil {
			if cai.IsRetryable(err) {
				logger.Warn("application status check failed, retrying", "error", err)
				return false, nil
			}
			return false, fmt.Errorf("get application %s: %w", app.ID, err)
		}
		if a.RawStatus != last {
			logger.Info("application status", "status", a.RawStatus)
			last = a.RawStatus
		}
		switch a.Status() {
		case cai.AppFailed:
			return false, &TerminalFailureError{Kind: "application", ID: app.ID, Status: a.RawStatus}
		case cai.AppRunning:
			if a.Address(p.domain) == "" {
				return false, nil
			}
			current = a
			return true, nil
		}
		return false, nil
	})
	if errors.Is(err, errPollTimeout) {
		return nil, &StateTimeoutError{Kind: "application", ID: app.ID, LastStatus: last, Waited: p.poll.Timeout}
	}
	if err != nil {
		return nil, err
	}
	logger.Info("application running", "url", current.Address(p.domain))
	return current, nil
}

func (p *ApplicationPromoter) persist(
	ctx context.Context,
	projectID string,
	app *cai.Application,
) (*store.ConnectionInfo, error) {
	ci := &store.ConnectionInfo{
		AppID:     app.ID,
		AppName:   app.Name,
		ProjectID: projectID,
		Subdomain: app.Subdomain,
		URL:       app.Address(p.domain),
		Status:    string(cai.AppRunning),
	}
	if err := p.write(ctx, ci); err != nil {
		return nil, err
	}
	return ci, nil
}

func (p *ApplicationPromoter) write(ctx context.Context, ci *store.ConnectionInfo) error {
	if err := p.sink.WriteConnectionInfo(ctx, ci); err != nil {
		return fmt.Errorf("write connection info: %w", err)
	}
	for _, m := range p.mirrors {
		if err := m.WriteConnectionInfo(ctx, ci); err != nil {
			ctxlog.FromContext(ctx).Warn("error mirroring connection info", "error", err)
		}
	}
	return nil
}

// Refresh re-reads the recorded application from the platform and rewrites
// the connection info with its current status and address.
func (p *ApplicationPromoter) Refresh(
	ctx context.Context,
	ci *store.ConnectionInfo,
) (*store.ConnectionInfo, error) {
	app, err := p.api.GetApplication(ctx, ci.ProjectID, ci.AppID)
	if err != nil {
		return nil, fmt.Errorf("get application %s: %w", ci.AppID, err)
	}
	refreshed := *ci
	refreshed.Status = string(app.Status())
	refreshed.Subdomain = app.Subdomain
	if addr := app.Address(p.domain); addr != "" {
		refreshed.URL = addr
	}
	if refreshed.Status == ci.Status && refreshed.URL == ci.URL {
		return ci, nil
	}
	ctxlog.FromContext(ctx).Info(
		"application changed, rewriting connection info",
		"app_id", ci.AppID, "status", refreshed.Status, "url", refreshed.URL,
	)
	if err := p.write(ctx, &refreshed); err != nil {
		return nil, err
	}
	return &refreshed, nil
}

func createApplicationRequest(spec ApplicationSpec) cai.CreateApplicationRequest {
	bypass := true
	if spec.BypassAuthentication != nil {
		bypass = *spec.BypassAuthentication
	}
	return cai.CreateApplicationRequest{
		Name:                 spec.Name,
		Description:          spec.Description,
		Subdomain:            spec.Subdomain,
		Script:               spec.Script,
		CPU:                  spec.CPU,
		Memory:               spec.Memory,
		NvidiaGPU:            spec.GPU,
		RuntimeIdentifier:    spec.RuntimeIdentifier,
		Environment:          spec.Environment,
		BypassAuthentication: bypass,
	}
}
