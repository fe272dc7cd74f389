package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/haatos/guardrails-deployer/internal/ctxlog"
	"github.com/haatos/guardrails-deployer/internal/store"
)

type DeploymentWriter interface {
	CreateDeployment(context.Context, string, string) (*store.Deployment, error)
	UpdateDeploymentProject(context.Context, string, string) error
	FinishDeployment(context.Context, *store.Deployment) error
	PruneDeployments(context.Context, int64) (int64, error)
	CreateJobRun(context.Context, *store.JobRun) error
	UpdateJobRunEnded(context.Context, string, string, string, *time.Time) error
}

type DeploymentReader interface {
	ReadDeploymentByID(context.Context, string) (*store.Deployment, error)
	ListDeployments(context.Context, int64) ([]store.Deployment, error)
	ReadLatestJobRun(context.Context, string, string) (*store.JobRun, error)
}

type DeploymentStore interface {
	DeploymentWriter
	DeploymentReader
}

// PlatformAPI is everything the pipeline needs from the platform client.
type PlatformAPI interface {
	ProjectAPI
	JobAPI
	ApplicationAPI
}

type PipelineOptions struct {
	Clone        PollPolicy
	Run          PollPolicy
	Application  PollPolicy
	Domain       string
	HistoryLimit int64
}

const (
	OperationDeploy  = "deploy"
	OperationResolve = "resolve"
	OperationBuild   = "jobs build"
	OperationRun     = "jobs run"
	OperationPromote = "promote"
)

type DeployOptions struct {
	// ProjectID skips project resolution when set.
	ProjectID string
	// From resumes job execution at the named job.
	From string
	// Force skips the check that jobs before From last succeeded.
	Force bool
}

type DeployResult struct {
	DeploymentID string
	ProjectID    string
	JobIDs       map[string]string
	Execution    *ExecutionResult
	Connection   *store.ConnectionInfo
}

// PipelineService runs the deployment stages in order and records every
// invocation in the deployment history. Only one invocation runs at a time.
type PipelineService struct {
	api             PlatformAPI
	deploymentStore DeploymentStore
	resolver        *ProjectResolver
	builder         *JobGraphBuilder
	promoter        *ApplicationPromoter
	runPoll         PollPolicy
	historyLimit    int64

	mu       sync.Mutex
	inFlight string
}

func NewPipelineService(
	api PlatformAPI,
	deploymentStore DeploymentStore,
	opts PipelineOptions,
	sink ConnectionInfoWriter,
	mirrors ...ConnectionInfoWriter,
) *PipelineService {
	return &PipelineService{
		api:             api,
		deploymentStore: deploymentStore,
		resolver:        NewProjectResolver(api, opts.Clone),
		builder:         NewJobGraphBuilder(api),
		promoter:        NewApplicationPromoter(api, opts.Application, opts.Domain, sink, mirrors...),
		runPoll:         opts.Run,
		historyLimit:    opts.HistoryLimit,
	}
}

// Deploy runs every stage for m and blocks until the pipeline finishes.
func (s *PipelineService) Deploy(
	ctx context.Context,
	m *Manifest,
	opts DeployOptions,
) (*DeployResult, error) {
	d, err := s.begin(ctx, OperationDeploy, m, opts.ProjectID)
	if err != nil {
		return nil, err
	}
	return s.deploy(ctx, d, m, opts)
}

// StartDeployment records a deployment and runs it in the background. It
// returns ErrDeploymentInProgress when another invocation holds the pipeline.
func (s *PipelineService) StartDeployment(
	ctx context.Context,
	m *Manifest,
	opts DeployOptions,
) (*store.Deployment, error) {
	d, err := s.begin(ctx, OperationDeploy, m, opts.ProjectID)
	if err != nil {
		return nil, err
	}
	started := *d
	go func() {
		bg := context.WithoutCancel(ctx)
		if _, err := s.deploy(bg, d, m, opts); err != nil {
			ctxlog.FromContext(bg).Error("deployment failed", "deployment_id", d.DeploymentID, "error", err)
		}
	}()
	return &started, nil
}

func (s *PipelineService) deploy(
	ctx context.Context,
	d *store.Deployment,
	m *Manifest,
	opts DeployOptions,
) (res *DeployResult, err error) {
	ctx = withDeployment(ctx, d)
	res = &DeployResult{DeploymentID: d.DeploymentID, ProjectID: opts.ProjectID}
	stage := StageResolve
	defer func() { err = s.finish(ctx, d, stage, res, err) }()

	if err := validateManifest(m); err != nil {
		return res, err
	}
	if m.Application == nil {
		return res, &StageError{Stage: StagePromote, Err: &ManifestError{Field: "application", Message: "is required to deploy"}}
	}

	if res.ProjectID == "" {
		if res.ProjectID, err = s.resolveProject(ctx, d, m); err != nil {
			return res, err
		}
	}

	stage = StageBuild
	if res.JobIDs, err = s.builder.Build(ctx, res.ProjectID, m.Jobs); err != nil {
		return res, &StageError{Stage: stage, Err: err}
	}

	stage = StageExecute
	if res.Execution, err = s.runJobs(ctx, d, res.ProjectID, m.Jobs, res.JobIDs, opts); err != nil {
		return res, err
	}

	stage = StagePromote
	if res.Connection, err = s.promoter.Promote(ctx, res.ProjectID, *m.Application); err != nil {
		return res, &StageError{Stage: stage, Err: err}
	}
	return res, nil
}

// Resolve runs only the project stage.
func (s *PipelineService) Resolve(ctx context.Context, m *Manifest) (res *DeployResult, err error) {
	d, err := s.begin(ctx, OperationResolve, m, "")
	if err != nil {
		return nil, err
	}
	ctx = withDeployment(ctx, d)
	res = &DeployResult{DeploymentID: d.DeploymentID}
	defer func() { err = s.finish(ctx, d, StageResolve, res, err) }()

	if err := validateManifest(m); err != nil {
		return res, err
	}
	res.ProjectID, err = s.resolveProject(ctx, d, m)
	return res, err
}

// BuildJobs runs only the job graph stage against an existing project.
func (s *PipelineService) BuildJobs(
	ctx context.Context,
	m *Manifest,
	projectID string,
) (res *DeployResult, err error) {
	d, err := s.begin(ctx, OperationBuild, m, projectID)
	if err != nil {
		return nil, err
	}
	ctx = withDeployment(ctx, d)
	res = &DeployResult{DeploymentID: d.DeploymentID, ProjectID: projectID}
	defer func() { err = s.finish(ctx, d, StageBuild, res, err) }()

	if err := validateManifest(m); err != nil {
		return res, err
	}

	if res.JobIDs, err = s.builder.Build(ctx, projectID, m.Jobs); err != nil {
		return res, &StageError{Stage: StageBuild, Err: err}
	}
	return res, nil
}

// RunJobs builds the job graph, which only reuses jobs on a re-run, and
// executes it.
func (s *PipelineService) RunJobs(
	ctx context.Context,
	m *Manifest,
	opts DeployOptions,
) (res *DeployResult, err error) {
	d, err := s.begin(ctx, OperationRun, m, opts.ProjectID)
	if err != nil {
		return nil, err
	}
	ctx = withDeployment(ctx, d)
	res = &DeployResult{DeploymentID: d.DeploymentID, ProjectID: opts.ProjectID}
	stage := StageBuild
	defer func() { err = s.finish(ctx, d, stage, res, err) }()

	if err := validateManifest(m); err != nil {
		return res, err
	}

	if res.JobIDs, err = s.builder.Build(ctx, opts.ProjectID, m.Jobs); err != nil {
		return res, &StageError{Stage: stage, Err: err}
	}
	stage = StageExecute
	res.Execution, err = s.runJobs(ctx, d, opts.ProjectID, m.Jobs, res.JobIDs, opts)
	return res, err
}

// Promote runs only the application stage.
func (s *PipelineService) Promote(
	ctx context.Context,
	m *Manifest,
	projectID string,
) (res *DeployResult, err error) {
	d, err := s.begin(ctx, OperationPromote, m, projectID)
	if err != nil {
		return nil, err
	}
	ctx = withDeployment(ctx, d)
	res = &DeployResult{DeploymentID: d.DeploymentID, ProjectID: projectID}
	defer func() { err = s.finish(ctx, d, StagePromote, res, err) }()

	if err := validateManifest(m); err != nil {
		return res, err
	}

	if m.Application == nil {
		return res, &StageError{Stage: StagePromote, Err: &ManifestError{Field: "application", Message: "is required to promote"}}
	}
	if res.Connection, err = s.promoter.Promote(ctx, projectID, *m.Application); err != nil {
		return res, &StageError{Stage: StagePromote, Err: err}
	}
	return res, nil
}

// RefreshConnectionInfo rewrites the connection info when the recorded
// application changed status or address on the platform.
func (s *PipelineService) RefreshConnectionInfo(
	ctx context.Context,
	ci *store.ConnectionInfo,
) (*store.ConnectionInfo, error) {
	return s.promoter.Refresh(ctx, ci)
}

func (s *PipelineService) ListDeployments(ctx context.Context, limit int64) ([]store.Deployment, error) {
	deployments, err := s.deploymentStore.ListDeployments(ctx, limit)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return deployments, nil
}

func (s *PipelineService) GetDeployment(ctx context.Context, deploymentID string) (*store.Deployment, error) {
	return s.deploymentStore.ReadDeploymentByID(ctx, deploymentID)
}

// InProgress returns the id of the running deployment, if any.
func (s *PipelineService) InProgress() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight, s.inFlight != ""
}

// withDeployment tags the context logger with the deployment id.
func withDeployment(ctx context.Context, d *store.Deployment) context.Context {
	return ctxlog.WithLogger(ctx, ctxlog.FromContext(ctx).With("deployment_id", d.DeploymentID))
}

// validateManifest checks m before any platform call and attributes a
// failure to the stage owning the offending field.
func validateManifest(m *Manifest) error {
	err := m.Validate()
	if err == nil {
		return nil
	}
	stage := StageBuild
	var me *ManifestError
	if errors.As(err, &me) {
		switch {
		case strings.HasPrefix(me.Field, "project"):
			stage = StageResolve
		case strings.HasPrefix(me.Field, "application"):
			stage = StagePromote
		}
	}
	return &StageError{Stage: stage, Err: err}
}

func (s *PipelineService) resolveProject(
	ctx context.Context,
	d *store.Deployment,
	m *Manifest,
) (string, error) {
	if m.Project == nil {
		return "", &StageError{Stage: StageResolve, Err: &ManifestError{Field: "project", Message: "is required to resolve a project"}}
	}
	projectID, err := s.resolver.Resolve(ctx, *m.Project)
	if projectID != "" {
		d.ProjectID = projectID
		if uerr := s.deploymentStore.UpdateDeploymentProject(ctx, d.DeploymentID, projectID); uerr != nil {
			ctxlog.FromContext(ctx).Warn("error recording project id", "error", uerr)
		}
	}
	if err != nil {
		return projectID, &StageError{Stage: StageResolve, Err: err}
	}
	return projectID, nil
}

func (s *PipelineService) runJobs(
	ctx context.Context,
	d *store.Deployment,
	projectID string,
	specs []JobSpec,
	ids map[string]string,
	opts DeployOptions,
) (*ExecutionResult, error) {
	if opts.From != "" && !opts.Force {
		if err := s.checkResume(ctx, projectID, specs, opts.From); err != nil {
			return nil, &StageError{Stage: StageExecute, Err: err}
		}
	}
	recorder := &runRecorder{store: s.deploymentStore, deploymentID: d.DeploymentID, projectID: projectID}
	executor := NewJobExecutor(s.api, s.runPoll, recorder)
	result, err := executor.Execute(ctx, projectID, specs, ids, ExecuteOptions{From: opts.From})
	if err != nil {
		return result, &StageError{Stage: StageExecute, Err: err}
	}
	return result, nil
}

// checkResume refuses to skip a job whose latest recorded run did not succeed.
func (s *PipelineService) checkResume(
	ctx context.Context,
	projectID string,
	specs []JobSpec,
	from string,
) error {
	for _, spec := range specs {
		if spec.Name == from {
			return nil
		}
		latest, err := s.deploymentStore.ReadLatestJobRun(ctx, projectID, spec.Name)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("cannot resume from %q: job %q has no recorded run", from, spec.Name)
		}
		if err != nil {
			return fmt.Errorf("read latest run of job %q: %w", spec.Name, err)
		}
		if latest.Status != string(JobSucceeded) {
			return fmt.Errorf(
				"cannot resume from %q: latest run %s of job %q is %s",
				from, latest.RunID, spec.Name, latest.Status,
			)
		}
	}
	return &ManifestError{Field: "from", Message: fmt.Sprintf("job %q is not declared", from)}
}

func (s *PipelineService) begin(
	ctx context.Context,
	operation string,
	m *Manifest,
	projectID string,
) (*store.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight != "" {
		return nil, ErrDeploymentInProgress
	}

	projectName := ""
	if m.Project != nil {
		projectName = m.Project.Name
	}
	d, err := s.deploymentStore.CreateDeployment(ctx, operation, projectName)
	if err != nil {
		return nil, fmt.Errorf("error recording deployment: %w", err)
	}
	if projectID != "" {
		d.ProjectID = projectID
		if err := s.deploymentStore.UpdateDeploymentProject(ctx, d.DeploymentID, projectID); err != nil {
			err = fmt.Errorf("error recording deployment: %w", err)
			s.abandon(ctx, d, err)
			return nil, err
		}
	}
	s.inFlight = d.DeploymentID
	ctxlog.FromContext(ctx).Info(
		"deployment started",
		"deployment_id", d.DeploymentID, "operation", operation, "project", projectName,
	)
	return d, nil
}

func (s *PipelineService) finish(
	ctx context.Context,
	d *store.Deployment,
	stage Stage,
	res *DeployResult,
	stageErr error,
) error {
	defer func() {
		s.mu.Lock()
		s.inFlight = ""
		s.mu.Unlock()
	}()
	logger := ctxlog.FromContext(ctx)

	endedOn := time.Now().UTC()
	d.EndedOn = &endedOn
	d.Stage = string(stage)
	if stageErr != nil {
		var se *StageError
		if errors.As(stageErr, &se) {
			d.Stage = string(se.Stage)
		}
		msg := stageErr.Error()
		d.Status = store.DeploymentFailed
		d.ErrorMessage = &msg
		logger.Error("deployment halted", "stage", d.Stage, "error", stageErr)
	} else {
		d.Status = store.DeploymentSucceeded
		logger.Info("deployment finished", "stage", d.Stage)
	}
	if res != nil && res.Connection != nil {
		d.ApplicationID = &res.Connection.AppID
		d.ApplicationURL = &res.Connection.URL
	}

	// A detached context lets the row be closed even when ctx was cancelled.
	bookkeeping := context.WithoutCancel(ctx)
	if err := s.deploymentStore.FinishDeployment(bookkeeping, d); err != nil {
		stageErr = errors.Join(stageErr, fmt.Errorf("error recording deployment result: %w", err))
	}
	if s.historyLimit > 0 {
		if removed, err := s.deploymentStore.PruneDeployments(bookkeeping, s.historyLimit); err != nil {
			logger.Warn("error pruning deployment history", "error", err)
		} else if removed > 0 {
			logger.Info("pruned deployment history", "removed", removed)
		}
	}
	return stageErr
}

// abandon closes a row that begin created but could not hand out.
func (s *PipelineService) abandon(ctx context.Context, d *store.Deployment, cause error) {
	endedOn := time.Now().UTC()
	msg := cause.Error()
	d.EndedOn = &endedOn
	d.Stage = string(StageResolve)
	d.Status = store.DeploymentFailed
	d.ErrorMessage = &msg
	if err := s.deploymentStore.FinishDeployment(context.WithoutCancel(ctx), d); err != nil {
		ctxlog.FromContext(ctx).Warn(
			"error closing abandoned deployment",
			"deployment_id", d.DeploymentID, "error", err,
		)
	}
}

// runRecorder stores a JobRun row for every run the executor triggers.
type runRecorder struct {
	store        DeploymentWriter
	deploymentID string
	projectID    string

	mu   sync.Mutex
	rows map[string]string
}

func (r *runRecorder) RunTriggered(ctx context.Context, o JobOutcome) {
	row := &store.JobRun{
		JobRunDeploymentID: r.deploymentID,
		ProjectID:          r.projectID,
		JobName:            o.Job,
		JobID:              o.JobID,
		RunID:              o.RunID,
		Status:             string(o.State),
		LastStatus:         o.LastStatus,
	}
	if o.StartedOn != nil {
		row.StartedOn = *o.StartedOn
	}
	if err := r.store.CreateJobRun(context.WithoutCancel(ctx), row); err != nil {
		ctxlog.FromContext(ctx).Warn("error recording job run", "job", o.Job, "run_id", o.RunID, "error", err)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rows == nil {
		r.rows = make(map[string]string)
	}
	r.rows[o.RunID] = row.JobRunID
}

func (r *runRecorder) RunFinished(ctx context.Context, o JobOutcome) {
	r.mu.Lock()
	rowID, ok := r.rows[o.RunID]
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := r.store.UpdateJobRunEnded(
		context.WithoutCancel(ctx),
		rowID,
		string(o.State),
		o.LastStatus,
		o.EndedOn,
	); err != nil {
		ctxlog.FromContext(ctx).Warn("error recording job run result", "job", o.Job, "run_id", o.RunID, "error", err)
	}
}
