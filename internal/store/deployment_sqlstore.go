package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/georgysavva/scany/v2/sqlscan"
	"github.com/google/uuid"
)

// DeploymentSQLStore keeps deployment history in either sqlite or postgres.
// Queries stick to the SQL both drivers accept.
type DeploymentSQLStore struct {
	rdb, rwdb *sql.DB
}

func NewDeploymentSQLStore(rdb, rwdb *sql.DB) *DeploymentSQLStore {
	return &DeploymentSQLStore{rdb, rwdb}
}

func (store *DeploymentSQLStore) CreateDeployment(
	ctx context.Context,
	operation, projectName string,
) (*Deployment, error) {
	d := &Deployment{
		DeploymentID: uuid.NewString(),
		Operation:    operation,
		ProjectName:  projectName,
		Status:       DeploymentRunning,
		CreatedOn:    time.Now().UTC(),
	}
	query := `insert into deployments (
		deployment_id,
		operation,
		project_name,
		status,
		created_on
	)
	values ($1, $2, $3, $4, $5)`
	if _, err := store.rwdb.ExecContext(
		ctx, query,
		d.DeploymentID,
		d.Operation,
		d.ProjectName,
		d.Status,
		d.CreatedOn,
	); err != nil {
		return nil, err
	}
	return d, nil
}

func (store *DeploymentSQLStore) UpdateDeploymentProject(
	ctx context.Context,
	deploymentID, projectID string,
) error {
	query := "update deployments set project_id = $1 where deployment_id = $2"
	_, err := store.rwdb.ExecContext(ctx, query, projectID, deploymentID)
	return err
}

// FinishDeployment stores the final status, halted stage, error and
// application coordinates of d.
func (store *DeploymentSQLStore) FinishDeployment(ctx context.Context, d *Deployment) error {
	query := `update deployments
	set status = $1,
		stage = $2,
		error_message = $3,
		application_id = $4,
		application_url = $5,
		ended_on = $6
	where deployment_id = $7`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		d.Status,
		d.Stage,
		d.ErrorMessage,
		d.ApplicationID,
		d.ApplicationURL,
		d.EndedOn,
		d.DeploymentID,
	)
	return err
}

// ReadDeploymentByID returns the deployment with its job runs. A missing
// deployment is reported as sql.ErrNoRows.
func (store *DeploymentSQLStore) ReadDeploymentByID(
	ctx context.Context,
	deploymentID string,
) (*Deployment, error) {
	d := new(Deployment)
	query := `select
		deployment_id,
		operation,
		project_name,
		project_id,
		status,
		stage,
		error_message,
		application_id,
		application_url,
		created_on,
		ended_on
	from deployments
	where deployment_id = $1`
	if err := sqlscan.Get(ctx, store.rdb, d, query, deploymentID); err != nil {
		return nil, err
	}
	runs, err := store.ListDeploymentJobRuns(ctx, deploymentID)
	if err != nil {
		return nil, err
	}
	d.JobRuns = runs
	return d, nil
}

// ListDeployments returns at most limit deployments, newest first.
func (store *DeploymentSQLStore) ListDeployments(
	ctx context.Context,
	limit int64,
) ([]Deployment, error) {
	deployments := make([]Deployment, 0)
	query := `select
		deployment_id,
		operation,
		project_name,
		project_id,
		status,
		stage,
		error_message,
		application_id,
		application_url,
		created_on,
		ended_on
	from deployments
	order by created_on desc, deployment_id desc
	limit $1`
	if err := sqlscan.Select(ctx, store.rdb, &deployments, query, limit); err != nil {
		return nil, err
	}
	return deployments, nil
}

// PruneDeployments deletes everything but the keep most recent deployments.
func (store *DeploymentSQLStore) PruneDeployments(ctx context.Context, keep int64) (int64, error) {
	query := `delete from deployments
	where deployment_id not in (
		select deployment_id from (
			select deployment_id from deployments
			order by created_on desc, deployment_id desc
			limit $1
		) as kept
	)`
	res, err := store.rwdb.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (store *DeploymentSQLStore) CreateJobRun(ctx context.Context, r *JobRun) error {
	if r.JobRunID == "" {
		r.JobRunID = uuid.NewString()
	}
	if r.StartedOn.IsZero() {
		r.StartedOn = time.Now().UTC()
	}
	query := `insert into job_runs (
		job_run_id,
		job_run_deployment_id,
		project_id,
		job_name,
		job_id,
		run_id,
		status,
		last_status,
		started_on
	)
	values ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := store.rwdb.ExecContext(
		ctx, query,
		r.JobRunID,
		r.JobRunDeploymentID,
		r.ProjectID,
		r.JobName,
		r.JobID,
		r.RunID,
		r.Status,
		r.LastStatus,
		r.StartedOn,
	)
	return err
}

func (store *DeploymentSQLStore) UpdateJobRunEnded(
	ctx context.Context,
	jobRunID, status, lastStatus string,
	endedOn *time.Time,
) error {
	query := `update job_runs
	set status = $1,
		last_status = $2,
		ended_on = $3
	where job_run_id = $4`
	_, err := store.rwdb.ExecContext(ctx, query, status, lastStatus, endedOn, jobRunID)
	return err
}

func (store *DeploymentSQLStore) ListDeploymentJobRuns(
	ctx context.Context,
	deploymentID string,
) ([]JobRun, error) {
	runs := make([]JobRun, 0)
	query := `select * from job_runs
	where job_run_deployment_id = $1
	order by started_on asc, job_run_id asc`
	if err := sqlscan.Select(ctx, store.rdb, &runs, query, deploymentID); err != nil {
		return nil, err
	}
	return runs, nil
}

// ReadLatestJobRun returns the most recent run recorded for the named job in
// a project, or sql.ErrNoRows.
func (store *DeploymentSQLStore) ReadLatestJobRun(
	ctx context.Context,
	projectID, jobName string,
) (*JobRun, error) {
	r := new(JobRun)
	query := `select * from job_runs
	where project_id = $1 and job_name = $2
	order by started_on desc, job_run_id desc
	limit 1`
	if err := sqlscan.Get(ctx, store.rdb, r, query, projectID, jobName); err != nil {
		return nil, err
	}
	return r, nil
}
