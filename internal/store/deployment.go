package store

import (
	"time"
)

type DeploymentStatus string

const (
	DeploymentRunning   DeploymentStatus = "running"
	DeploymentSucceeded DeploymentStatus = "succeeded"
	DeploymentFailed    DeploymentStatus = "failed"
)

// Deployment is one invocation of the pipeline or of a single stage of it.
type Deployment struct {
	DeploymentID   string           `json:"deployment_id" param:"deployment_id"`
	Operation      string           `json:"operation"`
	ProjectName    string           `json:"project_name"`
	ProjectID      string           `json:"project_id"`
	Status         DeploymentStatus `json:"status"`
	Stage          string           `json:"stage,omitempty"`
	ErrorMessage   *string          `json:"error_message,omitempty"`
	ApplicationID  *string          `json:"application_id,omitempty"`
	ApplicationURL *string          `json:"application_url,omitempty"`
	CreatedOn      time.Time        `json:"created_on"`
	EndedOn        *time.Time       `json:"ended_on,omitempty"`

	JobRuns []JobRun `json:"job_runs,omitempty" db:"-"`
}

// JobRun is one run triggered during a deployment.
type JobRun struct {
	JobRunID           string     `json:"job_run_id"`
	JobRunDeploymentID string     `json:"deployment_id"`
	ProjectID          string     `json:"project_id"`
	JobName            string     `json:"job_name"`
	JobID              string     `json:"job_id"`
	RunID              string     `json:"run_id"`
	Status             string     `json:"status"`
	LastStatus         string     `json:"last_status"`
	StartedOn          time.Time  `json:"started_on"`
	EndedOn            *time.Time `json:"ended_on,omitempty"`
}
