package cai

import "strings"

type CloneStatus string

const (
	ClonePending CloneStatus = "pending"
	CloneReady   CloneStatus = "ready"
	CloneFailed  CloneStatus = "failed"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunTimedOut  RunStatus = "timed_out"
)

func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunTimedOut
}

type AppStatus string

const (
	AppStarting AppStatus = "starting"
	AppRunning  AppStatus = "running"
	AppFailed   AppStatus = "failed"
)

type Project struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description,omitempty"`
	GitURL         string `json:"git_url,omitempty"`
	CreationStatus string `json:"creation_status,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// CloneStatus maps the platform's creation status onto pending/ready/failed.
// An empty status is treated as ready: older platform versions only report
// it while the clone is in flight.
func (p Project) CloneStatus() CloneStatus {
	switch normalize(p.CreationStatus, "") {
	case "", "ready", "success", "succeeded", "created", "active":
		return CloneReady
	case "failed", "failure", "error", "clone_failed":
		return CloneFailed
	default:
		return ClonePending
	}
}

type CreateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Template    string `json:"template"`
	GitURL      string `json:"git_url"`
	Visibility  string `json:"visibility,omitempty"`
}

type Job struct {
	ID                string            `json:"id"`
	Name              string            `json:"name"`
	Script            string            `json:"script,omitempty"`
	Arguments         string            `json:"arguments,omitempty"`
	ParentID          string            `json:"parent_id,omitempty"`
	CPU               float64           `json:"cpu,omitempty"`
	Memory            float64           `json:"memory,omitempty"`
	NvidiaGPU         int               `json:"nvidia_gpu,omitempty"`
	RuntimeIdentifier string            `json:"runtime_identifier,omitempty"`
	Environment       map[string]string `json:"environment,omitempty"`
	CreatedAt         string            `json:"created_at,omitempty"`
}

type CreateJobRequest struct {
	Name              string            `json:"name"`
	Script            string            `json:"script"`
	Arguments         string            `json:"arguments,omitempty"`
	ParentJobID       string            `json:"parent_job_id,omitempty"`
	CPU               float64           `json:"cpu,omitempty"`
	Memory            float64           `json:"memory,omitempty"`
	NvidiaGPU         int               `json:"nvidia_gpu,omitempty"`
	RuntimeIdentifier string            `json:"runtime_identifier,omitempty"`
	Environment       map[string]string `json:"environment,omitempty"`
	Timeout           int64             `json:"timeout,omitempty"`
}

type JobRun struct {
	ID         string `json:"id"`
	JobID      string `json:"job_id,omitempty"`
	ProjectID  string `json:"project_id,omitempty"`
	RawStatus  string `json:"status"`
	CreatedAt  string `json:"created_at,omitempty"`
	RunningAt  string `json:"running_at,omitempty"`
	FinishedAt string `json:"finished_at,omitempty"`
}

// Status maps engine statuses such as ENGINE_SUCCEEDED, stopped or killed
// onto running/succeeded/failed/timed_out.
func (r JobRun) Status() RunStatus {
	switch normalize(r.RawStatus, "engine_") {
	case "succeeded", "success", "completed":
		return RunSucceeded
	case "failed", "failure", "error", "stopped", "killed", "cancelled", "canceled":
		return RunFailed
	case "timedout", "timed_out", "timeout":
		return RunTimedOut
	default:
		return RunRunning
	}
}

type Application struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name"`
	Description          string            `json:"description,omitempty"`
	Subdomain            string            `json:"subdomain,omitempty"`
	URL                  string            `json:"url,omitempty"`
	Script               string            `json:"script,omitempty"`
	RawStatus            string            `json:"status,omitempty"`
	CPU                  float64           `json:"cpu,omitempty"`
	Memory               float64           `json:"memory,omitempty"`
	Environment          map[string]string `json:"environment,omitempty"`
	BypassAuthentication bool              `json:"bypass_authentication,omitempty"`
	CreatedAt            string            `json:"created_at,omitempty"`
}

func (a Application) Status() AppStatus {
	switch normalize(a.RawStatus, "application_") {
	case "running":
		return AppRunning
	case "failed", "failure", "error", "stopped", "killed":
		return AppFailed
	default:
		return AppStarting
	}
}

// Address returns the externally reachable URL of the application. The
// platform either reports it directly or only reports a subdomain, which is
// qualified with domain when one is known.
func (a Application) Address(domain string) string {
	if u := strings.TrimSpace(a.URL); u != "" {
		return u
	}
	sub := strings.TrimSpace(a.Subdomain)
	if sub == "" {
		return ""
	}
	if strings.HasPrefix(sub, "http://") || strings.HasPrefix(sub, "https://") {
		return sub
	}
	domain = strings.Trim(strings.TrimSpace(domain), ".")
	if domain == "" || strings.Contains(sub, ".") {
		return "https://" + sub
	}
	return "https://" + sub + "." + domain
}

type CreateApplicationRequest struct {
	Name                 string            `json:"name"`
	Description          string            `json:"description,omitempty"`
	Subdomain            string            `json:"subdomain,omitempty"`
	Script               string            `json:"script"`
	CPU                  float64           `json:"cpu,omitempty"`
	Memory               float64           `json:"memory,omitempty"`
	NvidiaGPU            int               `json:"nvidia_gpu,omitempty"`
	RuntimeIdentifier    string            `json:"runtime_identifier,omitempty"`
	Environment          map[string]string `json:"environment,omitempty"`
	BypassAuthentication bool              `json:"bypass_authentication"`
}

func normalize(raw, prefix string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	return strings.TrimPrefix(s, prefix)
}
