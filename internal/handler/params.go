package handler

type DeploymentParams struct {
	DeploymentID string `param:"deployment_id"`
}

type ListDeploymentsParams struct {
	Limit int64 `query:"limit"`
}

type DeployParams struct {
	ProjectID string `json:"project_id" form:"project_id"`
	From      string `json:"from"       form:"from"`
	Force     bool   `json:"force"      form:"force"`
}
