package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/haatos/guardrails-deployer/internal/service"
	"github.com/haatos/guardrails-deployer/internal/store"
	"github.com/labstack/echo/v4"
)

const (
	defaultListLimit int64 = 20
	maxListLimit     int64 = 200
)

type DeploymentServicer interface {
	StartDeployment(context.Context, *service.Manifest, service.DeployOptions) (*store.Deployment, error)
	ListDeployments(context.Context, int64) ([]store.Deployment, error)
	GetDeployment(context.Context, string) (*store.Deployment, error)
	InProgress() (string, bool)
}

// ManifestLoader returns the manifest a triggered deployment runs with.
type ManifestLoader func() (*service.Manifest, error)

func SetupDeploymentRoutes(
	e *echo.Echo,
	deploymentService DeploymentServicer,
	load ManifestLoader,
	apiToken string,
) {
	h := NewDeploymentHandler(deploymentService, load)
	e.GET("/healthz", h.GetHealthz)
	g := e.Group("/api/deployments")
	g.GET("", h.GetDeployments)
	g.POST("", h.PostDeployment, RequireToken(apiToken))
	g.GET("/:deployment_id", h.GetDeployment)
}

type DeploymentHandler struct {
	deploymentService DeploymentServicer
	load              ManifestLoader
}

func NewDeploymentHandler(deploymentService DeploymentServicer, load ManifestLoader) *DeploymentHandler {
	return &DeploymentHandler{deploymentService: deploymentService, load: load}
}

type healthResponse struct {
	Status       string `json:"status"`
	DeploymentID string `json:"deployment_in_progress,omitempty"`
}

func (h *DeploymentHandler) GetHealthz(c echo.Context) error {
	res := healthResponse{Status: "ok"}
	if id, busy := h.deploymentService.InProgress(); busy {
		res.DeploymentID = id
	}
	return c.JSON(http.StatusOK, res)
}

func (h *DeploymentHandler) GetDeployments(c echo.Context) error {
	p := new(ListDeploymentsParams)
	if err := c.Bind(p); err != nil {
		return newError(err, http.StatusBadRequest, "invalid limit")
	}
	if p.Limit <= 0 {
		p.Limit = defaultListLimit
	}
	p.Limit = min(p.Limit, maxListLimit)

	deployments, err := h.deploymentService.ListDeployments(c.Request().Context(), p.Limit)
	if err != nil {
		return newError(err, http.StatusInternalServerError, "unable to list deployments")
	}
	if deployments == nil {
		deployments = []store.Deployment{}
	}
	return c.JSON(http.StatusOK, deployments)
}

func (h *DeploymentHandler) GetDeployment(c echo.Context) error {
	p := new(DeploymentParams)
	if err := c.Bind(p); err != nil || p.DeploymentID == "" {
		return newError(err, http.StatusBadRequest, "invalid deployment id")
	}
	d, err := h.deploymentService.GetDeployment(c.Request().Context(), p.DeploymentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return newError(err, http.StatusNotFound, "deployment not found")
		}
		return newError(err, http.StatusInternalServerError, "unable to read deployment")
	}
	return c.JSON(http.StatusOK, d)
}

// PostDeployment starts a deployment in the background and answers with the
// recorded row. Progress is read back through GetDeployment.
func (h *DeploymentHandler) PostDeployment(c echo.Context) error {
	p := new(DeployParams)
	if err := c.Bind(p); err != nil {
		return newError(err, http.StatusBadRequest, "invalid deployment options")
	}
	m, err := h.load()
	if err != nil {
		var me *service.ManifestError
		var oe *service.DependencyOrderError
		if errors.As(err, &me) || errors.As(err, &oe) {
			return newError(err, http.StatusUnprocessableEntity, err.Error())
		}
		return newError(err, http.StatusInternalServerError, "unable to load manifest")
	}

	d, err := h.deploymentService.StartDeployment(c.Request().Context(), m, service.DeployOptions{
		ProjectID: p.ProjectID,
		From:      p.From,
		Force:     p.Force,
	})
	if err != nil {
		if errors.Is(err, service.ErrDeploymentInProgress) {
			return newError(err, http.StatusConflict, err.Error())
		}
		return newError(err, http.StatusInternalServerError, "unable to start deployment")
	}
	return c.JSON(http.StatusAccepted, d)
}
