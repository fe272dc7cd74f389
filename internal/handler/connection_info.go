package handler

import (
	"context"
	"net/http"

	"github.com/haatos/guardrails-deployer/internal/store"
	"github.com/labstack/echo/v4"
)

type ConnectionInfoReader interface {
	ReadConnectionInfo(context.Context) (*store.ConnectionInfo, error)
}

func SetupConnectionInfoRoutes(e *echo.Echo, reader ConnectionInfoReader) {
	e.GET("/api/connection-info", NewConnectionInfoHandler(reader).GetConnectionInfo)
}

type ConnectionInfoHandler struct {
	reader ConnectionInfoReader
}

func NewConnectionInfoHandler(reader ConnectionInfoReader) *ConnectionInfoHandler {
	return &ConnectionInfoHandler{reader: reader}
}

func (h *ConnectionInfoHandler) GetConnectionInfo(c echo.Context) error {
	ci, err := h.reader.ReadConnectionInfo(c.Request().Context())
	if err != nil {
		if store.IsNotExist(err) {
			return newError(err, http.StatusNotFound, "no application has been promoted yet")
		}
		return newError(err, http.StatusInternalServerError, "unable to read connection info")
	}
	return c.JSON(http.StatusOK, ci)
}
