package handler

import (
	"errors"
	"net/http"

	"github.com/haatos/guardrails-deployer/internal/ctxlog"
	"github.com/labstack/echo/v4"
)

type errorResponse struct {
	Message string `json:"message"`
}

// ErrorHandler renders every handler error as a JSON body. Internal causes
// are logged, never returned to the client.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	logger := ctxlog.FromContext(c.Request().Context())

	status := http.StatusInternalServerError
	message := "something went terribly wrong"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if m, ok := he.Message.(string); ok {
			message = m
		} else {
			message = http.StatusText(status)
		}
		if he.Internal != nil {
			logger.Error("handler internal error",
				"path", c.Request().URL.Path, "status", status, "error", he.Internal)
		}
	} else {
		logger.Error("handler error", "path", c.Request().URL.Path, "error", err)
	}

	var werr error
	if c.Request().Method == http.MethodHead {
		werr = c.NoContent(status)
	} else {
		werr = c.JSON(status, errorResponse{Message: message})
	}
	if werr != nil {
		logger.Error("err writing error response", "error", werr)
	}
}

func newError(err error, status int, message string) error {
	e := echo.NewHTTPError(status, message)
	if err != nil {
		e = e.WithInternal(err)
	}
	return e
}
