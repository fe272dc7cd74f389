package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type ServerConfig struct {
	Logger    *slog.Logger
	RateLimit RateLimit
}

// NewEcho returns an echo instance with the JSON error handler and the
// shared middleware stack installed.
func NewEcho(cfg ServerConfig) *echo.Echo {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler
	e.Use(
		middleware.Recover(),
		ContextLogger(logger),
		RequestLogger(logger),
	)
	if cfg.RateLimit.RequestsPerSecond > 0 {
		e.Use(RateLimiter(cfg.RateLimit))
	}
	return e
}

// GracefulShutdown serves e on addr until ctx is done or the process gets
// SIGINT/SIGTERM, then drains in-flight requests.
func GracefulShutdown(ctx context.Context, e *echo.Echo, addr string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
