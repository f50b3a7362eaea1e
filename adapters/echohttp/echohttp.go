// Package echohttp mounts a branch host on an Echo server.
//
// Echo owns the process-wide concerns (panic recovery, request IDs, access logging) and
// forwards every request, whatever its method or path, to the host router. A routing miss
// becomes echo.ErrNotFound, except GET / which answers "App running!" when no branch is
// mounted at the root.
package echohttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/next-trace/scg-branch-host/branch"
	berr "github.com/next-trace/scg-branch-host/contract/errors"
)

// Router is the part of branch.Host the server needs.
type Router interface {
	Route(ctx context.Context, ex *branch.Exchange) error
	RootMounted() bool
}

var _ Router = (*branch.Host)(nil)

// New returns an Echo instance forwarding to h. A nil logger disables access logging.
func New(h Router, logger *slog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	if logger != nil {
		e.Use(accessLog(logger))
	}

	handler := forward(h)
	e.Any("/", handler)
	e.Any("/*", handler)

	return e
}

func forward(h Router) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()

		err := h.Route(req.Context(), &branch.Exchange{Request: req, Writer: c.Response(), Path: req.URL.Path})

		switch {
		case err == nil:
			return nil
		case errors.Is(err, berr.ErrRoutingMiss):
			if req.Method == http.MethodGet && req.URL.Path == "/" && !h.RootMounted() {
				return c.String(http.StatusOK, "App running!")
			}

			return echo.ErrNotFound
		default:
			return err
		}
	}
}

func accessLog(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURIPath:   true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Error != nil && v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}

			logger.Log(c.Request().Context(), level, "http request",
				"method", v.Method,
				"path", v.URIPath,
				"status", v.Status,
				"latency", v.Latency,
				"request_id", v.RequestID,
				"err", v.Error,
			)

			return nil
		},
	})
}

// Run serves e on addr until ctx is done, then shuts it down within timeout.
func Run(ctx context.Context, e *echo.Echo, addr string, timeout time.Duration) error {
	errc := make(chan error, 1)

	go func() { errc <- e.Start(addr) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := e.Shutdown(sctx); err != nil {
		return err
	}

	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}
