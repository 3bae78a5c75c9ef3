// Package httpapi assembles the one HTTP surface the server exposes:
// the WebSocket upgrade route, a liveness probe, and Prometheus metrics.
package httpapi

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"padington/internal/lobby"
	"padington/internal/session"
)

// Server is the Echo application serving the WebSocket upgrade route
// plus /healthz and /metrics.
type Server struct {
	echo *echo.Echo
}

// MetricsHandler is implemented by the process-wide metrics collector;
// kept as an interface here so this package does not import package
// main.
type MetricsHandler interface {
	Handler() http.Handler
}

// New constructs an Echo app with the WebSocket route wired to joins,
// the lobby's inbound request queue.
func New(joins chan<- lobby.JoinRequest, metrics MetricsHandler) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e}
	e.GET("/healthz", s.handleHealthz)

	wsHandler := session.NewHandler(joins)
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
		if rec, ok := metrics.(session.Recorder); ok {
			wsHandler.WithMetrics(rec)
		}
	}
	wsHandler.Register(e)
	return s
}

func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			path := req.URL.Path
			if path == "/healthz" || path == "/metrics" {
				slog.Debug("http request", "method", req.Method, "path", path, "status", c.Response().Status)
			} else {
				slog.Info("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP(),
				)
			}
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

type healthzResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, healthzResponse{Status: "ok"})
}

// Run starts Echo on addr and blocks until ctx is canceled or startup
// fails. When tlsConfig is non-nil the listener serves HTTPS/WSS using
// it; a nil tlsConfig serves plain HTTP/WS.
func (s *Server) Run(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tlsConfig != nil {
			s.echo.TLSServer.Addr = addr
			s.echo.TLSServer.TLSConfig = tlsConfig
			err = s.echo.StartServer(s.echo.TLSServer)
		} else {
			err = s.echo.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("http server stopped")
		return nil
	}
}
