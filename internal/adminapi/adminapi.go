// Package adminapi is the operator HTTP view onto the Metrics Hub
// (spec.md §4.7): two read-only endpoints, no mutation surface. It is
// hosted from cmd/reconciler alongside the Reconciler loop.
package adminapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/olegeech-me/statustracker/internal/metricshub"
	"github.com/olegeech-me/statustracker/pkg/errors"
	"github.com/olegeech-me/statustracker/pkg/logger"
)

// Server hosts the admin HTTP surface.
type Server struct {
	echo *echo.Echo
	hub  *metricshub.Hub
}

// New builds a Server wired against hub. tracerName names the otelecho
// middleware's tracer, matching the teacher's service-name-as-tracer-name
// convention.
func New(hub *metricshub.Hub, tracerName string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(otelecho.Middleware(tracerName))
	e.Use(middleware.Recover())

	s := &Server{echo: e, hub: hub}
	e.GET("/metrics", s.handleGetAll)
	e.GET("/metrics/:fetcherID", s.handleGet)
	return s
}

// Start serves on addr until the server is shut down or fails.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleGetAll(c echo.Context) error {
	snapshots := s.hub.GetAll(c.Request().Context())
	return c.JSON(http.StatusOK, snapshots)
}

func (s *Server) handleGet(c echo.Context) error {
	fetcherID := c.Param("fetcherID")
	snap, err := s.hub.Get(c.Request().Context(), fetcherID)
	if err != nil {
		if errors.CodeOf(err) == errors.CodeNotFound {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "no metrics reported for fetcher"})
		}
		logger.L().ErrorContext(c.Request().Context(), "adminapi: failed to fetch metrics", "fetcher_id", fetcherID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
	return c.JSON(http.StatusOK, snap)
}
