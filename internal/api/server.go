// Package api contains the HTTP handlers for the scheduler's read-only
// inspection surface.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"regimecast/scheduler/internal/recommend"
	"regimecast/scheduler/internal/registry"
)

// Server holds the dependencies for the API server.
type Server struct {
	Registry *registry.Registry
	Engine   *recommend.Engine
	Metrics  http.Handler
	now      func() time.Time
}

// NewServer creates a new Server.
func NewServer(reg *registry.Registry, engine *recommend.Engine, metricsHandler http.Handler) *Server {
	return &Server{
		Registry: reg,
		Engine:   engine,
		Metrics:  metricsHandler,
		now:      time.Now,
	}
}

// WithClock overrides the server clock. Test hook.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.now = now
	return s
}

// Router builds the echo instance with all routes mounted.
func (s *Server) Router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/healthz", s.HandleHealth)
	if s.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.Metrics))
	}

	v1 := e.Group("/api/v1")
	v1.GET("/recommendation", s.GetRecommendation)
	v1.GET("/entities", s.ListEntities)
	v1.GET("/entities/:name", s.GetEntity)

	return e
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// HandleHealth returns basic health status (always returns 200 OK)
func (s *Server) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthStatus{
		Status:    "ok",
		Timestamp: s.now(),
		Service:   "regimecast-scheduler",
		Version:   "1.0.0",
	})
}

// GetRecommendation returns the current workflow recommendation
// (GET /api/v1/recommendation)
func (s *Server) GetRecommendation(c echo.Context) error {
	ctx := c.Request().Context()

	rec, err := s.Engine.Recommend(ctx, s.now())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, rec)
}

// ListEntities returns every tracked entity record
// (GET /api/v1/entities)
func (s *Server) ListEntities(c echo.Context) error {
	ctx := c.Request().Context()

	records, err := s.Registry.ListRecords(ctx)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, records)
}

// GetEntity returns one entity's full version record
// (GET /api/v1/entities/:name)
func (s *Server) GetEntity(c echo.Context) error {
	ctx := c.Request().Context()
	name := c.Param("name")

	record, err := s.Registry.Record(ctx, name)
	if errors.Is(err, registry.ErrRecordNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "no record for entity "+name)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, record)
}
