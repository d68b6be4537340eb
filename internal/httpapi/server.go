// Package httpapi provides the HTTP API for recalld.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/boundary"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/memory"
	"github.com/fyrsmithlabs/recalld/internal/privacy"
	"github.com/fyrsmithlabs/recalld/internal/service"
)

// Server provides HTTP endpoints over the memory engine.
type Server struct {
	echo   *echo.Echo
	engine *service.Engine
	logger *logging.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Addr string
}

// NewServer creates the HTTP server.
func NewServer(engine *service.Engine, logger *logging.Logger, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg == nil {
		cfg = &Config{Addr: ":8575"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			c.SetRequest(c.Request().WithContext(
				logging.WithRequestID(c.Request().Context(), requestID)))

			err := next(c)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		engine: engine,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/classify", s.handleClassify)
	v1.POST("/memories", s.handleStore)
	v1.POST("/memories/search", s.handleSearch)
	v1.GET("/users/:user_id/recent", s.handleRecent)
	v1.GET("/users/:user_id/privacy", s.handleGetPrivacy)
	v1.PATCH("/users/:user_id/privacy", s.handleUpdatePrivacy)
	v1.POST("/users/:user_id/consent", s.handleRequestConsent)
	v1.POST("/consent/:token", s.handleResolveConsent)
	v1.GET("/users/:user_id/analysis", s.handleAnalyze)
	v1.GET("/audit", s.handleAudit)
}

// httpError maps engine errors onto HTTP status codes. Validation errors
// are the caller's fault; everything else is a 500.
func httpError(err error) error {
	switch {
	case errors.Is(err, memory.ErrEmptyUserID),
		errors.Is(err, memory.ErrEmptyContent),
		errors.Is(err, memory.ErrInvalidContext),
		errors.Is(err, memory.ErrInvalidScore),
		errors.Is(err, privacy.ErrInvalidPreference):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, boundary.ErrConsentNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, boundary.ErrConsentExpired):
		return echo.NewHTTPError(http.StatusGone, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	if err := s.engine.Healthy(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "starting http server",
		zap.String("addr", s.config.Addr))
	return s.echo.Start(s.config.Addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
