// Package api serves the dashboard over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"allotment/internal/dashboard"
	"allotment/internal/events"
	"allotment/internal/metrics"
	"allotment/internal/models"
	"allotment/internal/reminders"
	"allotment/internal/rowstore"
	"allotment/internal/service"
)

type Config struct {
	Address string

	// RateLimitPerSec limits /api requests per client IP. Zero disables it.
	RateLimitPerSec float64

	// SnoozeOptions are offered to clients, in minutes.
	SnoozeOptions []int

	// DefaultSnooze is used when a snooze request names no duration.
	DefaultSnooze time.Duration
}

// Dependencies are the services behind the handlers.
type Dependencies struct {
	Dashboard *dashboard.Service
	Reminders *reminders.Service
	Schedule  *service.ScheduleService
	Feed      *events.Feed
	Store     rowstore.RowStore

	// Gatherer backs /metrics. Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

type Server struct {
	config Config
	deps   Dependencies
	echo   *echo.Echo
	logger zerolog.Logger
}

func NewServer(cfg Config, deps Dependencies, logger zerolog.Logger) *Server {
	if cfg.Address == "" {
		cfg.Address = ":8080"
	}
	if len(cfg.SnoozeOptions) == 0 {
		cfg.SnoozeOptions = []int{5, 10, 15, 30}
	}
	if cfg.DefaultSnooze <= 0 {
		cfg.DefaultSnooze = time.Duration(cfg.SnoozeOptions[0]) * time.Minute
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config: cfg,
		deps:   deps,
		echo:   echo.New(),
		logger: logger.With().Str("component", "api").Logger(),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(requestLogger(s.logger))

	e.GET("/healthz", s.handleHealth)
	e.GET("/readyz", s.handleReady)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	g := e.Group("/api")
	if s.config.RateLimitPerSec > 0 {
		g.Use(echomw.RateLimiter(echomw.NewRateLimiterMemoryStore(rate.Limit(s.config.RateLimitPerSec))))
	}

	g.GET("/schedule", s.handleSchedule)
	g.GET("/schedule/chairs", s.handleChairs)
	g.GET("/schedule/chairs/:chair", s.handleChair)
	g.GET("/doctors/summary", s.handleDoctors)

	g.GET("/reminders", s.handleReminders)
	g.POST("/reminders/:id/snooze", s.handleSnooze)
	g.DELETE("/reminders/:id/snooze", s.handleCancelSnooze)
	g.POST("/reminders/:id/dismiss", s.handleDismiss)
	g.DELETE("/reminders/:id/dismiss", s.handleClearDismiss)

	g.GET("/events", s.handleEvents)
	g.POST("/refresh", s.handleRefresh)

	g.POST("/rows", s.handleAddRow)
	g.PUT("/rows/:id", s.handleUpdateRow)
	g.POST("/rows/:id/clear", s.handleClearRow)
	g.DELETE("/rows/:id", s.handleDeleteRow)
	g.GET("/roster", s.handleRoster)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.config.Address).Msg("HTTP server started")
	if err := s.echo.Start(s.config.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// requestLogger writes one event per request and counts it by route.
func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			evt := logger.Info()
			if status >= http.StatusInternalServerError {
				evt = logger.Error().Err(err)
			}
			evt.
				Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("request")

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			metrics.IncHTTPRequest(route, status)
			return nil
		}
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	Persisted *bool  `json:"persisted,omitempty"`
}

// fail maps domain errors to status codes.
func (s *Server) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, models.ErrRowNotFound):
		return c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, models.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, rowstore.ErrStorageUnavailable):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.Is(err, rowstore.ErrPersistenceFailure):
		persisted := false
		return c.JSON(http.StatusBadGateway, errorResponse{Error: err.Error(), Persisted: &persisted})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(c echo.Context) error {
	if s.deps.Store == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "no row store"})
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := rowstore.Ping(ctx, s.deps.Store); err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
