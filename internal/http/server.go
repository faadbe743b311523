// Package http serves the nudged REST API: ingestion, reminder actions,
// pipeline stats and threads.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/nudged/internal/logging"
	"github.com/fyrsmithlabs/nudged/internal/pipeline"
	"github.com/fyrsmithlabs/nudged/internal/reminder"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// DefaultSnooze applies when a snooze request names no duration.
	DefaultSnooze time.Duration
	// MaxBodyBytes caps request bodies, e.g. "1M".
	MaxBodyBytes string
	// APIToken, when set, is required on every route but /health.
	APIToken string
}

// HealthCheck reports a dependency problem, or nil when healthy.
type HealthCheck func(ctx context.Context) error

// Server provides HTTP endpoints for nudged.
type Server struct {
	echo     *echo.Echo
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
	config   *Config
	checks   map[string]HealthCheck
	metrics  *HTTPMetrics
}

// Option configures a Server.
type Option func(*Server)

// WithHealthCheck adds a named dependency check to /health.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(s *Server) { s.checks[name] = check }
}

// NewServer creates a new HTTP server in front of p.
func NewServer(p *pipeline.Pipeline, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("pipeline cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 9494}
	}
	if cfg.DefaultSnooze <= 0 {
		cfg.DefaultSnooze = 15 * time.Minute
	}
	if cfg.MaxBodyBytes == "" {
		cfg.MaxBodyBytes = "1M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		pipeline: p,
		logger:   logger,
		config:   cfg,
		checks:   make(map[string]HealthCheck),
		metrics:  NewHTTPMetrics(logger),
	}
	for _, opt := range opts {
		opt(s)
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	e.Use(s.metrics.MetricsMiddleware())
	if cfg.APIToken != "" {
		e.Use(TokenAuth(cfg.APIToken, "/health"))
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))

			err := next(c)

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request.id", id),
			)
			return err
		}
	})

	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/ingest", s.handleIngest)
	v1.GET("/stats", s.handleStats)
	v1.GET("/agents", s.handleAgents)

	v1.GET("/reminders", s.handleListReminders)
	v1.POST("/reminders", s.handleCreateReminder)
	v1.GET("/reminders/:id", s.handleGetReminder)
	v1.POST("/reminders/:id/snooze", s.handleSnooze)
	v1.POST("/reminders/:id/dismiss", s.handleDismiss)
	v1.POST("/reminders/:id/complete", s.handleComplete)
	v1.POST("/reminders/:id/check", s.handleCheck)

	v1.GET("/threads", s.handleListThreads)
	v1.GET("/threads/:id", s.handleGetThread)
}

// ServeHTTP lets the server be mounted or tested without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok"}
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
	}
	for name, check := range s.checks {
		if err := check(c.Request().Context()); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleIngest(c echo.Context) error {
	var req pipeline.IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	out, err := s.pipeline.HandleRequest(c.Request().Context(), req)
	if errors.Is(err, pipeline.ErrInvalidRequest) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	receipt := out.Receipt()
	if err != nil {
		// The item was processed; a stage failed part way.
		logging.For(c.Request().Context(), s.logger).Warn("ingest stage error", zap.Error(err))
		receipt.Error = err.Error()
	}
	return c.JSON(http.StatusAccepted, receipt)
}

func (s *Server) handleStats(c echo.Context) error {
	stats, err := s.pipeline.Stats(c.Request().Context())
	if err != nil {
		return s.internalError(c, "stats", err)
	}
	return c.JSON(http.StatusOK, StatsResponse{
		Stats:     stats,
		Admission: s.pipeline.Filter().Stats(),
	})
}

func (s *Server) handleAgents(c echo.Context) error {
	return c.JSON(http.StatusOK, AgentsResponse{Agents: s.pipeline.Agents()})
}

func (s *Server) handleListReminders(c echo.Context) error {
	var statuses []reminder.Status
	for _, raw := range c.QueryParams()["status"] {
		st := reminder.Status(raw)
		if !st.Valid() {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
		}
		statuses = append(statuses, st)
	}
	list, err := s.pipeline.Reminders().List(c.Request().Context(), statuses...)
	if err != nil {
		return s.internalError(c, "list reminders", err)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ScheduledTime.Before(list[j].ScheduledTime) })
	return c.JSON(http.StatusOK, RemindersResponse{Reminders: list, Count: len(list)})
}

func (s *Server) handleCreateReminder(c echo.Context) error {
	var req CreateReminderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	draft, err := req.Draft()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := s.pipeline.Reminders().Create(c.Request().Context(), draft)
	if err != nil {
		return s.reminderError(c, err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (s *Server) handleGetReminder(c echo.Context) error {
	r, err := s.pipeline.Reminders().Get(s.reminderContext(c), c.Param("id"))
	if err != nil {
		return s.reminderError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleSnooze(c echo.Context) error {
	var req SnoozeRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	d := s.config.DefaultSnooze
	if req.Duration != "" {
		parsed, err := time.ParseDuration(req.Duration)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "duration must be a positive Go duration such as 30m")
		}
		d = parsed
	}
	r, err := s.pipeline.Reminders().Snooze(s.reminderContext(c), c.Param("id"), d)
	if err != nil {
		return s.reminderError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleDismiss(c echo.Context) error {
	r, err := s.pipeline.Reminders().Dismiss(s.reminderContext(c), c.Param("id"))
	if err != nil {
		return s.reminderError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleComplete(c echo.Context) error {
	r, err := s.pipeline.Reminders().Complete(s.reminderContext(c), c.Param("id"))
	if err != nil {
		return s.reminderError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

func (s *Server) handleCheck(c echo.Context) error {
	id := c.Param("id")
	f, err := s.pipeline.Reminders().CheckFulfillment(s.reminderContext(c), id)
	if err != nil {
		return s.reminderError(c, err)
	}
	return c.JSON(http.StatusOK, FulfillmentResponse{ReminderID: id, Fulfillment: f})
}

func (s *Server) handleListThreads(c echo.Context) error {
	threads := s.pipeline.Correlator().Threads()
	sort.Slice(threads, func(i, j int) bool { return threads[i].LastUpdated.After(threads[j].LastUpdated) })
	return c.JSON(http.StatusOK, ThreadsResponse{Threads: threads, Count: len(threads)})
}

func (s *Server) handleGetThread(c echo.Context) error {
	t, ok := s.pipeline.Correlator().Thread(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "thread not found")
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) reminderContext(c echo.Context) context.Context {
	return logging.WithReminderID(c.Request().Context(), c.Param("id"))
}

func (s *Server) reminderError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, reminder.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, reminder.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, reminder.ErrInvalidReminder):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, reminder.ErrClosed):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return s.internalError(c, "reminder", err)
}

func (s *Server) internalError(c echo.Context, op string, err error) error {
	logging.For(s.reminderContext(c), s.logger).Error("request failed", zap.String("op", op), zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.Addr()))
	return s.echo.Start(s.Addr())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
