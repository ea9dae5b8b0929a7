// Package httpapi exposes the control surface of the pipeline: health,
// run status, run history, manual run triggering and monitor control.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"rassegna.press/rassegna/internal/globaltime"
	"rassegna.press/rassegna/internal/monitor"
	"rassegna.press/rassegna/internal/pipeline"
)

const (
	defaultRunLimit = 10
	maxRunLimit     = 100
)

// Runner triggers pipeline runs and reports live progress.
type Runner interface {
	Run(ctx context.Context, limit int) (pipeline.Report, error)
	State() *pipeline.RunState
}

// MonitorControl starts and stops the continuous monitor.
type MonitorControl interface {
	Start(ctx context.Context)
	Stop(ctx context.Context)
	Running() bool
	State() monitor.State
}

// HistoryStore reads persisted run state and reports.
type HistoryStore interface {
	LoadSnapshot(ctx context.Context, name string, out any) (bool, error)
	RecentRunReports(ctx context.Context, limit int) ([]pipeline.Report, error)
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	runner  Runner
	monitor MonitorControl
	history HistoryStore
	logger  zerolog.Logger
	opts    Options

	mu        sync.Mutex
	runActive bool
}

func NewServer(runner Runner, mon MonitorControl, history HistoryStore, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		runner:  runner,
		monitor: mon,
		history: history,
		logger:  logger,
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.runner == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.buildEcho()

	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Msg("control server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("control server stopped")
	return nil
}

func (s *Server) buildEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/healthz", s.handleHealth)

	api := e.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/runs", s.handleRuns)
	api.POST("/run", s.handleRun)
	api.GET("/monitor", s.handleMonitor)
	api.POST("/monitor/start", s.handleMonitorStart)
	api.POST("/monitor/stop", s.handleMonitorStop)

	return e
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	return success(c, map[string]any{
		"service": "rassegna",
		"time":    globaltime.UTC(),
	})
}

// handleStatus serves live state while a run is in flight and falls back
// to the last persisted snapshot otherwise.
func (s *Server) handleStatus(c echo.Context) error {
	state := s.runner.State()
	if state != nil && state.RunID != "" {
		return success(c, state)
	}

	var persisted pipeline.RunState
	found, err := s.history.LoadSnapshot(c.Request().Context(), pipeline.RunStateName, &persisted)
	if err != nil {
		s.logger.Error().Err(err).Msg("load run state snapshot failed")
		return internalError(c, "Failed to load run state")
	}
	if !found {
		return success(c, map[string]any{
			"run_id": "",
			"status": "idle",
		})
	}
	return success(c, &persisted)
}

func (s *Server) handleRuns(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), 20, 1, 200)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	reports, err := s.history.RecentRunReports(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("query run reports failed")
		return internalError(c, "Failed to load run reports")
	}
	return success(c, map[string]any{
		"items": reports,
		"limit": limit,
	})
}

// handleRun triggers a pipeline run in the background. Only one run may
// be in flight at a time, and runs are refused while the monitor owns
// the pipeline.
func (s *Server) handleRun(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultRunLimit, 1, maxRunLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	if s.monitor != nil && s.monitor.Running() {
		return fail(c, http.StatusConflict, "Monitor is running, stop it before triggering a manual run", nil)
	}

	s.mu.Lock()
	if s.runActive {
		s.mu.Unlock()
		return fail(c, http.StatusConflict, "A run is already in progress", nil)
	}
	s.runActive = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.runActive = false
			s.mu.Unlock()
		}()
		report, runErr := s.runner.Run(context.Background(), limit)
		if runErr != nil {
			s.logger.Error().Err(runErr).Str("run_id", report.RunID).Msg("manual run failed")
			return
		}
		s.logger.Info().
			Str("run_id", report.RunID).
			Int("processed", report.Processed).
			Int("created", report.Created).
			Msg("manual run completed")
	}()

	return successWithStatus(c, http.StatusAccepted, map[string]any{
		"accepted": true,
		"limit":    limit,
	})
}

func (s *Server) handleMonitor(c echo.Context) error {
	if s.monitor == nil {
		return fail(c, http.StatusNotFound, "Monitor is not configured", nil)
	}
	state := s.monitor.State()
	return success(c, map[string]any{
		"running": s.monitor.Running(),
		"state":   state,
	})
}

func (s *Server) handleMonitorStart(c echo.Context) error {
	if s.monitor == nil {
		return fail(c, http.StatusNotFound, "Monitor is not configured", nil)
	}
	if s.monitor.Running() {
		return fail(c, http.StatusConflict, "Monitor is already running", nil)
	}
	// The monitor loop must outlive the request.
	s.monitor.Start(context.Background())
	return success(c, map[string]any{"running": true})
}

func (s *Server) handleMonitorStop(c echo.Context) error {
	if s.monitor == nil {
		return fail(c, http.StatusNotFound, "Monitor is not configured", nil)
	}
	if !s.monitor.Running() {
		return fail(c, http.StatusConflict, "Monitor is not running", nil)
	}
	s.monitor.Stop(c.Request().Context())
	return success(c, map[string]any{"running": false})
}

func parsePositiveInt(raw string, fallback, min, max int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < min || value > max {
		return 0, fmt.Errorf("must be between %d and %d", min, max)
	}
	return value, nil
}
