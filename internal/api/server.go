package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/markdetect/markdetect-go/internal/api/middleware"
	"github.com/markdetect/markdetect-go/internal/buildinfo"
	"github.com/markdetect/markdetect-go/internal/conf"
	"github.com/markdetect/markdetect-go/internal/detection"
	"github.com/markdetect/markdetect-go/internal/handles"
	"github.com/markdetect/markdetect-go/internal/logger"
	"github.com/markdetect/markdetect-go/internal/observability"
)

// APIPrefix is the path prefix of every API route.
const APIPrefix = "/api/v1"

// Server is the main HTTP server for markdetect.
// It manages the Echo framework instance, middleware, and all HTTP routes.
type Server struct {
	// Core components
	echo     *echo.Echo
	config   *Config
	settings *conf.Settings
	log      logger.Logger

	// Dependencies
	orchestrator *detection.Orchestrator
	handles      *handles.Manager
	metrics      *observability.Metrics
	buildInfo    buildinfo.BuildInfo

	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger overrides the api module logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) {
		s.log = l
	}
}

// WithMetrics sets the observability metrics for the server and enables the
// /metrics endpoint.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithBuildInfo reports version metadata on the health endpoint.
func WithBuildInfo(bi buildinfo.BuildInfo) ServerOption {
	return func(s *Server) {
		s.buildInfo = bi
	}
}

// New creates a new HTTP server serving orch and the blobs of mgr.
func New(settings *conf.Settings, orch *detection.Orchestrator, mgr *handles.Manager, opts ...ServerOption) (*Server, error) {
	if orch == nil || mgr == nil {
		return nil, fmt.Errorf("orchestrator and handle manager are required")
	}

	config := ConfigFromSettings(settings)
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server configuration: %w", err)
	}

	s := &Server{
		config:       config,
		settings:     settings,
		orchestrator: orch,
		handles:      mgr,
		startTime:    time.Now(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		s.log = GetLogger()
	}
	if s.buildInfo == nil {
		s.buildInfo = (*buildinfo.Context)(nil)
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true

	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized",
		logger.String("address", config.Listen),
		logger.Int64("max_upload", config.MaxUpload),
		logger.Float64("rate_limit", config.RateLimit),
		logger.Bool("debug", config.Debug))

	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	// Recovery middleware - should be first
	s.echo.Use(echomw.Recover())

	if s.metrics != nil {
		s.echo.Use(mw.NewHTTPMetrics(s.metrics.HTTP))
	}

	s.echo.Use(mw.NewRequestLoggerWithSkipper(s.log, func(c echo.Context) bool {
		// Health probes and scrapes are too frequent to log.
		return c.Path() == "/health" || c.Path() == APIPrefix+"/metrics"
	}))

	securityConfig := mw.DefaultSecurityConfig()
	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit()))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	g := s.echo.Group(APIPrefix)
	g.GET("/classes", s.getClasses)
	g.GET("/status/:kind", s.getStatus)
	g.DELETE("/status/:kind", s.resetStatus)
	g.GET("/blobs/:id", s.getBlob)

	var detectMiddleware []echo.MiddlewareFunc
	if s.config.RateLimit > 0 {
		rl := mw.RateLimitConfig{Rate: s.config.RateLimit, Burst: s.config.RateBurst}
		if s.metrics != nil {
			rl.Metrics = s.metrics.HTTP
		}
		detectMiddleware = append(detectMiddleware, mw.NewRateLimiter(rl))
	}
	g.POST("/detect/:kind", s.submitDetection, detectMiddleware...)

	if s.metrics != nil {
		g.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}

	s.log.Debug("routes initialized",
		logger.String("prefix", APIPrefix),
		logger.Int("routes", len(s.echo.Routes())))
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)

	return c.JSON(http.StatusOK, map[string]any{
		"status":         "healthy",
		"version":        s.buildInfo.GetVersion(),
		"build_date":     s.buildInfo.GetBuildDate(),
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"live_handles":   s.handles.LiveCount(),
		"timestamp":      time.Now().Format(time.RFC3339),
	})
}

// Start begins serving HTTP requests and blocks until the server is shut down.
func (s *Server) Start() error {
	s.log.Info("starting HTTP server", logger.String("address", s.config.Listen))

	if err := s.echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartWithGracefulShutdown starts the server and handles graceful shutdown on SIGINT/SIGTERM.
func (s *Server) StartWithGracefulShutdown() error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case <-quit:
		s.log.Info("shutdown signal received, initiating graceful shutdown")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return fmt.Errorf("shutdown error: %w", err)
	}

	s.log.Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
// This is useful for testing or advanced configuration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
