// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contextforge/contextforge/internal/analytics"
	"github.com/contextforge/contextforge/internal/auth"
	"github.com/contextforge/contextforge/internal/circuitbreaker"
	"github.com/contextforge/contextforge/internal/config"
	"github.com/contextforge/contextforge/internal/counters"
	"github.com/contextforge/contextforge/internal/health"
	"github.com/contextforge/contextforge/internal/idgen"
	"github.com/contextforge/contextforge/internal/jobs"
	"github.com/contextforge/contextforge/internal/logging"
	"github.com/contextforge/contextforge/internal/metrics"
	"github.com/contextforge/contextforge/internal/ratelimit"
	"github.com/contextforge/contextforge/internal/realtime"
	"github.com/contextforge/contextforge/internal/retry"
	"github.com/contextforge/contextforge/internal/security"
	"github.com/contextforge/contextforge/internal/traces"
	"github.com/contextforge/contextforge/internal/validation"
)

// Version is reported by /health.
var Version = "dev"

// Breaker settings for the ephemeral counter store.
const (
	breakerThreshold = 5
	breakerCooldown  = 30 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	stores      *stores
	authMgr     *auth.Manager
	analytics   *analytics.Service
	jobs        *jobs.Service
	realtimeHub *realtime.Hub
	health      *health.Registry
	breaker     *circuitbreaker.Breaker
	rateLimiter *ratelimit.Limiter
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	retryPolicy     retry.Policy
	drainDelay      time.Duration
	shutdownTracing func(context.Context) error
	cancelRunCtx    context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRetryPolicy overrides how long startup waits for backing stores.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Server) {
		s.retryPolicy = p
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers to stop
// routing before closing the listener.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:         cfg,
		logger:      logging.New(cfg.LogLevel, cfg.LogFormat),
		health:      health.NewRegistry(),
		retryPolicy: retry.Startup,
		drainDelay:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	shutdownTracing, err := traces.Init(ctx, traces.Config{
		Endpoint:       cfg.OTLPEndpoint,
		ServiceVersion: Version,
		SampleRatio:    cfg.TraceSampleRatio,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownTracing = shutdownTracing

	st, err := s.openStores(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.stores = st

	// API keys
	s.authMgr = auth.NewManager(st.auth)
	if err := s.authMgr.SeedKeys(ctx, cfg.APIKeys); err != nil {
		_ = st.close()
		return nil, fmt.Errorf("failed to seed API keys: %w", err)
	}
	s.logger.Info("API authentication enabled", "seeded_keys", len(cfg.APIKeys))

	// Realtime counters behind a breaker so a dead Redis fails fast
	s.breaker = circuitbreaker.New(breakerThreshold, breakerCooldown)
	s.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		s.logger.Warn("circuit breaker transition", "key", key, "from", from.String(), "to", to.String())
	})
	tracker := counters.NewTracker(counters.NewGuarded(st.counters, s.breaker), counters.WithLogger(s.logger))

	s.realtimeHub = realtime.NewHub(s.logger)
	s.analytics = analytics.NewService(st.content, tracker, s.realtimeHub, s.logger)
	s.jobs = jobs.NewService(st.jobs, s.logger)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rl := ratelimit.DefaultConfig()
	rl.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(traces.Middleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}
		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.authMgr))

	protected := v1.Group("", auth.RequireAuth())
	protected.GET("/info", s.infoHandler)
	auth.NewHandler(s.authMgr).RegisterProtectedRoutes(protected)
	analytics.NewHandler(s.analytics, s.realtimeHub).RegisterProtectedRoutes(protected)
	jobs.NewHandler(s.jobs).RegisterProtectedRoutes(protected)

	if s.cfg.AdminSecret != "" {
		admin := v1.Group("/admin", auth.RequireAdmin(s.cfg.AdminSecret))
		auth.NewHandler(s.authMgr).RegisterAdminRoutes(admin)
		admin.GET("/realtime/stats", s.realtimeStatsHandler)
	}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

// healthHandler reports every dependency. A failing dependency degrades the
// service rather than taking it down: analytics keep answering with
// degraded payloads.
func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	if !healthy {
		status = "degraded"
	}
	if !s.healthy.Load() {
		status = "unhealthy"
	}

	httpStatus := http.StatusOK
	if status == "unhealthy" {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":         "contextforge",
		"version":      Version,
		"dependencies": s.health.Names(),
		"breaker":      s.breaker.State(counters.BreakerKey).String(),
	})
}

func (s *Server) realtimeStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	s.ready.Store(true)
	s.logger.Info("server ready")

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown requested", "cause", context.Cause(ctx))
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	if s.drainDelay > 0 {
		time.Sleep(s.drainDelay)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			errs = append(errs, err)
		}
	}

	// Stops the hub, which closes every WebSocket.
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if err := s.shutdownTracing(ctx); err != nil {
		s.logger.Error("tracing shutdown error", "error", err)
	}

	if err := s.stores.close(); err != nil {
		s.logger.Error("store close error", "error", err)
		errs = append(errs, err)
	}

	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
