// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/clearspend/clearspend/internal/account"
	"github.com/clearspend/clearspend/internal/allowance"
	"github.com/clearspend/clearspend/internal/config"
	"github.com/clearspend/clearspend/internal/decision"
	"github.com/clearspend/clearspend/internal/gateway"
	"github.com/clearspend/clearspend/internal/health"
	"github.com/clearspend/clearspend/internal/logging"
	"github.com/clearspend/clearspend/internal/metrics"
	"github.com/clearspend/clearspend/internal/policy"
	"github.com/clearspend/clearspend/internal/ratelimit"
	"github.com/clearspend/clearspend/internal/realtime"
	"github.com/clearspend/clearspend/internal/reputation"
	"github.com/clearspend/clearspend/internal/retry"
	"github.com/clearspend/clearspend/internal/risk"
	"github.com/clearspend/clearspend/internal/security"
	"github.com/clearspend/clearspend/internal/settlement"
	"github.com/clearspend/clearspend/internal/traces"
	"github.com/clearspend/clearspend/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	store        account.Store
	gateway      gateway.Gateway
	orchestrator *settlement.Orchestrator
	allowances   *allowance.Service
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	shutdownOTel func(context.Context) error
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

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

// WithGateway sets a custom ledger gateway (for testing)
func WithGateway(gw gateway.Gateway) Option {
	return func(s *Server) {
		s.gateway = gw
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set gateway/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Tracing (no-op when OTLP endpoint is unset)
	shutdownOTel, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.shutdownOTel = shutdownOTel

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Ping is idempotent, so retrying here is safe; the database may
		// still be coming up alongside us.
		err = retry.Do(ctx, 5, 500*time.Millisecond, func() error {
			return db.Ping()
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.store = account.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.store = account.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Ledger gateway: real EVM settlement when an RPC URL is configured,
	// otherwise the in-process simulated ledger for demo mode.
	if s.gateway == nil {
		if cfg.LedgerRPCURL != "" {
			// Local RPC endpoints are fine in dev; production must not
			// point at internal addresses.
			if cfg.IsProduction() {
				if err := security.ValidateEndpointURL(cfg.LedgerRPCURL); err != nil {
					return nil, fmt.Errorf("unsafe ledger RPC URL: %w", err)
				}
			}
			gw, err := gateway.NewEVM(gateway.EVMConfig{
				RPCURL:     cfg.LedgerRPCURL,
				PrivateKey: cfg.PrivateKey,
				ChainID:    cfg.ChainID,
				Contract:   cfg.SettlementContract,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create ledger gateway: %w", err)
			}
			s.gateway = gw
			s.logger.Info("EVM ledger gateway enabled", "chain_id", cfg.ChainID)
		} else {
			s.gateway = gateway.NewFake(gateway.WithLatency(50 * time.Millisecond))
			s.logger.Info("simulated ledger gateway enabled (no LEDGER_RPC_URL set)")
		}
	}

	// Realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)

	// Decision engine from immutable config snapshots
	scorer := risk.NewScorer(risk.Config{
		TrustedPlatforms:    cfg.TrustedPlatforms,
		TrustedCategories:   cfg.TrustedCategories,
		HighAmountThreshold: cfg.HighAmountThreshold,
		MidAmountThreshold:  cfg.MidAmountThreshold,
		DaytimeStartHour:    cfg.DaytimeStartHour,
		DaytimeEndHour:      cfg.DaytimeEndHour,
		SuspiciousKeywords:  cfg.SuspiciousKeywords,
		ElevatedCategories:  cfg.ElevatedRiskCategories,
		BaitAmounts:         cfg.BaitAmounts,
		VelocityWindow:      cfg.VelocityWindow,
		VelocityThreshold:   cfg.VelocityThreshold,
		DuplicateWindow:     cfg.DuplicateWindow,
		DuplicateThreshold:  cfg.DuplicateThreshold,
	})
	table := reputation.NewTable(cfg.MerchantReputation, cfg.FraudBlocklist, cfg.TrustedPlatforms)
	pol := policy.NewEvaluator(cfg.RestrictedCategories, cfg.SpendingLimit)
	engine := decision.NewEngine(scorer, table, pol, cfg.RiskBlockThreshold, cfg.ReputationFloor)

	builder := settlement.NewBuilder(cfg.MerchantAddresses, cfg.DefaultRecipient)
	s.orchestrator = settlement.NewOrchestrator(engine, builder, s.gateway, s.store, s.logger,
		settlement.Options{
			ConfirmInterval:    cfg.ConfirmInterval,
			ConfirmMaxAttempts: cfg.ConfirmMaxAttempts,
			SubmitTimeout:      cfg.SubmitTimeout,
			Notifier:           s.realtimeHub,
		})

	s.allowances = allowance.NewService(s.store, cfg.WeeklyAllowance, cfg.EmergencyCap,
		cfg.AllowanceInterval, s.logger)

	// Subsystem health checks backing /health
	s.checks = health.NewRegistry()
	if s.db != nil {
		db := s.db
		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}
	orch := s.orchestrator
	s.checks.Register("ledger", func(ctx context.Context) health.Status {
		if !orch.LedgerHealthy() {
			return health.Status{Name: "ledger", Healthy: false, Detail: "submission circuit open"}
		}
		return health.Status{Name: "ledger", Healthy: true}
	})

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

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
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

	// WebSocket for real-time settlement streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/api/v1")
	// Validate :id URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AccountParamMiddleware())

	// Purchase settlement
	v1.POST("/purchases", s.submitPurchase)

	// Accounts
	v1.POST("/accounts", s.createAccount)
	v1.GET("/accounts/:id", s.getAccount)
	v1.GET("/accounts/:id/balance", s.getBalance)
	v1.GET("/accounts/:id/history", s.getHistory)
	v1.GET("/accounts/:id/recap", s.getRecap)

	// Guardian controls
	v1.POST("/accounts/:id/allowance", s.issueAllowance)
	v1.POST("/accounts/:id/allowance/emergency", s.issueEmergency)
	v1.POST("/accounts/:id/pause", s.setPaused)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
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

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start DB stats collector
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.shutdownOTel != nil {
		if err := s.shutdownOTel(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
