// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
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

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/toolgate-io/toolgate/internal/config"
	"github.com/toolgate-io/toolgate/internal/invoker"
	"github.com/toolgate-io/toolgate/internal/ledger"
	"github.com/toolgate-io/toolgate/internal/logging"
	"github.com/toolgate-io/toolgate/internal/metrics"
	"github.com/toolgate-io/toolgate/internal/payments"
	"github.com/toolgate-io/toolgate/internal/pricing"
	"github.com/toolgate-io/toolgate/internal/sessions"
	"github.com/toolgate-io/toolgate/internal/tools"
	"github.com/toolgate-io/toolgate/internal/traces"
	"github.com/toolgate-io/toolgate/internal/usdc"
	"github.com/toolgate-io/toolgate/internal/validation"
	"github.com/toolgate-io/toolgate/internal/wallet"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	wallet       wallet.WalletService
	ledger       *ledger.Ledger
	registry     *tools.Registry
	pricing      *pricing.Service
	gate         *payments.Gate
	engine       *payments.Engine
	paymentTimer *payments.Timer
	sessionMgr   *sessions.Manager
	invoker      *invoker.Invoker
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	shutdownTr   func(context.Context) error
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

// WithWallet sets a custom wallet (for testing)
func WithWallet(w wallet.WalletService) Option {
	return func(s *Server) {
		s.wallet = w
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set wallet/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	var (
		ledgerStore  ledger.Store
		toolStore    tools.Store
		priceStore   pricing.Store
		paymentStore payments.Store
	)

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		pgLedger := ledger.NewPostgresStore(db)
		if err := pgLedger.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate ledger store", "error", err)
		}
		ledgerStore = pgLedger
		toolStore = tools.NewPostgresStore(db)
		priceStore = pricing.NewPostgresStore(db)
		paymentStore = payments.NewPostgresStore(db)
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		ledgerStore = ledger.NewMemoryStore()
		toolStore = tools.NewMemoryStore()
		priceStore = pricing.NewMemoryStore()
		paymentStore = payments.NewMemoryStore()
	}

	// Create wallet if not injected
	if s.wallet == nil {
		w, err := wallet.New(wallet.Config{
			RPCURL:       cfg.RPCURL,
			PrivateKey:   cfg.PrivateKey,
			ChainID:      cfg.ChainID,
			USDCContract: cfg.USDCContract,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create wallet: %w", err)
		}
		s.wallet = w
	}

	s.ledger = ledger.New(ledgerStore)
	s.registry = tools.NewRegistry(toolStore)
	s.pricing = pricing.NewWithLimits(priceStore, pricing.Limits{Min: cfg.MinPayment, Max: cfg.MaxPayment})
	s.gate = payments.NewGate(paymentStore, s.pricing, s.ledger)
	s.engine = payments.NewEngine(paymentStore, s.ledger, &walletSettler{s.wallet}, cfg.ConfirmTimeout)
	s.paymentTimer = payments.NewTimer(s.engine, paymentStore, cfg.PendingTTL, logging.Component(s.logger, "payments.timer"))
	s.invoker = invoker.New(s.registry, s.gate, logging.Component(s.logger, "invoker"))
	s.sessionMgr = sessions.NewManager(s.registry, s.invoker, logging.Component(s.logger, "sessions"))

	// Traces (no-op when OTLP_ENDPOINT is unset)
	shutdownTr, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTr = shutdownTr
	}

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

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

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

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

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

// adminMiddleware guards mutating deposit routes with the shared admin
// secret. When no secret is configured (development), the check is skipped.
func (s *Server) adminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid X-Admin-Secret header required",
			})
			return
		}
		c.Next()
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

	// API info endpoints
	s.router.GET("/api", s.infoHandler)
	s.router.GET("/wallet", s.walletInfoHandler)

	// V1 management API
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	// Tool descriptor management (tenant-scoped CRUD)
	toolsHandler := tools.NewHandler(s.registry, s.sessionMgr, s.logger)
	toolsHandler.RegisterRoutes(v1)

	// Pricing management
	pricingHandler := pricing.NewHandler(s.pricing, s.registry, s.logger)
	pricingHandler.RegisterRoutes(v1)

	// Balances and deposit verification
	ledgerHandler := ledger.NewHandler(s.ledger, s.wallet, s.logger)
	v1.GET("/principals/:address/balance", ledgerHandler.GetBalance)
	v1.GET("/principals/:address/ledger", ledgerHandler.GetHistory)
	v1.POST("/deposits", s.adminMiddleware(), ledgerHandler.RecordDeposit)

	// Payment transactions
	paymentsHandler := payments.NewHandler(s.engine, s.ledger, s.logger)
	paymentsHandler.RegisterRoutes(v1)

	// Session management
	v1.POST("/tenants/:tenant/session/reload", s.reloadSessionHandler)
	v1.DELETE("/tenants/:tenant/session", s.removeSessionHandler)

	// Per-tenant MCP endpoint. The streamable handler owns the protocol;
	// the caller address travels in the X-Toolgate-Caller header.
	s.router.Any("/mcp/:tenant", s.mcpHandler)
}

func (s *Server) mcpHandler(c *gin.Context) {
	tenant := c.Param("tenant")
	h, err := s.sessionMgr.Handler(c.Request.Context(), tenant)
	if errors.Is(err, sessions.ErrNoTools) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "no_tools",
			"message": "Tenant has no registered tools",
		})
		return
	}
	if err != nil {
		logging.L(c.Request.Context()).Error("failed to build tenant session", "tenant", tenant, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "session_error",
			"message": "Failed to build tenant session",
		})
		return
	}
	h.ServeHTTP(c.Writer, c.Request)
}

func (s *Server) reloadSessionHandler(c *gin.Context) {
	tenant := c.Param("tenant")
	if _, err := s.sessionMgr.Reload(c.Request.Context(), tenant); err != nil {
		if errors.Is(err, sessions.ErrNoTools) {
			s.sessionMgr.Remove(tenant)
			c.JSON(http.StatusOK, gin.H{"status": "removed", "reason": "no tools"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "session_error",
			"message": "Failed to reload session",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
}

func (s *Server) removeSessionHandler(c *gin.Context) {
	s.sessionMgr.Remove(c.Param("tenant"))
	c.JSON(http.StatusOK, gin.H{"status": "removed"})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	// Check RPC connectivity
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, err := s.wallet.BalanceOf(ctx, common.Address{}); err != nil {
		checks["rpc"] = "unhealthy"
	} else {
		checks["rpc"] = "healthy"
	}

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
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
		"name":        "Toolgate",
		"description": "Payment-gated MCP tools for HTTP APIs",
		"version":     "0.1.0",
		"chain":       "base-sepolia",
		"currency":    "USDC",
	})
}

func (s *Server) walletInfoHandler(c *gin.Context) {
	ctx := c.Request.Context()

	balance, err := s.wallet.Balance(ctx)
	if err != nil {
		logging.L(ctx).Error("failed to get balance", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "balance_error",
			"message": "Failed to retrieve wallet balance",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"address":  s.wallet.Address(),
		"balance":  balance,
		"currency": "USDC",
		"chain":    "base-sepolia",
		"chain_id": s.cfg.ChainID,
		"deposit":  "Send USDC to this address, then POST /v1/deposits with the tx hash to credit your balance.",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      120 * time.Second, // MCP streaming responses can be slow
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"wallet", s.wallet.Address(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start payment expiry timer
	go s.paymentTimer.Start(runCtx)

	// DB pool stats for the dashboard
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

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

	// Cancel the context for all background goroutines
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.paymentTimer.Stop()
	s.logger.Info("payment timer stopped")

	if s.shutdownTr != nil {
		if err := s.shutdownTr(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	if err := s.wallet.Close(); err != nil {
		s.logger.Error("wallet close error", "error", err)
	}

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

// Sessions returns the session manager for embedding (stdio MCP serving)
func (s *Server) Sessions() *sessions.Manager {
	return s.sessionMgr
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

// walletSettler adapts wallet.WalletService to payments.Settler
type walletSettler struct {
	w wallet.WalletService
}

func (a *walletSettler) Transfer(ctx context.Context, to, amount string) (string, error) {
	raw, ok := usdc.Parse(amount)
	if !ok || raw.Sign() <= 0 {
		return "", wallet.ErrInvalidAmount
	}
	if !common.IsHexAddress(to) {
		return "", wallet.ErrInvalidAddress
	}
	result, err := a.w.Transfer(ctx, common.HexToAddress(to), raw)
	if err != nil {
		return "", err
	}
	return result.TxHash, nil
}

func (a *walletSettler) WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) error {
	_, err := a.w.WaitForConfirmation(ctx, txHash, timeout)
	return err
}

var _ payments.Settler = (*walletSettler)(nil)
