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
	"math/big"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/mbd888/swapgate/internal/authz"
	"github.com/mbd888/swapgate/internal/circuitbreaker"
	"github.com/mbd888/swapgate/internal/config"
	"github.com/mbd888/swapgate/internal/fee"
	"github.com/mbd888/swapgate/internal/health"
	"github.com/mbd888/swapgate/internal/logging"
	"github.com/mbd888/swapgate/internal/metrics"
	"github.com/mbd888/swapgate/internal/quote"
	"github.com/mbd888/swapgate/internal/ratelimit"
	"github.com/mbd888/swapgate/internal/receipts"
	"github.com/mbd888/swapgate/internal/risk"
	"github.com/mbd888/swapgate/internal/sanctions"
	"github.com/mbd888/swapgate/internal/security"
	"github.com/mbd888/swapgate/internal/settlement"
	"github.com/mbd888/swapgate/internal/telemetry"
	"github.com/mbd888/swapgate/internal/usdc"
	"github.com/mbd888/swapgate/internal/validation"
)

// Version is reported by /health and /v1/info.
var Version = "dev"

const (
	priceCacheTTL      = 30 * time.Second
	statsInterval      = 15 * time.Second
	breakerThreshold   = 5
	breakerOpenTimeout = 30 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg *config.Config

	// Issuance side
	issuer    *authz.Issuer
	nonces    authz.NonceStore
	nonceTTL  *authz.Timer
	signer    authz.Signer // nil when no key is configured
	kyc       *telemetry.MemoryKYC
	chain     telemetry.ChainReader
	rpc       *ethclient.Client // nil unless RPC_URL is set
	blocklist *sanctions.List
	refresher *sanctions.Refresher
	screener  *sanctions.Screener

	// Settlement side
	fees     *fee.Schedule
	executor *settlement.Executor
	vault    *settlement.Vault
	receipts *receipts.Service

	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry
	db           *sql.DB       // nil if using in-memory
	redis        *redis.Client // nil unless REDIS_URL is set
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
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

// WithChain sets the chain reader used for telemetry (for testing)
func WithChain(chain telemetry.ChainReader) Option {
	return func(s *Server) {
		s.chain = chain
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
		checks: health.NewRegistry(),
		kyc:    telemetry.NewMemoryKYC(),
	}

	// Apply options first (may set chain/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	executorAddr := common.HexToAddress(cfg.ExecutorAddress)
	treasury := common.HexToAddress(cfg.TreasuryAddress)
	chainID := big.NewInt(cfg.ChainID)

	minSwap, ok := usdc.Parse(cfg.MinSwapAmount)
	if !ok {
		return nil, fmt.Errorf("invalid MIN_SWAP_AMOUNT %q", cfg.MinSwapAmount)
	}
	price, err := decimal.NewFromString(cfg.TokenPrice)
	if err != nil || !price.IsPositive() {
		return nil, fmt.Errorf("invalid TOKEN_PRICE %q", cfg.TokenPrice)
	}
	inventory, err := decimal.NewFromString(cfg.TokenInventory)
	if err != nil || inventory.IsNegative() {
		return nil, fmt.Errorf("invalid TOKEN_INVENTORY %q", cfg.TokenInventory)
	}

	s.fees, err = fee.NewSchedule(cfg.FeeRateBps)
	if err != nil {
		return nil, fmt.Errorf("fee schedule: %w", err)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		assessments  risk.Store
		receiptStore receipts.Store
		spends       settlement.SpendStore
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		riskStore := risk.NewPostgresStore(db)
		if err := riskStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate assessment store", "error", err)
		}
		assessments = riskStore

		nonceStore := authz.NewPostgresStore(db)
		if err := nonceStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate nonce store", "error", err)
		}
		s.nonces = nonceStore

		pgReceipts := receipts.NewPostgresStore(db)
		if err := pgReceipts.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate receipt store", "error", err)
		}
		receiptStore = pgReceipts

		pgSpends := settlement.NewPostgresSpendStore(db)
		if err := pgSpends.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate spend store", "error", err)
		}
		spends = pgSpends

		s.checks.Register("postgres", health.FromError("postgres", db.PingContext))
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		assessments = risk.NewMemoryStore()
		s.nonces = authz.NewMemoryStore()
		receiptStore = receipts.NewMemoryStore()
		spends = settlement.NewMemorySpendStore()
	}

	// A Redis spend ledger takes precedence so several executors share it.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		s.redis = redis.NewClient(opt)
		if err := s.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		spends = settlement.NewRedisSpendStore(s.redis)
		s.checks.Register("redis", health.FromError("redis", func(ctx context.Context) error {
			return s.redis.Ping(ctx).Err()
		}))
		s.logger.Info("using Redis spend ledger", "addr", opt.Addr)
	}

	// Chain reader for telemetry
	if s.chain == nil {
		if cfg.RPCURL != "" {
			client, err := ethclient.DialContext(ctx, cfg.RPCURL)
			if err != nil {
				return nil, fmt.Errorf("failed to dial RPC: %w", err)
			}
			s.rpc = client
			s.chain = client
			s.checks.Register("rpc", health.FromError("rpc", func(ctx context.Context) error {
				_, err := client.BlockNumber(ctx)
				return err
			}))
			if remote, err := client.ChainID(ctx); err == nil && remote.Cmp(chainID) != 0 {
				s.logger.Warn("RPC chain id differs from CHAIN_ID", "rpc", remote, "configured", cfg.ChainID)
			}
		} else {
			s.logger.Warn("no RPC_URL set, telemetry reads a static empty chain")
			s.chain = telemetry.NewStaticChain()
		}
	}
	collector := telemetry.NewCollector(s.chain, s.kyc, telemetry.WithTimeout(cfg.TelemetryTimeout))

	// Sanctions screening: static list, refreshed list and remote service
	if err := s.setupSanctions(); err != nil {
		return nil, err
	}

	// Signing key
	signer, err := s.loadSigner()
	if err != nil {
		return nil, err
	}
	var issuerAddr common.Address
	if signer != nil {
		s.signer = signer
		issuerAddr = signer.Address()
		s.logger.Info("issuer signing key loaded", "issuer", issuerAddr.Hex())
	} else {
		s.logger.Warn("no signing key configured, approved requests will fail with signing_unavailable")
	}
	s.checks.Register("signer", func(context.Context) health.Status {
		if s.signer == nil {
			return health.Status{Name: "signer", Healthy: false, Detail: "no signing key"}
		}
		return health.Status{Name: "signer", Healthy: true}
	})

	s.issuer = authz.NewIssuer(authz.Config{
		ChainID:        chainID,
		Executor:       executorAddr,
		DeadlineWindow: cfg.DeadlineWindow,
		SigningTimeout: cfg.SigningTimeout,
		MinSwapAmount:  minSwap,
	}, s.screener, collector, risk.NewScorer(cfg.ApprovalCutoff), assessments, s.fees, s.nonces, s.signer)

	// Settlement
	var prices quote.Source = quote.Static(price)
	if cfg.PriceURL != "" {
		prices = quote.NewOracle(cfg.PriceURL, price, priceCacheTTL)
		s.logger.Info("price oracle enabled", "url", cfg.PriceURL)
	}
	s.vault = settlement.NewVault(inventory)
	s.receipts = receipts.NewService(receiptStore, receipts.NewSigner(cfg.ReceiptHMACSecret))
	if cfg.ReceiptHMACSecret == "" {
		s.logger.Warn("RECEIPT_HMAC_SECRET not set, receipts are stored unsigned")
	}
	s.executor = settlement.NewExecutor(settlement.Config{
		ChainID:  chainID,
		Address:  executorAddr,
		Issuer:   issuerAddr,
		Treasury: treasury,
	}, s.fees, spends, s.vault, prices, s.receipts).OnSpent(s.markIssuedSpent)

	s.nonceTTL = authz.NewTimer(s.nonces, s.executor, s.logger)

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

// setupSanctions builds the screener. The static SANCTIONS_LIST and the
// refreshed SANCTIONS_LIST_URL share one in-memory list; SANCTIONS_URL adds a
// remote service behind a circuit breaker.
func (s *Server) setupSanctions() error {
	policy, err := sanctions.ParsePolicy(s.cfg.SanctionsPolicy)
	if err != nil {
		return fmt.Errorf("SANCTIONS_POLICY: %w", err)
	}

	s.blocklist = sanctions.NewList(s.cfg.SanctionsList...)
	chain := sanctions.Chain{s.blocklist}
	if s.cfg.SanctionsListURL != "" {
		s.refresher = sanctions.NewRefresher(s.blocklist, s.cfg.SanctionsListURL, s.cfg.SanctionsRefreshInterval, s.logger)
	}
	if s.cfg.SanctionsURL != "" {
		breaker := circuitbreaker.New(breakerThreshold, breakerOpenTimeout)
		chain = append(chain, sanctions.NewHTTPChecker(s.cfg.SanctionsURL, breaker))
		s.logger.Info("remote sanctions screening enabled", "url", s.cfg.SanctionsURL)
	}

	s.screener, err = sanctions.NewScreener(chain, s.cfg.SanctionsTimeout, policy)
	if err != nil {
		return fmt.Errorf("sanctions screener: %w", err)
	}
	s.logger.Info("sanctions screening configured",
		"policy", policy,
		"static_entries", s.blocklist.Len(),
	)
	return nil
}

// loadSigner returns the configured issuer key. In development with no key
// configured an ephemeral key is generated.
func (s *Server) loadSigner() (*authz.KeySigner, error) {
	switch {
	case s.cfg.SigningKey != "":
		signer, err := authz.KeySignerFromHex(s.cfg.SigningKey)
		if err != nil {
			return nil, fmt.Errorf("SIGNING_KEY: %w", err)
		}
		return signer, nil
	case s.cfg.SigningKeystore != "":
		signer, err := authz.KeySignerFromKeystore(s.cfg.SigningKeystore, s.cfg.SigningKeystorePassword)
		if err != nil {
			return nil, fmt.Errorf("SIGNING_KEYSTORE: %w", err)
		}
		return signer, nil
	case s.cfg.IsDevelopment():
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate ephemeral key: %w", err)
		}
		s.logger.Warn("using an ephemeral signing key; authorizations will not verify after a restart")
		return authz.NewKeySigner(key), nil
	default:
		return nil, nil
	}
}

// markIssuedSpent records a settled nonce on the issuance ledger.
func (s *Server) markIssuedSpent(ctx context.Context, nonce string) {
	err := s.nonces.Finalize(ctx, nonce, authz.StatusSpent)
	if err != nil && !errors.Is(err, authz.ErrNonceNotFound) {
		logging.L(ctx).Warn("failed to mark nonce spent", "nonce", nonce, "error", err)
	}
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

	// CORS
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(security.CORSMiddleware(origins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	if s.cfg.RateLimitRPM > 0 {
		rl := ratelimit.DefaultConfig()
		rl.RequestsPerMinute = s.cfg.RateLimitRPM
		rl.BurstSize = max(rl.BurstSize, s.cfg.RateLimitRPM/4)
		s.rateLimiter = ratelimit.New(rl)
		s.router.Use(s.rateLimiter.Middleware(ratelimit.ByClientIP))
	}

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
		if requestID == "" || len(requestID) > 128 {
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

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	v1.GET("/info", s.infoHandler)

	authz.NewHandler(s.issuer, s.nonces, s.executor).RegisterRoutes(v1)

	settlementHandler := settlement.NewHandler(s.executor)
	settlementHandler.RegisterRoutes(v1)

	receipts.NewHandler(s.receipts).RegisterRoutes(v1)

	feeHandler := fee.NewHandler(s.fees)
	feeHandler.RegisterRoutes(v1)

	// Operator routes
	admin := v1.Group("/admin")
	admin.Use(security.RequireAdmin(s.cfg.AdminSecret))
	feeHandler.RegisterAdminRoutes(admin)
	settlementHandler.RegisterAdminRoutes(admin)
	telemetry.NewHandler(s.kyc).RegisterAdminRoutes(admin)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.checks.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
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

// infoHandler returns what a client needs to verify authorizations locally.
func (s *Server) infoHandler(c *gin.Context) {
	issuer := ""
	if s.signer != nil {
		issuer = strings.ToLower(s.signer.Address().Hex())
	}
	c.JSON(http.StatusOK, gin.H{
		"name":       "swapgate",
		"version":    Version,
		"chainId":    s.cfg.ChainID,
		"executor":   strings.ToLower(common.HexToAddress(s.cfg.ExecutorAddress).Hex()),
		"issuer":     issuer,
		"domainTag":  authz.DomainTag,
		"feeRateBps": s.fees.Rate(),
		"minSwap":    s.cfg.MinSwapAmount,
	})
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
			"executor", s.cfg.ExecutorAddress,
			"chain_id", s.cfg.ChainID,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start nonce expiry timer
	go s.nonceTTL.Start(runCtx)

	// Start sanctions list refresher
	if s.refresher != nil {
		go s.refresher.Start(runCtx)
	}

	// Start runtime stats collector
	go metrics.StartStatsCollector(runCtx, s.db, statsInterval, s.sampleGauges)

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

func (s *Server) sampleGauges() {
	metrics.VaultInventory.Set(s.vault.Inventory().InexactFloat64())
	metrics.SanctionsListSize.Set(float64(s.blocklist.Len()))
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (timers, refresher)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.nonceTTL.Stop()
	s.logger.Info("nonce expiry timer stopped")

	if s.refresher != nil {
		s.refresher.Stop()
		s.logger.Info("sanctions refresher stopped")
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.rpc != nil {
		s.rpc.Close()
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
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
