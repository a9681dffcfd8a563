// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/mbd888/swapgate/internal/authz"
	"github.com/mbd888/swapgate/internal/fee"
	"github.com/mbd888/swapgate/internal/sanctions"
	"github.com/mbd888/swapgate/internal/security"
	"github.com/mbd888/swapgate/internal/usdc"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port        string
	Env         string // "development", "staging", "production"
	LogLevel    string
	LogFormat   string // "json" or "text"
	CORSOrigins []string

	// Storage (both optional; in-memory stores are used when unset)
	DatabaseURL string
	RedisURL    string // spend ledger only

	// Chain
	RPCURL  string // empty uses a static reader that reports empty accounts
	ChainID int64

	// Signing key: either a raw hex key or an encrypted keystore file
	SigningKey              string
	SigningKeystore         string
	SigningKeystorePassword string
	SigningTimeout          time.Duration

	// Settlement
	ExecutorAddress string
	TreasuryAddress string
	FeeRateBps      int
	TokenPrice      string // fallback USDC price of one token
	TokenInventory  string // tokens available to the in-process vault
	PriceURL        string

	// Risk and issuance
	ApprovalCutoff   int
	DeadlineWindow   time.Duration
	MinSwapAmount    string
	TelemetryTimeout time.Duration

	// Sanctions
	SanctionsURL             string
	SanctionsTimeout         time.Duration
	SanctionsPolicy          string // required: fail_open or fail_closed
	SanctionsList            []string
	SanctionsListURL         string
	SanctionsRefreshInterval time.Duration

	// Security
	AdminSecret       string
	ReceiptHMACSecret string
	RateLimitRPM      int

	// Tracing
	OTLPEndpoint     string
	TraceSampleRatio float64
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultChainID          = 84532 // Base Sepolia
	DefaultTokenPrice       = "0.50"
	DefaultTokenInventory   = "10000000"
	DefaultMinSwapAmount    = "1"
	DefaultRateLimit        = 120
	DefaultSanctionsTimeout = 2 * time.Second
	DefaultListRefresh      = 15 * time.Minute
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                     getEnv("PORT", DefaultPort),
		Env:                      getEnv("ENV", DefaultEnv),
		LogLevel:                 getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:                getEnv("LOG_FORMAT", DefaultLogFormat),
		CORSOrigins:              getEnvList("CORS_ORIGINS"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisURL:                 os.Getenv("REDIS_URL"),
		RPCURL:                   os.Getenv("RPC_URL"),
		ChainID:                  getEnvInt64("CHAIN_ID", DefaultChainID),
		SigningKey:               os.Getenv("SIGNING_KEY"),
		SigningKeystore:          os.Getenv("SIGNING_KEYSTORE"),
		SigningKeystorePassword:  os.Getenv("SIGNING_KEYSTORE_PASSWORD"),
		SigningTimeout:           getEnvDuration("SIGNING_TIMEOUT", authz.DefaultSigningTimeout),
		ExecutorAddress:          os.Getenv("EXECUTOR_ADDRESS"),
		TreasuryAddress:          os.Getenv("TREASURY_ADDRESS"),
		FeeRateBps:               int(getEnvInt64("FEE_RATE_BPS", fee.DefaultRateBps)),
		TokenPrice:               getEnv("TOKEN_PRICE", DefaultTokenPrice),
		TokenInventory:           getEnv("TOKEN_INVENTORY", DefaultTokenInventory),
		PriceURL:                 os.Getenv("PRICE_URL"),
		ApprovalCutoff:           int(getEnvInt64("APPROVAL_CUTOFF", 50)),
		DeadlineWindow:           getEnvDuration("DEADLINE_WINDOW", authz.DefaultDeadlineWindow),
		MinSwapAmount:            getEnv("MIN_SWAP_AMOUNT", DefaultMinSwapAmount),
		TelemetryTimeout:         getEnvDuration("TELEMETRY_TIMEOUT", 3*time.Second),
		SanctionsURL:             os.Getenv("SANCTIONS_URL"),
		SanctionsTimeout:         getEnvDuration("SANCTIONS_TIMEOUT", DefaultSanctionsTimeout),
		SanctionsPolicy:          os.Getenv("SANCTIONS_POLICY"),
		SanctionsList:            getEnvList("SANCTIONS_LIST"),
		SanctionsListURL:         os.Getenv("SANCTIONS_LIST_URL"),
		SanctionsRefreshInterval: getEnvDuration("SANCTIONS_REFRESH_INTERVAL", DefaultListRefresh),
		AdminSecret:              os.Getenv("ADMIN_SECRET"),
		ReceiptHMACSecret:        os.Getenv("RECEIPT_HMAC_SECRET"),
		RateLimitRPM:             int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:             os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TraceSampleRatio:         getEnvFloat("OTEL_TRACES_SAMPLER_ARG", 1),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	// The sanctions policy is a deliberate deployment decision; no default.
	if c.SanctionsPolicy == "" {
		return fmt.Errorf("SANCTIONS_POLICY is required (fail_open or fail_closed)")
	}
	if _, err := sanctions.ParsePolicy(c.SanctionsPolicy); err != nil {
		return fmt.Errorf("SANCTIONS_POLICY: %w", err)
	}

	if c.SigningKey != "" && c.SigningKeystore != "" {
		return fmt.Errorf("set only one of SIGNING_KEY and SIGNING_KEYSTORE")
	}
	if c.SigningKey != "" {
		key := strings.TrimPrefix(c.SigningKey, "0x")
		if len(key) != 64 {
			return fmt.Errorf("SIGNING_KEY must be 64 hex characters (with or without 0x prefix)")
		}
	}
	if c.SigningKeystore != "" && c.SigningKeystorePassword == "" {
		return fmt.Errorf("SIGNING_KEYSTORE_PASSWORD is required with SIGNING_KEYSTORE")
	}
	if c.IsProduction() && c.SigningKey == "" && c.SigningKeystore == "" {
		return fmt.Errorf("SIGNING_KEY or SIGNING_KEYSTORE is required in production")
	}
	if c.SigningTimeout <= 0 {
		return fmt.Errorf("SIGNING_TIMEOUT must be positive")
	}

	if !common.IsHexAddress(c.ExecutorAddress) {
		return fmt.Errorf("EXECUTOR_ADDRESS is required and must be a 0x address")
	}
	if !common.IsHexAddress(c.TreasuryAddress) || common.HexToAddress(c.TreasuryAddress) == (common.Address{}) {
		return fmt.Errorf("TREASURY_ADDRESS is required and must be a non-zero 0x address")
	}
	if c.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive")
	}

	if err := fee.ValidateRate(c.FeeRateBps); err != nil {
		return fmt.Errorf("FEE_RATE_BPS: %w", err)
	}
	if c.ApprovalCutoff < 0 || c.ApprovalCutoff > 100 {
		return fmt.Errorf("APPROVAL_CUTOFF must be between 0 and 100")
	}
	if c.DeadlineWindow <= 0 || c.DeadlineWindow > authz.MaxDeadlineWindow {
		return fmt.Errorf("DEADLINE_WINDOW must be between 0 and %s", authz.MaxDeadlineWindow)
	}
	if _, ok := usdc.Parse(c.MinSwapAmount); !ok {
		return fmt.Errorf("MIN_SWAP_AMOUNT must be a decimal amount")
	}
	if c.SanctionsTimeout <= 0 || c.TelemetryTimeout <= 0 {
		return fmt.Errorf("SANCTIONS_TIMEOUT and TELEMETRY_TIMEOUT must be positive")
	}

	for name, u := range map[string]string{
		"SANCTIONS_URL":      c.SanctionsURL,
		"SANCTIONS_LIST_URL": c.SanctionsListURL,
		"PRICE_URL":          c.PriceURL,
	} {
		if u == "" {
			continue
		}
		if err := security.ValidateEndpointURL(u, c.IsProduction()); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.TraceSampleRatio < 0 || c.TraceSampleRatio > 1 {
		return fmt.Errorf("OTEL_TRACES_SAMPLER_ARG must be between 0 and 1")
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s", "5m").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
