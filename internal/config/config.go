// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/toolgate-io/toolgate/internal/usdc"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Blockchain settings
	RPCURL       string
	ChainID      int64
	PrivateKey   string // Hex-encoded, no 0x prefix
	USDCContract string

	// Payment settings
	MinPayment     string        // Lowest price a tool may be given, in USDC
	MaxPayment     string        // Highest price a tool may be given, in USDC
	PendingTTL     time.Duration // How long a pending payment stays claimable
	ConfirmTimeout time.Duration // Max wait for on-chain settlement confirmation

	// Security
	AdminSecret string // Admin API secret

	// Observability
	OTLPEndpoint string // OTLP trace collector (optional)
}

// Base Sepolia defaults
const (
	DefaultRPCURL         = "https://sepolia.base.org"
	DefaultChainID        = 84532                                        // Base Sepolia
	DefaultUSDCContract   = "0x036CbD53842c5426634e7929541eC2318f3dCF7e" // Base Sepolia USDC
	DefaultPort           = "8080"
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultMinPayment     = "0.000100"
	DefaultMaxPayment     = "1000.000000"
	DefaultPendingTTL     = 15 * time.Minute
	DefaultConfirmTimeout = 90 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:    os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:         getEnv("RPC_URL", DefaultRPCURL),
		ChainID:        getEnvInt64("CHAIN_ID", DefaultChainID),
		PrivateKey:     os.Getenv("PRIVATE_KEY"), // Required, no default
		USDCContract:   getEnv("USDC_CONTRACT", DefaultUSDCContract),
		MinPayment:     getEnv("MIN_PAYMENT", DefaultMinPayment),
		MaxPayment:     getEnv("MAX_PAYMENT", DefaultMaxPayment),
		PendingTTL:     getEnvDuration("PENDING_TTL", DefaultPendingTTL),
		ConfirmTimeout: getEnvDuration("CONFIRM_TIMEOUT", DefaultConfirmTimeout),
		AdminSecret:    os.Getenv("ADMIN_SECRET"),
		OTLPEndpoint:   os.Getenv("OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}

	// Allow both with and without 0x prefix
	key := c.PrivateKey
	if len(key) == 66 && key[:2] == "0x" {
		key = key[2:]
	}
	if len(key) != 64 {
		return fmt.Errorf("PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	minPay, okMin := usdc.Parse(c.MinPayment)
	if !okMin || minPay.Sign() <= 0 {
		return fmt.Errorf("MIN_PAYMENT must be a positive USDC amount")
	}
	if maxPay, ok := usdc.Parse(c.MaxPayment); !ok || maxPay.Cmp(minPay) < 0 {
		return fmt.Errorf("MAX_PAYMENT must be at least MIN_PAYMENT")
	}

	if c.PendingTTL <= 0 {
		return fmt.Errorf("PENDING_TTL must be positive")
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("CONFIRM_TIMEOUT must be positive")
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

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
