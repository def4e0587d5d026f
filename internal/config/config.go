// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/sein12/BlockSmith-2025-XRPL-Hackathon/internal/iou"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Ledger
	RPCURL         string
	FaucetURL      string // Test networks only; empty disables wallet bootstrap
	ConfirmTimeout time.Duration

	// Wallets. Seeds are secrets and are never logged.
	OwnerAddress  string
	OwnerSeed     string
	IssuerAddress string
	IssuerSeed    string
	ClientAddress string
	ClientSeed    string
	WalletKeyFile string // dotenv file holding generated seeds

	// Token
	Currency             string
	TrustLimit           string
	RequireAuth          bool
	AutoFund             bool
	StartupOwnerBalance  string
	StartupClientBalance string
	ProvisionOnStart     bool

	// Escrow lifecycle
	EscrowCancelAfter time.Duration
	ReconcileInterval time.Duration
	SessionTTL        time.Duration

	// Security
	RateLimitRPM   int // requests per client per minute
	AllowedOrigins []string

	// Observability
	OTLPEndpoint string
}

// Testnet defaults
const (
	DefaultRPCURL               = "https://s.altnet.rippletest.net:51234"
	DefaultFaucetURL            = "https://faucet.altnet.rippletest.net"
	DefaultPort                 = "8080"
	DefaultEnv                  = "development"
	DefaultLogLevel             = "info"
	DefaultCurrency             = "KRW"
	DefaultTrustLimit           = "1000000000"
	DefaultStartupOwnerBalance  = "1000"
	DefaultStartupClientBalance = "0"
	DefaultWalletKeyFile        = ".wallets.env"
	DefaultRateLimit            = 120

	DefaultConfirmTimeout    = 60 * time.Second
	DefaultEscrowCancelAfter = time.Hour
	DefaultReconcileInterval = time.Minute
	DefaultSessionTTL        = 24 * time.Hour
)

var (
	standardCurrency = regexp.MustCompile(`^[A-Za-z0-9?!@#$%^&*<>(){}\[\]|]{3}$`)
	hexCurrency      = regexp.MustCompile(`^[0-9A-Fa-f]{40}$`)
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:            os.Getenv("LOG_FORMAT"),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:               getEnv("XRPL_RPC_URL", DefaultRPCURL),
		FaucetURL:            getEnv("XRPL_FAUCET_URL", DefaultFaucetURL),
		ConfirmTimeout:       getEnvDuration("LEDGER_CONFIRM_TIMEOUT", DefaultConfirmTimeout),
		OwnerAddress:         os.Getenv("OWNER_ADDRESS"),
		OwnerSeed:            os.Getenv("OWNER_SEED"),
		IssuerAddress:        os.Getenv("ISSUER_ADDRESS"),
		IssuerSeed:           os.Getenv("ISSUER_SEED"),
		ClientAddress:        os.Getenv("CLIENT_ADDRESS"),
		ClientSeed:           os.Getenv("CLIENT_SEED"),
		WalletKeyFile:        getEnv("WALLET_KEYFILE", DefaultWalletKeyFile),
		Currency:             getEnv("IOU_CURRENCY", DefaultCurrency),
		TrustLimit:           getEnv("IOU_TRUST_LIMIT", DefaultTrustLimit),
		RequireAuth:          getEnvBool("IOU_REQUIRE_AUTH", false),
		AutoFund:             getEnvBool("IOU_AUTO_FUND", true),
		StartupOwnerBalance:  getEnv("STARTUP_OWNER_BALANCE", DefaultStartupOwnerBalance),
		StartupClientBalance: getEnv("STARTUP_CLIENT_BALANCE", DefaultStartupClientBalance),
		ProvisionOnStart:     getEnvBool("PROVISION_ON_START", true),
		EscrowCancelAfter:    getEnvDuration("ESCROW_CANCEL_AFTER", DefaultEscrowCancelAfter),
		ReconcileInterval:    getEnvDuration("RECONCILE_INTERVAL", DefaultReconcileInterval),
		SessionTTL:           getEnvDuration("SESSION_TTL", DefaultSessionTTL),
		RateLimitRPM:         int(getEnvInt64("RATE_LIMIT_PER_MINUTE", int64(DefaultRateLimit))),
		AllowedOrigins:       getEnvList("CORS_ALLOWED_ORIGINS"),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("XRPL_RPC_URL is required")
	}

	if !standardCurrency.MatchString(c.Currency) || strings.EqualFold(c.Currency, "XRP") {
		if !hexCurrency.MatchString(c.Currency) {
			return fmt.Errorf("IOU_CURRENCY must be a 3-character code other than XRP or 40 hex characters")
		}
	}

	if _, err := iou.ParsePositive(c.TrustLimit); err != nil {
		return fmt.Errorf("IOU_TRUST_LIMIT must be a positive decimal: %w", err)
	}
	for key, v := range map[string]string{
		"STARTUP_OWNER_BALANCE":  c.StartupOwnerBalance,
		"STARTUP_CLIENT_BALANCE": c.StartupClientBalance,
	} {
		a, err := iou.Parse(v)
		if err != nil || a.Sign() < 0 {
			return fmt.Errorf("%s must be a non-negative decimal", key)
		}
	}

	if c.EscrowCancelAfter <= 0 {
		return fmt.Errorf("ESCROW_CANCEL_AFTER must be positive")
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("LEDGER_CONFIRM_TIMEOUT must be positive")
	}

	// Wallet bootstrap through a faucet is a test-network convenience.
	if c.IsProduction() {
		if c.OwnerSeed == "" || c.IssuerSeed == "" {
			return fmt.Errorf("OWNER_SEED and ISSUER_SEED are required in production")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		// Bare integers are seconds.
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
