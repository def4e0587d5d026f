package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Env:                  "development",
		RPCURL:               DefaultRPCURL,
		ConfirmTimeout:       DefaultConfirmTimeout,
		Currency:             "KRW",
		TrustLimit:           DefaultTrustLimit,
		StartupOwnerBalance:  "1000",
		StartupClientBalance: "0",
		EscrowCancelAfter:    time.Hour,
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("PORT", "9090")
	t.Setenv("IOU_CURRENCY", "")
	t.Setenv("ESCROW_CANCEL_AFTER", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.Equal(t, DefaultCurrency, cfg.Currency)
	assert.Equal(t, DefaultEscrowCancelAfter, cfg.EscrowCancelAfter)
	assert.Equal(t, DefaultConfirmTimeout, cfg.ConfirmTimeout)
	assert.True(t, cfg.AutoFund)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ENV", "staging")
	t.Setenv("IOU_CURRENCY", "USD")
	t.Setenv("IOU_REQUIRE_AUTH", "true")
	t.Setenv("IOU_AUTO_FUND", "false")
	t.Setenv("ESCROW_CANCEL_AFTER", "90m")
	t.Setenv("RECONCILE_INTERVAL", "30")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "USD", cfg.Currency)
	assert.True(t, cfg.RequireAuth)
	assert.False(t, cfg.AutoFund)
	assert.Equal(t, 90*time.Minute, cfg.EscrowCancelAfter)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoad_ProductionRequiresSeeds(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("OWNER_SEED", "")

	_, err := Load()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "OWNER_SEED and ISSUER_SEED are required")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: "",
		},
		{
			name:    "missing RPC URL",
			mutate:  func(c *Config) { c.RPCURL = "" },
			wantErr: "XRPL_RPC_URL is required",
		},
		{
			name:    "XRP is not an issued currency",
			mutate:  func(c *Config) { c.Currency = "XRP" },
			wantErr: "IOU_CURRENCY",
		},
		{
			name:    "four letter code",
			mutate:  func(c *Config) { c.Currency = "KRWX" },
			wantErr: "IOU_CURRENCY",
		},
		{
			name:    "hex currency",
			mutate:  func(c *Config) { c.Currency = "0158415500000000C1F76FF6ECB0BAC600000000" },
			wantErr: "",
		},
		{
			name:    "zero trust limit",
			mutate:  func(c *Config) { c.TrustLimit = "0" },
			wantErr: "IOU_TRUST_LIMIT",
		},
		{
			name:    "negative startup balance",
			mutate:  func(c *Config) { c.StartupOwnerBalance = "-5" },
			wantErr: "STARTUP_OWNER_BALANCE",
		},
		{
			name:    "zero cancel-after",
			mutate:  func(c *Config) { c.EscrowCancelAfter = 0 },
			wantErr: "ESCROW_CANCEL_AFTER",
		},
		{
			name: "production without database",
			mutate: func(c *Config) {
				c.Env = "production"
				c.OwnerSeed = "sOwner"
				c.IssuerSeed = "sIssuer"
			},
			wantErr: "DATABASE_URL is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{Env: "development"}
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.IsProduction())

	cfg.Env = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsProduction())
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "custom_value")

	assert.Equal(t, "custom_value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default", getEnv("NONEXISTENT_VAR", "default"))
}

func TestGetEnvInt64(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INVALID", "not_a_number")

	assert.Equal(t, int64(42), getEnvInt64("TEST_INT", 0))
	assert.Equal(t, int64(99), getEnvInt64("NONEXISTENT_VAR", 99))
	assert.Equal(t, int64(99), getEnvInt64("TEST_INVALID", 99)) // Falls back on parse error
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "2m")
	t.Setenv("TEST_SECS", "45")
	t.Setenv("TEST_BAD_DUR", "soon")

	assert.Equal(t, 2*time.Minute, getEnvDuration("TEST_DUR", 0))
	assert.Equal(t, 45*time.Second, getEnvDuration("TEST_SECS", 0))
	assert.Equal(t, time.Hour, getEnvDuration("TEST_BAD_DUR", time.Hour))
}
