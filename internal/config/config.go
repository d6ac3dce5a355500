package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string        `mapstructure:"PORT"`
	Env         string        `mapstructure:"ENV"`
	AuthMode    string        `mapstructure:"AUTH_MODE"`
	DatabaseURL string        `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32         `mapstructure:"DB_MIN_CONNS"`
	LockTimeout time.Duration `mapstructure:"LOCK_TIMEOUT"`
	RedisURL    string        `mapstructure:"REDIS_URL"`

	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	DefaultTaxRate      string `mapstructure:"DEFAULT_TAX_RATE"`
	PaymentTermDays     int    `mapstructure:"PAYMENT_TERM_DAYS"`
	NumberingMaxRetries int    `mapstructure:"NUMBERING_MAX_RETRIES"`

	NotifyWebhookURL string        `mapstructure:"NOTIFY_WEBHOOK_URL"`
	NotifyTimeout    time.Duration `mapstructure:"NOTIFY_TIMEOUT"`
	NotifyRetries    int           `mapstructure:"NOTIFY_RETRIES"`

	PortalMaxAttempts   int           `mapstructure:"PORTAL_MAX_ATTEMPTS"`
	PortalAttemptWindow time.Duration `mapstructure:"PORTAL_ATTEMPT_WINDOW"`
}

var keys = []string{
	"PORT", "ENV", "AUTH_MODE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "LOCK_TIMEOUT", "REDIS_URL",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"DEFAULT_TAX_RATE", "PAYMENT_TERM_DAYS", "NUMBERING_MAX_RETRIES",
	"NOTIFY_WEBHOOK_URL", "NOTIFY_TIMEOUT", "NOTIFY_RETRIES",
	"PORTAL_MAX_ATTEMPTS", "PORTAL_ATTEMPT_WINDOW",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("AUTH_MODE", "") // "" -> inferred from ENV
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("LOCK_TIMEOUT", "5s")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("DEFAULT_TAX_RATE", "18.00")
	v.SetDefault("PAYMENT_TERM_DAYS", 30)
	v.SetDefault("NUMBERING_MAX_RETRIES", 5)
	v.SetDefault("NOTIFY_TIMEOUT", "5s")
	v.SetDefault("NOTIFY_RETRIES", 2)
	v.SetDefault("PORTAL_MAX_ATTEMPTS", 5)
	v.SetDefault("PORTAL_ATTEMPT_WINDOW", "15m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if origins := v.GetString("CORS_ORIGINS"); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set. Otherwise development
// environments use "development" (every request is a superuser) and all
// others use "jwt".
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return "development"
	}
	return "jwt"
}

// TaxRate parses DEFAULT_TAX_RATE.
func (c *Config) TaxRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.DefaultTaxRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("DEFAULT_TAX_RATE %q is not a number: %w", c.DefaultTaxRate, err)
	}
	return rate, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case "development":
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
		}
	case "jwt":
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes when AUTH_MODE is \"jwt\"")
		}
	default:
		return fmt.Errorf("AUTH_MODE must be \"development\" or \"jwt\", got %q", mode)
	}

	rate, err := c.TaxRate()
	if err != nil {
		return err
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) || !rate.Equal(rate.Round(2)) {
		return fmt.Errorf("DEFAULT_TAX_RATE must be between 0 and 100 with at most two decimals, got %s", c.DefaultTaxRate)
	}

	if c.PaymentTermDays < 0 {
		return fmt.Errorf("PAYMENT_TERM_DAYS must not be negative, got %d", c.PaymentTermDays)
	}
	if c.NumberingMaxRetries < 1 {
		return fmt.Errorf("NUMBERING_MAX_RETRIES must be at least 1, got %d", c.NumberingMaxRetries)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.PortalMaxAttempts < 1 {
		return fmt.Errorf("PORTAL_MAX_ATTEMPTS must be at least 1, got %d", c.PortalMaxAttempts)
	}
	if c.PortalAttemptWindow <= 0 {
		return fmt.Errorf("PORTAL_ATTEMPT_WINDOW must be positive")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	return nil
}
