package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string   `mapstructure:"PORT"`
	Env                   string   `mapstructure:"ENV"`
	DatabaseURL           string   `mapstructure:"DATABASE_URL"`
	DBMaxConns            int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns            int32    `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins           []string `mapstructure:"CORS_ORIGINS"`
	DispatchDelayMs       int      `mapstructure:"DISPATCH_DELAY_MS"`
	StatusCheckIntervalMs int      `mapstructure:"STATUS_CHECK_INTERVAL_MS"`
	BackoffCapMs          int      `mapstructure:"BACKOFF_CAP_MS"`
	SweepIntervalMs       int      `mapstructure:"SWEEP_INTERVAL_MS"`
	RuleCacheMaxAgeMin    int      `mapstructure:"RULE_CACHE_MAX_AGE_MINUTES"`
	StaleClaimHours       int      `mapstructure:"STALE_CLAIM_HOURS"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("DISPATCH_DELAY_MS", 2000)
	v.SetDefault("STATUS_CHECK_INTERVAL_MS", 15000)
	v.SetDefault("BACKOFF_CAP_MS", 300000)
	v.SetDefault("SWEEP_INTERVAL_MS", 30000)
	v.SetDefault("RULE_CACHE_MAX_AGE_MINUTES", 60)
	v.SetDefault("STALE_CLAIM_HOURS", 24)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("DISPATCH_DELAY_MS")
	v.BindEnv("STATUS_CHECK_INTERVAL_MS")
	v.BindEnv("BACKOFF_CAP_MS")
	v.BindEnv("SWEEP_INTERVAL_MS")
	v.BindEnv("RULE_CACHE_MAX_AGE_MINUTES")
	v.BindEnv("STALE_CLAIM_HOURS")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// DispatchDelay is the deferral before sending a queued claim to a payer
// that does not support real-time submission.
func (c *Config) DispatchDelay() time.Duration {
	return time.Duration(c.DispatchDelayMs) * time.Millisecond
}

// StatusCheckInterval is the delay between payer status polls.
func (c *Config) StatusCheckInterval() time.Duration {
	return time.Duration(c.StatusCheckIntervalMs) * time.Millisecond
}

// BackoffCap bounds the exponential retry backoff.
func (c *Config) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMs) * time.Millisecond
}

// SweepInterval is the period of the pending-forward recovery sweep.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}

// RuleCacheMaxAge is the freshness window for cached adjudication results.
func (c *Config) RuleCacheMaxAge() time.Duration {
	return time.Duration(c.RuleCacheMaxAgeMin) * time.Minute
}

// StaleClaimWindow is how long a claim may sit in a non-terminal status
// before it is reported as needing attention.
func (c *Config) StaleClaimWindow() time.Duration {
	return time.Duration(c.StaleClaimHours) * time.Hour
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if c.StatusCheckIntervalMs <= 0 {
		return fmt.Errorf("STATUS_CHECK_INTERVAL_MS must be positive, got %d", c.StatusCheckIntervalMs)
	}
	if c.SweepIntervalMs <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL_MS must be positive, got %d", c.SweepIntervalMs)
	}
	if c.BackoffCapMs <= 0 {
		return fmt.Errorf("BACKOFF_CAP_MS must be positive, got %d", c.BackoffCapMs)
	}
	if c.StaleClaimHours <= 0 {
		return fmt.Errorf("STALE_CLAIM_HOURS must be positive, got %d", c.StaleClaimHours)
	}
	return nil
}
