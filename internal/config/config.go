package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string        `mapstructure:"PORT"`
	Env                    string        `mapstructure:"ENV"`
	SourceMode             string        `mapstructure:"SOURCE_MODE"`
	DatabaseURL            string        `mapstructure:"DATABASE_URL"`
	DBMaxConns             int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns             int32         `mapstructure:"DB_MIN_CONNS"`
	CORSOrigins            []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS           float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst         int           `mapstructure:"RATE_LIMIT_BURST"`
	ScanInterval           time.Duration `mapstructure:"SCAN_INTERVAL"`
	ScanWindowDays         int           `mapstructure:"SCAN_WINDOW_DAYS"`
	AutoMode               bool          `mapstructure:"AUTO_MODE"`
	AutoResolveThreshold   int           `mapstructure:"AUTO_RESOLVE_THRESHOLD"`
	AutoResolveConcurrency int           `mapstructure:"AUTO_RESOLVE_CONCURRENCY"`
	MaxApplyFailures       int           `mapstructure:"MAX_APPLY_FAILURES"`
	FetchTimeout           time.Duration `mapstructure:"FETCH_TIMEOUT"`
	ApplyTimeout           time.Duration `mapstructure:"APPLY_TIMEOUT"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("SOURCE_MODE", "") // auto-detect: "" -> inferred from DATABASE_URL
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("SCAN_INTERVAL", "30s")
	v.SetDefault("SCAN_WINDOW_DAYS", 14)
	v.SetDefault("AUTO_MODE", true)
	v.SetDefault("AUTO_RESOLVE_THRESHOLD", 80)
	v.SetDefault("AUTO_RESOLVE_CONCURRENCY", 4)
	v.SetDefault("MAX_APPLY_FAILURES", 3)
	v.SetDefault("FETCH_TIMEOUT", "10s")
	v.SetDefault("APPLY_TIMEOUT", "15s")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("SOURCE_MODE")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("SCAN_INTERVAL")
	v.BindEnv("SCAN_WINDOW_DAYS")
	v.BindEnv("AUTO_MODE")
	v.BindEnv("AUTO_RESOLVE_THRESHOLD")
	v.BindEnv("AUTO_RESOLVE_CONCURRENCY")
	v.BindEnv("MAX_APPLY_FAILURES")
	v.BindEnv("FETCH_TIMEOUT")
	v.BindEnv("APPLY_TIMEOUT")

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

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedSourceMode returns the effective appointment source mode. If
// SOURCE_MODE is explicitly set, it is returned. Otherwise the mode is
// inferred: DATABASE_URL set -> "postgres", unset -> "memory".
func (c *Config) ResolvedSourceMode() string {
	if c.SourceMode != "" {
		return c.SourceMode
	}
	if c.DatabaseURL != "" {
		return "postgres"
	}
	return "memory"
}

// Validate checks that the configuration is safe to run. The postgres source
// mode requires DATABASE_URL; the memory mode is refused in production since
// it holds no real calendar data.
func (c *Config) Validate() error {
	mode := c.ResolvedSourceMode()
	if mode != "postgres" && mode != "memory" {
		return fmt.Errorf("SOURCE_MODE must be \"postgres\" or \"memory\", got %q", mode)
	}
	if mode == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when SOURCE_MODE is \"postgres\"")
	}
	if mode == "memory" && c.IsProduction() {
		return fmt.Errorf("SOURCE_MODE \"memory\" is not allowed in production")
	}

	if c.ScanInterval <= 0 {
		return fmt.Errorf("SCAN_INTERVAL must be positive, got %s", c.ScanInterval)
	}
	if c.ScanWindowDays <= 0 {
		return fmt.Errorf("SCAN_WINDOW_DAYS must be positive, got %d", c.ScanWindowDays)
	}
	if c.AutoResolveThreshold < 0 || c.AutoResolveThreshold > 100 {
		return fmt.Errorf("AUTO_RESOLVE_THRESHOLD must be between 0 and 100, got %d", c.AutoResolveThreshold)
	}
	if c.AutoResolveConcurrency <= 0 {
		return fmt.Errorf("AUTO_RESOLVE_CONCURRENCY must be positive, got %d", c.AutoResolveConcurrency)
	}
	if c.MaxApplyFailures <= 0 {
		return fmt.Errorf("MAX_APPLY_FAILURES must be positive, got %d", c.MaxApplyFailures)
	}
	if c.FetchTimeout <= 0 || c.ApplyTimeout <= 0 {
		return fmt.Errorf("FETCH_TIMEOUT and APPLY_TIMEOUT must be positive")
	}
	return nil
}
