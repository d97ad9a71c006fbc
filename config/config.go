// Package config centralises runtime configuration for the MarketLens pipeline.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment identifies the runtime environment where MarketLens operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// CacheSettings sizes the in-memory TTL store.
type CacheSettings struct {
	// DefaultTTL applies to cache entries stored without an explicit TTL.
	DefaultTTL time.Duration `yaml:"defaultTTL"`
	// MeasuredTTL applies to fully-measured aggregations, which are more
	// expensive to recompute and safe to keep longer.
	MeasuredTTL time.Duration `yaml:"measuredTTL"`
	// SweepInterval paces the background expiry sweep.
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// ProviderSettings bounds observation source queries.
type ProviderSettings struct {
	// QueryTimeout caps a single provider query, after which the cascade
	// degrades to a lower tier instead of failing the request.
	QueryTimeout time.Duration `yaml:"queryTimeout"`
	// OverallTimeout caps a whole position computation; expiry yields a
	// Baseline result, never an error.
	OverallTimeout time.Duration `yaml:"overallTimeout"`
	// MaxRetries bounds retry attempts per provider query.
	MaxRetries uint `yaml:"maxRetries"`
	// RatePerSecond throttles provider queries; zero disables throttling.
	RatePerSecond float64 `yaml:"ratePerSecond"`
	// RateBurst is the throttle burst allowance.
	RateBurst int `yaml:"rateBurst"`
}

// BaselineEntry is the static reference point served for a subject when no
// observation data resolves inside the window.
type BaselineEntry struct {
	ReferencePrice string `yaml:"referencePrice"`
	SharePercent   string `yaml:"sharePercent"`
}

// WindowSettings bounds query windows.
type WindowSettings struct {
	// MaxDays rejects windows wider than this; zero disables the bound.
	MaxDays int `yaml:"maxDays"`
	// DefaultDays fills in a window when an operator command omits one.
	DefaultDays int `yaml:"defaultDays"`
}

// DatabaseSettings locates the observation store.
type DatabaseSettings struct {
	DSN string `yaml:"dsn"`
}

// TelemetryConfig points metric and trace export at an OTLP endpoint.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings contains the MarketLens configuration tree loaded from defaults and overrides.
type Settings struct {
	Environment Environment              `yaml:"environment"`
	Cache       CacheSettings            `yaml:"cache"`
	Window      WindowSettings           `yaml:"window"`
	Provider    ProviderSettings         `yaml:"provider"`
	Baselines   map[string]BaselineEntry `yaml:"baselines"`
	Database    DatabaseSettings         `yaml:"database"`
	Telemetry   TelemetryConfig          `yaml:"telemetry"`
}

// Default returns the default MarketLens configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Cache: CacheSettings{
			DefaultTTL:    30 * time.Minute,
			MeasuredTTL:   60 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Window: WindowSettings{
			MaxDays:     365,
			DefaultDays: 30,
		},
		Provider: ProviderSettings{
			QueryTimeout:   5 * time.Second,
			OverallTimeout: 15 * time.Second,
			MaxRetries:     2,
			RatePerSecond:  0,
			RateBurst:      1,
		},
		Baselines: map[string]BaselineEntry{},
		Database:  DatabaseSettings{DSN: ""},
		Telemetry: TelemetryConfig{OTLPEndpoint: "", ServiceName: "marketlens"},
	}
}

// FromEnv loads configuration values from environment variables, overriding defaults.
func FromEnv() Settings {
	cfg := Default()
	if env := strings.TrimSpace(os.Getenv("MARKETLENS_ENV")); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}
	if v := strings.TrimSpace(os.Getenv("MARKETLENS_CACHE_DEFAULT_TTL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Cache.DefaultTTL = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("MARKETLENS_CACHE_MEASURED_TTL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Cache.MeasuredTTL = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("MARKETLENS_CACHE_SWEEP_INTERVAL")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Cache.SweepInterval = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("MARKETLENS_PROVIDER_QUERY_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Provider.QueryTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("MARKETLENS_PROVIDER_OVERALL_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Provider.OverallTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("MARKETLENS_PROVIDER_MAX_RETRIES")); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Provider.MaxRetries = uint(n)
		}
	}
	if v := strings.TrimSpace(os.Getenv("MARKETLENS_WINDOW_MAX_DAYS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Window.MaxDays = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("MARKETLENS_DB_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("MARKETLENS_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("MARKETLENS_SERVICE_NAME")); v != "" {
		cfg.Telemetry.ServiceName = v
	}
	return cfg
}
