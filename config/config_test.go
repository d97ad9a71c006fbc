package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigProvidesCacheSettings(t *testing.T) {
	cfg := Default()
	if cfg.Environment != EnvProd {
		t.Fatalf("expected default environment prod, got %s", cfg.Environment)
	}
	if cfg.Cache.DefaultTTL != 30*time.Minute {
		t.Fatalf("expected 30m default TTL, got %s", cfg.Cache.DefaultTTL)
	}
	if cfg.Cache.MeasuredTTL != 60*time.Minute {
		t.Fatalf("expected 60m measured TTL, got %s", cfg.Cache.MeasuredTTL)
	}
	if cfg.Cache.SweepInterval != 5*time.Minute {
		t.Fatalf("expected 5m sweep interval, got %s", cfg.Cache.SweepInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MARKETLENS_ENV", "Dev")
	t.Setenv("MARKETLENS_CACHE_DEFAULT_TTL", "10m")
	t.Setenv("MARKETLENS_PROVIDER_QUERY_TIMEOUT", "2s")
	t.Setenv("MARKETLENS_DB_DSN", "postgres://localhost/lens")

	cfg := FromEnv()
	if cfg.Environment != EnvDev {
		t.Fatalf("expected dev environment, got %s", cfg.Environment)
	}
	if cfg.Cache.DefaultTTL != 10*time.Minute {
		t.Fatalf("expected 10m TTL override, got %s", cfg.Cache.DefaultTTL)
	}
	if cfg.Provider.QueryTimeout != 2*time.Second {
		t.Fatalf("expected 2s query timeout, got %s", cfg.Provider.QueryTimeout)
	}
	if cfg.Database.DSN != "postgres://localhost/lens" {
		t.Fatalf("expected DSN override, got %s", cfg.Database.DSN)
	}
}

func TestFromEnvIgnoresMalformedDurations(t *testing.T) {
	t.Setenv("MARKETLENS_CACHE_DEFAULT_TTL", "not-a-duration")
	cfg := FromEnv()
	if cfg.Cache.DefaultTTL != 30*time.Minute {
		t.Fatalf("malformed override must keep default, got %s", cfg.Cache.DefaultTTL)
	}
}

func TestLoadParsesYAMLAndNormalisesBaselines(t *testing.T) {
	doc := `
environment: staging
cache:
  defaultTTL: 15m
  measuredTTL: 45m
  sweepInterval: 1m
baselines:
  "  Hotel-Aurora  ":
    referencePrice: "129.90"
    sharePercent: "12.5"
`
	cfg, err := load(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Environment != EnvStaging {
		t.Fatalf("expected staging environment, got %s", cfg.Environment)
	}
	if cfg.Cache.DefaultTTL != 15*time.Minute {
		t.Fatalf("expected 15m TTL, got %s", cfg.Cache.DefaultTTL)
	}
	entry, ok := cfg.Baselines["hotel-aurora"]
	if !ok {
		t.Fatalf("expected baseline key normalised to lower-case trimmed form, got %v", cfg.Baselines)
	}
	if entry.ReferencePrice != "129.90" {
		t.Fatalf("expected reference price preserved, got %q", entry.ReferencePrice)
	}
}

func TestLoadRejectsMalformedBaselineDecimal(t *testing.T) {
	doc := `
baselines:
  hotel-aurora:
    referencePrice: "abc"
`
	if _, err := load(strings.NewReader(doc)); err == nil {
		t.Fatal("expected malformed baseline decimal to fail validation")
	}
}

func TestValidateRejectsInvertedTTLs(t *testing.T) {
	cfg := Default()
	cfg.Cache.MeasuredTTL = cfg.Cache.DefaultTTL - time.Minute
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected measuredTTL < defaultTTL to fail validation")
	}
}

func TestValidateRejectsInvertedTimeouts(t *testing.T) {
	cfg := Default()
	cfg.Provider.OverallTimeout = cfg.Provider.QueryTimeout - time.Second
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected overallTimeout < queryTimeout to fail validation")
	}
}
