// Command lens computes a competitive position and prints it as JSON.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/marketlens/marketlens/config"
	"github.com/marketlens/marketlens/internal/cache"
	"github.com/marketlens/marketlens/internal/infra/persistence/postgres"
	"github.com/marketlens/marketlens/internal/ingest"
	"github.com/marketlens/marketlens/internal/observability"
	"github.com/marketlens/marketlens/internal/position"
	"github.com/marketlens/marketlens/internal/provider"
	"github.com/marketlens/marketlens/lib/telemetry"
)

const (
	defaultConfigPath        = "config/marketlens.yaml"
	lensLoggerPrefix         = "lens "
	ingestWorkers            = 4
	ingestQueueDepth         = 256
	ingestShutdownTimeout    = 30 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

type options struct {
	configPath string
	subject    string
	window     int
	seedPath   string
	refresh    bool
}

func main() {
	logger := log.New(os.Stdout, lensLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
	if err := run(logger); err != nil {
		logger.Fatal(err)
	}
}

func run(logger *log.Logger) error {
	opts := parseFlags()
	if opts.subject == "" && opts.seedPath == "" {
		return errors.New("-subject or -seed is required")
	}

	ctx, cancel := newSignalContext()
	defer cancel()

	observability.SetLogger(observability.StdLogger{Target: logger})

	cfg, loadedFromFile, err := config.LoadOrDefault(opts.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	logger.Printf("configuration initialised: env=%s, baselines=%d", cfg.Environment, len(cfg.Baselines))

	_, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("initialise telemetry: %w", err)
	}
	defer shutdownStep(logger, "telemetry", telemetryShutdownTimeout, telemetryShutdown)

	if cfg.Database.DSN == "" {
		return errors.New("database DSN required (config database.dsn or MARKETLENS_DB_DSN)")
	}
	pool, err := pgxpool.New(ctx, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	store := postgres.NewObservationStore(pool)

	if opts.seedPath != "" {
		if err := seedObservations(ctx, logger, store, opts.seedPath); err != nil {
			return err
		}
		if opts.subject == "" {
			return nil
		}
	}

	pos, err := computePosition(ctx, cfg, store, opts)
	if err != nil {
		return err
	}

	encoded, err := json.MarshalIndent(pos, "", "  ")
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", fmt.Sprintf("Path to configuration file (default: %s)", defaultConfigPath))
	flag.StringVar(&opts.subject, "subject", "", "Subject identifier to position")
	flag.IntVar(&opts.window, "window", -1, "Trailing window in days (default: configured window.defaultDays)")
	flag.StringVar(&opts.seedPath, "seed", "", "JSON observation batch to ingest before computing")
	flag.BoolVar(&opts.refresh, "refresh", false, "Invalidate cached results for the subject before computing")
	flag.Parse()
	if opts.configPath == "" {
		opts.configPath = filepath.Clean(defaultConfigPath)
	}
	return opts
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func seedObservations(ctx context.Context, logger *log.Logger, store *postgres.ObservationStore, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer file.Close()

	batch, err := ingest.DecodeBatch(file)
	if err != nil {
		return fmt.Errorf("decode seed file: %w", err)
	}

	ingester, err := ingest.New(store, ingest.Config{Workers: ingestWorkers, Queue: ingestQueueDepth})
	if err != nil {
		return fmt.Errorf("initialise ingester: %w", err)
	}
	for _, obs := range batch {
		if err := ingester.Submit(ctx, obs); err != nil {
			ingester.Close()
			return fmt.Errorf("submit observation: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ingestShutdownTimeout)
	defer cancel()
	if err := ingester.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("drain ingester: %w", err)
	}

	stats := ingester.Stats()
	logger.Printf("seed complete: written=%d failed=%d", stats.Written, stats.Failed)
	if stats.Failed > 0 {
		return fmt.Errorf("seed: %d observations failed to write", stats.Failed)
	}
	return nil
}

func computePosition(ctx context.Context, cfg config.Settings, store *postgres.ObservationStore, opts options) (position.CompetitivePosition, error) {
	baselines, err := position.BaselinesFromSettings(cfg.Baselines)
	if err != nil {
		return position.CompetitivePosition{}, fmt.Errorf("parse baselines: %w", err)
	}

	metrics := observability.NewRuntimeMetrics()
	pricing := provider.NewResilient(store.PricingSource(), provider.ResilientConfig{
		Name:          "pricing",
		QueryTimeout:  cfg.Provider.QueryTimeout,
		MaxRetries:    cfg.Provider.MaxRetries,
		RatePerSecond: cfg.Provider.RatePerSecond,
		RateBurst:     cfg.Provider.RateBurst,
	})
	capacity := provider.NewResilient(store.CapacitySource(), provider.ResilientConfig{
		Name:          "capacity",
		QueryTimeout:  cfg.Provider.QueryTimeout,
		MaxRetries:    cfg.Provider.MaxRetries,
		RatePerSecond: cfg.Provider.RatePerSecond,
		RateBurst:     cfg.Provider.RateBurst,
	})

	engine := position.NewEngine(position.EngineConfig{
		Pricing:        pricing,
		Capacity:       capacity,
		QueryTimeout:   cfg.Provider.QueryTimeout,
		OverallTimeout: cfg.Provider.OverallTimeout,
		MaxWindowDays:  cfg.Window.MaxDays,
		Baselines:      baselines,
		Metrics:        metrics,
	})
	resultCache := cache.New[position.CompetitivePosition](cache.Config{
		DefaultTTL:    cfg.Cache.DefaultTTL,
		SweepInterval: cfg.Cache.SweepInterval,
		Metrics:       metrics,
	})
	defer resultCache.Close()

	service := position.NewService(position.ServiceConfig{
		Engine:      engine,
		Cache:       resultCache,
		MeasuredTTL: cfg.Cache.MeasuredTTL,
		Metrics:     metrics,
	})

	window := opts.window
	if window < 0 {
		window = cfg.Window.DefaultDays
	}
	if opts.refresh {
		return service.ForceRefresh(ctx, opts.subject, window)
	}
	return service.ComputePosition(ctx, opts.subject, window)
}

func shutdownStep(logger *log.Logger, name string, timeout time.Duration, fn func(context.Context) error) {
	if fn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Printf("shutdown: %s failed: %v", name, err)
	}
}
