package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shopspring/decimal"
)

// LoadOrDefault reads settings from the YAML file at path, falling back to
// env-overridden defaults when the file does not exist. The second return
// value reports whether a file was loaded.
func LoadOrDefault(path string) (Settings, bool, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv("MARKETLENS_CONFIG"))
	}
	if path == "" {
		path = "config/marketlens.yaml"
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := FromEnv()
			if verr := cfg.Validate(); verr != nil {
				return Settings{}, false, verr
			}
			return cfg, false, nil
		}
		return Settings{}, false, fmt.Errorf("open config %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	cfg, err := load(file)
	if err != nil {
		return Settings{}, false, err
	}
	return cfg, true, nil
}

func load(reader io.Reader) (Settings, error) {
	bytes, err := io.ReadAll(reader)
	if err != nil {
		return Settings{}, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return Settings{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func (s *Settings) normalise() {
	s.Environment = Environment(strings.ToLower(strings.TrimSpace(string(s.Environment))))
	s.Database.DSN = strings.TrimSpace(s.Database.DSN)
	s.Telemetry.OTLPEndpoint = strings.TrimSpace(s.Telemetry.OTLPEndpoint)
	s.Telemetry.ServiceName = strings.TrimSpace(s.Telemetry.ServiceName)

	if len(s.Baselines) == 0 {
		return
	}
	normalised := make(map[string]BaselineEntry, len(s.Baselines))
	for subject, entry := range s.Baselines {
		key := strings.ToLower(strings.TrimSpace(subject))
		if key == "" {
			continue
		}
		entry.ReferencePrice = strings.TrimSpace(entry.ReferencePrice)
		entry.SharePercent = strings.TrimSpace(entry.SharePercent)
		normalised[key] = entry
	}
	s.Baselines = normalised
}

// Validate performs semantic validation on the loaded configuration.
func (s Settings) Validate() error {
	switch s.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("unknown environment %q", s.Environment)
	}
	if s.Cache.DefaultTTL <= 0 {
		return fmt.Errorf("cache defaultTTL must be >0")
	}
	if s.Cache.MeasuredTTL < s.Cache.DefaultTTL {
		return fmt.Errorf("cache measuredTTL must be >= defaultTTL")
	}
	if s.Cache.SweepInterval <= 0 {
		return fmt.Errorf("cache sweepInterval must be >0")
	}
	if s.Window.MaxDays < 0 {
		return fmt.Errorf("window maxDays must be >=0")
	}
	if s.Window.DefaultDays < 0 {
		return fmt.Errorf("window defaultDays must be >=0")
	}
	if s.Provider.QueryTimeout <= 0 {
		return fmt.Errorf("provider queryTimeout must be >0")
	}
	if s.Provider.OverallTimeout < s.Provider.QueryTimeout {
		return fmt.Errorf("provider overallTimeout must be >= queryTimeout")
	}
	if s.Provider.RatePerSecond < 0 {
		return fmt.Errorf("provider ratePerSecond must be >=0")
	}
	for subject, entry := range s.Baselines {
		if entry.ReferencePrice != "" {
			if _, err := decimal.NewFromString(entry.ReferencePrice); err != nil {
				return fmt.Errorf("baseline %s: invalid referencePrice %q: %w", subject, entry.ReferencePrice, err)
			}
		}
		if entry.SharePercent != "" {
			if _, err := decimal.NewFromString(entry.SharePercent); err != nil {
				return fmt.Errorf("baseline %s: invalid sharePercent %q: %w", subject, entry.SharePercent, err)
			}
		}
	}
	return nil
}
