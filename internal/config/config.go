// Package config loads the process-wide typed configuration: global event
// thresholds, ingest cadences, and upstream feed settings. Values load once
// at startup from CONFIG_PATH (falling back to built-in defaults) with the
// environment overrides on top. There is no reload path: a changed value
// takes effect only when the process restarts.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Thresholds holds the global event-detection thresholds from spec §4.D.
type Thresholds struct {
	MarginMinGP   int64   `yaml:"margin_min_gp"`
	DumpDropPct   float64 `yaml:"dump_drop_pct"`
	SpikeRisePct  float64 `yaml:"spike_rise_pct"`
	MinVolume     int64   `yaml:"min_volume"`
}

// Cadences holds every loop period from spec §4.J / §5.
type Cadences struct {
	IngestPeriod   time.Duration `yaml:"ingest_period"`
	CatalogPeriod  time.Duration `yaml:"catalog_period"`
	PrunePeriod    time.Duration `yaml:"prune_period"`
	RetentionDays  int           `yaml:"retention_days"`
}

// Timeouts holds the per-subsystem blocking-call timeouts from spec §5.
type Timeouts struct {
	Upstream   time.Duration `yaml:"upstream"`
	ChatEgress time.Duration `yaml:"chat_egress"`
	Store      time.Duration `yaml:"store"`
	Shutdown   time.Duration `yaml:"shutdown"`
}

// Upstream holds the pricing-feed connection settings.
type Upstream struct {
	BaseURL   string  `yaml:"base_url"`
	UserAgent string  `yaml:"user_agent"`
	RPS5m     float64 `yaml:"rps_5m"`
	RPS1h     float64 `yaml:"rps_1h"`
	RPSLatest float64 `yaml:"rps_latest"`
}

// Config is the top-level process configuration document.
type Config struct {
	Thresholds Thresholds `yaml:"thresholds"`
	Cadences   Cadences   `yaml:"cadences"`
	Timeouts   Timeouts   `yaml:"timeouts"`
	Upstream   Upstream   `yaml:"upstream"`
	ConfigRoot string     `yaml:"config_root"`
	CacheRoot  string     `yaml:"cache_root"`
	AdminKey   string     `yaml:"-"`
	CORSOrigins []string  `yaml:"-"`
}

// Default returns the built-in defaults named in spec §4.D and §4.J.
func Default() *Config {
	return &Config{
		Thresholds: Thresholds{
			MarginMinGP:  100000,
			DumpDropPct:  5,
			SpikeRisePct: 5,
			MinVolume:    100,
		},
		Cadences: Cadences{
			IngestPeriod:  60 * time.Second,
			CatalogPeriod: 6 * time.Hour,
			PrunePeriod:   1 * time.Hour,
			RetentionDays: 7,
		},
		Timeouts: Timeouts{
			Upstream:   20 * time.Second,
			ChatEgress: 10 * time.Second,
			Store:      5 * time.Second,
			Shutdown:   30 * time.Second,
		},
		Upstream: Upstream{
			BaseURL:   "https://prices.runescape.wiki/api/v1/osrs",
			UserAgent: "GE-Sentinel/1.0 (+contact: ops@example.invalid)",
			RPS5m:     1.0 / 300,
			RPS1h:     1.0 / 3600,
			RPSLatest: 1.0 / 30,
		},
		ConfigRoot: "data/tenants",
		CacheRoot:  "data/cache",
	}
}

// Load reads a YAML document at path and overlays it on Default(), then
// applies the environment overrides and validates the result. An empty path
// starts from the built-in defaults, matching spec §6's "if absent,
// built-in defaults" rule for CONFIG_PATH.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays the environment variables named in spec §6 on top of
// whatever was loaded from CONFIG_PATH (or the defaults).
func applyEnv(cfg *Config) {
	if v := os.Getenv("ADMIN_KEY"); v != "" {
		cfg.AdminKey = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("UPSTREAM_BASE_URL"); v != "" {
		cfg.Upstream.BaseURL = v
	}
	if v := os.Getenv("INGEST_PERIOD_SECONDS"); v != "" {
		if secs, err := time.ParseDuration(v + "s"); err == nil {
			cfg.Cadences.IngestPeriod = secs
		}
	}
	if v := os.Getenv("CATALOG_PERIOD_SECONDS"); v != "" {
		if secs, err := time.ParseDuration(v + "s"); err == nil {
			cfg.Cadences.CatalogPeriod = secs
		}
	}
	if v := os.Getenv("RETENTION_DAYS"); v != "" {
		var days int
		if _, err := fmt.Sscanf(v, "%d", &days); err == nil && days > 0 {
			cfg.Cadences.RetentionDays = days
		}
	}
}

// Validate enforces the sanity bounds a typed config should never violate.
func (c *Config) Validate() error {
	if c.Thresholds.MarginMinGP < 0 {
		return fmt.Errorf("thresholds.margin_min_gp must be >= 0")
	}
	if c.Thresholds.DumpDropPct <= 0 {
		return fmt.Errorf("thresholds.dump_drop_pct must be > 0")
	}
	if c.Thresholds.SpikeRisePct <= 0 {
		return fmt.Errorf("thresholds.spike_rise_pct must be > 0")
	}
	if c.Thresholds.MinVolume < 0 {
		return fmt.Errorf("thresholds.min_volume must be >= 0")
	}
	if c.Cadences.CatalogPeriod < time.Hour {
		return fmt.Errorf("cadences.catalog_period must be >= 1h")
	}
	return nil
}
