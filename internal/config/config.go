// Package config handles TOML configuration for hubexport.
package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yairfalse/hubexport/orchestrator"
)

// Storage backends.
const (
	BackendS3     = "s3"
	BackendMinio  = "minio"
	BackendMemory = "memory"
)

// Config is the root configuration structure.
type Config struct {
	AWS      AWSConfig      `toml:"aws"`
	Storage  StorageConfig  `toml:"storage"`
	Pipeline PipelineConfig `toml:"pipeline"`
	OTEL     OTELConfig     `toml:"otel"`
	Log      LogConfig      `toml:"log"`
	Daemon   DaemonConfig   `toml:"daemon"`
	Rules    []Rule         `toml:"rules"`
}

// AWSConfig holds AWS client settings.
type AWSConfig struct {
	Region   string `toml:"region"`
	Profile  string `toml:"profile"`
	Endpoint string `toml:"endpoint"` // LocalStack and other S3-compatible endpoints
}

// StorageConfig selects the object store for partitions and reports.
type StorageConfig struct {
	Backend string      `toml:"backend"`
	Minio   MinioConfig `toml:"minio"`
}

// MinioConfig holds settings for the minio backend.
type MinioConfig struct {
	Endpoint  string `toml:"endpoint"`
	Region    string `toml:"region"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	UseSSL    bool   `toml:"use_ssl"`
}

// PipelineConfig holds export run settings.
type PipelineConfig struct {
	MaxResults     int32   `toml:"max_results"`
	RunTimeoutStr  string  `toml:"run_timeout"`
	LinkExpiryStr  string  `toml:"link_expiry"`
	StageAttempts  uint    `toml:"stage_attempts"`
	FetchRate      float64 `toml:"fetch_rate"`
	FetchBurst     int     `toml:"fetch_burst"`
	CheckpointPath string  `toml:"checkpoint_path"`

	RunTimeout time.Duration `toml:"-"`
	LinkExpiry time.Duration `toml:"-"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled    bool `toml:"enabled"`
	Prometheus bool `toml:"prometheus"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json or console
}

// DaemonConfig holds daemon settings.
type DaemonConfig struct {
	MetricsAddr string `toml:"metrics_addr"`
}

// Rule is a scheduled export. The trigger fields sit directly in the rule table.
type Rule struct {
	Name        string        `toml:"name"`
	Enabled     *bool         `toml:"enabled"`
	IntervalStr string        `toml:"interval"`
	Interval    time.Duration `toml:"-"`

	orchestrator.Trigger
}

// IsEnabled reports whether the rule should be scheduled. Rules are enabled unless set otherwise.
func (r Rule) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	// defaults always parse
	_ = parseDurations(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendS3
	}
	if cfg.Storage.Minio.Region == "" {
		cfg.Storage.Minio.Region = cfg.AWS.Region
	}
	if cfg.Pipeline.MaxResults == 0 {
		cfg.Pipeline.MaxResults = 100
	}
	if cfg.Pipeline.RunTimeoutStr == "" {
		cfg.Pipeline.RunTimeoutStr = "15h"
	}
	if cfg.Pipeline.LinkExpiryStr == "" {
		cfg.Pipeline.LinkExpiryStr = "23h30m"
	}
	if cfg.Pipeline.StageAttempts == 0 {
		cfg.Pipeline.StageAttempts = 3
	}
	if cfg.Pipeline.FetchRate == 0 {
		cfg.Pipeline.FetchRate = 3
	}
	if cfg.Pipeline.FetchBurst == 0 {
		cfg.Pipeline.FetchBurst = 6
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "hubexport"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Daemon.MetricsAddr == "" {
		cfg.Daemon.MetricsAddr = ":2112"
	}
	for i := range cfg.Rules {
		if cfg.Rules[i].IntervalStr == "" {
			cfg.Rules[i].IntervalStr = "24h"
		}
	}
}

func parseDurations(cfg *Config) error {
	var err error
	if cfg.Pipeline.RunTimeout, err = time.ParseDuration(cfg.Pipeline.RunTimeoutStr); err != nil {
		return fmt.Errorf("parse run_timeout %q: %w", cfg.Pipeline.RunTimeoutStr, err)
	}
	if cfg.Pipeline.LinkExpiry, err = time.ParseDuration(cfg.Pipeline.LinkExpiryStr); err != nil {
		return fmt.Errorf("parse link_expiry %q: %w", cfg.Pipeline.LinkExpiryStr, err)
	}
	for i := range cfg.Rules {
		r := &cfg.Rules[i]
		if r.Interval, err = time.ParseDuration(r.IntervalStr); err != nil {
			return fmt.Errorf("rule %q: parse interval %q: %w", r.Name, r.IntervalStr, err)
		}
	}
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	backends := []string{BackendS3, BackendMinio, BackendMemory}
	if !slices.Contains(backends, c.Storage.Backend) {
		return fmt.Errorf("storage: unknown backend %q (want one of %v)", c.Storage.Backend, backends)
	}
	if c.Storage.Backend == BackendMinio && c.Storage.Minio.Endpoint == "" {
		return fmt.Errorf("storage: minio.endpoint required for minio backend")
	}
	if c.Pipeline.MaxResults < 1 || c.Pipeline.MaxResults > 100 {
		return fmt.Errorf("pipeline: max_results must be between 1 and 100 (got %d)", c.Pipeline.MaxResults)
	}
	if c.Pipeline.RunTimeout <= 0 {
		return fmt.Errorf("pipeline: run_timeout must be positive")
	}
	// pre-signed S3 URLs are valid for at most seven days
	if c.Pipeline.LinkExpiry <= 0 || c.Pipeline.LinkExpiry > 7*24*time.Hour {
		return fmt.Errorf("pipeline: link_expiry must be between 1s and 168h (got %s)", c.Pipeline.LinkExpiry)
	}
	if c.Pipeline.FetchRate < 0 || c.Pipeline.FetchBurst < 0 {
		return fmt.Errorf("pipeline: fetch_rate and fetch_burst must not be negative")
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	if !slices.Contains([]string{"json", "console"}, c.Log.Format) {
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}

	seen := make(map[string]bool, len(c.Rules))
	for _, r := range c.Rules {
		if r.Name == "" {
			return fmt.Errorf("rules: rule without name")
		}
		if seen[r.Name] {
			return fmt.Errorf("rules: duplicate rule %q", r.Name)
		}
		seen[r.Name] = true
		if r.Interval <= 0 {
			return fmt.Errorf("rule %q: interval must be positive", r.Name)
		}
		if !r.IsEnabled() {
			continue
		}
		if err := r.Trigger.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
	}
	return nil
}

// EnabledRules returns the rules to schedule.
func (c *Config) EnabledRules() []Rule {
	var rules []Rule
	for _, r := range c.Rules {
		if r.IsEnabled() {
			rules = append(rules, r)
		}
	}
	return rules
}
