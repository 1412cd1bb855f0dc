// Package rconfig loads the reconciler's engine options and a static
// manifest from a TOML file.
package rconfig

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/jacobfgrant/reconciler/internal/manifest"
)

// EngineConfig holds the tunables of reconciler.Options that make sense
// to set from a file.
type EngineConfig struct {
	WorkingDirectory          string `toml:"working_directory"`
	IntervalMs                int64  `toml:"interval_ms"`
	AbandonedTimeoutMs        int64  `toml:"abandoned_timeout_ms"`
	DefaultDelaySeconds       int    `toml:"default_delay_seconds"`
	DefaultRetryLimit         int    `toml:"default_retry_limit"`
	DisableUnzip              bool   `toml:"disable_unzip"`
	DisableImmediateDownload  bool   `toml:"disable_immediate_download"`
	Verbose                   bool   `toml:"verbose"`
	ReportProgress            bool   `toml:"report_progress"`
	BandwidthLimitBytesPerSec int64  `toml:"bandwidth_limit_bytes_per_sec"`

	// Transport selects the Fetcher manifest entries download through:
	// "http" (default) or "s3". S3 supplies the credentials when this is
	// "s3", and also backs an "s3://" Manifest.URL regardless of Transport.
	Transport string `toml:"transport"`
}

// S3Config carries the credentials for the "s3" transport and for an
// "s3://" manifest URL.
type S3Config struct {
	EndpointURL string `toml:"endpoint_url"`
	KeyID       string `toml:"key_id"`
	SecretKey   string `toml:"secret_key"`
	Region      string `toml:"region"`
}

// ManifestConfig selects where manifest entries come from: either a
// static inline list, or a URL re-fetched on every reconciliation tick.
type ManifestConfig struct {
	Entries []manifest.Entry `toml:"entries"`
	// URL, when set, takes precedence over Entries: an http(s):// URL is
	// fetched through the configured Transport, an s3:// URL through S3.
	URL string `toml:"url"`
}

// Config is the top-level TOML document.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	S3       S3Config       `toml:"s3"`
	Manifest ManifestConfig `toml:"manifest"`
}

// DefaultConfigPath returns the platform-appropriate config file path.
func DefaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "reconciler", "config.toml")
	}
	return filepath.Join(os.Getenv("HOME"), ".config", "reconciler", "config.toml")
}

// Load reads and parses a TOML config file, filling in the same defaults
// reconciler.Options applies when left zero.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.WorkingDirectory == "" {
		c.Engine.WorkingDirectory = "./downloads"
	}
	if c.Engine.IntervalMs <= 0 {
		c.Engine.IntervalMs = 60_000
	}
	if c.Engine.AbandonedTimeoutMs <= 0 {
		c.Engine.AbandonedTimeoutMs = 1_800_000
	}
	if c.Engine.DefaultRetryLimit <= 0 {
		c.Engine.DefaultRetryLimit = 5
	}
	if c.Engine.Transport == "" {
		c.Engine.Transport = "http"
	}
	for i, e := range c.Manifest.Entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("manifest entry %d: %w", i, err)
		}
	}
	return nil
}

// Write serializes a Config to TOML and writes it to the given path.
func Write(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serializing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
