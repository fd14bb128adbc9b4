// Package config loads and validates meridian configuration from
// .meridian/config.yaml, with environment overrides for deployment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all meridian configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Storage configures the local document store.
	Storage StorageConfig `yaml:"storage"`

	// Sync configures the sync coordinator and its retry queue.
	Sync SyncConfig `yaml:"sync"`

	// Limits bound user-supplied payload sizes.
	Limits LimitsConfig `yaml:"limits"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig configures the SQLite-backed document store.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// SyncConfig configures retry behavior for remote writes.
type SyncConfig struct {
	MaxAttempts  int     `yaml:"max_attempts"`
	BaseBackoff  string  `yaml:"base_backoff"`
	MaxBackoff   string  `yaml:"max_backoff"`
	Jitter       float64 `yaml:"jitter"`
	TickInterval string  `yaml:"tick_interval"`
}

// LimitsConfig bounds payload sizes before they reach the interpreter.
type LimitsConfig struct {
	MaxDocumentBytes int `yaml:"max_document_bytes"`
	MaxEditBytes     int `yaml:"max_edit_bytes"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Name:    "meridian",
		Version: "1.0.0",

		Storage: StorageConfig{
			DatabasePath: "data/meridian.db",
		},

		Sync: SyncConfig{
			MaxAttempts:  5,
			BaseBackoff:  "1s",
			MaxBackoff:   "1m",
			Jitter:       0.2,
			TickInterval: "1s",
		},

		Limits: LimitsConfig{
			MaxDocumentBytes: 2 << 20,
			MaxEditBytes:     256 << 10,
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if path := os.Getenv("MERIDIAN_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if level := os.Getenv("MERIDIAN_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if os.Getenv("MERIDIAN_DEBUG") == "1" {
		c.Logging.DebugMode = true
	}
}

// GetBaseBackoff returns the retry base backoff as a duration.
func (c *Config) GetBaseBackoff() time.Duration {
	d, err := time.ParseDuration(c.Sync.BaseBackoff)
	if err != nil {
		return time.Second
	}
	return d
}

// GetMaxBackoff returns the retry backoff ceiling as a duration.
func (c *Config) GetMaxBackoff() time.Duration {
	d, err := time.ParseDuration(c.Sync.MaxBackoff)
	if err != nil {
		return time.Minute
	}
	return d
}

// GetTickInterval returns the retry scan interval as a duration.
func (c *Config) GetTickInterval() time.Duration {
	d, err := time.ParseDuration(c.Sync.TickInterval)
	if err != nil {
		return time.Second
	}
	return d
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.database_path is required")
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1")
	}
	if c.Sync.Jitter < 0 || c.Sync.Jitter > 1 {
		return fmt.Errorf("sync.jitter must be between 0 and 1")
	}
	if _, err := time.ParseDuration(c.Sync.BaseBackoff); err != nil {
		return fmt.Errorf("sync.base_backoff: %w", err)
	}
	if _, err := time.ParseDuration(c.Sync.MaxBackoff); err != nil {
		return fmt.Errorf("sync.max_backoff: %w", err)
	}
	if _, err := time.ParseDuration(c.Sync.TickInterval); err != nil {
		return fmt.Errorf("sync.tick_interval: %w", err)
	}
	if c.Limits.MaxDocumentBytes <= 0 {
		return fmt.Errorf("limits.max_document_bytes must be positive")
	}
	if c.Limits.MaxEditBytes <= 0 {
		return fmt.Errorf("limits.max_edit_bytes must be positive")
	}
	return nil
}
