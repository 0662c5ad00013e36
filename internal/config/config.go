// Package config loads cothread's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"cothread/internal/thread"
)

// Config is the full application configuration.
type Config struct {
	Store   StoreConfig        `yaml:"store"`
	Cache   thread.CacheConfig `yaml:"cache"`
	Logging LoggingConfig      `yaml:"logging"`
}

// StoreConfig configures document persistence.
type StoreConfig struct {
	// Dir is the directory holding saved documents.
	Dir string `yaml:"dir"`
	// RetentionDays bounds how long unused documents are kept; zero
	// disables garbage collection.
	RetentionDays int `yaml:"retention_days"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Verbose bool   `yaml:"verbose"`
	Level   string `yaml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		Store: StoreConfig{
			Dir:           filepath.Join(home, ".cothread", "threads"),
			RetentionDays: 0,
		},
		Cache: thread.CacheConfig{
			MaxCacheAnchors: 4,
			ShouldSpeculate: true,
			MinTotalTokens:  1024,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the configuration at path, filling unset fields with defaults.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work.
func (c Config) Validate() error {
	if c.Store.Dir == "" {
		return fmt.Errorf("store.dir must not be empty")
	}
	if c.Cache.MaxCacheAnchors < 0 {
		return fmt.Errorf("cache.max_cache_anchors must not be negative")
	}
	if c.Cache.MinTotalTokens < 0 {
		return fmt.Errorf("cache.min_total_tokens must not be negative")
	}
	if c.Store.RetentionDays < 0 {
		return fmt.Errorf("store.retention_days must not be negative")
	}
	return nil
}
