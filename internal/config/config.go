// Package config loads and defaults pytest-difftest's configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pytest-difftest configuration.
type Config struct {
	// ProjectRoot is the directory changed-file paths are resolved and
	// reported relative to.
	ProjectRoot string `yaml:"project_root"`

	// Store configures the Dependency Store.
	Store StoreConfig `yaml:"store"`

	// Cache configures the Fingerprint Cache.
	Cache CacheConfig `yaml:"cache"`

	// Detect configures the Change Detector.
	Detect DetectConfig `yaml:"detect"`

	// Logging controls whether the category file logger writes to disk.
	Logging LoggingConfig `yaml:"logging"`
}

// StoreConfig configures the on-disk dependency store.
type StoreConfig struct {
	// Path to the SQLite database file, relative to ProjectRoot unless absolute.
	Path string `yaml:"path"`

	// BatchSize is the number of TestExecution rows the orchestrator buffers
	// before committing a write transaction.
	BatchSize int `yaml:"batch_size"`

	// BusyTimeout bounds how long a writer waits on SQLITE_BUSY.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// CacheConfig configures the Fingerprint Cache.
type CacheConfig struct {
	// MaxEntries is the bound before approximate-LRU eviction kicks in.
	MaxEntries int `yaml:"max_entries"`
}

// DetectConfig configures the Change Detector.
type DetectConfig struct {
	// MTimeEpsilon is the maximum mtime delta (in either direction) still
	// considered "unchanged" at Level 1.
	MTimeEpsilon time.Duration `yaml:"mtime_epsilon"`
}

// LoggingConfig controls the category file logger.
type LoggingConfig struct {
	Enabled bool `yaml:"enabled"`
}

const (
	defaultStorePath    = ".cache/diff/store.db"
	defaultBatchSize    = 20
	defaultBusyTimeout  = 30 * time.Second
	defaultMaxEntries   = 100_000
	defaultMTimeEpsilon = time.Millisecond
)

// DefaultConfig returns the configuration used when no config file is present.
func DefaultConfig(projectRoot string) *Config {
	return &Config{
		ProjectRoot: projectRoot,
		Store: StoreConfig{
			Path:        defaultStorePath,
			BatchSize:   defaultBatchSize,
			BusyTimeout: defaultBusyTimeout,
		},
		Cache: CacheConfig{
			MaxEntries: defaultMaxEntries,
		},
		Detect: DetectConfig{
			MTimeEpsilon: defaultMTimeEpsilon,
		},
		Logging: LoggingConfig{
			Enabled: false,
		},
	}
}

// Load reads a YAML config file at path, defaulting any zero-valued fields
// against DefaultConfig(projectRoot). A missing file is not an error: the
// defaults are returned as-is.
func Load(path, projectRoot string) (*Config, error) {
	cfg := DefaultConfig(projectRoot)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults(projectRoot)

	return cfg, nil
}

func (c *Config) applyDefaults(projectRoot string) {
	if c.ProjectRoot == "" {
		c.ProjectRoot = projectRoot
	}

	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}

	if c.Store.BatchSize <= 0 {
		c.Store.BatchSize = defaultBatchSize
	}

	if c.Store.BusyTimeout <= 0 {
		c.Store.BusyTimeout = defaultBusyTimeout
	}

	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = defaultMaxEntries
	}

	if c.Detect.MTimeEpsilon <= 0 {
		c.Detect.MTimeEpsilon = defaultMTimeEpsilon
	}
}

// StorePath resolves the configured store path against ProjectRoot.
func (c *Config) StorePath() string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}

	return filepath.Join(c.ProjectRoot, c.Store.Path)
}
