// Package config provides YAML-based daemon configuration plus a small
// dynamic-settings registry for values the spec calls out as runtime
// mutable, such as snapshot.max_concurrent_operations.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/jvs-project/snapmgr/pkg/webhook"
)

// Config is the on-disk daemon configuration, loaded from snapmgr.yaml.
type Config struct {
	Repository        RepositoryConfig `yaml:"repository"`
	MaxConcurrentOps  int              `yaml:"max_concurrent_operations"`
	RepositoryWorkers int              `yaml:"repository_workers"`
	AdminAddr         string           `yaml:"admin_addr"`
	Logging           LoggingConfig    `yaml:"logging"`
	Webhook           webhook.Config   `yaml:"webhook"`
}

// RepositoryConfig names the repositories this engine instance manages and
// where their local-disk backing store lives (the reference
// RepositoryDriver implementation; see internal/repository/local).
type RepositoryConfig struct {
	Name string `yaml:"name"`
	Root string `yaml:"root"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // read but not applied; the logger always writes JSON
}

// DefaultMaxConcurrentOperations is the spec section 6 default for
// snapshot.max_concurrent_operations.
const DefaultMaxConcurrentOperations = 1000

// MinMaxConcurrentOperations is the spec section 6 minimum.
const MinMaxConcurrentOperations = 1

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		MaxConcurrentOps:  DefaultMaxConcurrentOperations,
		RepositoryWorkers: 4,
		AdminAddr:         "127.0.0.1:9400",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Webhook: func() webhook.Config {
			c := *webhook.DefaultConfig()
			c.Enabled = false // no hooks configured by default
			return c
		}(),
	}
}

// Load loads configuration from path. Returns the default config if path
// does not exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.MaxConcurrentOps < MinMaxConcurrentOperations {
		return nil, fmt.Errorf("max_concurrent_operations must be >= %d, got %d", MinMaxConcurrentOperations, cfg.MaxConcurrentOps)
	}

	return cfg, nil
}

// Save writes cfg to path, creating parent directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}
