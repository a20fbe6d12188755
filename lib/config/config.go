// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

// EnvVar names the configuration file when no --config flag is given.
const EnvVar = "HOMESERVER_CONFIG"

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Backend selects a storage implementation.
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendSQLite Backend = "sqlite"
	BackendBolt   Backend = "bolt"
)

// Duration is a time.Duration written as a Go duration string ("30s",
// "5m") in YAML and JSON.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Config is the homeserver daemon configuration.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment" json:"environment"`

	// ServerName is the domain in every user and room ID this server
	// issues, e.g. "example.org".
	ServerName string `yaml:"server_name" json:"server_name"`

	// SocketPath is the Unix socket the daemon serves actions on.
	SocketPath string `yaml:"socket_path" json:"socket_path"`

	Storage StorageConfig `yaml:"storage" json:"storage"`

	// StateCacheSize is the capacity of the state resolver's
	// checkpoint cache, in room states.
	StateCacheSize int `yaml:"state_cache_size" json:"state_cache_size"`

	Sync SyncConfig `yaml:"sync" json:"sync"`

	// SeedTestUsers registers alice, bob and carol at startup. Forced
	// off in production.
	SeedTestUsers bool `yaml:"seed_test_users" json:"seed_test_users"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty" json:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty" json:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty" json:"production,omitempty"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Backend is memory, sqlite or bolt. Default: memory.
	Backend Backend `yaml:"backend" json:"backend"`

	// Path is the database file for the sqlite and bolt backends.
	Path string `yaml:"path" json:"path"`

	// PoolSize is the sqlite connection pool size. Zero selects the
	// pool's default.
	PoolSize int `yaml:"pool_size" json:"pool_size"`
}

// SyncConfig bounds sync long-polls.
type SyncConfig struct {
	// MaxTimeout caps the timeout a client may request.
	// Default: 5m
	MaxTimeout Duration `yaml:"max_timeout" json:"max_timeout"`

	// DefaultTimeout applies when a sync request names no timeout.
	// Default: 30s
	DefaultTimeout Duration `yaml:"default_timeout" json:"default_timeout"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	ServerName     string         `yaml:"server_name,omitempty" json:"server_name,omitempty"`
	SocketPath     string         `yaml:"socket_path,omitempty" json:"socket_path,omitempty"`
	Storage        *StorageConfig `yaml:"storage,omitempty" json:"storage,omitempty"`
	StateCacheSize int            `yaml:"state_cache_size,omitempty" json:"state_cache_size,omitempty"`
	Sync           *SyncConfig    `yaml:"sync,omitempty" json:"sync,omitempty"`
	SeedTestUsers  *bool          `yaml:"seed_test_users,omitempty" json:"seed_test_users,omitempty"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "homeserver")

	return &Config{
		Environment: Development,
		ServerName:  "localhost",
		SocketPath:  filepath.Join(defaultRoot, "homeserver.sock"),
		Storage: StorageConfig{
			Backend: BackendMemory,
			Path:    filepath.Join(defaultRoot, "homeserver.db"),
		},
		StateCacheSize: 4096,
		Sync: SyncConfig{
			MaxTimeout:     Duration(5 * time.Minute),
			DefaultTimeout: Duration(30 * time.Second),
		},
	}
}

// Load loads configuration from the HOMESERVER_CONFIG environment
// variable.
//
// There are no fallbacks or defaults - if HOMESERVER_CONFIG is not
// set, this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your homeserver.yaml config file, or use --config flag", EnvVar)
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path. Files ending
// in .json or .jsonc are parsed as JSON with comments; anything else
// is YAML.
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${HOME} and similar variables in path fields.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}

	if overrides != nil {
		if overrides.ServerName != "" {
			c.ServerName = overrides.ServerName
		}
		if overrides.SocketPath != "" {
			c.SocketPath = overrides.SocketPath
		}
		if overrides.Storage != nil {
			if overrides.Storage.Backend != "" {
				c.Storage.Backend = overrides.Storage.Backend
			}
			if overrides.Storage.Path != "" {
				c.Storage.Path = overrides.Storage.Path
			}
			if overrides.Storage.PoolSize != 0 {
				c.Storage.PoolSize = overrides.Storage.PoolSize
			}
		}
		if overrides.StateCacheSize != 0 {
			c.StateCacheSize = overrides.StateCacheSize
		}
		if overrides.Sync != nil {
			if overrides.Sync.MaxTimeout != 0 {
				c.Sync.MaxTimeout = overrides.Sync.MaxTimeout
			}
			if overrides.Sync.DefaultTimeout != 0 {
				c.Sync.DefaultTimeout = overrides.Sync.DefaultTimeout
			}
		}
		if overrides.SeedTestUsers != nil {
			c.SeedTestUsers = *overrides.SeedTestUsers
		}
	}

	// Well-known passwords never exist in production.
	if c.Environment == Production {
		c.SeedTestUsers = false
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.SocketPath = expandVars(c.SocketPath, vars)
	c.Storage.Path = expandVars(c.Storage.Path, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.ServerName == "" {
		errs = append(errs, fmt.Errorf("server_name is required"))
	} else if strings.ContainsAny(c.ServerName, " /@!#$") {
		errs = append(errs, fmt.Errorf("server_name %q is not a valid server name", c.ServerName))
	}

	if c.SocketPath == "" {
		errs = append(errs, fmt.Errorf("socket_path is required"))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite, BackendBolt:
		if c.Storage.Path == "" {
			errs = append(errs, fmt.Errorf("storage.path is required for the %s backend", c.Storage.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be one of: %v",
			[]Backend{BackendMemory, BackendSQLite, BackendBolt}))
	}
	if c.Storage.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("storage.pool_size must not be negative"))
	}

	if c.StateCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("state_cache_size must be positive"))
	}

	if c.Sync.MaxTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sync.max_timeout must be positive"))
	}
	if c.Sync.DefaultTimeout < 0 {
		errs = append(errs, fmt.Errorf("sync.default_timeout must not be negative"))
	}
	if c.Sync.DefaultTimeout > c.Sync.MaxTimeout {
		errs = append(errs, fmt.Errorf("sync.default_timeout (%s) exceeds sync.max_timeout (%s)",
			time.Duration(c.Sync.DefaultTimeout), time.Duration(c.Sync.MaxTimeout)))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the directories holding the socket and the
// database file if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{filepath.Dir(c.SocketPath)}
	if c.Storage.Backend != BackendMemory {
		paths = append(paths, filepath.Dir(c.Storage.Path))
	}

	for _, path := range paths {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}
