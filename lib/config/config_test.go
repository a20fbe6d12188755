// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}
	if cfg.Storage.Backend != BackendMemory {
		t.Errorf("expected backend=memory, got %s", cfg.Storage.Backend)
	}
	if time.Duration(cfg.Sync.MaxTimeout) != 5*time.Minute {
		t.Errorf("expected max_timeout=5m, got %s", time.Duration(cfg.Sync.MaxTimeout))
	}
	if cfg.SeedTestUsers {
		t.Error("expected seed_test_users=false by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}

func TestLoad_RequiresHomeserverConfig(t *testing.T) {
	t.Setenv(EnvVar, "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when HOMESERVER_CONFIG not set, got nil")
	}
	if !strings.HasPrefix(err.Error(), "HOMESERVER_CONFIG environment variable not set") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoad_WithHomeserverConfig(t *testing.T) {
	configPath := writeConfig(t, "homeserver.yaml", `
environment: staging
server_name: staging.example.org
socket_path: /test/homeserver.sock
`)
	t.Setenv(EnvVar, configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}
	if cfg.ServerName != "staging.example.org" {
		t.Errorf("expected server_name=staging.example.org, got %s", cfg.ServerName)
	}
}

func TestLoadFile(t *testing.T) {
	configPath := writeConfig(t, "homeserver.yaml", `
environment: development
server_name: example.org
socket_path: /run/homeserver/homeserver.sock

storage:
  backend: sqlite
  path: /var/lib/homeserver/homeserver.db
  pool_size: 8

state_cache_size: 1024

sync:
  max_timeout: 2m
  default_timeout: 20s

seed_test_users: true
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Storage.Backend != BackendSQLite || cfg.Storage.Path != "/var/lib/homeserver/homeserver.db" || cfg.Storage.PoolSize != 8 {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.StateCacheSize != 1024 {
		t.Errorf("expected state_cache_size=1024, got %d", cfg.StateCacheSize)
	}
	if time.Duration(cfg.Sync.MaxTimeout) != 2*time.Minute {
		t.Errorf("expected max_timeout=2m, got %s", time.Duration(cfg.Sync.MaxTimeout))
	}
	if time.Duration(cfg.Sync.DefaultTimeout) != 20*time.Second {
		t.Errorf("expected default_timeout=20s, got %s", time.Duration(cfg.Sync.DefaultTimeout))
	}
	if !cfg.SeedTestUsers {
		t.Error("expected seed_test_users=true")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFileJSONC(t *testing.T) {
	configPath := writeConfig(t, "homeserver.jsonc", `{
	// Local bolt database.
	"server_name": "example.org",
	"storage": {"backend": "bolt", "path": "/tmp/homeserver.bolt"},
	"sync": {"max_timeout": "90s"}, /* trailing comma below */
}`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Storage.Backend != BackendBolt {
		t.Errorf("expected backend=bolt, got %s", cfg.Storage.Backend)
	}
	if time.Duration(cfg.Sync.MaxTimeout) != 90*time.Second {
		t.Errorf("expected max_timeout=90s, got %s", time.Duration(cfg.Sync.MaxTimeout))
	}
	// Fields absent from the file keep their defaults.
	if time.Duration(cfg.Sync.DefaultTimeout) != 30*time.Second {
		t.Errorf("expected default_timeout=30s, got %s", time.Duration(cfg.Sync.DefaultTimeout))
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
	badDuration := writeConfig(t, "homeserver.yaml", "sync:\n  max_timeout: soon\n")
	if _, err := LoadFile(badDuration); err == nil {
		t.Error("expected error for an unparseable duration")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	configPath := writeConfig(t, "homeserver.yaml", `
environment: staging
server_name: example.org
storage:
  backend: memory
seed_test_users: true

staging:
  server_name: staging.example.org
  storage:
    backend: bolt
    path: /srv/staging.bolt
  sync:
    max_timeout: 1m
  seed_test_users: false

production:
  server_name: prod.example.org
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.ServerName != "staging.example.org" {
		t.Errorf("expected staging server_name, got %s", cfg.ServerName)
	}
	if cfg.Storage.Backend != BackendBolt || cfg.Storage.Path != "/srv/staging.bolt" {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if time.Duration(cfg.Sync.MaxTimeout) != time.Minute {
		t.Errorf("expected max_timeout=1m, got %s", time.Duration(cfg.Sync.MaxTimeout))
	}
	if cfg.SeedTestUsers {
		t.Error("staging override should disable seed_test_users")
	}
}

func TestProductionNeverSeedsTestUsers(t *testing.T) {
	configPath := writeConfig(t, "homeserver.yaml", `
environment: production
server_name: example.org
seed_test_users: true
production:
  seed_test_users: true
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.SeedTestUsers {
		t.Error("production must not seed test users")
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	t.Setenv("HOMESERVER_DATA", "/data")

	configPath := writeConfig(t, "homeserver.yaml", `
socket_path: ${HOME}/run/homeserver.sock
storage:
  backend: sqlite
  path: ${HOMESERVER_DATA}/db/${UNSET_VARIABLE:-homeserver}.db
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.SocketPath != "/home/tester/run/homeserver.sock" {
		t.Errorf("socket_path = %s", cfg.SocketPath)
	}
	if cfg.Storage.Path != "/data/db/homeserver.db" {
		t.Errorf("storage.path = %s", cfg.Storage.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errors []string
	}{
		{
			name:   "default",
			mutate: func(*Config) {},
		},
		{
			name:   "invalid environment",
			mutate: func(c *Config) { c.Environment = "qa" },
			errors: []string{"invalid environment"},
		},
		{
			name:   "missing server name",
			mutate: func(c *Config) { c.ServerName = "" },
			errors: []string{"server_name is required"},
		},
		{
			name:   "server name with user sigil",
			mutate: func(c *Config) { c.ServerName = "@alice" },
			errors: []string{"not a valid server name"},
		},
		{
			name:   "unknown backend",
			mutate: func(c *Config) { c.Storage.Backend = "postgres" },
			errors: []string{"storage.backend must be one of"},
		},
		{
			name: "sqlite without path",
			mutate: func(c *Config) {
				c.Storage.Backend = BackendSQLite
				c.Storage.Path = ""
			},
			errors: []string{"storage.path is required"},
		},
		{
			name: "several problems at once",
			mutate: func(c *Config) {
				c.SocketPath = ""
				c.StateCacheSize = 0
				c.Sync.DefaultTimeout = Duration(time.Hour)
			},
			errors: []string{
				"socket_path is required",
				"state_cache_size must be positive",
				"exceeds sync.max_timeout",
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Default()
			test.mutate(cfg)
			err := cfg.Validate()
			if len(test.errors) == 0 {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			for _, want := range test.errors {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error %q does not mention %q", err, want)
				}
			}
		})
	}
}

func TestEnsurePaths(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.SocketPath = filepath.Join(root, "run", "homeserver.sock")
	cfg.Storage.Backend = BackendBolt
	cfg.Storage.Path = filepath.Join(root, "data", "homeserver.bolt")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, dir := range []string{"run", "data"} {
		info, err := os.Stat(filepath.Join(root, dir))
		if err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
}
