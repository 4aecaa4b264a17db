// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads tabchat configuration.
//
// Configuration sources (in priority order):
//   - Environment variables (TABCHAT_*)
//   - ~/.tabchat/config.toml
//   - Built-in defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete tabchat configuration.
type Config struct {
	// DefaultModel is used for new conversations.
	DefaultModel string `toml:"default_model"`

	Backend BackendConfig `toml:"backend"`
	Storage StorageConfig `toml:"storage"`
	Sync    SyncConfig    `toml:"sync"`
	Budget  BudgetConfig  `toml:"budget"`
}

// BackendConfig points at the chat backend.
type BackendConfig struct {
	// BaseURL is the backend API root, e.g. http://localhost:8080
	BaseURL string `toml:"base_url"`
	// APIKey authenticates requests. Empty disables the header.
	APIKey string `toml:"api_key"`
	// TimeoutSecs bounds non-streaming requests.
	TimeoutSecs int `toml:"timeout_secs"`
}

// Timeout returns the request timeout as a duration.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSecs) * time.Second
}

// StorageConfig locates the conversation database.
type StorageConfig struct {
	// DatabasePath is the SQLite file. Empty = ~/.tabchat/chat.db
	DatabasePath string `toml:"database_path"`
}

// SyncConfig controls cross-instance synchronization.
type SyncConfig struct {
	// Enabled turns the sync channel on.
	Enabled bool `toml:"enabled"`
	// Dir is the shared spool directory. Empty = ~/.tabchat/sync
	Dir string `toml:"dir"`
}

// BudgetConfig tunes context budget warnings.
type BudgetConfig struct {
	// WarningThresholdPercent is where the first warning fires (1-99).
	WarningThresholdPercent int `toml:"warning_threshold_percent"`
}

// =============================================================================
// DEFAULTS AND PATHS
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultModel: "llama3:8b",
		Backend: BackendConfig{
			BaseURL:     "http://localhost:8080",
			TimeoutSecs: 30,
		},
		Sync: SyncConfig{
			Enabled: true,
		},
		Budget: BudgetConfig{
			WarningThresholdPercent: 80,
		},
	}
}

// Dir returns the tabchat data directory, ~/.tabchat.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tabchat"), nil
}

// Path returns the config file path, ~/.tabchat/config.toml.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads the config file if present, applies environment overrides and
// fills defaults. A missing file is not an error.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from an explicit file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.fillDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides lets TABCHAT_* variables win over the file.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TABCHAT_BACKEND_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("TABCHAT_API_KEY"); v != "" {
		c.Backend.APIKey = v
	}
	if v := os.Getenv("TABCHAT_MODEL"); v != "" {
		c.DefaultModel = v
	}
	if v := os.Getenv("TABCHAT_DB"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("TABCHAT_SYNC_DIR"); v != "" {
		c.Sync.Dir = v
	}
	if v := os.Getenv("TABCHAT_WARNING_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Budget.WarningThresholdPercent = n
		}
	}
}

// fillDefaults resolves empty paths against the data directory.
func (c *Config) fillDefaults() error {
	if c.Storage.DatabasePath == "" || c.Sync.Dir == "" {
		dir, err := Dir()
		if err != nil {
			return fmt.Errorf("cannot resolve data directory: %w", err)
		}
		if c.Storage.DatabasePath == "" {
			c.Storage.DatabasePath = filepath.Join(dir, "chat.db")
		}
		if c.Sync.Dir == "" {
			c.Sync.Dir = filepath.Join(dir, "sync")
		}
	}
	if c.Backend.TimeoutSecs <= 0 {
		c.Backend.TimeoutSecs = 30
	}
	return nil
}

// Validate checks configuration ranges.
func (c *Config) Validate() error {
	if c.DefaultModel == "" {
		return fmt.Errorf("default_model must not be empty")
	}
	if t := c.Budget.WarningThresholdPercent; t < 1 || t > 99 {
		return fmt.Errorf("warning_threshold_percent %d outside 1-99", t)
	}
	return nil
}
