// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config loads kild configuration from HJSON files and applies
// defaults. Configuration is optional: with no file present, LoadWithDefaults
// on an empty path returns a fully defaulted Config.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hjson/hjson-go/v4"
)

// Loader handles configuration file loading.
type Loader struct{}

// NewLoader creates a new config loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Load reads and parses the configuration from the given path.
func (l *Loader) Load(ctx context.Context, path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Parse HJSON to intermediate map
	var raw map[string]interface{}
	if err := hjson.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse hjson: %w", err)
	}

	// Convert to JSON and unmarshal to struct (for type safety)
	jsonData, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("convert to json: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(jsonData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config with default values applied. An empty path
// returns a defaulted config without touching the filesystem.
func (l *Loader) LoadWithDefaults(ctx context.Context, path string) (*Config, error) {
	if path == "" {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg, nil
	}

	cfg, err := l.Load(ctx, path)
	if err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	return cfg, nil
}

// FindConfig searches for a config file. It looks for kild.hjson in the
// current directory first, then ~/.kild/config.hjson. Returns "" (no error)
// if neither exists.
func (l *Loader) FindConfig() (string, error) {
	if _, err := os.Stat("kild.hjson"); err == nil {
		abs, err := filepath.Abs("kild.hjson")
		if err != nil {
			return "kild.hjson", nil
		}
		return abs, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil
	}
	candidate := filepath.Join(home, ".kild", "config.hjson")
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}

	return "", nil
}

// applyDefaults sets default values for missing config fields.
func applyDefaults(cfg *Config) {
	if cfg.StateDir == "" {
		cfg.StateDir = "~/.kild"
	}
	cfg.StateDir = ExpandHome(cfg.StateDir)

	// Port defaults
	if cfg.Ports.Base == 0 {
		cfg.Ports.Base = 3000
	}
	if cfg.Ports.PerSession == 0 {
		cfg.Ports.PerSession = 10
	}

	// Daemon defaults
	if cfg.Daemon.Socket == "" {
		cfg.Daemon.Socket = filepath.Join(cfg.StateDir, "kild.sock")
	}
	cfg.Daemon.Socket = ExpandHome(cfg.Daemon.Socket)
	cfg.Daemon.LogFile = ExpandHome(cfg.Daemon.LogFile)

	// Worktree defaults
	cfg.Worktree.Root = ExpandHome(cfg.Worktree.Root)

	// Agent defaults
	if cfg.DefaultAgent == "" {
		cfg.DefaultAgent = "claude"
	}
	if cfg.DefaultPTYMode == "" {
		cfg.DefaultPTYMode = "daemon"
	}
}
