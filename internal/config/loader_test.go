// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_HJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kild.hjson")
	content := `{
  // comments are allowed in hjson
  state_dir: ` + dir + `
  ports: {
    base: 4000
    per_session: 5
  }
  default_agent: codex
  agents: {
    codex: {
      command: ["codex", "--full-auto"]
      match_patterns: ["codex-rs"]
    }
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	loader := NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.StateDir)
	assert.Equal(t, 4000, cfg.Ports.Base)
	assert.Equal(t, 5, cfg.Ports.PerSession)
	assert.Equal(t, "codex", cfg.DefaultAgent)

	agent, ok := cfg.Agent("codex")
	require.True(t, ok)
	assert.Equal(t, []string{"codex", "--full-auto"}, agent.Command)
	assert.Equal(t, []string{"codex-rs"}, agent.MatchPatterns)
}

func TestLoadWithDefaults_EmptyPath(t *testing.T) {
	loader := NewLoader()
	cfg, err := loader.LoadWithDefaults(context.Background(), "")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Ports.Base)
	assert.Equal(t, 10, cfg.Ports.PerSession)
	assert.Equal(t, "claude", cfg.DefaultAgent)
	assert.Equal(t, "daemon", cfg.DefaultPTYMode)
	assert.NotEmpty(t, cfg.Daemon.Socket)
	assert.Contains(t, cfg.SessionsDir(), "sessions")
	assert.Contains(t, cfg.PIDsDir(), "pids")
}

func TestLoad_MissingFile(t *testing.T) {
	loader := NewLoader()
	_, err := loader.Load(context.Background(), "/nonexistent/kild.hjson")
	assert.Error(t, err)
}

func TestLoad_InvalidHJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.hjson")
	require.NoError(t, os.WriteFile(path, []byte("{ state_dir: [unclosed"), 0644))

	loader := NewLoader()
	_, err := loader.Load(context.Background(), path)
	assert.Error(t, err)
}

func TestAgent_Builtins(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	claude, ok := cfg.Agent("claude")
	require.True(t, ok)
	assert.Equal(t, []string{"claude"}, claude.Command)

	none, ok := cfg.Agent("none")
	require.True(t, ok)
	assert.Empty(t, none.Command)

	_, ok = cfg.Agent("unknown-agent")
	assert.False(t, ok)
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".kild"), ExpandHome("~/.kild"))
	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "relative", ExpandHome("relative"))
}
