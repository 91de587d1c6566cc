// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Config is the top-level kild configuration.
type Config struct {
	StateDir string                 `json:"state_dir"` // Session records, PID files, daemon socket
	Ports    PortsConfig            `json:"ports"`
	Worktree WorktreeConfig         `json:"worktree"`
	Daemon   DaemonConfig           `json:"daemon"`
	Terminal TerminalConfig         `json:"terminal"`
	Agents   map[string]AgentConfig `json:"agents"`

	DefaultAgent   string `json:"default_agent"`
	DefaultPTYMode string `json:"default_pty_mode"` // "daemon" or "external"
}

// PortsConfig controls port range allocation.
type PortsConfig struct {
	Base       int `json:"base"`        // Lowest port considered for allocation
	PerSession int `json:"per_session"` // Ports reserved per session
}

// WorktreeConfig controls where worktrees are created and from what.
type WorktreeConfig struct {
	Root       string `json:"root"`        // Directory where new worktrees are created
	BaseBranch string `json:"base_branch"` // Branch new sessions fork from ("" = repo default)
	NoFetch    bool   `json:"no_fetch"`    // Skip git fetch before creating worktrees
}

// DaemonConfig configures the PTY daemon.
type DaemonConfig struct {
	Socket  string `json:"socket"`   // Unix socket path for IPC
	LogFile string `json:"log_file"` // Daemon log destination ("" = stderr)
}

// TerminalConfig configures external-terminal mode.
type TerminalConfig struct {
	// Command launches an OS terminal window. Occurrences of {{cmd}} and
	// {{dir}} are replaced with the agent command line and the worktree path.
	Command []string `json:"command"`
}

// AgentConfig describes one agent backend.
type AgentConfig struct {
	Command []string `json:"command"` // Launch command, run in the worktree

	// MatchPatterns are extra process-name patterns for discovering the real
	// agent process after launch (wrapper scripts fork into differently named
	// binaries). Injected into the process tracker by the orchestrator.
	MatchPatterns []string `json:"match_patterns"`
}

// builtinAgents are the agent backends known out of the box. User config
// entries with the same name override them.
func builtinAgents() map[string]AgentConfig {
	return map[string]AgentConfig{
		"claude": {Command: []string{"claude"}, MatchPatterns: []string{"claude", "node"}},
		"codex":  {Command: []string{"codex"}, MatchPatterns: []string{"codex"}},
		"gemini": {Command: []string{"gemini"}, MatchPatterns: []string{"gemini", "node"}},
		"none":   {},
	}
}

// SessionsDir returns the directory holding session record files.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.StateDir, "sessions")
}

// PIDsDir returns the directory holding PID tracking files.
func (c *Config) PIDsDir() string {
	return filepath.Join(c.StateDir, "pids")
}

// Agent returns the agent config for name, falling back to built-ins.
func (c *Config) Agent(name string) (AgentConfig, bool) {
	if a, ok := c.Agents[name]; ok {
		return a, true
	}
	a, ok := builtinAgents()[name]
	return a, ok
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
