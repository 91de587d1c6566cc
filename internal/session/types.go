// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package session defines the session model and its durable store. A session
// ties together a git worktree, an allocated port range, and a tracked agent
// process under a single branch name.
package session

import (
	"fmt"
	"time"
)

// PTYMode selects how a session's terminal is run.
type PTYMode string

const (
	// PTYModeDaemon runs the terminal as a PTY owned by the kild daemon.
	PTYModeDaemon PTYMode = "daemon"
	// PTYModeExternal launches a separate OS terminal window.
	PTYModeExternal PTYMode = "external"
)

// Status is the derived liveness of a session. It is computed at read time
// from process validation and never stored.
type Status string

const (
	StatusActive  Status = "active"  // Tracked process is running and identity-validated
	StatusStopped Status = "stopped" // No tracked process
	StatusUnknown Status = "unknown" // PID present but identity could not be confirmed
)

// PortRange is a half-open range [Base, Base+Count) of TCP ports reserved for
// a session.
type PortRange struct {
	Base  uint16 `json:"base"`
	Count uint16 `json:"count"`
}

// End returns the first port past the range.
func (r PortRange) End() int {
	return int(r.Base) + int(r.Count)
}

// Overlaps reports whether two ranges share any port.
func (r PortRange) Overlaps(other PortRange) bool {
	return int(r.Base) < other.End() && int(other.Base) < r.End()
}

// String formats the range in half-open interval notation.
func (r PortRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.Base, r.End())
}

// ProcessInfo identifies a tracked OS process. PID alone is never trusted:
// Name and StartTime are re-validated before any kill to catch PID reuse.
type ProcessInfo struct {
	PID       int       `json:"pid"`
	Name      string    `json:"process_name"`
	StartTime time.Time `json:"start_time"`
}

// Session is the central record: one per (project, branch).
type Session struct {
	Branch       string       `json:"branch"` // Session id == branch name
	ProjectPath  string       `json:"project_path"`
	WorktreePath string       `json:"worktree_path"`
	Agent        string       `json:"agent"`
	PortRange    PortRange    `json:"port_range"`
	Process      *ProcessInfo `json:"process,omitempty"`
	PTYMode      PTYMode      `json:"pty_mode"`
	Note         string       `json:"note,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ID returns the session identifier (the branch name).
func (s *Session) ID() string {
	return s.Branch
}

// SanitizeID transforms a session id into a filesystem-safe file stem.
// Non-alphanumeric characters are replaced with underscores.
func SanitizeID(id string) string {
	result := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '-' {
			result[i] = c
		} else {
			result[i] = '_'
		}
	}
	return string(result)
}
