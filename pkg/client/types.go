// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import "time"

// PTY states reported by the daemon.
const (
	StateStarting = "starting"
	StateRunning  = "running"
	StateExited   = "exited"
)

// PTY is the daemon's view of one managed session PTY.
type PTY struct {
	// SessionID is the owning kild session (the branch name).
	SessionID string `json:"session_id"`

	// State is one of StateStarting, StateRunning, StateExited.
	State string `json:"state"`

	// PID of the PTY's child process while it runs.
	PID int `json:"pid,omitempty"`

	// ExitCode of the child once State is StateExited.
	ExitCode int `json:"exit_code"`

	// Rows and Cols are the current terminal dimensions.
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`

	StartedAt time.Time `json:"started_at"`
	ExitedAt  time.Time `json:"exited_at,omitempty"`

	// Attached is the number of clients currently streaming output.
	Attached int `json:"attached"`
}

// Running reports whether the PTY's child is still alive.
func (p *PTY) Running() bool {
	return p.State == StateRunning || p.State == StateStarting
}

// Event is one entry from the daemon's event history, included in health
// reports for diagnostics.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Session   string                 `json:"session,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Health is the daemon's own status report.
type Health struct {
	PID          int       `json:"pid"`
	Started      time.Time `json:"started"`
	PTYs         int       `json:"ptys"`
	Version      string    `json:"version"`
	RecentEvents []Event   `json:"recent_events,omitempty"`
}

// OpenOptions describes the PTY to open for a session.
type OpenOptions struct {
	// SessionID is the kild session id (the branch name). Required.
	SessionID string `json:"session_id"`

	// ProjectPath is the session's project, used by the daemon to update
	// the session record when the child exits.
	ProjectPath string `json:"project_path"`

	// Command is the argv to run as the PTY's child. Required.
	Command []string `json:"command"`

	// Dir is the working directory, normally the session's worktree.
	Dir string `json:"dir"`

	// Env holds extra KEY=value pairs for the child, e.g. the session's
	// allocated port range.
	Env []string `json:"env,omitempty"`

	// Rows and Cols set the initial size; zero means 24x80.
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}
