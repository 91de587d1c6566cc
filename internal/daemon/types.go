// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package daemon implements the kild PTY daemon: a per-user background
// process that owns session PTYs so they outlive the CLI invocations that
// request them. Clients reach it over a unix socket with a small HTTP API
// plus a WebSocket stream for attach.
package daemon

import (
	"time"

	"github.com/wingedpig/kild/internal/events"
)

// PTYState is the lifecycle state of a managed PTY.
type PTYState string

const (
	StateStarting PTYState = "starting"
	StateRunning  PTYState = "running"
	StateExited   PTYState = "exited"
)

// OpenRequest asks the daemon to allocate a PTY and spawn a command in it.
type OpenRequest struct {
	SessionID   string   `json:"session_id"`
	ProjectPath string   `json:"project_path"`
	Command     []string `json:"command"`
	Dir         string   `json:"dir"`
	Env         []string `json:"env,omitempty"` // KEY=value pairs appended to the daemon's environment
	Rows        uint16   `json:"rows"`
	Cols        uint16   `json:"cols"`
}

// InputRequest carries keystrokes for a PTY. Data is raw bytes, JSON-encoded
// as a string (the terminal byte stream is passed through verbatim).
type InputRequest struct {
	Data []byte `json:"data"`
}

// ResizeRequest propagates a terminal resize to the PTY child.
type ResizeRequest struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// PTYStatus is the externally visible state of one managed PTY.
type PTYStatus struct {
	SessionID string    `json:"session_id"`
	State     PTYState  `json:"state"`
	PID       int       `json:"pid,omitempty"`
	ExitCode  int       `json:"exit_code"`
	Rows      uint16    `json:"rows"`
	Cols      uint16    `json:"cols"`
	StartedAt time.Time `json:"started_at"`
	ExitedAt  time.Time `json:"exited_at,omitempty"`
	Attached  int       `json:"attached"` // Number of attached clients
}

// HealthStatus is the daemon's own status report. RecentEvents is the tail of
// the event bus history, for diagnosing what the daemon has been doing.
type HealthStatus struct {
	PID          int            `json:"pid"`
	Started      time.Time      `json:"started"`
	PTYs         int            `json:"ptys"`
	Version      string         `json:"version"`
	RecentEvents []events.Event `json:"recent_events,omitempty"`
}
