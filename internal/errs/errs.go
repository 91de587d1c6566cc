// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package errs defines the sentinel errors shared across kild and the mapping
// from errors to process exit codes. Callers classify failures with errors.Is
// against these sentinels rather than by message.
package errs

import "errors"

var (
	// ErrNotFound means the named session, PTY, or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists means a session or PTY with that id already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrIdentityMismatch means a recorded PID now belongs to a different
	// process (name or start time no longer matches).
	ErrIdentityMismatch = errors.New("process identity mismatch")

	// ErrSafetyCheckBlocked means a destructive operation was refused
	// because it would lose work; force overrides it.
	ErrSafetyCheckBlocked = errors.New("blocked by safety check")

	// ErrPortsExhausted means no free port range could be allocated.
	ErrPortsExhausted = errors.New("port ranges exhausted")

	// ErrDaemonUnavailable means the PTY daemon could not be reached.
	ErrDaemonUnavailable = errors.New("daemon unavailable")

	// ErrWorktreeConflict means the requested branch collides with an
	// existing worktree path.
	ErrWorktreeConflict = errors.New("worktree path conflict")
)

// Process exit codes used by the kild CLI.
const (
	ExitOK            = 0
	ExitInternal      = 1
	ExitSafetyBlocked = 2
	ExitNotFound      = 3
	ExitAlreadyExists = 4
	ExitDaemonDown    = 5
)

// ExitCode maps an error to the CLI exit code contract. Nil maps to ExitOK;
// anything unclassified is an internal error.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrSafetyCheckBlocked):
		return ExitSafetyBlocked
	case errors.Is(err, ErrNotFound):
		return ExitNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrWorktreeConflict):
		return ExitAlreadyExists
	case errors.Is(err, ErrDaemonUnavailable):
		return ExitDaemonDown
	default:
		return ExitInternal
	}
}
