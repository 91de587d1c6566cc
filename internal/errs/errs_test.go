// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain error", errors.New("boom"), ExitInternal},
		{"not found", ErrNotFound, ExitNotFound},
		{"wrapped not found", fmt.Errorf("session %q: %w", "x", ErrNotFound), ExitNotFound},
		{"already exists", ErrAlreadyExists, ExitAlreadyExists},
		{"worktree conflict", ErrWorktreeConflict, ExitAlreadyExists},
		{"safety blocked", fmt.Errorf("uncommitted changes: %w", ErrSafetyCheckBlocked), ExitSafetyBlocked},
		{"daemon down", fmt.Errorf("dial: %w", ErrDaemonUnavailable), ExitDaemonDown},
		{"ports exhausted", ErrPortsExhausted, ExitInternal},
		{"identity mismatch", ErrIdentityMismatch, ExitInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
