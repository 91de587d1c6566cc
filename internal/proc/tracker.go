// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package proc spawns, validates, and kills tracked OS processes. A tracked
// process is identified by PID plus a fingerprint (executable name and start
// time) so that a PID recycled by the OS is never mistaken for the original.
package proc

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	ps "github.com/mitchellh/go-ps"

	"github.com/wingedpig/kild/internal/errs"
	"github.com/wingedpig/kild/internal/session"
)

const (
	killTimeout  = 5 * time.Second
	killPollTick = 100 * time.Millisecond

	// startTimeTolerance absorbs rounding between the spawn-time capture and
	// later reads of the kernel's process table.
	startTimeTolerance = 2 * time.Second
)

// ProcessLister abstracts the OS process table for testing.
type ProcessLister interface {
	Processes() ([]ps.Process, error)
	FindProcess(pid int) (ps.Process, error)
}

// RealProcessLister reads the live process table.
type RealProcessLister struct{}

func (RealProcessLister) Processes() ([]ps.Process, error) {
	return ps.Processes()
}

func (RealProcessLister) FindProcess(pid int) (ps.Process, error) {
	return ps.FindProcess(pid)
}

// Tracker spawns and supervises tracked processes.
type Tracker struct {
	lister ProcessLister
}

// NewTracker creates a tracker backed by the real process table.
func NewTracker() *Tracker {
	return &Tracker{lister: RealProcessLister{}}
}

// NewTrackerWithLister creates a tracker with a custom process lister.
func NewTrackerWithLister(lister ProcessLister) *Tracker {
	return &Tracker{lister: lister}
}

// Spawn launches a detached process in dir and captures its identity
// fingerprint. The start time is read immediately after the spawn, before
// anything that could sleep, so a fast-exiting process cannot be confused
// with a later PID reuse.
func (t *Tracker) Spawn(command []string, dir string, env []string) (*session.ProcessInfo, error) {
	if len(command) == 0 {
		return nil, fmt.Errorf("spawn: empty command")
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	// New session so the process survives the CLI exiting and can be
	// signalled as a group.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", command[0], err)
	}

	pid := cmd.Process.Pid
	started, err := readStartTime(pid)
	if err != nil {
		// Process may already have exited, or /proc is unavailable. The
		// spawn moment is close enough for identity checks.
		started = time.Now()
	}

	info := &session.ProcessInfo{
		PID:       pid,
		Name:      filepath.Base(command[0]),
		StartTime: started.UTC(),
	}

	// Detach; the CLI never waits on tracked processes.
	cmd.Process.Release()

	return info, nil
}

// IsRunning reports whether the tracked process is still alive and still the
// same process. A live PID with a different name or start time means the OS
// reused the PID and the original is gone.
func (t *Tracker) IsRunning(handle *session.ProcessInfo) bool {
	return t.validate(handle) == nil
}

// validate checks the handle against the live process table. Returns nil if
// the process exists and matches, errs.ErrNotFound if no process has the PID,
// and errs.ErrIdentityMismatch if the PID now belongs to a different process.
func (t *Tracker) validate(handle *session.ProcessInfo) error {
	if handle == nil || handle.PID <= 0 {
		return errs.ErrNotFound
	}

	proc, err := t.lister.FindProcess(handle.PID)
	if err != nil || proc == nil {
		return fmt.Errorf("pid %d: %w", handle.PID, errs.ErrNotFound)
	}

	if !namesMatch(proc.Executable(), handle.Name) {
		return fmt.Errorf("pid %d is now %q, expected %q: %w",
			handle.PID, proc.Executable(), handle.Name, errs.ErrIdentityMismatch)
	}

	if started, err := readStartTime(handle.PID); err == nil {
		diff := started.Sub(handle.StartTime)
		if diff < -startTimeTolerance || diff > startTimeTolerance {
			return fmt.Errorf("pid %d started %s, expected %s: %w",
				handle.PID, started.Format(time.RFC3339), handle.StartTime.Format(time.RFC3339),
				errs.ErrIdentityMismatch)
		}
	}

	return nil
}

// Kill terminates a tracked process after re-validating its identity. It
// refuses to signal a PID whose fingerprint no longer matches. The whole
// process group gets SIGTERM, then SIGKILL after a timeout.
func (t *Tracker) Kill(handle *session.ProcessInfo) error {
	if err := t.validate(handle); err != nil {
		return err
	}

	// Negative PID signals the process group.
	if err := syscall.Kill(-handle.PID, syscall.SIGTERM); err != nil {
		// Fall back to the single process if it never became a group leader.
		if err := syscall.Kill(handle.PID, syscall.SIGTERM); err != nil {
			return fmt.Errorf("signal pid %d: %w", handle.PID, err)
		}
	}

	deadline := time.Now().Add(killTimeout)
	for time.Now().Before(deadline) {
		if !t.IsRunning(handle) {
			return nil
		}
		time.Sleep(killPollTick)
	}

	syscall.Kill(-handle.PID, syscall.SIGKILL)
	syscall.Kill(handle.PID, syscall.SIGKILL)
	return nil
}

// namesMatch compares executable names, tolerating the kernel's 15-character
// comm truncation.
func namesMatch(actual, expected string) bool {
	if actual == expected {
		return true
	}
	if len(actual) == 15 && strings.HasPrefix(expected, actual) {
		return true
	}
	if len(expected) == 15 && strings.HasPrefix(actual, expected) {
		return true
	}
	return false
}
