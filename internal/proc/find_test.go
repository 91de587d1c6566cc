// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package proc

import (
	"errors"
	"testing"
	"time"

	ps "github.com/mitchellh/go-ps"

	"github.com/wingedpig/kild/internal/errs"
)

type fakeProcess struct {
	pid int
	exe string
}

func (f fakeProcess) Pid() int           { return f.pid }
func (f fakeProcess) PPid() int          { return 0 }
func (f fakeProcess) Executable() string { return f.exe }

// fakeLister serves a scripted sequence of process-table snapshots; the last
// snapshot repeats once the script is exhausted.
type fakeLister struct {
	snapshots [][]ps.Process
	calls     int
}

func (f *fakeLister) Processes() ([]ps.Process, error) {
	idx := f.calls
	if idx >= len(f.snapshots) {
		idx = len(f.snapshots) - 1
	}
	f.calls++
	return f.snapshots[idx], nil
}

func (f *fakeLister) FindProcess(pid int) (ps.Process, error) {
	procs, _ := f.Processes()
	f.calls-- // FindProcess should not advance the script
	for _, p := range procs {
		if p.Pid() == pid {
			return p, nil
		}
	}
	return nil, nil
}

func TestFindByName_ExactAndPrefix(t *testing.T) {
	lister := &fakeLister{snapshots: [][]ps.Process{{
		fakeProcess{pid: 100, exe: "bash"},
		fakeProcess{pid: 101, exe: "claude"},
		fakeProcess{pid: 102, exe: "codex-wrapper"},
	}}}
	tracker := NewTrackerWithLister(lister)

	info, err := tracker.FindByName("claude", nil)
	if err != nil {
		t.Fatalf("FindByName(claude) error: %v", err)
	}
	if info.PID != 101 {
		t.Errorf("PID = %d, want 101", info.PID)
	}

	info, err = tracker.FindByName("codex", nil)
	if err != nil {
		t.Fatalf("FindByName(codex) error: %v", err)
	}
	if info.PID != 102 {
		t.Errorf("dash-prefixed executable not matched, PID = %d", info.PID)
	}
}

func TestFindByName_CallerPatterns(t *testing.T) {
	lister := &fakeLister{snapshots: [][]ps.Process{{
		fakeProcess{pid: 200, exe: "node"},
		fakeProcess{pid: 201, exe: "gemini-cli-helper"},
	}}}
	tracker := NewTrackerWithLister(lister)

	// Generic tracker has no idea what "gemini" runs as; the caller does.
	info, err := tracker.FindByName("gemini", []string{"gemini-cli"})
	if err != nil {
		t.Fatalf("FindByName() error: %v", err)
	}
	if info.PID != 201 {
		t.Errorf("PID = %d, want 201", info.PID)
	}
}

func TestFindByNameWithRetry_AppearsOnThirdAttempt(t *testing.T) {
	lister := &fakeLister{snapshots: [][]ps.Process{
		{fakeProcess{pid: 1, exe: "init"}},
		{fakeProcess{pid: 1, exe: "init"}},
		{fakeProcess{pid: 1, exe: "init"}, fakeProcess{pid: 300, exe: "claude"}},
	}}
	tracker := NewTrackerWithLister(lister)

	info, err := tracker.FindByNameWithRetry("claude", nil, 3, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("FindByNameWithRetry() error: %v", err)
	}
	if info.PID != 300 {
		t.Errorf("PID = %d, want 300", info.PID)
	}
	if lister.calls != 3 {
		t.Errorf("expected 3 scans, got %d", lister.calls)
	}
}

func TestFindByNameWithRetry_ExhaustsRetries(t *testing.T) {
	lister := &fakeLister{snapshots: [][]ps.Process{
		{fakeProcess{pid: 1, exe: "init"}},
	}}
	tracker := NewTrackerWithLister(lister)

	_, err := tracker.FindByNameWithRetry("claude", nil, 3, time.Millisecond)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if lister.calls != 3 {
		t.Errorf("expected exactly 3 scans, got %d", lister.calls)
	}
}
