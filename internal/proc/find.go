// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package proc

import (
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/wingedpig/kild/internal/errs"
	"github.com/wingedpig/kild/internal/session"
)

// FindByName scans the process table for the newest process matching name.
// A process matches on an exact executable name, a "name-" prefix (wrapper
// scripts), or any of the caller-supplied extra patterns as substrings. The
// tracker knows nothing about specific agents; callers that do pass their own
// patterns.
func (t *Tracker) FindByName(name string, extraPatterns []string) (*session.ProcessInfo, error) {
	procs, err := t.lister.Processes()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	var best *session.ProcessInfo
	for _, p := range procs {
		exe := p.Executable()
		if !matchesName(exe, name, extraPatterns) {
			continue
		}
		started, err := readStartTime(p.Pid())
		if err != nil {
			started = time.Time{}
		}
		info := &session.ProcessInfo{PID: p.Pid(), Name: exe, StartTime: started.UTC()}
		if best == nil || info.StartTime.After(best.StartTime) {
			best = info
		}
	}

	if best == nil {
		return nil, fmt.Errorf("process %q: %w", name, errs.ErrNotFound)
	}
	return best, nil
}

// FindByNameWithRetry retries FindByName at a fixed interval. Useful right
// after launching a terminal whose agent process takes a moment to appear.
func (t *Tracker) FindByNameWithRetry(name string, extraPatterns []string, maxAttempts int, interval time.Duration) (*session.ProcessInfo, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var found *session.ProcessInfo
	op := func() error {
		info, err := t.FindByName(name, extraPatterns)
		if err != nil {
			return err
		}
		found = info
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(maxAttempts-1))
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return found, nil
}

func matchesName(exe, name string, extraPatterns []string) bool {
	if namesMatch(exe, name) {
		return true
	}
	if strings.HasPrefix(exe, name+"-") {
		return true
	}
	for _, pat := range extraPatterns {
		if pat != "" && strings.Contains(exe, pat) {
			return true
		}
	}
	return false
}
