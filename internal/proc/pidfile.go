// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package proc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/wingedpig/kild/internal/errs"
	"github.com/wingedpig/kild/internal/session"
)

// PIDStore persists process fingerprints, one JSON file per tracked process,
// keyed by session id. It lets a later CLI invocation re-validate identity
// against the same fingerprint that was captured at spawn time. Writes use
// the same temp-then-rename protocol as the session store.
type PIDStore struct {
	dir string
}

// NewPIDStore creates a store rooted at dir.
func NewPIDStore(dir string) *PIDStore {
	return &PIDStore{dir: dir}
}

func (s *PIDStore) path(sessionID string) string {
	return filepath.Join(s.dir, session.SanitizeID(sessionID)+".json")
}

// Save writes a fingerprint atomically.
func (s *PIDStore) Save(sessionID string, info *session.ProcessInfo) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pid file: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create pids dir: %w", err)
	}

	path := s.path(sessionID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp pid file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename pid file: %w", err)
	}
	return nil
}

// Load reads a fingerprint. Returns errs.ErrNotFound if none is recorded.
func (s *PIDStore) Load(sessionID string) (*session.ProcessInfo, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("pid file for %q: %w", sessionID, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("read pid file: %w", err)
	}
	var info session.ProcessInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse pid file for %q: %w", sessionID, err)
	}
	return &info, nil
}

// Delete removes a fingerprint. Deleting an absent file is a no-op.
func (s *PIDStore) Delete(sessionID string) error {
	err := os.Remove(s.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete pid file: %w", err)
	}
	return nil
}
