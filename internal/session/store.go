// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wingedpig/kild/internal/errs"
)

// Store persists session records, one JSON file per session, grouped by
// project. Writes use the temp-file-then-rename protocol so a reader never
// observes a partially written record, even if the writer is killed mid-write.
type Store struct {
	dir string
}

// NewStore creates a store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// projectKey maps a project path to a stable directory name. The base name
// keeps it readable; the hash disambiguates projects with the same base name.
func projectKey(projectPath string) string {
	abs, err := filepath.Abs(projectPath)
	if err != nil {
		abs = projectPath
	}
	h := fnv.New32a()
	h.Write([]byte(abs))
	return fmt.Sprintf("%s-%08x", SanitizeID(filepath.Base(abs)), h.Sum32())
}

// ProjectDir returns the directory holding a project's session files.
func (s *Store) ProjectDir(projectPath string) string {
	return filepath.Join(s.dir, projectKey(projectPath))
}

func (s *Store) recordPath(projectPath, branch string) string {
	return filepath.Join(s.ProjectDir(projectPath), SanitizeID(branch)+".json")
}

// Save writes the session record atomically. The rename is the only
// state-changing step visible to an external reader. Concurrent saves of the
// same session race at the rename; last writer wins.
func (s *Store) Save(sess *Session) error {
	if sess.Branch == "" {
		return fmt.Errorf("save session: empty branch")
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	path := s.recordPath(sess.ProjectPath, sess.Branch)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename session file: %w", err)
	}
	return nil
}

// Load reads one session record. Returns errs.ErrNotFound if no record exists
// for the branch.
func (s *Store) Load(projectPath, branch string) (*Session, error) {
	data, err := os.ReadFile(s.recordPath(projectPath, branch))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %q: %w", branch, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("parse session %q: %w", branch, err)
	}
	return &sess, nil
}

// List returns all session records for a project, sorted by branch name.
// Unparseable files are skipped with a warning rather than failing the whole
// listing.
func (s *Store) List(projectPath string) ([]*Session, error) {
	entries, err := os.ReadDir(s.ProjectDir(projectPath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	var sessions []*Session
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.ProjectDir(projectPath), entry.Name()))
		if err != nil {
			log.Printf("Warning: failed to read session file %s: %v", entry.Name(), err)
			continue
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			log.Printf("Warning: skipping unparseable session file %s: %v", entry.Name(), err)
			continue
		}
		sessions = append(sessions, &sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Branch < sessions[j].Branch
	})
	return sessions, nil
}

// Delete removes a session record. Deleting an absent record is a no-op.
func (s *Store) Delete(projectPath, branch string) error {
	err := os.Remove(s.recordPath(projectPath, branch))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete session file: %w", err)
	}
	return nil
}

// Exists reports whether a record exists for the branch.
func (s *Store) Exists(projectPath, branch string) bool {
	_, err := os.Stat(s.recordPath(projectPath, branch))
	return err == nil
}
