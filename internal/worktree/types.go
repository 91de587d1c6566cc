// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"context"
	"path/filepath"
	"time"
)

// WorktreeInfo contains information about a git worktree.
type WorktreeInfo struct {
	Path     string
	Commit   string // Current commit SHA (head)
	Branch   string
	Detached bool
	IsBare   bool
	Dirty    bool // Whether working tree has uncommitted changes
	Ahead    int  // Commits ahead of default branch
	Behind   int  // Commits behind default branch
}

// Name returns the directory name of the worktree.
func (w *WorktreeInfo) Name() string {
	return filepath.Base(w.Path)
}

// GitStatus represents the status of a git working directory.
type GitStatus struct {
	Clean     bool
	Modified  []string
	Added     []string
	Deleted   []string
	Renamed   []string
	Untracked []string
}

// HasChanges returns true if there are any changes in the working directory.
func (s *GitStatus) HasChanges() bool {
	if s.Clean {
		return false
	}
	return len(s.Modified) > 0 || len(s.Added) > 0 ||
		len(s.Deleted) > 0 || len(s.Renamed) > 0 ||
		len(s.Untracked) > 0
}

// PRInfo describes the pull request associated with a branch, if any.
type PRInfo struct {
	Number   int
	State    string // OPEN, CLOSED, MERGED
	MergedAt time.Time
}

// Merged reports whether the pull request has been merged.
func (p *PRInfo) Merged() bool {
	return p != nil && p.State == "MERGED"
}

// GitExecutor is the interface for git operations.
type GitExecutor interface {
	WorktreeList(ctx context.Context, dir string) ([]WorktreeInfo, error)
	Status(ctx context.Context, path string) (GitStatus, error)
	BranchExists(ctx context.Context, repoDir, branch string) bool
	Fetch(ctx context.Context, repoDir string) error
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// PRChecker looks up the pull request for a branch. Implementations may shell
// out to forge tooling; a nil checker disables PR-related warnings.
type PRChecker interface {
	Find(ctx context.Context, repoDir, branch string) (*PRInfo, error)
}
