// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package worktree creates and removes the per-session git worktrees and
// enforces the safety checks that guard destructive operations.
package worktree

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/wingedpig/kild/internal/errs"
)

// Manager manages the worktrees of one project. It holds no cached state:
// every operation reads the git worktree list fresh, since other kild
// invocations or the user may change it between calls.
type Manager struct {
	git         GitExecutor
	prs         PRChecker // May be nil
	repoDir     string    // Main repository checkout
	root        string    // Directory where worktrees are created
	projectName string
}

// NewManager creates a worktree manager for the project at repoDir. Worktrees
// are created under root; if root is empty, the repository's parent directory
// is used.
func NewManager(git GitExecutor, prs PRChecker, repoDir, root string) *Manager {
	if root == "" {
		root = filepath.Dir(repoDir)
	}
	return &Manager{
		git:         git,
		prs:         prs,
		repoDir:     repoDir,
		root:        root,
		projectName: filepath.Base(repoDir),
	}
}

// PathFor returns the worktree path a branch would get. Slashes in branch
// names become dashes for filesystem compatibility.
func (m *Manager) PathFor(branch string) string {
	sanitized := strings.ReplaceAll(branch, "/", "-")
	return filepath.Join(m.root, m.projectName+"-"+sanitized)
}

// Create fetches from the remote (unless suppressed), then creates a new
// branch and worktree from baseBranch. Returns the new worktree's path.
// Fails with errs.ErrAlreadyExists if the branch already exists.
func (m *Manager) Create(ctx context.Context, branch, baseBranch string, fetch bool) (string, error) {
	if branch == "" {
		return "", fmt.Errorf("branch name is required")
	}

	sanitized := strings.ReplaceAll(branch, "/", "-")
	if sanitized != branch && m.git.BranchExists(ctx, m.repoDir, sanitized) {
		// "feature/foo" and "feature-foo" would collide on the same directory.
		return "", fmt.Errorf("branch %q would create directory %q which conflicts with existing branch %q: %w",
			branch, m.projectName+"-"+sanitized, sanitized, errs.ErrWorktreeConflict)
	}

	worktreePath := m.PathFor(branch)
	if _, err := os.Stat(worktreePath); err == nil {
		return "", fmt.Errorf("worktree directory %s: %w", worktreePath, errs.ErrAlreadyExists)
	}

	if m.git.BranchExists(ctx, m.repoDir, branch) {
		return "", fmt.Errorf("branch %q: %w", branch, errs.ErrAlreadyExists)
	}

	if fetch {
		if err := m.git.Fetch(ctx, m.repoDir); err != nil {
			log.Printf("Warning: fetch before worktree create failed: %v", err)
		}
	}

	if baseBranch == "" {
		baseBranch = GetDefaultBranch(ctx, m.git, m.repoDir)
	}

	if _, err := m.git.Run(ctx, m.repoDir, "worktree", "add", "-b", branch, worktreePath, baseBranch); err != nil {
		return "", fmt.Errorf("create worktree: %w", err)
	}

	return worktreePath, nil
}

// Remove deletes a worktree and its local branch after safety checks.
//
// Blocking checks: staged, modified, or untracked files abort the removal
// with errs.ErrSafetyCheckBlocked unless force is set. Non-blocking checks
// produce warnings the caller shows to the user: unpushed commits, a branch
// that was never pushed, or no pull request associated with the branch.
func (m *Manager) Remove(ctx context.Context, path, branch string, force bool) ([]string, error) {
	if path == m.repoDir {
		return nil, fmt.Errorf("refusing to remove the main repository checkout")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		// Directory already gone; still prune git's bookkeeping and branch.
		m.git.Run(ctx, m.repoDir, "worktree", "prune")
		return m.deleteBranch(ctx, branch)
	}

	status, err := m.git.Status(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("check worktree status: %w", err)
	}
	if status.HasChanges() && !force {
		return nil, fmt.Errorf("worktree %s has %s: %w",
			path, describeChanges(status), errs.ErrSafetyCheckBlocked)
	}

	warnings := m.removalWarnings(ctx, path, branch)

	if _, err := m.git.Run(ctx, m.repoDir, "worktree", "remove", "--force", path); err != nil {
		return warnings, fmt.Errorf("remove worktree: %w", err)
	}

	branchWarnings, err := m.deleteBranch(ctx, branch)
	return append(warnings, branchWarnings...), err
}

func (m *Manager) deleteBranch(ctx context.Context, branch string) ([]string, error) {
	if branch == "" || branch == "main" || branch == "master" {
		return nil, nil
	}
	if _, err := m.git.Run(ctx, m.repoDir, "branch", "-D", branch); err != nil {
		return []string{fmt.Sprintf("failed to delete branch %s: %v", branch, err)}, nil
	}
	return nil, nil
}

// removalWarnings collects the non-blocking signals that work might be lost.
func (m *Manager) removalWarnings(ctx context.Context, path, branch string) []string {
	var warnings []string

	switch state, n := CheckUpstream(ctx, m.git, path); state {
	case UpstreamNone:
		warnings = append(warnings, fmt.Sprintf("branch %s was never pushed", branch))
	case UpstreamAhead:
		warnings = append(warnings, fmt.Sprintf("branch %s has %d unpushed commit(s)", branch, n))
	}

	if m.prs != nil {
		pr, err := m.prs.Find(ctx, m.repoDir, branch)
		if err != nil {
			log.Printf("Warning: pull request lookup for %s failed: %v", branch, err)
		} else if pr == nil {
			warnings = append(warnings, fmt.Sprintf("no pull request found for branch %s", branch))
		}
	}

	return warnings
}

// DeleteRemoteBranch removes the branch from origin.
func (m *Manager) DeleteRemoteBranch(ctx context.Context, branch string) error {
	if _, err := m.git.Run(ctx, m.repoDir, "push", "origin", "--delete", branch); err != nil {
		return fmt.Errorf("delete remote branch %s: %w", branch, err)
	}
	return nil
}

// PR returns the pull request associated with a branch, or nil if none or no
// checker is configured.
func (m *Manager) PR(ctx context.Context, branch string) (*PRInfo, error) {
	if m.prs == nil {
		return nil, nil
	}
	return m.prs.Find(ctx, m.repoDir, branch)
}

// List returns the worktrees git knows about for this project, excluding the
// main checkout.
func (m *Manager) List(ctx context.Context) ([]WorktreeInfo, error) {
	all, err := m.git.WorktreeList(ctx, m.repoDir)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	var result []WorktreeInfo
	for _, wt := range all {
		if wt.Path == m.repoDir || wt.IsBare {
			continue
		}
		result = append(result, wt)
	}
	return result, nil
}

// DetectUntracked returns the worktrees that have no corresponding entry in
// known (a set of session worktree paths). Git is ground truth: a worktree
// with no session is an orphan no matter how it came to exist.
func (m *Manager) DetectUntracked(ctx context.Context, known map[string]bool) ([]WorktreeInfo, error) {
	worktrees, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	var orphans []WorktreeInfo
	for _, wt := range worktrees {
		if !known[wt.Path] {
			orphans = append(orphans, wt)
		}
	}
	return orphans, nil
}

// Status returns the git status of a worktree.
func (m *Manager) Status(ctx context.Context, path string) (GitStatus, error) {
	return m.git.Status(ctx, path)
}

func describeChanges(s GitStatus) string {
	var parts []string
	if n := len(s.Added) + len(s.Renamed); n > 0 {
		parts = append(parts, fmt.Sprintf("%d staged", n))
	}
	if n := len(s.Modified) + len(s.Deleted); n > 0 {
		parts = append(parts, fmt.Sprintf("%d modified", n))
	}
	if n := len(s.Untracked); n > 0 {
		parts = append(parts, fmt.Sprintf("%d untracked", n))
	}
	if len(parts) == 0 {
		return "uncommitted changes"
	}
	return strings.Join(parts, ", ") + " file(s)"
}
