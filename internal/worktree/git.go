// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// RealGitExecutor executes real git commands.
type RealGitExecutor struct{}

// NewRealGitExecutor creates a new git executor.
func NewRealGitExecutor() *RealGitExecutor {
	return &RealGitExecutor{}
}

// WorktreeList returns the list of git worktrees known to the repository.
// Uses --porcelain format for reliable parsing of paths with spaces.
func (e *RealGitExecutor) WorktreeList(ctx context.Context, dir string) ([]WorktreeInfo, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", dir, "worktree", "list", "--porcelain")
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return ParseWorktreeListPorcelain(string(output)), nil
}

// Status returns the git status for a path.
func (e *RealGitExecutor) Status(ctx context.Context, path string) (GitStatus, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", path, "status", "--porcelain")
	output, err := cmd.Output()
	if err != nil {
		return GitStatus{}, err
	}
	return ParseGitStatus(string(output)), nil
}

// BranchExists reports whether a local branch with this name exists.
func (e *RealGitExecutor) BranchExists(ctx context.Context, repoDir, branch string) bool {
	cmd := exec.CommandContext(ctx, "git", "-C", repoDir, "rev-parse", "--verify", "refs/heads/"+branch)
	return cmd.Run() == nil
}

// Fetch updates remote-tracking refs. Repositories without a remote fail
// here; callers treat that as a warning.
func (e *RealGitExecutor) Fetch(ctx context.Context, repoDir string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", repoDir, "fetch", "--prune")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git fetch: %s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

// Run runs an arbitrary git command in dir and returns stdout. On failure the
// returned error includes stderr.
func (e *RealGitExecutor) Run(ctx context.Context, dir string, args ...string) (string, error) {
	fullArgs := append([]string{"-C", dir}, args...)
	cmd := exec.CommandContext(ctx, "git", fullArgs...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

// ParseWorktreeListPorcelain parses the output of `git worktree list --porcelain`.
// Format:
//
//	worktree /path/to/worktree
//	HEAD abc1234...
//	branch refs/heads/main
//
//	worktree /path/to/bare
//	bare
func ParseWorktreeListPorcelain(output string) []WorktreeInfo {
	result := []WorktreeInfo{}

	blocks := strings.Split(output, "\n\n")
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}

		info := parseWorktreeBlock(block)
		if info.Path != "" {
			result = append(result, info)
		}
	}

	return result
}

func parseWorktreeBlock(block string) WorktreeInfo {
	var info WorktreeInfo

	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "worktree "):
			info.Path = strings.TrimPrefix(line, "worktree ")
		case strings.HasPrefix(line, "HEAD "):
			info.Commit = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			ref := strings.TrimPrefix(line, "branch ")
			info.Branch = strings.TrimPrefix(ref, "refs/heads/")
		case line == "bare":
			info.IsBare = true
		case line == "detached":
			info.Detached = true
		}
	}

	return info
}

// ParseGitStatus parses the output of `git status --porcelain`.
func ParseGitStatus(output string) GitStatus {
	var status GitStatus

	// Only trim trailing whitespace; the status indicators include leading spaces.
	output = strings.TrimRight(output, " \t\n\r")
	if output == "" {
		status.Clean = true
		return status
	}

	for _, line := range strings.Split(output, "\n") {
		if len(line) < 3 {
			continue
		}

		// Porcelain format: XY PATH. X = index status, Y = worktree status.
		indicator := line[:2]
		filename := line[3:]

		// Check A and R before the general contains checks so combined
		// statuses like AM or RM classify by their index state.
		switch {
		case strings.HasPrefix(indicator, "A"):
			status.Added = append(status.Added, filename)
		case strings.HasPrefix(indicator, "R"):
			status.Renamed = append(status.Renamed, filename)
		case indicator == "??":
			status.Untracked = append(status.Untracked, filename)
		case strings.Contains(indicator, "D"):
			status.Deleted = append(status.Deleted, filename)
		case strings.Contains(indicator, "M"):
			status.Modified = append(status.Modified, filename)
		}
	}

	status.Clean = !status.HasChanges()
	return status
}

// UpstreamState classifies a branch's relationship to its upstream.
type UpstreamState int

const (
	UpstreamInSync UpstreamState = iota
	UpstreamAhead                // Local commits not pushed
	UpstreamNone                 // Branch was never pushed
)

// CheckUpstream inspects a worktree's branch against its upstream.
// Returns the state and, when ahead, the number of unpushed commits.
func CheckUpstream(ctx context.Context, git GitExecutor, worktreePath string) (UpstreamState, int) {
	out, err := git.Run(ctx, worktreePath, "rev-list", "--count", "@{upstream}..HEAD")
	if err != nil {
		return UpstreamNone, 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil || n == 0 {
		return UpstreamInSync, 0
	}
	return UpstreamAhead, n
}

// GetAheadBehind returns the number of commits ahead of and behind the default
// branch. Returns (0, 0) on any error.
func GetAheadBehind(ctx context.Context, git GitExecutor, worktreePath, defaultBranch string) (ahead, behind int) {
	// Output format: "behind\tahead" (left is the default branch, right is HEAD).
	out, err := git.Run(ctx, worktreePath, "rev-list", "--left-right", "--count", defaultBranch+"...HEAD")
	if err != nil {
		return 0, 0
	}
	parts := strings.Fields(strings.TrimSpace(out))
	if len(parts) != 2 {
		return 0, 0
	}
	fmt.Sscanf(parts[0], "%d", &behind)
	fmt.Sscanf(parts[1], "%d", &ahead)
	return ahead, behind
}

// GetDefaultBranch returns the default branch name (main or master).
func GetDefaultBranch(ctx context.Context, git GitExecutor, repoDir string) string {
	out, err := git.Run(ctx, repoDir, "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		// Format: refs/remotes/origin/main
		ref := strings.TrimSpace(out)
		parts := strings.Split(ref, "/")
		if len(parts) > 0 {
			candidate := parts[len(parts)-1]
			if git.BranchExists(ctx, repoDir, candidate) {
				return candidate
			}
			// origin/HEAD points at a stale ref; fall through.
		}
	}

	if git.BranchExists(ctx, repoDir, "main") {
		return "main"
	}
	if git.BranchExists(ctx, repoDir, "master") {
		return "master"
	}
	return "main"
}
