// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/kild/internal/errs"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

// initRepo creates a throwaway repository with one commit on main and returns
// a manager whose worktree root is the repo's parent directory.
func initRepo(t *testing.T) (string, *Manager) {
	t.Helper()
	root := t.TempDir()
	repoDir := filepath.Join(root, "proj")
	require.NoError(t, os.Mkdir(repoDir, 0755))

	runGit(t, repoDir, "init", "-b", "main")
	runGit(t, repoDir, "config", "user.email", "dev@example.com")
	runGit(t, repoDir, "config", "user.name", "Dev")
	require.NoError(t, os.WriteFile(filepath.Join(repoDir, "README.md"), []byte("proj\n"), 0644))
	runGit(t, repoDir, "add", ".")
	runGit(t, repoDir, "commit", "-m", "initial")

	return repoDir, NewManager(NewRealGitExecutor(), nil, repoDir, root)
}

func TestManager_Create(t *testing.T) {
	repoDir, mgr := initRepo(t)
	ctx := context.Background()

	path, err := mgr.Create(ctx, "feature-x", "", false)
	require.NoError(t, err)
	assert.Equal(t, "proj-feature-x", filepath.Base(path))
	_, err = os.Stat(path)
	require.NoError(t, err, "worktree directory missing")

	git := NewRealGitExecutor()
	assert.True(t, git.BranchExists(ctx, repoDir, "feature-x"), "branch feature-x was not created")

	// Same branch again must fail cleanly.
	_, err = mgr.Create(ctx, "feature-x", "", false)
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
}

func TestManager_CreateSlashBranch(t *testing.T) {
	_, mgr := initRepo(t)

	path, err := mgr.Create(context.Background(), "feature/login", "", false)
	require.NoError(t, err)
	assert.Equal(t, "proj-feature-login", filepath.Base(path), "slashes should become dashes")
}

func TestManager_RemoveBlockedByUncommittedWork(t *testing.T) {
	_, mgr := initRepo(t)
	ctx := context.Background()

	path, err := mgr.Create(ctx, "feature-x", "", false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, "scratch.txt"), []byte("wip\n"), 0644))

	_, err = mgr.Remove(ctx, path, "feature-x", false)
	require.ErrorIs(t, err, errs.ErrSafetyCheckBlocked)
	_, err = os.Stat(path)
	require.NoError(t, err, "blocked removal must not touch the worktree")

	// Force overrides the block.
	warnings, err := mgr.Remove(ctx, path, "feature-x", true)
	require.NoError(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "worktree directory still present after forced removal")
	assert.True(t, containsWarning(warnings, "never pushed"), "expected never-pushed warning, got %v", warnings)
}

func TestManager_RemoveDeletesBranch(t *testing.T) {
	repoDir, mgr := initRepo(t)
	ctx := context.Background()

	path, err := mgr.Create(ctx, "feature-x", "", false)
	require.NoError(t, err)
	_, err = mgr.Remove(ctx, path, "feature-x", false)
	require.NoError(t, err)

	git := NewRealGitExecutor()
	assert.False(t, git.BranchExists(ctx, repoDir, "feature-x"), "branch should be deleted with its worktree")
}

func TestManager_RemoveMissingDirectoryStillPrunes(t *testing.T) {
	repoDir, mgr := initRepo(t)
	ctx := context.Background()

	path, err := mgr.Create(ctx, "feature-x", "", false)
	require.NoError(t, err)
	// User deleted the directory by hand.
	require.NoError(t, os.RemoveAll(path))

	_, err = mgr.Remove(ctx, path, "feature-x", false)
	require.NoError(t, err)
	git := NewRealGitExecutor()
	assert.False(t, git.BranchExists(ctx, repoDir, "feature-x"), "branch not cleaned up after pruning missing worktree")
}

func TestManager_RefusesMainCheckout(t *testing.T) {
	repoDir, mgr := initRepo(t)
	_, err := mgr.Remove(context.Background(), repoDir, "main", true)
	require.Error(t, err, "removing the main checkout must fail")
}

func TestManager_DetectUntracked(t *testing.T) {
	_, mgr := initRepo(t)
	ctx := context.Background()

	tracked, err := mgr.Create(ctx, "tracked", "", false)
	require.NoError(t, err)
	orphanPath, err := mgr.Create(ctx, "orphan", "", false)
	require.NoError(t, err)

	orphans, err := mgr.DetectUntracked(ctx, map[string]bool{tracked: true})
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, orphanPath, orphans[0].Path)
}

func TestManager_ListExcludesMainCheckout(t *testing.T) {
	repoDir, mgr := initRepo(t)
	ctx := context.Background()

	_, err := mgr.Create(ctx, "feature-x", "", false)
	require.NoError(t, err)

	worktrees, err := mgr.List(ctx)
	require.NoError(t, err)
	require.Len(t, worktrees, 1)
	assert.NotEqual(t, repoDir, worktrees[0].Path, "main checkout must not appear in List()")
}

func TestGetDefaultBranch(t *testing.T) {
	repoDir, _ := initRepo(t)
	assert.Equal(t, "main", GetDefaultBranch(context.Background(), NewRealGitExecutor(), repoDir))
}

func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
