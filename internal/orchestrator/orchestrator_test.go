// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wingedpig/kild/internal/config"
	"github.com/wingedpig/kild/internal/errs"
	"github.com/wingedpig/kild/internal/session"
	"github.com/wingedpig/kild/internal/worktree"
	"github.com/wingedpig/kild/pkg/client"
)

func runGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

// newTestOrchestrator builds an orchestrator over a throwaway git repo, with
// external PTY mode and a long-sleeping fake agent.
func newTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, string) {
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

	cfg := &config.Config{
		StateDir: filepath.Join(root, "state"),
		Ports:    config.PortsConfig{Base: 3000, PerSession: 10},
		Worktree: config.WorktreeConfig{Root: root, NoFetch: true},
		Daemon:   config.DaemonConfig{Socket: filepath.Join(root, "state", "kild.sock")},
		Agents: map[string]config.AgentConfig{
			"sleeper": {Command: []string{"sleep", "30"}},
			"broken":  {Command: []string{"/nonexistent-agent-binary"}},
		},
		DefaultAgent:   "sleeper",
		DefaultPTYMode: "external",
	}

	opts = append([]Option{WithPRChecker(nil)}, opts...)
	o := New(cfg, repoDir, opts...)

	t.Cleanup(func() {
		// Kill any leftover agents.
		sessions, _ := o.store.List(repoDir)
		for _, s := range sessions {
			if s.Process != nil {
				o.tracker.Kill(s.Process)
			}
		}
	})
	return o, repoDir
}

func TestCreate_SequentialPortRanges(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	first, err := o.Create(ctx, CreateOptions{Branch: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, 3000, int(first.PortRange.Base))
	assert.Equal(t, 10, int(first.PortRange.Count))

	second, err := o.Create(ctx, CreateOptions{Branch: "beta"})
	require.NoError(t, err)
	assert.Equal(t, 3010, int(second.PortRange.Base))
	assert.False(t, first.PortRange.Overlaps(second.PortRange), "port ranges overlap")
}

func TestCreate_TracksProcess(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	sess, err := o.Create(context.Background(), CreateOptions{Branch: "tracked"})
	require.NoError(t, err)
	require.NotNil(t, sess.Process)
	assert.Greater(t, sess.Process.PID, 0)
	assert.True(t, o.tracker.IsRunning(sess.Process), "agent not running after create")
	_, err = os.Stat(sess.WorktreePath)
	assert.NoError(t, err, "worktree missing")

	// The fingerprint is also persisted for later invocations.
	_, err = o.pids.Load("tracked")
	assert.NoError(t, err, "pid file missing")
}

func TestCreate_Duplicate(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.Create(ctx, CreateOptions{Branch: "dup"})
	require.NoError(t, err)
	_, err = o.Create(ctx, CreateOptions{Branch: "dup"})
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
}

// A PTY mode outside daemon/external is a typo; reject it before any state is
// touched.
func TestCreate_RejectsUnknownPTYMode(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.Create(context.Background(), CreateOptions{
		Branch:  "typoed",
		PTYMode: session.PTYMode("tmux"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pty mode")
	assert.False(t, o.store.Exists(o.projectPath, "typoed"), "rejected create must not persist a session")
}

// A failed agent spawn must roll the worktree back so a retried create does
// not fail with BranchExists.
func TestCreate_RollbackOnSpawnFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.Create(ctx, CreateOptions{Branch: "retry", Agent: "broken"})
	require.Error(t, err, "expected spawn failure")
	assert.False(t, o.store.Exists(o.projectPath, "retry"), "failed create must not persist a session")

	// The branch was rolled back, so the retry succeeds.
	_, err = o.Create(ctx, CreateOptions{Branch: "retry"})
	require.NoError(t, err, "retried Create()")
}

// fakeDaemon simulates an unreachable daemon.
type fakeDaemon struct{ err error }

func (f *fakeDaemon) Ping(ctx context.Context) (*client.Health, error) { return nil, f.err }
func (f *fakeDaemon) Open(ctx context.Context, opts client.OpenOptions) (*client.PTY, error) {
	return nil, f.err
}
func (f *fakeDaemon) Status(ctx context.Context, id string) (*client.PTY, error) {
	return nil, f.err
}
func (f *fakeDaemon) Kill(ctx context.Context, id string) error { return f.err }

func TestCreate_FallsBackWhenDaemonDown(t *testing.T) {
	down := &fakeDaemon{err: fmt.Errorf("dial: %w", errs.ErrDaemonUnavailable)}
	o, _ := newTestOrchestrator(t, WithDaemonClient(down))

	sess, err := o.Create(context.Background(), CreateOptions{
		Branch:  "fallback",
		PTYMode: session.PTYModeDaemon,
	})
	require.NoError(t, err)
	assert.Equal(t, session.PTYModeExternal, sess.PTYMode, "expected external fallback")
	require.NotNil(t, sess.Process)
	assert.True(t, o.tracker.IsRunning(sess.Process), "fallback agent not running")
}

func TestStop_ClearsProcessAndKeepsWorktree(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	sess, err := o.Create(ctx, CreateOptions{Branch: "stoppable"})
	require.NoError(t, err)
	handle := *sess.Process

	require.NoError(t, o.Stop(ctx, "stoppable"))

	reloaded, err := o.store.Load(o.projectPath, "stoppable")
	require.NoError(t, err)
	assert.Nil(t, reloaded.Process, "Process not cleared by stop")
	assert.False(t, o.tracker.IsRunning(&handle), "agent still running after stop")
	_, err = os.Stat(sess.WorktreePath)
	assert.NoError(t, err, "stop must retain the worktree")

	view, err := o.Status(ctx, "stoppable")
	require.NoError(t, err)
	assert.Equal(t, session.StatusStopped, view.Status)
}

func TestOpen_RelaunchesStoppedSession(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.Create(ctx, CreateOptions{Branch: "reopen"})
	require.NoError(t, err)
	require.NoError(t, o.Stop(ctx, "reopen"))

	sess, err := o.Open(ctx, "reopen")
	require.NoError(t, err)
	require.NotNil(t, sess.Process)
	assert.True(t, o.tracker.IsRunning(sess.Process), "agent not running after open")
}

// A crash between launching the agent and saving the record leaves the PID
// file as the only trace of the running process. Status must still report the
// session active, and Open must adopt the survivor instead of launching a
// second agent.
func TestOpen_AdoptsProcessFromPIDFile(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	created, err := o.Create(ctx, CreateOptions{Branch: "survivor"})
	require.NoError(t, err)
	launchedPID := created.Process.PID

	// Wipe the process entry from the record; the PID file stays behind.
	sess, err := o.store.Load(o.projectPath, "survivor")
	require.NoError(t, err)
	sess.Process = nil
	sess.UpdatedAt = time.Now().UTC()
	require.NoError(t, o.store.Save(sess))

	view, err := o.Status(ctx, "survivor")
	require.NoError(t, err)
	assert.Equal(t, session.StatusActive, view.Status, "PID file should keep the session active")

	reopened, err := o.Open(ctx, "survivor")
	require.NoError(t, err)
	require.NotNil(t, reopened.Process)
	assert.Equal(t, launchedPID, reopened.Process.PID, "Open must adopt the surviving process, not relaunch")

	// The adoption is persisted.
	reloaded, err := o.store.Load(o.projectPath, "survivor")
	require.NoError(t, err)
	require.NotNil(t, reloaded.Process)
	assert.Equal(t, launchedPID, reloaded.Process.PID)
}

func TestDestroy_SafetyCheckBlocks(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	sess, err := o.Create(ctx, CreateOptions{Branch: "precious"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(sess.WorktreePath, "wip.txt"), []byte("uncommitted\n"), 0644))

	_, err = o.Destroy(ctx, "precious", false)
	require.ErrorIs(t, err, errs.ErrSafetyCheckBlocked)
	// Nothing destructive happened.
	assert.True(t, o.store.Exists(o.projectPath, "precious"), "blocked destroy must keep the session record")
	_, err = os.Stat(sess.WorktreePath)
	assert.NoError(t, err, "blocked destroy must keep the worktree")

	// Force destroys everything.
	_, err = o.Destroy(ctx, "precious", true)
	require.NoError(t, err, "forced Destroy()")
	assert.False(t, o.store.Exists(o.projectPath, "precious"), "session record survived destroy")
	_, err = os.Stat(sess.WorktreePath)
	assert.True(t, os.IsNotExist(err), "worktree survived destroy")
}

func TestDestroy_NotFound(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, err := o.Destroy(context.Background(), "ghost", false)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDestroy_ReleasesPortRange(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.Create(ctx, CreateOptions{Branch: "a"})
	require.NoError(t, err)
	_, err = o.Create(ctx, CreateOptions{Branch: "b"})
	require.NoError(t, err)
	_, err = o.Destroy(ctx, "a", true)
	require.NoError(t, err)

	// The freed range is reused.
	third, err := o.Create(ctx, CreateOptions{Branch: "c"})
	require.NoError(t, err)
	assert.Equal(t, 3000, int(third.PortRange.Base), "expected the released range to be reused")
}

func TestNote_Persists(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.Create(ctx, CreateOptions{Branch: "noted"})
	require.NoError(t, err)
	require.NoError(t, o.Note(ctx, "noted", "investigating flaky auth test"))
	view, err := o.Status(ctx, "noted")
	require.NoError(t, err)
	assert.Equal(t, "investigating flaky auth test", view.Note)
}

func TestHealth_ReportsLiveness(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	_, err := o.Create(ctx, CreateOptions{Branch: "live"})
	require.NoError(t, err)
	_, err = o.Create(ctx, CreateOptions{Branch: "idle"})
	require.NoError(t, err)
	require.NoError(t, o.Stop(ctx, "idle"))

	reports, err := o.Health(ctx)
	require.NoError(t, err)
	byBranch := make(map[string]HealthReport)
	for _, r := range reports {
		byBranch[r.Branch] = r
	}
	assert.Equal(t, session.StatusActive, byBranch["live"].Status)
	assert.Greater(t, byBranch["live"].PID, 0)
	assert.Equal(t, session.StatusStopped, byBranch["idle"].Status)
}

func TestCleanup_DetectsAnomalies(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	ctx := context.Background()

	// Orphan worktree: a session whose record is deleted behind kild's back.
	orphan, err := o.Create(ctx, CreateOptions{Branch: "orphan-wt"})
	require.NoError(t, err)
	o.tracker.Kill(orphan.Process)
	require.NoError(t, o.store.Delete(o.projectPath, "orphan-wt"))
	o.pids.Delete("orphan-wt")

	// Orphan session: worktree directory removed by hand.
	gone, err := o.Create(ctx, CreateOptions{Branch: "orphan-sess"})
	require.NoError(t, err)
	o.tracker.Kill(gone.Process)
	require.NoError(t, os.RemoveAll(gone.WorktreePath))

	// Dead process: agent killed outside kild.
	dead, err := o.Create(ctx, CreateOptions{Branch: "dead-proc"})
	require.NoError(t, err)
	o.tracker.Kill(dead.Process)

	anomalies, err := o.Cleanup(ctx, false)
	require.NoError(t, err)
	kinds := make(map[string]string)
	for _, a := range anomalies {
		kinds[a.Kind] = a.Branch
	}
	assert.Equal(t, "orphan-wt", kinds["orphan_worktree"], "orphan worktree not detected: %+v", anomalies)
	assert.Equal(t, "orphan-sess", kinds["orphan_session"], "orphan session not detected: %+v", anomalies)
	assert.Equal(t, "dead-proc", kinds["dead_process"], "dead process not detected: %+v", anomalies)

	// Apply repairs everything; a second pass is clean.
	_, err = o.Cleanup(ctx, true)
	require.NoError(t, err, "Cleanup(apply)")
	anomalies, err = o.Cleanup(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, anomalies, "anomalies after repair")
}

// fakePR reports a fixed PR for every branch.
type fakePR struct{ pr *worktree.PRInfo }

func (f *fakePR) Find(ctx context.Context, repoDir, branch string) (*worktree.PRInfo, error) {
	return f.pr, nil
}

func TestComplete_UnmergedKeepsRemoteBranch(t *testing.T) {
	o, _ := newTestOrchestrator(t, WithPRChecker(&fakePR{pr: &worktree.PRInfo{Number: 7, State: "OPEN"}}))
	ctx := context.Background()

	_, err := o.Create(ctx, CreateOptions{Branch: "pending"})
	require.NoError(t, err)
	warnings, err := o.Complete(ctx, "pending", true)
	require.NoError(t, err)
	// No merged PR: behaves exactly like destroy, no remote deletion attempt.
	for _, w := range warnings {
		assert.NotContains(t, w, "remote branch")
	}
	assert.False(t, o.store.Exists(o.projectPath, "pending"), "session record survived complete")
}

func TestComplete_MergedDeletesRemoteBranch(t *testing.T) {
	o, _ := newTestOrchestrator(t, WithPRChecker(&fakePR{pr: &worktree.PRInfo{Number: 7, State: "MERGED"}}))
	ctx := context.Background()

	_, err := o.Create(ctx, CreateOptions{Branch: "merged"})
	require.NoError(t, err)
	// No remote is configured, so the deletion attempt surfaces as a warning
	// rather than an error; the local teardown still completes.
	warnings, err := o.Complete(ctx, "merged", true)
	require.NoError(t, err)
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "remote branch") {
			found = true
		}
	}
	assert.True(t, found, "expected a remote-branch warning, got %v", warnings)
	assert.False(t, o.store.Exists(o.projectPath, "merged"), "session record survived complete")
}
