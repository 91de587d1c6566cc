// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/wingedpig/kild/internal/errs"
	"github.com/wingedpig/kild/internal/session"
)

// Stop kills a session's agent (daemon PTY or tracked process) and clears the
// session's process field. The worktree is retained.
func (o *Orchestrator) Stop(ctx context.Context, branch string) error {
	sess, err := o.store.Load(o.projectPath, branch)
	if err != nil {
		return err
	}

	o.killAgent(ctx, sess)

	sess.Process = nil
	sess.UpdatedAt = time.Now().UTC()
	if err := o.store.Save(sess); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	if err := o.pids.Delete(branch); err != nil {
		log.Printf("Warning: failed to remove pid file for %s: %v", branch, err)
	}
	return nil
}

// Restart stops and relaunches a session's agent.
func (o *Orchestrator) Restart(ctx context.Context, branch string) (*session.Session, error) {
	if err := o.Stop(ctx, branch); err != nil {
		return nil, err
	}
	return o.Open(ctx, branch)
}

// killAgent terminates whatever runs for this session. An identity mismatch
// means the recorded PID now belongs to an unrelated process; that is logged
// and treated as already-stopped, never killed.
func (o *Orchestrator) killAgent(ctx context.Context, sess *session.Session) {
	if sess.PTYMode == session.PTYModeDaemon {
		err := o.daemon.Kill(ctx, sess.Branch)
		if err == nil {
			return
		}
		if !errors.Is(err, errs.ErrNotFound) && !errors.Is(err, errs.ErrDaemonUnavailable) {
			log.Printf("Warning: daemon kill for %s failed: %v", sess.Branch, err)
		}
		// Fall through: the daemon may be gone while the process lives on.
	}

	handle := sess.Process
	if handle == nil {
		// A crash can leave the fingerprint only in the PID file.
		handle = o.recoverProcess(sess)
	}
	if handle == nil {
		return
	}
	if err := o.tracker.Kill(handle); err != nil {
		switch {
		case errors.Is(err, errs.ErrNotFound):
			// Already gone.
		case errors.Is(err, errs.ErrIdentityMismatch):
			log.Printf("Warning: pid %d no longer belongs to session %s, not killing it", handle.PID, sess.Branch)
		default:
			log.Printf("Warning: failed to kill process for %s: %v", sess.Branch, err)
		}
	}
}

// Destroy removes a session completely: safety checks, kill, worktree and
// branch removal, record deletion. The port range is released implicitly by
// deleting the record. Safety-check failures abort before anything
// destructive happens; returned warnings flag possibly lost work.
func (o *Orchestrator) Destroy(ctx context.Context, branch string, force bool) ([]string, error) {
	sess, err := o.store.Load(o.projectPath, branch)
	if err != nil {
		return nil, err
	}

	// Safety checks first, before any destructive step.
	if !force {
		status, err := o.worktrees.Status(ctx, sess.WorktreePath)
		if err == nil && status.HasChanges() {
			return nil, fmt.Errorf("session %s has uncommitted changes (use force to override): %w",
				branch, errs.ErrSafetyCheckBlocked)
		}
	}

	o.killAgent(ctx, sess)

	warnings, err := o.worktrees.Remove(ctx, sess.WorktreePath, branch, true)
	if err != nil {
		return warnings, err
	}

	if err := o.store.Delete(o.projectPath, branch); err != nil {
		return warnings, err
	}
	if err := o.pids.Delete(branch); err != nil {
		log.Printf("Warning: failed to remove pid file for %s: %v", branch, err)
	}
	return warnings, nil
}

// Complete is destroy plus remote-branch deletion, but the remote branch is
// deleted only when the branch's pull request is confirmed merged. Otherwise
// it behaves exactly like Destroy and leaves the remote branch for whoever
// merges it later.
func (o *Orchestrator) Complete(ctx context.Context, branch string, force bool) ([]string, error) {
	pr, err := o.worktrees.PR(ctx, branch)
	if err != nil {
		log.Printf("Warning: pull request lookup for %s failed: %v", branch, err)
	}

	warnings, err := o.Destroy(ctx, branch, force)
	if err != nil {
		return warnings, err
	}

	if pr.Merged() {
		if err := o.worktrees.DeleteRemoteBranch(ctx, branch); err != nil {
			warnings = append(warnings, fmt.Sprintf("remote branch not deleted: %v", err))
		}
	}
	return warnings, nil
}
