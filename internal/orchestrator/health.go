// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wingedpig/kild/internal/proc"
	"github.com/wingedpig/kild/internal/session"
)

// SessionView is a session plus its derived status, as shown by list.
type SessionView struct {
	*session.Session
	Status session.Status `json:"status"`
}

// List returns all of the project's sessions with derived status.
func (o *Orchestrator) List(ctx context.Context) ([]SessionView, error) {
	sessions, err := o.store.List(o.projectPath)
	if err != nil {
		return nil, err
	}
	views := make([]SessionView, 0, len(sessions))
	for _, sess := range sessions {
		views = append(views, SessionView{Session: sess, Status: o.deriveStatus(sess)})
	}
	return views, nil
}

// Status returns one session with derived status.
func (o *Orchestrator) Status(ctx context.Context, branch string) (*SessionView, error) {
	sess, err := o.store.Load(o.projectPath, branch)
	if err != nil {
		return nil, err
	}
	return &SessionView{Session: sess, Status: o.deriveStatus(sess)}, nil
}

// deriveStatus computes liveness at read time; it is never stored. A PID
// whose identity cannot be confirmed is Unknown rather than Active, so the
// caller never trusts a reused PID. A record with no process entry falls back
// to the PID-file fingerprint, which survives a crash between the two writes.
func (o *Orchestrator) deriveStatus(sess *session.Session) session.Status {
	if sess.Process == nil {
		if o.recoverProcess(sess) != nil {
			return session.StatusActive
		}
		return session.StatusStopped
	}
	if o.tracker.IsRunning(sess.Process) {
		return session.StatusActive
	}
	// Dead PID or reused PID: signal 0 probes existence without sending
	// anything. A live PID that failed the identity check is Unknown.
	if syscall.Kill(sess.Process.PID, 0) == nil {
		return session.StatusUnknown
	}
	return session.StatusStopped
}

// Note sets or clears a session's free-form note.
func (o *Orchestrator) Note(ctx context.Context, branch, note string) error {
	sess, err := o.store.Load(o.projectPath, branch)
	if err != nil {
		return err
	}
	sess.Note = note
	sess.UpdatedAt = time.Now().UTC()
	return o.store.Save(sess)
}

// HealthReport is one session's liveness and resource snapshot.
type HealthReport struct {
	Branch  string         `json:"branch"`
	Status  session.Status `json:"status"`
	PID     int            `json:"pid,omitempty"`
	CPUTime time.Duration  `json:"cpu_time,omitempty"`
	RSS     int64          `json:"rss_bytes,omitempty"`
}

// Health re-validates process liveness for every session in the project and
// collects CPU/memory metrics. Sessions are probed in parallel.
func (o *Orchestrator) Health(ctx context.Context) ([]HealthReport, error) {
	sessions, err := o.store.List(o.projectPath)
	if err != nil {
		return nil, err
	}

	reports := make([]HealthReport, len(sessions))
	g, _ := errgroup.WithContext(ctx)
	for i, sess := range sessions {
		i, sess := i, sess
		g.Go(func() error {
			report := HealthReport{Branch: sess.Branch, Status: o.deriveStatus(sess)}
			if report.Status == session.StatusActive {
				if handle := o.recoverProcess(sess); handle != nil {
					report.PID = handle.PID
					if m, err := proc.ReadMetrics(handle.PID); err == nil {
						report.CPUTime = m.CPUTime
						report.RSS = m.RSSBytes
					}
				}
			}
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

// Anomaly is one inconsistency found by Cleanup.
type Anomaly struct {
	Kind   string `json:"kind"` // orphan_worktree, orphan_session, dead_process
	Branch string `json:"branch,omitempty"`
	Path   string `json:"path,omitempty"`
	Detail string `json:"detail"`
}

// Cleanup reconciles the session store against reality: worktrees with no
// session, sessions whose worktree is gone, and sessions holding a dead or
// untrusted PID. With apply set, each anomaly is repaired independently; a
// failure on one does not stop the others.
func (o *Orchestrator) Cleanup(ctx context.Context, apply bool) ([]Anomaly, error) {
	sessions, err := o.store.List(o.projectPath)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(sessions))
	for _, sess := range sessions {
		known[sess.WorktreePath] = true
	}

	var anomalies []Anomaly

	orphans, err := o.worktrees.DetectUntracked(ctx, known)
	if err != nil {
		return nil, fmt.Errorf("detect orphan worktrees: %w", err)
	}
	for _, wt := range orphans {
		a := Anomaly{
			Kind:   "orphan_worktree",
			Branch: wt.Branch,
			Path:   wt.Path,
			Detail: "worktree has no session record",
		}
		if apply {
			if _, err := o.worktrees.Remove(ctx, wt.Path, wt.Branch, false); err != nil {
				a.Detail = fmt.Sprintf("removal blocked: %v", err)
			} else {
				a.Detail = "removed"
			}
		}
		anomalies = append(anomalies, a)
	}

	for _, sess := range sessions {
		if _, err := os.Stat(sess.WorktreePath); os.IsNotExist(err) {
			a := Anomaly{
				Kind:   "orphan_session",
				Branch: sess.Branch,
				Path:   sess.WorktreePath,
				Detail: "session record points at a missing worktree",
			}
			if apply {
				o.killAgent(ctx, sess)
				if err := o.store.Delete(o.projectPath, sess.Branch); err != nil {
					a.Detail = fmt.Sprintf("delete failed: %v", err)
				} else {
					o.pids.Delete(sess.Branch)
					a.Detail = "record deleted"
				}
			}
			anomalies = append(anomalies, a)
			continue
		}

		if sess.Process != nil && !o.tracker.IsRunning(sess.Process) {
			a := Anomaly{
				Kind:   "dead_process",
				Branch: sess.Branch,
				Detail: fmt.Sprintf("recorded pid %d is gone or reused", sess.Process.PID),
			}
			if apply {
				sess.Process = nil
				sess.UpdatedAt = time.Now().UTC()
				if err := o.store.Save(sess); err != nil {
					a.Detail = fmt.Sprintf("update failed: %v", err)
				} else {
					o.pids.Delete(sess.Branch)
					a.Detail = "process reference cleared"
				}
			}
			anomalies = append(anomalies, a)
		}
	}

	sort.Slice(anomalies, func(i, j int) bool {
		if anomalies[i].Kind != anomalies[j].Kind {
			return anomalies[i].Kind < anomalies[j].Kind
		}
		return anomalies[i].Branch < anomalies[j].Branch
	})
	if len(anomalies) > 0 {
		log.Printf("Cleanup found %d anomaly(ies)", len(anomalies))
	}
	return anomalies, nil
}
