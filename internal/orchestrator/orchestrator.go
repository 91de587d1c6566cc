// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package orchestrator exposes the user-level kild operations as explicit
// workflows over the session store, port allocator, worktree manager, process
// tracker, and PTY daemon client. Each multi-step operation is written to be
// safely re-run after a partial failure.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/wingedpig/kild/internal/config"
	"github.com/wingedpig/kild/internal/errs"
	"github.com/wingedpig/kild/internal/ports"
	"github.com/wingedpig/kild/internal/proc"
	"github.com/wingedpig/kild/internal/session"
	"github.com/wingedpig/kild/internal/worktree"
	"github.com/wingedpig/kild/pkg/client"
)

const (
	findAttempts = 3
	findInterval = 500 * time.Millisecond
)

// DaemonClient is the slice of the daemon API the orchestrator needs.
// *client.Client satisfies it.
type DaemonClient interface {
	Ping(ctx context.Context) (*client.Health, error)
	Open(ctx context.Context, opts client.OpenOptions) (*client.PTY, error)
	Status(ctx context.Context, sessionID string) (*client.PTY, error)
	Kill(ctx context.Context, sessionID string) error
}

// Orchestrator coordinates all session operations for one project.
type Orchestrator struct {
	cfg         *config.Config
	projectPath string

	store     *session.Store
	pids      *proc.PIDStore
	allocator *ports.Allocator
	tracker   *proc.Tracker
	worktrees *worktree.Manager
	daemon    DaemonClient
}

// Option customizes an Orchestrator, mainly for tests.
type Option func(*Orchestrator)

// WithDaemonClient replaces the daemon client.
func WithDaemonClient(d DaemonClient) Option {
	return func(o *Orchestrator) { o.daemon = d }
}

// WithTracker replaces the process tracker.
func WithTracker(t *proc.Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithPRChecker sets the pull request checker used by worktree safety checks
// and by complete. Nil disables PR lookups.
func WithPRChecker(prs worktree.PRChecker) Option {
	return func(o *Orchestrator) {
		o.worktrees = worktree.NewManager(worktree.NewRealGitExecutor(), prs, o.projectPath, o.cfg.Worktree.Root)
	}
}

// New creates an orchestrator for the project at projectPath.
func New(cfg *config.Config, projectPath string, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		projectPath: projectPath,
		store:       session.NewStore(cfg.SessionsDir()),
		pids:        proc.NewPIDStore(cfg.PIDsDir()),
		allocator:   ports.NewAllocator(cfg.Ports.Base),
		tracker:     proc.NewTracker(),
		worktrees:   worktree.NewManager(worktree.NewRealGitExecutor(), worktree.NewGHPRChecker(), projectPath, cfg.Worktree.Root),
		daemon:      client.New(cfg.Daemon.Socket),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Store exposes the session store (used by the daemon process and the CLI).
func (o *Orchestrator) Store() *session.Store {
	return o.store
}

// CreateOptions configures a create operation.
type CreateOptions struct {
	Branch     string
	Agent      string // "" uses the configured default
	BaseBranch string // "" uses the repo default branch
	NoFetch    bool
	PTYMode    session.PTYMode // "" uses the configured default
	Note       string
}

// Create allocates ports, creates the worktree, launches the agent, and
// persists the session, in that order. A worktree failure leaves nothing
// behind; a launch failure rolls the worktree back so a retried create does
// not trip over the branch it created.
func (o *Orchestrator) Create(ctx context.Context, opts CreateOptions) (*session.Session, error) {
	if opts.Branch == "" {
		return nil, fmt.Errorf("branch name is required")
	}
	if o.store.Exists(o.projectPath, opts.Branch) {
		return nil, fmt.Errorf("session %q: %w", opts.Branch, errs.ErrAlreadyExists)
	}

	agent := opts.Agent
	if agent == "" {
		agent = o.cfg.DefaultAgent
	}
	if _, ok := o.cfg.Agent(agent); !ok {
		return nil, fmt.Errorf("unknown agent %q", agent)
	}

	mode := opts.PTYMode
	if mode == "" {
		mode = session.PTYMode(o.cfg.DefaultPTYMode)
	}
	if mode != session.PTYModeDaemon && mode != session.PTYModeExternal {
		return nil, fmt.Errorf("unknown pty mode %q (want daemon or external)", mode)
	}

	existing, err := o.store.List(o.projectPath)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	portRange, err := o.allocator.Allocate(ports.Occupied(existing), o.cfg.Ports.PerSession)
	if err != nil {
		return nil, err
	}

	fetch := !opts.NoFetch && !o.cfg.Worktree.NoFetch
	baseBranch := opts.BaseBranch
	if baseBranch == "" {
		baseBranch = o.cfg.Worktree.BaseBranch
	}
	worktreePath, err := o.worktrees.Create(ctx, opts.Branch, baseBranch, fetch)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	sess := &session.Session{
		Branch:       opts.Branch,
		ProjectPath:  o.projectPath,
		WorktreePath: worktreePath,
		Agent:        agent,
		PortRange:    portRange,
		PTYMode:      mode,
		Note:         opts.Note,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := o.launch(ctx, sess); err != nil {
		// Roll back the worktree so a retried create does not hit
		// BranchExists.
		if _, rbErr := o.worktrees.Remove(ctx, worktreePath, opts.Branch, true); rbErr != nil {
			log.Printf("Warning: rollback of worktree %s failed: %v", worktreePath, rbErr)
		}
		return nil, err
	}

	if err := o.store.Save(sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	return sess, nil
}

// Open launches the agent for an existing session that has no live process.
func (o *Orchestrator) Open(ctx context.Context, branch string) (*session.Session, error) {
	sess, err := o.store.Load(o.projectPath, branch)
	if err != nil {
		return nil, err
	}
	if sess.Process != nil && o.tracker.IsRunning(sess.Process) {
		return sess, nil
	}

	// The record write and the PID-file write are not transactional; a crash
	// between them can leave a live agent known only to the PID file. Adopt it
	// rather than launching a second one.
	if fp := o.recoverProcess(sess); fp != nil {
		sess.Process = fp
		sess.UpdatedAt = time.Now().UTC()
		if err := o.store.Save(sess); err != nil {
			return nil, fmt.Errorf("persist session: %w", err)
		}
		return sess, nil
	}

	if err := o.launch(ctx, sess); err != nil {
		return nil, err
	}
	sess.UpdatedAt = time.Now().UTC()
	if err := o.store.Save(sess); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	return sess, nil
}

// launch starts the session's agent, preferring the PTY daemon and falling
// back to an external spawn when the daemon is unreachable. On success the
// session's Process field is set and the PID file written.
func (o *Orchestrator) launch(ctx context.Context, sess *session.Session) error {
	command, patterns := o.agentCommand(sess.Agent)

	if sess.PTYMode == session.PTYModeDaemon {
		pty, err := o.daemon.Open(ctx, client.OpenOptions{
			SessionID:   sess.Branch,
			ProjectPath: sess.ProjectPath,
			Command:     command,
			Dir:         sess.WorktreePath,
			Env:         o.portEnv(sess),
		})
		if err == nil {
			sess.Process = &session.ProcessInfo{
				PID:       pty.PID,
				Name:      baseName(command[0]),
				StartTime: pty.StartedAt.UTC(),
			}
			o.savePIDFile(sess)
			return nil
		}
		if !errors.Is(err, errs.ErrDaemonUnavailable) {
			return fmt.Errorf("open pty for %s: %w", sess.Branch, err)
		}
		log.Printf("Warning: daemon unavailable, falling back to external terminal for %s", sess.Branch)
		sess.PTYMode = session.PTYModeExternal
	}

	handle, err := o.spawnExternal(ctx, sess, command, patterns)
	if err != nil {
		return err
	}
	sess.Process = handle
	o.savePIDFile(sess)
	return nil
}

// spawnExternal launches the agent outside the daemon: through the configured
// terminal emulator when one is set, headless otherwise. The terminal wrapper
// usually forks the real agent, so the tracker then scans for the agent
// process by name; the wrapper handle is kept when nothing better appears.
func (o *Orchestrator) spawnExternal(ctx context.Context, sess *session.Session, command []string, patterns []string) (*session.ProcessInfo, error) {
	argv := o.terminalCommand(command, sess.WorktreePath)

	handle, err := o.tracker.Spawn(argv, sess.WorktreePath, o.portEnv(sess))
	if err != nil {
		return nil, fmt.Errorf("spawn agent for %s: %w", sess.Branch, err)
	}

	if len(argv) > 0 && argv[0] != command[0] {
		// Launched via a terminal wrapper; look for the real agent.
		if found, err := o.tracker.FindByNameWithRetry(baseName(command[0]), patterns, findAttempts, findInterval); err == nil {
			return found, nil
		}
	}
	return handle, nil
}

// terminalCommand expands the configured terminal template around the agent
// command. Without a template the agent runs headless.
func (o *Orchestrator) terminalCommand(command []string, dir string) []string {
	if len(o.cfg.Terminal.Command) == 0 {
		return command
	}
	cmdline := strings.Join(command, " ")
	argv := make([]string, len(o.cfg.Terminal.Command))
	for i, part := range o.cfg.Terminal.Command {
		part = strings.ReplaceAll(part, "{{cmd}}", cmdline)
		part = strings.ReplaceAll(part, "{{dir}}", dir)
		argv[i] = part
	}
	return argv
}

// agentCommand resolves an agent name to its launch command and discovery
// patterns. The "none" agent gets the user's shell.
func (o *Orchestrator) agentCommand(name string) ([]string, []string) {
	agent, _ := o.cfg.Agent(name)
	if len(agent.Command) == 0 {
		shell := os.Getenv("SHELL")
		if shell == "" {
			shell = "sh"
		}
		return []string{shell}, nil
	}
	return agent.Command, agent.MatchPatterns
}

// portEnv exposes the session's reserved port range to the agent.
func (o *Orchestrator) portEnv(sess *session.Session) []string {
	return []string{
		fmt.Sprintf("KILD_PORT_BASE=%d", sess.PortRange.Base),
		fmt.Sprintf("KILD_PORT_COUNT=%d", sess.PortRange.Count),
		fmt.Sprintf("KILD_SESSION=%s", sess.Branch),
	}
}

// recoverProcess consults the PID file for a session whose record carries no
// process entry, returning the fingerprint only if it still identifies a
// running process.
func (o *Orchestrator) recoverProcess(sess *session.Session) *session.ProcessInfo {
	if sess.Process != nil {
		return sess.Process
	}
	fp, err := o.pids.Load(sess.Branch)
	if err != nil {
		return nil
	}
	if !o.tracker.IsRunning(fp) {
		return nil
	}
	return fp
}

func (o *Orchestrator) savePIDFile(sess *session.Session) {
	if sess.Process == nil {
		return
	}
	if err := o.pids.Save(sess.Branch, sess.Process); err != nil {
		log.Printf("Warning: failed to write pid file for %s: %v", sess.Branch, err)
	}
}

func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
