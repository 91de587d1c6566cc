// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/wingedpig/kild/internal/errs"
)

const (
	ptyReadBufSize = 4096
	subscriberBuf  = 256
	ptyKillTimeout = 5 * time.Second
)

// errNotAttached is returned when input arrives for a PTY with no attached
// client. Writing input requires an active attachment.
var errNotAttached = errors.New("no attached client")

// ptySession is one managed PTY and its child process. The read loop is the
// only writer to subscriber channels; all other mutation goes through the
// mutex.
type ptySession struct {
	id          string
	projectPath string

	mu          sync.Mutex
	cmd         *exec.Cmd
	ptmx        *os.File
	state       PTYState
	exitCode    int
	rows, cols  uint16
	startedAt   time.Time
	exitedAt    time.Time
	subscribers map[string]chan []byte
	finalQuery  bool // Set once an Exited status has been served

	done chan struct{} // Closed when the child has exited
}

// openPTY spawns req.Command as the child of a fresh PTY pair. onExit runs
// exactly once, after the child exits and all subscribers have been notified.
func openPTY(req OpenRequest, onExit func(s *ptySession)) (*ptySession, error) {
	if len(req.Command) == 0 {
		return nil, fmt.Errorf("open pty %s: empty command", req.SessionID)
	}
	rows, cols := req.Rows, req.Cols
	if rows == 0 {
		rows = 24
	}
	if cols == 0 {
		cols = 80
	}

	cmd := exec.Command(req.Command[0], req.Command[1:]...)
	cmd.Dir = req.Dir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, req.Env...)

	s := &ptySession{
		id:          req.SessionID,
		projectPath: req.ProjectPath,
		cmd:         cmd,
		state:       StateStarting,
		rows:        rows,
		cols:        cols,
		subscribers: make(map[string]chan []byte),
		done:        make(chan struct{}),
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, fmt.Errorf("start pty for %s: %w", req.SessionID, err)
	}

	s.ptmx = ptmx
	s.state = StateRunning
	s.startedAt = time.Now()

	go s.readLoop()
	go s.waitForExit(onExit)

	return s, nil
}

// readLoop pumps PTY output to every subscriber. A slow subscriber's channel
// fills up and drops output rather than stalling the others.
func (s *ptySession) readLoop() {
	buf := make([]byte, ptyReadBufSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			s.mu.Lock()
			for id, ch := range s.subscribers {
				select {
				case ch <- chunk:
				default:
					log.Printf("Warning: dropping output for slow attach %s on session %s", id, s.id)
				}
			}
			s.mu.Unlock()
		}
		if err != nil {
			// EIO is the normal end of a PTY stream on Linux.
			return
		}
	}
}

func (s *ptySession) waitForExit(onExit func(*ptySession)) {
	err := s.cmd.Wait()

	s.mu.Lock()
	s.state = StateExited
	s.exitedAt = time.Now()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			s.exitCode = exitErr.ExitCode()
		} else {
			s.exitCode = -1
		}
	}
	s.ptmx.Close()
	// Closing the channels is the exit notification to attached clients.
	for _, ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = make(map[string]chan []byte)
	s.mu.Unlock()

	close(s.done)

	if onExit != nil {
		onExit(s)
	}
}

// attach registers an output subscriber. The channel closes when the child
// exits. Returns errs.ErrNotFound if the PTY has already exited.
func (s *ptySession) attach(connID string) (<-chan []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateExited {
		return nil, fmt.Errorf("session %s already exited: %w", s.id, errs.ErrNotFound)
	}
	ch := make(chan []byte, subscriberBuf)
	s.subscribers[connID] = ch
	return ch, nil
}

// detach removes a subscriber. Detaching never affects the child process.
func (s *ptySession) detach(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[connID]; ok {
		delete(s.subscribers, connID)
		close(ch)
	}
}

// input writes bytes to the PTY's input side. An active attachment is
// required: input to a PTY nobody is watching is almost always a bug in the
// caller, and the echo would be dropped anyway.
func (s *ptySession) input(data []byte) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("session %s is not running", s.id)
	}
	if len(s.subscribers) == 0 {
		s.mu.Unlock()
		return fmt.Errorf("session %s: %w", s.id, errNotAttached)
	}
	ptmx := s.ptmx
	s.mu.Unlock()

	_, err := ptmx.Write(data)
	return err
}

// resize propagates a terminal resize; the child receives SIGWINCH.
func (s *ptySession) resize(rows, cols uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning {
		return fmt.Errorf("session %s is not running", s.id)
	}
	s.rows, s.cols = rows, cols
	return pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols})
}

// kill terminates the child. SIGTERM first, SIGKILL if it lingers. The exit
// path through waitForExit handles state transition and notification.
func (s *ptySession) kill() {
	s.mu.Lock()
	if s.state == StateExited {
		s.mu.Unlock()
		return
	}
	pid := s.cmd.Process.Pid
	s.mu.Unlock()

	syscall.Kill(pid, syscall.SIGTERM)
	select {
	case <-s.done:
		return
	case <-time.After(ptyKillTimeout):
	}
	syscall.Kill(pid, syscall.SIGKILL)
	<-s.done
}

// status snapshots the PTY's externally visible state.
func (s *ptySession) status() PTYStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := PTYStatus{
		SessionID: s.id,
		State:     s.state,
		ExitCode:  s.exitCode,
		Rows:      s.rows,
		Cols:      s.cols,
		StartedAt: s.startedAt,
		ExitedAt:  s.exitedAt,
		Attached:  len(s.subscribers),
	}
	if s.state != StateExited && s.cmd.Process != nil {
		st.PID = s.cmd.Process.Pid
	}
	return st
}

// markFinalQuery records that an Exited status has been served once; the
// registry discards the record afterwards.
func (s *ptySession) markFinalQuery() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateExited || s.finalQuery {
		return false
	}
	s.finalQuery = true
	return true
}
