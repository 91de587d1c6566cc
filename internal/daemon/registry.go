// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/wingedpig/kild/internal/errs"
	"github.com/wingedpig/kild/internal/events"
	"github.com/wingedpig/kild/internal/session"
)

const (
	exitedTTL     = time.Minute
	janitorPeriod = 15 * time.Second
)

// Registry is the daemon's table of managed PTYs, indexed by session id. It
// is created at startup and handed to the server; nothing outside the daemon
// process touches it. Exited PTYs are retained until one final status query
// or the janitor TTL, whichever comes first.
type Registry struct {
	mu    sync.Mutex
	ptys  map[string]*ptySession
	bus   events.EventBus
	store *session.Store

	stopJanitor chan struct{}
	janitorOnce sync.Once
}

// NewRegistry creates a registry. The store may be nil in tests; when set,
// the registry clears a session's process field after its PTY exits.
func NewRegistry(bus events.EventBus, store *session.Store) *Registry {
	r := &Registry{
		ptys:        make(map[string]*ptySession),
		bus:         bus,
		store:       store,
		stopJanitor: make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Open allocates a PTY for a session and spawns the requested command.
func (r *Registry) Open(req OpenRequest) (PTYStatus, error) {
	r.mu.Lock()
	if existing, ok := r.ptys[req.SessionID]; ok {
		if existing.status().State != StateExited {
			r.mu.Unlock()
			return PTYStatus{}, fmt.Errorf("session %s already has a pty: %w", req.SessionID, errs.ErrAlreadyExists)
		}
		// A dead record may be replaced.
		delete(r.ptys, req.SessionID)
	}
	r.mu.Unlock()

	s, err := openPTY(req, r.onExit)
	if err != nil {
		return PTYStatus{}, err
	}

	r.mu.Lock()
	r.ptys[req.SessionID] = s
	r.mu.Unlock()

	st := s.status()
	r.publish(events.EventPTYOpened, req.SessionID, map[string]interface{}{"pid": st.PID})
	log.Printf("Opened pty for session %s (pid %d)", req.SessionID, st.PID)
	return st, nil
}

// onExit runs once per PTY when its child exits: publish the event, clear the
// session record's process field so `kild list` stops showing a dead PID.
func (r *Registry) onExit(s *ptySession) {
	st := s.status()
	log.Printf("Session %s pty exited with code %d", s.id, st.ExitCode)
	r.publish(events.EventPTYExited, s.id, map[string]interface{}{"exit_code": st.ExitCode})

	if r.store == nil || s.projectPath == "" {
		return
	}
	sess, err := r.store.Load(s.projectPath, s.id)
	if err != nil {
		return
	}
	if sess.Process != nil {
		sess.Process = nil
		sess.UpdatedAt = time.Now().UTC()
		if err := r.store.Save(sess); err != nil {
			log.Printf("Warning: failed to update session %s after pty exit: %v", s.id, err)
		}
	}
}

// get returns a live pty session by id.
func (r *Registry) get(id string) (*ptySession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.ptys[id]
	if !ok {
		return nil, fmt.Errorf("pty for session %s: %w", id, errs.ErrNotFound)
	}
	return s, nil
}

// Status returns one PTY's status. An Exited status is served exactly once;
// the record is discarded after the query.
func (r *Registry) Status(id string) (PTYStatus, error) {
	s, err := r.get(id)
	if err != nil {
		return PTYStatus{}, err
	}
	st := s.status()
	if s.markFinalQuery() {
		r.mu.Lock()
		delete(r.ptys, id)
		r.mu.Unlock()
	}
	return st, nil
}

// List snapshots all managed PTYs, sorted by session id.
func (r *Registry) List() []PTYStatus {
	r.mu.Lock()
	sessions := make([]*ptySession, 0, len(r.ptys))
	for _, s := range r.ptys {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	result := make([]PTYStatus, 0, len(sessions))
	for _, s := range sessions {
		result = append(result, s.status())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SessionID < result[j].SessionID })
	return result
}

// Input forwards bytes to a PTY. Fails unless at least one client is
// attached.
func (r *Registry) Input(id string, data []byte) error {
	s, err := r.get(id)
	if err != nil {
		return err
	}
	return s.input(data)
}

// Resize propagates a terminal resize.
func (r *Registry) Resize(id string, rows, cols uint16) error {
	s, err := r.get(id)
	if err != nil {
		return err
	}
	return s.resize(rows, cols)
}

// Attach registers an output subscriber on a PTY.
func (r *Registry) Attach(id, connID string) (<-chan []byte, error) {
	s, err := r.get(id)
	if err != nil {
		return nil, err
	}
	return s.attach(connID)
}

// Detach removes an output subscriber.
func (r *Registry) Detach(id, connID string) {
	if s, err := r.get(id); err == nil {
		s.detach(connID)
	}
}

// Kill terminates a PTY's child and discards the record after the final
// status semantics have had their chance.
func (r *Registry) Kill(id string) error {
	s, err := r.get(id)
	if err != nil {
		return err
	}
	s.kill()
	r.publish(events.EventPTYKilled, id, nil)
	return nil
}

// KillBySanitizedID kills any PTY whose filesystem-safe id matches. Used by
// the store watcher, which only sees file stems.
func (r *Registry) KillBySanitizedID(stem string) {
	r.mu.Lock()
	var matches []*ptySession
	for id, s := range r.ptys {
		if session.SanitizeID(id) == stem {
			matches = append(matches, s)
		}
	}
	r.mu.Unlock()

	for _, s := range matches {
		log.Printf("Session record for %s removed, killing its pty", s.id)
		s.kill()
		r.publish(events.EventPTYKilled, s.id, map[string]interface{}{"reason": "session record deleted"})
	}
}

// Count returns the number of managed PTYs.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ptys)
}

// Shutdown kills every managed PTY and stops the janitor.
func (r *Registry) Shutdown() {
	r.janitorOnce.Do(func() { close(r.stopJanitor) })

	r.mu.Lock()
	sessions := make([]*ptySession, 0, len(r.ptys))
	for _, s := range r.ptys {
		sessions = append(sessions, s)
	}
	r.ptys = make(map[string]*ptySession)
	r.mu.Unlock()

	for _, s := range sessions {
		s.kill()
	}
}

// janitor discards Exited records that nobody asked about within the TTL.
func (r *Registry) janitor() {
	ticker := time.NewTicker(janitorPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopJanitor:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-exitedTTL)
			r.mu.Lock()
			for id, s := range r.ptys {
				st := s.status()
				if st.State == StateExited && st.ExitedAt.Before(cutoff) {
					delete(r.ptys, id)
				}
			}
			r.mu.Unlock()
		}
	}
}

func (r *Registry) publish(eventType, sessionID string, payload map[string]interface{}) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(context.Background(), events.Event{
		Type:    eventType,
		Session: sessionID,
		Payload: payload,
	})
}
