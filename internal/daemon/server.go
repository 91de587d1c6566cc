// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/gorilla/mux"

	"github.com/wingedpig/kild/internal/errs"
	"github.com/wingedpig/kild/internal/events"
)

// healthEventLimit caps the event history included in a health report.
const healthEventLimit = 20

// ServerConfig holds configuration for the daemon server.
type ServerConfig struct {
	SocketPath string
	Version    string
}

// Dependencies holds everything the handlers need.
type Dependencies struct {
	Registry *Registry
	Bus      events.EventBus
}

// Server is the daemon's IPC endpoint: HTTP over a unix socket.
type Server struct {
	cfg      ServerConfig
	deps     Dependencies
	router   *mux.Router
	server   *http.Server
	listener net.Listener
	started  time.Time
	shutdown chan struct{}
}

// NewServer creates the daemon server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		shutdown: make(chan struct{}),
	}
	s.router = s.newRouter()
	return s
}

func (s *Server) newRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)
	r.Use(recoveryMiddleware)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/ptys", s.handleList).Methods("GET")
	api.HandleFunc("/ptys", s.handleOpen).Methods("POST")
	api.HandleFunc("/ptys/{id}", s.handleStatus).Methods("GET")
	api.HandleFunc("/ptys/{id}", s.handleKill).Methods("DELETE")
	api.HandleFunc("/ptys/{id}/input", s.handleInput).Methods("POST")
	api.HandleFunc("/ptys/{id}/resize", s.handleResize).Methods("POST")
	api.HandleFunc("/ptys/{id}/attach", s.handleAttach).Methods("GET")
	api.HandleFunc("/shutdown", s.handleShutdown).Methods("POST")

	return r
}

// ListenAndServe binds the unix socket and serves until Shutdown. A stale
// socket file from a crashed daemon is removed; a live one means another
// daemon is already running.
func (s *Server) ListenAndServe() error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0755); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}

	if _, err := os.Stat(s.cfg.SocketPath); err == nil {
		conn, err := net.DialTimeout("unix", s.cfg.SocketPath, time.Second)
		if err == nil {
			conn.Close()
			return fmt.Errorf("daemon already running on %s", s.cfg.SocketPath)
		}
		log.Printf("Removing stale socket %s", s.cfg.SocketPath)
		os.Remove(s.cfg.SocketPath)
	}

	listener, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.SocketPath, err)
	}
	// The socket is the daemon's control channel; keep it user-only.
	os.Chmod(s.cfg.SocketPath, 0600)

	s.listener = listener
	s.started = time.Now()
	s.server = &http.Server{Handler: s.router}

	log.Printf("Daemon listening on %s", s.cfg.SocketPath)
	err = s.server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server, kills all PTYs, and removes the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down daemon...")

	if s.deps.Bus != nil {
		s.deps.Bus.Publish(ctx, events.Event{Type: events.EventDaemonShutdown})
	}
	s.deps.Registry.Shutdown()

	var err error
	if s.server != nil {
		shutdownCtx := ctx
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
		}
		err = s.server.Shutdown(shutdownCtx)
	}

	os.Remove(s.cfg.SocketPath)
	return err
}

// ShutdownRequested returns a channel closed when a client asked the daemon
// to exit.
func (s *Server) ShutdownRequested() <-chan struct{} {
	return s.shutdown
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		PID:     os.Getpid(),
		Started: s.started,
		PTYs:    s.deps.Registry.Count(),
		Version: s.cfg.Version,
	}
	if s.deps.Bus != nil {
		health.RecentEvents = s.deps.Bus.History(healthEventLimit)
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.List())
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "session_id is required")
		return
	}

	st, err := s.deps.Registry.Open(req)
	if err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "already_exists", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "open_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	st, err := s.deps.Registry.Status(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Registry.Kill(id); err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "killed"})
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req InputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if err := s.deps.Registry.Input(id, req.Data); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		if errors.Is(err, errNotAttached) {
			writeError(w, http.StatusConflict, "not_attached", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "input_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleResize(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req ResizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body: "+err.Error())
		return
	}
	if req.Rows == 0 || req.Cols == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "rows and cols must be positive")
		return
	}
	if err := s.deps.Registry.Resize(id, req.Rows, req.Cols); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "resize_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting down"})
	// Signal the main loop after the response has gone out.
	go func() {
		time.Sleep(100 * time.Millisecond)
		select {
		case <-s.shutdown:
		default:
			close(s.shutdown)
		}
	}()
}

// apiResponse is the envelope for every JSON response.
type apiResponse struct {
	Data  interface{} `json:"data,omitempty"`
	Error *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(apiResponse{Data: data}); err != nil {
		log.Printf("Warning: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Error: &apiError{Code: code, Message: message}})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("Panic in handler %s %s: %v\n%s", r.Method, r.URL.Path, rec, debug.Stack())
				writeError(w, http.StatusInternalServerError, "internal", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
