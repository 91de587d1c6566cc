// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package client provides a Go client for the kild PTY daemon.
//
// The daemon owns the PTYs of kild sessions so they outlive individual CLI
// invocations. It listens on a unix socket; this client speaks the daemon's
// HTTP API over that socket and upgrades to a WebSocket for attach streams.
//
// # Getting Started
//
// Create a client pointing at the daemon's socket:
//
//	c := client.New("/home/dev/.kild/kild.sock")
//
//	// Is the daemon up?
//	health, err := c.Ping(ctx)
//
//	// Open a PTY for a session
//	pty, err := c.Open(ctx, client.OpenOptions{
//	    SessionID: "feature-x",
//	    Command:   []string{"claude"},
//	    Dir:       "/home/dev/proj-feature-x",
//	})
//
//	// Stream its output
//	conn, err := c.Attach(ctx, "feature-x")
//
// # Error Handling
//
// A failed connection to the socket is reported as errs.ErrDaemonUnavailable,
// letting callers distinguish "daemon not running" from daemon-side failures.
// API errors carry a machine-readable code; "not_found" and "already_exists"
// map onto the corresponding errs sentinels.
//
// All methods accept a context.Context for cancellation and timeouts.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/wingedpig/kild/internal/errs"
)

// Client is a kild daemon client. It is safe for concurrent use by multiple
// goroutines.
type Client struct {
	socketPath string
	httpClient *http.Client
}

// Option configures a [Client].
type Option func(*Client)

// New creates a daemon client for the given unix socket path.
//
// By default requests time out after 30 seconds; use [WithTimeout] to change
// that for long operations.
func New(socketPath string, opts ...Option) *Client {
	c := &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithTimeout sets the HTTP timeout for all requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// SocketPath returns the daemon socket this client talks to.
func (c *Client) SocketPath() string {
	return c.socketPath
}

// apiResponse is the standard response envelope.
type apiResponse struct {
	Data  json.RawMessage `json:"data"`
	Error *APIError       `json:"error"`
}

// APIError is an error response from the daemon.
type APIError struct {
	// Code is a machine-readable error code (e.g., "not_found").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Unwrap maps well-known error codes onto the kild error taxonomy so callers
// can use errors.Is.
func (e *APIError) Unwrap() error {
	switch e.Code {
	case "not_found":
		return errs.ErrNotFound
	case "already_exists":
		return errs.ErrAlreadyExists
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) postJSON(ctx context.Context, path string, body interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(data))
}

func (c *Client) delete(ctx context.Context, path string) (json.RawMessage, error) {
	return c.do(ctx, http.MethodDelete, path, nil)
}

// do performs an HTTP request over the unix socket and parses the envelope.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (json.RawMessage, error) {
	// The host is a placeholder; the transport dials the socket.
	req, err := http.NewRequestWithContext(ctx, method, "http://kild"+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("request failed: %w", err)
		}
		// Anything else at this layer means we could not reach the daemon.
		return nil, fmt.Errorf("daemon at %s: %v: %w", c.socketPath, err, errs.ErrDaemonUnavailable)
	}
	defer resp.Body.Close()

	return parseResponse(resp)
}

func parseResponse(resp *http.Response) (json.RawMessage, error) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respBody))
		}
		return respBody, nil
	}
	if envelope.Error != nil {
		return nil, envelope.Error
	}
	return envelope.Data, nil
}
