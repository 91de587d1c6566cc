// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/wingedpig/kild/internal/errs"
)

// Ping checks that the daemon is alive and returns its health report.
func (c *Client) Ping(ctx context.Context) (*Health, error) {
	data, err := c.get(ctx, "/api/v1/health")
	if err != nil {
		return nil, err
	}
	var health Health
	if err := json.Unmarshal(data, &health); err != nil {
		return nil, fmt.Errorf("failed to parse health: %w", err)
	}
	return &health, nil
}

// Open asks the daemon to allocate a PTY and spawn the session's command.
// Returns errs.ErrAlreadyExists if the session already has a live PTY.
func (c *Client) Open(ctx context.Context, opts OpenOptions) (*PTY, error) {
	data, err := c.postJSON(ctx, "/api/v1/ptys", opts)
	if err != nil {
		return nil, err
	}
	var pty PTY
	if err := json.Unmarshal(data, &pty); err != nil {
		return nil, fmt.Errorf("failed to parse pty: %w", err)
	}
	return &pty, nil
}

// List returns all PTYs the daemon currently manages.
func (c *Client) List(ctx context.Context) ([]PTY, error) {
	data, err := c.get(ctx, "/api/v1/ptys")
	if err != nil {
		return nil, err
	}
	var ptys []PTY
	if err := json.Unmarshal(data, &ptys); err != nil {
		return nil, fmt.Errorf("failed to parse pty list: %w", err)
	}
	return ptys, nil
}

// Status returns one PTY's status. An exited PTY is reported once; after
// that the daemon discards it and returns errs.ErrNotFound.
func (c *Client) Status(ctx context.Context, sessionID string) (*PTY, error) {
	data, err := c.get(ctx, "/api/v1/ptys/"+url.PathEscape(sessionID))
	if err != nil {
		return nil, err
	}
	var pty PTY
	if err := json.Unmarshal(data, &pty); err != nil {
		return nil, fmt.Errorf("failed to parse pty: %w", err)
	}
	return &pty, nil
}

// Input sends raw bytes to the PTY's input side.
func (c *Client) Input(ctx context.Context, sessionID string, data []byte) error {
	_, err := c.postJSON(ctx, "/api/v1/ptys/"+url.PathEscape(sessionID)+"/input",
		map[string][]byte{"data": data})
	return err
}

// Resize propagates a terminal resize to the PTY child.
func (c *Client) Resize(ctx context.Context, sessionID string, rows, cols uint16) error {
	_, err := c.postJSON(ctx, "/api/v1/ptys/"+url.PathEscape(sessionID)+"/resize",
		map[string]uint16{"rows": rows, "cols": cols})
	return err
}

// Kill terminates the PTY's child process and releases the PTY.
func (c *Client) Kill(ctx context.Context, sessionID string) error {
	_, err := c.delete(ctx, "/api/v1/ptys/"+url.PathEscape(sessionID))
	return err
}

// Shutdown asks the daemon to exit. All managed PTYs are killed.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.postJSON(ctx, "/api/v1/shutdown", struct{}{})
	return err
}

// Attach opens a WebSocket streaming the PTY's output from this moment on
// (no history is replayed). Binary messages written to the connection are
// forwarded to the PTY input. Closing the connection detaches without
// affecting the child; the daemon closes it from its side when the child
// exits.
func (c *Client) Attach(ctx context.Context, sessionID string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", c.socketPath)
		},
	}

	wsURL := "ws://kild/api/v1/ptys/" + url.PathEscape(sessionID) + "/attach"
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("pty for session %s: %w", sessionID, errs.ErrNotFound)
		}
		return nil, fmt.Errorf("attach to %s: %v: %w", sessionID, err, errs.ErrDaemonUnavailable)
	}
	return conn, nil
}
