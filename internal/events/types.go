// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events provides the in-memory event bus used by the PTY daemon to
// fan out lifecycle notifications (PTY opened, child exited, shutdown).
package events

import (
	"context"
	"time"
)

// Event types published by the daemon.
const (
	EventPTYOpened      = "pty.opened"
	EventPTYExited      = "pty.exited"
	EventPTYKilled      = "pty.killed"
	EventDaemonShutdown = "daemon.shutdown"
)

// Event is a single bus event.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Session   string                 `json:"session,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// EventHandler processes a single event.
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID identifies a subscription for Unsubscribe.
type SubscriptionID string

// EventBus is the pub/sub interface.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(pattern string, handler EventHandler) (SubscriptionID, error)
	SubscribeAsync(pattern string, handler EventHandler, bufferSize int) (SubscriptionID, error)
	Unsubscribe(id SubscriptionID) error
	History(limit int) []Event
	Close() error
}

// matchPattern reports whether an event type matches a subscription pattern.
// Patterns are exact strings, "*" (everything), or a prefix ending in ".*"
// ("pty.*" matches "pty.exited").
func matchPattern(pattern, eventType string) bool {
	if pattern == "*" || pattern == eventType {
		return true
	}
	if len(pattern) > 2 && pattern[len(pattern)-2:] == ".*" {
		prefix := pattern[:len(pattern)-1] // keep the dot
		return len(eventType) > len(prefix) && eventType[:len(prefix)] == prefix
	}
	return false
}
