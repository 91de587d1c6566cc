// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package ports computes non-overlapping port ranges for sessions.
package ports

import (
	"fmt"
	"sort"

	"github.com/wingedpig/kild/internal/errs"
	"github.com/wingedpig/kild/internal/session"
)

const maxPort = 65536

// Allocator assigns port ranges starting from a configured base. It is
// deterministic and side-effect-free: the caller supplies the occupied ranges
// from the current session store snapshot, and the reservation only becomes
// real when the owning session is saved. Two concurrent creates can therefore
// compute the same range; that race is accepted and left to cleanup.
type Allocator struct {
	base int
}

// NewAllocator creates an allocator with the given base port.
func NewAllocator(base int) *Allocator {
	if base <= 0 {
		base = 3000
	}
	return &Allocator{base: base}
}

// Allocate returns the lowest range of count ports at or above the base that
// does not intersect any occupied range.
func (a *Allocator) Allocate(occupied []session.PortRange, count int) (session.PortRange, error) {
	if count <= 0 || count > maxPort {
		return session.PortRange{}, fmt.Errorf("invalid port range size %d", count)
	}

	taken := make([]session.PortRange, len(occupied))
	copy(taken, occupied)
	sort.Slice(taken, func(i, j int) bool { return taken[i].Base < taken[j].Base })

	candidate := a.base
	for _, r := range taken {
		if candidate+count <= int(r.Base) {
			break // Gap before this range fits
		}
		if r.End() > candidate {
			candidate = r.End()
		}
	}

	if candidate+count > maxPort {
		return session.PortRange{}, fmt.Errorf("no free range of %d ports above %d: %w",
			count, a.base, errs.ErrPortsExhausted)
	}

	return session.PortRange{Base: uint16(candidate), Count: uint16(count)}, nil
}

// Occupied extracts the port ranges of the given sessions.
func Occupied(sessions []*session.Session) []session.PortRange {
	ranges := make([]session.PortRange, 0, len(sessions))
	for _, s := range sessions {
		if s.PortRange.Count > 0 {
			ranges = append(ranges, s.PortRange)
		}
	}
	return ranges
}
