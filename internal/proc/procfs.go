// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package proc

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Assumed USER_HZ. Linux has reported 100 to userspace for two decades.
const clockTicksPerSecond = 100

// statFields returns the fields of /proc/<pid>/stat after the comm field.
// The comm can contain spaces and parentheses, so everything up to the last
// ')' is skipped. Field numbering follows proc(5): the first returned field
// is field 3 (state).
func statFields(pid int) ([]string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return nil, err
	}
	idx := strings.LastIndexByte(string(data), ')')
	if idx < 0 {
		return nil, fmt.Errorf("malformed stat for pid %d", pid)
	}
	fields := strings.Fields(string(data[idx+1:]))
	if len(fields) < 20 {
		return nil, fmt.Errorf("short stat for pid %d: %d fields", pid, len(fields))
	}
	return fields, nil
}

// bootTime reads the kernel boot time from /proc/stat.
func bootTime() (time.Time, error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return time.Time{}, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "btime ") {
			continue
		}
		sec, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "btime ")), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse btime: %w", err)
		}
		return time.Unix(sec, 0), nil
	}
	return time.Time{}, fmt.Errorf("btime not found in /proc/stat")
}

// readStartTime returns the wall-clock start time of a process, derived from
// the boot time plus the process's start offset in clock ticks (stat field 22).
func readStartTime(pid int) (time.Time, error) {
	fields, err := statFields(pid)
	if err != nil {
		return time.Time{}, err
	}
	ticks, err := strconv.ParseUint(fields[19], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse starttime for pid %d: %w", pid, err)
	}
	boot, err := bootTime()
	if err != nil {
		return time.Time{}, err
	}
	offset := time.Duration(ticks) * time.Second / clockTicksPerSecond
	return boot.Add(offset), nil
}

// Metrics is a point-in-time resource snapshot of a process.
type Metrics struct {
	CPUTime  time.Duration `json:"cpu_time"`  // Cumulative user+system CPU
	RSSBytes int64         `json:"rss_bytes"` // Resident set size
}

// ReadMetrics collects CPU and memory usage for a PID from /proc. Fields 14
// and 15 of stat are utime and stime; RSS comes from statm.
func ReadMetrics(pid int) (Metrics, error) {
	fields, err := statFields(pid)
	if err != nil {
		return Metrics{}, fmt.Errorf("read metrics for pid %d: %w", pid, err)
	}
	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return Metrics{}, fmt.Errorf("parse utime for pid %d: %w", pid, err)
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return Metrics{}, fmt.Errorf("parse stime for pid %d: %w", pid, err)
	}

	var rss int64
	if data, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid)); err == nil {
		parts := strings.Fields(string(data))
		if len(parts) >= 2 {
			if pages, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
				rss = pages * int64(os.Getpagesize())
			}
		}
	}

	return Metrics{
		CPUTime:  time.Duration(utime+stime) * time.Second / clockTicksPerSecond,
		RSSBytes: rss,
	}, nil
}
