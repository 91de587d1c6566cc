// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/wingedpig/kild/internal/errs"
)

func cmdDaemon(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kild daemon <start|stop|status>")
	}
	switch args[0] {
	case "start":
		return daemonStart()
	case "stop":
		return daemonStop()
	case "status":
		return daemonStatus()
	default:
		return fmt.Errorf("unknown daemon command: %s", args[0])
	}
}

func daemonStart() error {
	ctx := context.Background()
	if health, err := apiClient.Ping(ctx); err == nil {
		fmt.Printf("Daemon already running (pid %d)\n", health.PID)
		return nil
	}

	bin, err := findDaemonBinary()
	if err != nil {
		return err
	}

	cmd := exec.Command(bin, "-socket", cfg.Daemon.Socket)
	if cfg.Daemon.LogFile != "" {
		cmd.Args = append(cmd.Args, "-log", cfg.Daemon.LogFile)
	}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	// Detach from this terminal so the daemon outlives the CLI.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", bin, err)
	}
	cmd.Process.Release()

	// Wait for the socket to come up.
	for i := 0; i < 20; i++ {
		time.Sleep(250 * time.Millisecond)
		if health, err := apiClient.Ping(ctx); err == nil {
			fmt.Printf("Daemon started (pid %d)\n", health.PID)
			return nil
		}
	}
	return fmt.Errorf("daemon did not come up on %s: %w", cfg.Daemon.Socket, errs.ErrDaemonUnavailable)
}

// findDaemonBinary looks for kild-daemon next to the kild binary first, then
// on PATH.
func findDaemonBinary() (string, error) {
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), "kild-daemon")
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	bin, err := exec.LookPath("kild-daemon")
	if err != nil {
		return "", fmt.Errorf("kild-daemon binary not found")
	}
	return bin, nil
}

func daemonStop() error {
	ctx := context.Background()
	if err := apiClient.Shutdown(ctx); err != nil {
		if errors.Is(err, errs.ErrDaemonUnavailable) {
			fmt.Println("Daemon not running")
			return nil
		}
		return err
	}

	for i := 0; i < 20; i++ {
		time.Sleep(250 * time.Millisecond)
		if _, err := apiClient.Ping(ctx); err != nil {
			fmt.Println("Daemon stopped")
			return nil
		}
	}
	return fmt.Errorf("daemon did not stop")
}

func daemonStatus() error {
	ctx := context.Background()
	health, err := apiClient.Ping(ctx)
	if err != nil {
		if errors.Is(err, errs.ErrDaemonUnavailable) {
			fmt.Println("Daemon not running")
			os.Exit(errs.ExitDaemonDown)
		}
		return err
	}

	if jsonOutput {
		return printJSON(health)
	}
	fmt.Printf("Daemon running (pid %d)\n", health.PID)
	fmt.Printf("  Socket:  %s\n", cfg.Daemon.Socket)
	fmt.Printf("  Started: %s\n", health.Started.Local().Format(time.RFC3339))
	fmt.Printf("  PTYs:    %d\n", health.PTYs)
	fmt.Printf("  Version: %s\n", health.Version)
	if len(health.RecentEvents) > 0 {
		fmt.Println("  Recent events:")
		for _, e := range health.RecentEvents {
			line := e.Type
			if e.Session != "" {
				line += " " + e.Session
			}
			fmt.Printf("    %s  %s\n", e.Timestamp.Local().Format("15:04:05"), line)
		}
	}
	return nil
}
