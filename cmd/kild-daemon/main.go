// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// kild-daemon hosts PTYs for kild sessions so agents survive terminal and
// editor restarts. It serves an HTTP API over a unix socket and watches the
// session store so PTYs die with their session records.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wingedpig/kild/internal/config"
	"github.com/wingedpig/kild/internal/daemon"
	"github.com/wingedpig/kild/internal/events"
	"github.com/wingedpig/kild/internal/session"
)

var version = "0.9"

const (
	eventHistorySize = 256
	eventLogBuffer   = 64
)

func main() {
	var (
		configPath  string
		socketPath  string
		logPath     string
		showVersion bool
	)
	flag.StringVar(&configPath, "config", "", "Path to config file (default: auto-detect)")
	flag.StringVar(&socketPath, "socket", "", "Unix socket path (overrides config)")
	flag.StringVar(&logPath, "log", "", "Log file path (overrides config; default stderr)")
	flag.BoolVar(&showVersion, "version", false, "Show version")
	flag.Parse()

	if showVersion {
		fmt.Printf("kild-daemon %s\n", version)
		os.Exit(0)
	}

	if err := run(configPath, socketPath, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, socketPath, logPath string) error {
	loader := config.NewLoader()
	if configPath == "" {
		found, err := loader.FindConfig()
		if err == nil {
			configPath = found
		}
	}
	cfg, err := loader.LoadWithDefaults(context.Background(), configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if socketPath != "" {
		cfg.Daemon.Socket = socketPath
	}
	if logPath != "" {
		cfg.Daemon.LogFile = logPath
	}

	if cfg.Daemon.LogFile != "" {
		f, err := os.OpenFile(cfg.Daemon.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}
	log.Printf("kild-daemon %s starting, pid %d", version, os.Getpid())

	bus := events.NewMemoryEventBus(eventHistorySize)
	defer bus.Close()

	// Mirror every bus event into the daemon log.
	if _, err := bus.SubscribeAsync("*", func(ctx context.Context, e events.Event) error {
		if e.Session != "" {
			log.Printf("Event %s session=%s", e.Type, e.Session)
		} else {
			log.Printf("Event %s", e.Type)
		}
		return nil
	}, eventLogBuffer); err != nil {
		log.Printf("Warning: event log subscription failed: %v", err)
	}

	store := session.NewStore(cfg.SessionsDir())
	registry := daemon.NewRegistry(bus, store)

	// Watch the session store so a deleted record takes its PTY down even
	// when the delete came from another kild process.
	watcher, err := daemon.NewStoreWatcher(cfg.SessionsDir(), registry)
	if err != nil {
		log.Printf("Warning: session store watcher disabled: %v", err)
	} else {
		defer watcher.Close()
	}

	srv := daemon.NewServer(
		daemon.ServerConfig{SocketPath: cfg.Daemon.Socket, Version: version},
		daemon.Dependencies{Registry: registry, Bus: bus},
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("Received %s", sig)
	case <-srv.ShutdownRequested():
		log.Println("Shutdown requested over the API")
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
