// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// StoreWatcher watches the sessions directory and kills the PTY of any
// session whose record file disappears. This catches `kild destroy` issued
// while the daemon holds a PTY, and records deleted by hand.
type StoreWatcher struct {
	watcher  *fsnotify.Watcher
	registry *Registry
	root     string
	done     chan struct{}
}

// NewStoreWatcher starts watching root (the sessions directory) and its
// per-project subdirectories.
func NewStoreWatcher(root string, registry *Registry) (*StoreWatcher, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}

	// fsnotify is not recursive; add the existing project subdirectories.
	entries, _ := os.ReadDir(root)
	for _, entry := range entries {
		if entry.IsDir() {
			fsw.Add(filepath.Join(root, entry.Name()))
		}
	}

	w := &StoreWatcher{
		watcher:  fsw,
		registry: registry,
		root:     root,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *StoreWatcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Warning: store watcher error: %v", err)
		}
	}
}

func (w *StoreWatcher) handle(event fsnotify.Event) {
	switch {
	case event.Op&fsnotify.Create != 0:
		// New project directory: start watching it too.
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watcher.Add(event.Name); err != nil {
				log.Printf("Warning: failed to watch %s: %v", event.Name, err)
			}
		}
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		name := filepath.Base(event.Name)
		if !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".json.tmp") {
			return
		}
		stem := strings.TrimSuffix(name, ".json")
		w.registry.KillBySanitizedID(stem)
	}
}

// Close stops the watcher.
func (w *StoreWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
