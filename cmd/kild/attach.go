// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/wingedpig/kild/internal/session"
)

// detachKey is Ctrl-], the telnet escape. It detaches the terminal without
// touching the agent.
const detachKey = 0x1d

func cmdAttach(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: kild attach <branch>")
	}
	branch := args[0]

	view, err := orch.Status(context.Background(), branch)
	if err != nil {
		return err
	}
	if view.PTYMode != session.PTYModeDaemon {
		return fmt.Errorf("session %s runs in an external terminal; attach only works for daemon sessions", branch)
	}

	conn, err := apiClient.Attach(context.Background(), branch)
	if err != nil {
		return err
	}
	defer conn.Close()

	fd := int(os.Stdin.Fd())

	// Match the PTY to this terminal before going raw.
	if rows, cols, err := terminalSize(fd); err == nil {
		apiClient.Resize(context.Background(), branch, rows, cols)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("put terminal in raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	fmt.Fprintf(os.Stderr, "Attached to %s. Detach with Ctrl-].\r\n", branch)

	// Writes to the socket come from the stdin pump and from pong replies;
	// serialize them.
	var writeMu sync.Mutex
	conn.SetPingHandler(func(appData string) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	// Reader: daemon output to this terminal. Exits on close or error.
	readerDone := make(chan error, 1)
	go func() {
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				readerDone <- err
				return
			}
			if msgType == websocket.BinaryMessage {
				os.Stdout.Write(data)
			}
		}
	}()

	// Writer: this terminal's keystrokes to the daemon, until the detach key.
	detached := make(chan struct{})
	go func() {
		defer close(detached)
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				return
			}
			chunk, stop := splitAtDetachKey(buf[:n])
			if len(chunk) > 0 {
				writeMu.Lock()
				err = conn.WriteMessage(websocket.BinaryMessage, chunk)
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
			if stop {
				return
			}
		}
	}()

	select {
	case <-detached:
		writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "detach"),
			time.Now().Add(time.Second))
		writeMu.Unlock()
		fmt.Fprintf(os.Stderr, "\r\nDetached from %s\r\n", branch)
		return nil
	case err := <-readerDone:
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			fmt.Fprintf(os.Stderr, "\r\nSession %s exited\r\n", branch)
			return nil
		}
		return fmt.Errorf("connection lost: %v", err)
	}
}

// splitAtDetachKey returns the input up to (not including) the detach key and
// whether the key was present.
func splitAtDetachKey(chunk []byte) ([]byte, bool) {
	for i, b := range chunk {
		if b == detachKey {
			return chunk[:i], true
		}
	}
	return chunk, false
}

// terminalSize reads the terminal dimensions of fd.
func terminalSize(fd int) (rows, cols uint16, err error) {
	width, height, err := term.GetSize(fd)
	if err != nil {
		return 0, 0, err
	}
	return uint16(height), uint16(width), nil
}
