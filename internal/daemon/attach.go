// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The socket is unix-domain and user-only; there is no cross-origin
	// surface to defend.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleAttach upgrades to a WebSocket and streams PTY output from the moment
// of attachment onward. Binary messages from the client are forwarded to the
// PTY input. Closing the socket detaches without affecting the child.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	connID := uuid.NewString()

	output, err := s.deps.Registry.Attach(id, connID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.deps.Registry.Detach(id, connID)
		log.Printf("Attach %s: upgrade failed: %v", id, err)
		return
	}
	defer func() {
		s.deps.Registry.Detach(id, connID)
		conn.Close()
	}()

	log.Printf("Client %s attached to session %s", connID, id)

	const pongWait = 60 * time.Second
	const pingPeriod = (pongWait * 9) / 10
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// gorilla/websocket requires a single writer.
	var writeMu sync.Mutex

	readerDone := make(chan struct{})

	// Client -> PTY input.
	go func() {
		defer close(readerDone)
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
				continue
			}
			if err := s.deps.Registry.Input(id, data); err != nil {
				log.Printf("Attach %s: input failed: %v", id, err)
				return
			}
		}
	}()

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	// PTY output -> client, interleaved with keepalive pings.
	for {
		select {
		case chunk, ok := <-output:
			if !ok {
				// Child exited; tell the client proactively, then close.
				writeMu.Lock()
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "process exited"),
					time.Now().Add(time.Second))
				writeMu.Unlock()
				return
			}
			writeMu.Lock()
			err := conn.WriteMessage(websocket.BinaryMessage, chunk)
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-pingTicker.C:
			writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second))
			writeMu.Unlock()
			if err != nil {
				return
			}
		case <-readerDone:
			return
		}
	}
}
