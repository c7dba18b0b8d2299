// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Package transport implements C9, the Transport Handlers (§4.9): the
// browser and telephony media WebSocket adapters, both satisfying
// conductor.Transport so the Session Conductor stays ingress-agnostic.
// Built on gorilla/websocket behind a Gin route group.
package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rapidaai/voicebridge/internal/commons"
)

// inactivityTimeout closes the connection with code 1000 after this much
// silence (§4.9).
const inactivityTimeout = 30 * time.Second

// maxMessageBytes is the largest single WebSocket message accepted
// (§4.9: "16 KiB max single message").
const maxMessageBytes = 16 * 1024

// inboundBacklog is the unread-message backlog beyond which the
// connection is dropped (§4.9: "256-message unread backlog").
const inboundBacklog = 256

// Upgrader is shared by both handlers: origin checking is left to the
// caller's reverse proxy / auth middleware, not this package.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// socket is the shared read-pump/write-mutex plumbing both dialects
// build on: a single background goroutine reads raw frames off the
// connection, enforcing the inactivity timeout and max message size,
// and drops the connection outright if the consumer falls behind by
// more than inboundBacklog messages.
type socket struct {
	conn   *websocket.Conn
	logger commons.Logger

	writeMu sync.Mutex

	raw chan []byte

	closeOnce sync.Once
	closeErr  error
}

func newSocket(conn *websocket.Conn, logger commons.Logger) *socket {
	conn.SetReadLimit(maxMessageBytes)
	s := &socket{conn: conn, logger: logger, raw: make(chan []byte, inboundBacklog)}
	go s.readPump()
	return s
}

func (s *socket) readPump() {
	defer close(s.raw)
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(inactivityTimeout))
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case s.raw <- msg:
		default:
			s.logger.Warnw("inbound backlog exceeded, dropping connection")
			_ = s.Close()
			return
		}
	}
}

func (s *socket) writeMessage(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

// Close closes the underlying connection with a normal-closure code,
// idempotent.
func (s *socket) Close() error {
	return s.closeWithCode(websocket.CloseNormalClosure, "")
}

// closeWithCode closes the connection with the given close code,
// idempotent with Close: whichever runs first decides the code the peer
// sees.
func (s *socket) closeWithCode(code int, reason string) error {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second))
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
