// Package server manages individual client sessions: connection state, the
// outbound send queue, and the read/write pumps for each WebSocket
// connection.
package server

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	sendQueueSize = 256
)

type sessionState int

const (
	// StateUnnamed is the initial state: connected, no username yet.
	StateUnnamed sessionState = iota
	// StateLobby means the session holds a username but no room.
	StateLobby
	// StateInRoom means the session is a member of exactly one room.
	StateInRoom
	// StateClosed means teardown has run; no further requests are handled.
	StateClosed
)

// Session represents one connected client. It owns the connection, a
// buffered outbound queue, and the per-connection rate limiter. The
// username and room fields are guarded by the Directory mutex; state is
// touched only by the session's own read loop, which processes one request
// at a time.
type Session struct {
	id         string
	conn       *websocket.Conn
	send       chan []byte
	addr       string
	hub        *Hub
	dispatcher *Dispatcher
	log        *zap.Logger
	limiter    *rateLimiter

	mu     sync.Mutex
	closed bool

	teardown sync.Once

	state    sessionState
	username string
	roomName string
}

// NewSession wraps an accepted connection. The connection may be nil in
// tests that exercise Directory and Dispatcher logic directly.
func NewSession(conn *websocket.Conn, hub *Hub, dp *Dispatcher, addr string, cfg *Config, log *zap.Logger) *Session {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	id := ulid.Make().String()
	return &Session{
		id:         id,
		conn:       conn,
		send:       make(chan []byte, sendQueueSize),
		addr:       addr,
		hub:        hub,
		dispatcher: dp,
		log:        log.With(zap.String("session", id), zap.String("addr", addr)),
		limiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		state:      StateUnnamed,
	}
}

// ID returns the opaque connection identifier assigned at accept time.
func (s *Session) ID() string { return s.id }

// trySend queues a payload for delivery without blocking. It returns false
// when the session is closed or its queue is full; the caller treats either
// as a failed delivery for this session only.
func (s *Session) trySend(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// markClosed flips the session to closed so no further trySend can race
// with the hub closing the send channel. Returns false if already closed.
func (s *Session) markClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	return true
}

func (s *Session) readPump() {
	defer func() {
		s.dispatcher.Disconnect(s)
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("closing connection after read loop", zap.Error(err))
		}
	}()

	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log.Warn("setting initial read deadline", zap.Error(err))
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}

		s.dispatcher.Handle(s, raw)
		if s.state == StateClosed {
			return
		}
	}
}

func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Info("frame exceeded maximum size, dropping connection")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		s.log.Debug("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		s.log.Debug("connection closed", zap.Error(err))
	default:
		s.log.Info("read error", zap.Error(err))
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Warn("closing connection after write loop", zap.Error(err))
		}
	}()

	for {
		select {
		case payload, ok := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				s.log.Warn("setting write deadline", zap.Error(err))
				return
			}
			if !ok {
				// Hub closed the queue: say goodbye and stop.
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !s.writeFrame(payload) {
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !isExpectedCloseError(err) {
					s.log.Debug("ping failed", zap.Error(err))
				}
				return
			}
		}
	}
}

// writeFrame writes one frame per notification; queued notifications are
// flushed as their own frames so clients can decode them independently.
func (s *Session) writeFrame(payload []byte) bool {
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Debug("write failed", zap.Error(err))
		}
		return false
	}

	for n := len(s.send); n > 0; n-- {
		queued, ok := <-s.send
		if !ok {
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return false
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, queued); err != nil {
			if !isExpectedCloseError(err) {
				s.log.Debug("write failed", zap.Error(err))
			}
			return false
		}
	}
	return true
}
