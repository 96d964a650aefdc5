// Package server coordinates session registration, pump lifecycle, and
// connection teardown through the Hub type. Room semantics live in the
// Directory; the Hub only owns the set of live connections.
package server

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Hub tracks every connected session and runs their read/write pumps. It
// serializes registration and unregistration through its event loop and
// supports graceful shutdown with a bounded wait for pump goroutines.
type Hub struct {
	sessions   map[*Session]struct{}
	register   chan *Session
	unregister chan *Session
	log        *zap.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a Hub ready to accept session registrations once Run is
// started.
func NewHub(log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		sessions:   make(map[*Session]struct{}),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Register hands a new session to the hub. The hub launches the pump
// goroutines; the caller must not touch the connection afterwards.
func (h *Hub) Register(s *Session) {
	select {
	case h.register <- s:
	case <-h.ctx.Done():
		if s.conn != nil {
			_ = s.conn.Close()
		}
	}
}

// Unregister removes a session from the hub and closes its send queue.
// Idempotent: a second unregister for the same session is a no-op.
func (h *Hub) Unregister(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.ctx.Done():
		// Event loop has stopped; release the send queue here so the
		// write pump can drain and exit.
		if s.markClosed() {
			close(s.send)
		}
	}
}

// Run is the hub event loop. Call it in its own goroutine; it returns when
// Shutdown is invoked.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.closeAll()
			return

		case s := <-h.register:
			h.sessions[s] = struct{}{}
			h.log.Info("session registered",
				zap.String("session", s.id),
				zap.String("addr", s.addr),
				zap.Int("total", len(h.sessions)))

			if s.conn == nil {
				continue
			}
			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				s.writePump()
			}()
			go func() {
				defer h.wg.Done()
				s.readPump()
			}()

		case s := <-h.unregister:
			if _, ok := h.sessions[s]; !ok {
				continue
			}
			delete(h.sessions, s)
			if s.markClosed() {
				close(s.send)
			}
			h.log.Info("session unregistered",
				zap.String("session", s.id),
				zap.Int("total", len(h.sessions)))
		}
	}
}

func (h *Hub) closeAll() {
	h.log.Info("closing all sessions", zap.Int("count", len(h.sessions)))
	for s := range h.sessions {
		if s.conn != nil {
			if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.log.Warn("closing session connection",
					zap.String("session", s.id), zap.Error(err))
			}
		}
	}
}

// Shutdown stops the event loop, closes every connection, and waits for
// pump goroutines to finish or for the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.log.Info("hub shutdown complete")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timed out")
		return context.DeadlineExceeded
	}
}

// isExpectedCloseError reports whether an error is part of normal
// connection teardown rather than a fault worth surfacing.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
