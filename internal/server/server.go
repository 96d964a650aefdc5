// Package server assembles the chat service: registry, dispatcher,
// broadcaster, hub, transcript store, and the HTTP listener that accepts
// WebSocket connections.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Server owns every component of the chat service and the HTTP server that
// fronts it.
type Server struct {
	cfg         *Config
	log         *zap.Logger
	hub         *Hub
	dir         *Directory
	dispatcher  *Dispatcher
	broadcaster *Broadcaster
	history     *HistoryStore
	origins     *originPolicy
	upgrader    websocket.Upgrader
	http        *http.Server
}

// New builds a Server from the given configuration. An empty HistoryDSN
// disables transcript recording.
func New(cfg *Config, log *zap.Logger) (*Server, error) {
	var history *HistoryStore
	if cfg.HistoryDSN != "" {
		h, err := OpenHistory(cfg.HistoryDSN)
		if err != nil {
			return nil, fmt.Errorf("opening transcript store: %w", err)
		}
		history = h
	}

	hub := NewHub(log)
	dir := NewDirectory(cfg.RoomCapacity)
	bc := NewBroadcaster(log, history)

	s := &Server{
		cfg:         cfg,
		log:         log,
		hub:         hub,
		dir:         dir,
		broadcaster: bc,
		dispatcher:  NewDispatcher(dir, bc, hub, log),
		history:     history,
		origins:     newOriginPolicy(cfg.AllowedOrigins, log),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.check,
	}
	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Directory exposes the room/user registry, primarily for tests and
// operational tooling.
func (s *Server) Directory() *Directory { return s.dir }

// History exposes the transcript store; nil when recording is disabled.
func (s *Server) History() *HistoryStore { return s.history }

// Handler returns the HTTP handler, for serving through httptest.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// Start launches the hub event loop and blocks serving HTTP until the
// listener fails or Shutdown is called.
func (s *Server) Start() error {
	go s.hub.Run()
	s.log.Info("server listening", zap.String("addr", s.cfg.ListenAddr))

	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// StartHub starts only the hub loop, for tests that drive the handler
// through httptest instead of a real listener.
func (s *Server) StartHub() {
	go s.hub.Run()
}

// Shutdown stops accepting connections, drains the hub, and closes the
// transcript store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")

	var firstErr error
	if err := s.http.Shutdown(ctx); err != nil {
		s.log.Warn("http shutdown", zap.Error(err))
		firstErr = err
	}

	timeout := s.cfg.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if err := s.hub.Shutdown(timeout); err != nil && firstErr == nil {
		firstErr = err
	}

	if s.history != nil {
		if err := s.history.Close(); err != nil {
			s.log.Warn("closing transcript store", zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
