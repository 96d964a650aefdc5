// Package server exposes the HTTP handlers: the WebSocket upgrade endpoint
// and a plain-text health check.
package server

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// handleWebSocket upgrades the request and hands the connection to the hub
// as a fresh session in the unnamed state.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "WebSocket endpoint only accepts GET requests", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("websocket upgrade failed", zap.String("addr", r.RemoteAddr), zap.Error(err))
		return
	}

	session := NewSession(conn, s.hub, s.dispatcher, r.RemoteAddr, s.cfg, s.log)
	s.hub.Register(session)
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "parley chat server is running")
}
