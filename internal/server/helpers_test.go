package server

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// testStack wires a Directory, Broadcaster, Hub, and Dispatcher for tests
// that drive requests directly, without a WebSocket connection.
type testStack struct {
	t   *testing.T
	cfg *Config
	dir *Directory
	bc  *Broadcaster
	hub *Hub
	dp  *Dispatcher
}

func newTestStack(t *testing.T, capacity int) *testStack {
	t.Helper()

	cfg := DefaultConfig()
	cfg.RoomCapacity = capacity
	cfg.RateLimit.Burst = 100

	log := zaptest.NewLogger(t)
	hub := NewHub(log)
	go hub.Run()
	t.Cleanup(func() {
		if err := hub.Shutdown(time.Second); err != nil {
			t.Logf("hub shutdown: %v", err)
		}
	})

	dir := NewDirectory(capacity)
	bc := NewBroadcaster(log, nil)
	dp := NewDispatcher(dir, bc, hub, log)

	return &testStack{t: t, cfg: cfg, dir: dir, bc: bc, hub: hub, dp: dp}
}

// session creates a connection-less session registered with the hub.
func (ts *testStack) session() *Session {
	ts.t.Helper()
	s := NewSession(nil, ts.hub, ts.dp, "test:0", ts.cfg, zaptest.NewLogger(ts.t))
	ts.hub.Register(s)
	return s
}

// namedSession creates a session and walks it into the lobby state.
func (ts *testStack) namedSession(name string) *Session {
	ts.t.Helper()
	s := ts.session()
	ts.request(s, Request{Type: ReqSetName, Name: name})
	drain(ts.t, s)
	return s
}

func (ts *testStack) request(s *Session, req Request) {
	ts.t.Helper()
	raw, err := json.Marshal(req)
	if err != nil {
		ts.t.Fatalf("marshal request: %v", err)
	}
	ts.dp.Handle(s, raw)
}

// nextNotification pops one queued notification, failing the test if none
// is waiting.
func nextNotification(t *testing.T, s *Session) Notification {
	t.Helper()
	select {
	case payload, ok := <-s.send:
		if !ok {
			t.Fatal("send queue closed")
		}
		var n Notification
		if err := json.Unmarshal(payload, &n); err != nil {
			t.Fatalf("decode notification: %v", err)
		}
		return n
	default:
		t.Fatal("no notification queued")
	}
	return Notification{}
}

// drain discards everything currently queued for s.
func drain(t *testing.T, s *Session) {
	t.Helper()
	for {
		select {
		case <-s.send:
		default:
			return
		}
	}
}

// notificationsOf collects every queued notification of the given type.
func notificationsOf(t *testing.T, s *Session, typ string) []Notification {
	t.Helper()
	var out []Notification
	for {
		select {
		case payload, ok := <-s.send:
			if !ok {
				return out
			}
			var n Notification
			if err := json.Unmarshal(payload, &n); err != nil {
				t.Fatalf("decode notification: %v", err)
			}
			if n.Type == typ {
				out = append(out, n)
			}
		default:
			return out
		}
	}
}
