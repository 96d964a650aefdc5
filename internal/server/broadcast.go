// Package server implements notification fan-out. Recipient sets are
// snapshots taken under the Directory lock; delivery happens after the lock
// is released so a slow client never blocks unrelated Directory operations.
package server

import (
	"go.uber.org/zap"
)

// Broadcaster delivers notifications to sessions. Delivery is
// fire-and-forget: a failed send to one session is logged and skipped, and
// never aborts delivery to the rest of the snapshot.
type Broadcaster struct {
	log     *zap.Logger
	history *HistoryStore // optional; nil disables transcript recording
}

// NewBroadcaster creates a Broadcaster. history may be nil.
func NewBroadcaster(log *zap.Logger, history *HistoryStore) *Broadcaster {
	return &Broadcaster{log: log, history: history}
}

// RoomMessage delivers a chat message to every member captured in the
// snapshot, the sender included, and records it to the transcript store.
// A session that joined after the snapshot does not receive it; one that
// left after the snapshot still does.
func (b *Broadcaster) RoomMessage(view RoomView, sender, text string) {
	if b.history != nil {
		if err := b.history.Record(view.Room, sender, text); err != nil {
			b.log.Warn("recording message", zap.String("room", view.Room), zap.Error(err))
		}
	}

	payload := encodeNotification(Notification{
		Type:   NotifMessage,
		Room:   view.Room,
		Sender: sender,
		Text:   text,
	})
	b.fanout(view.Members, payload)
}

// Roster pushes the member listing to everyone in the snapshot.
func (b *Broadcaster) Roster(view RoomView) {
	payload := encodeNotification(Notification{
		Type:  NotifRoster,
		Room:  view.Room,
		Users: view.Users,
	})
	b.fanout(view.Members, payload)
}

// DirectoryChanged pushes the room listing to the given lobby sessions.
// Sessions inside a room do not see the directory and are never targets.
func (b *Broadcaster) DirectoryChanged(lobby []*Session, rooms []string) {
	payload := encodeNotification(Notification{
		Type:  NotifRoomList,
		Rooms: rooms,
	})
	b.fanout(lobby, payload)
}

// RoomList pushes the current room listing to a single session.
func (b *Broadcaster) RoomList(s *Session, rooms []string) {
	s.trySend(encodeNotification(Notification{
		Type:  NotifRoomList,
		Rooms: rooms,
	}))
}

// Joined tells a session which room it now occupies.
func (b *Broadcaster) Joined(s *Session, room string) {
	s.trySend(encodeNotification(Notification{
		Type: NotifJoined,
		Room: room,
	}))
}

// Left confirms to a session that it is back in the lobby.
func (b *Broadcaster) Left(s *Session) {
	s.trySend(encodeNotification(Notification{Type: NotifLeft}))
}

func (b *Broadcaster) fanout(targets []*Session, payload []byte) {
	for _, s := range targets {
		if !s.trySend(payload) {
			b.log.Debug("dropping notification for unreachable session",
				zap.String("session", s.id))
		}
	}
}
