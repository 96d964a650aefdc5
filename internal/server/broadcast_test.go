package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRoomMessageDeliversToSnapshotMembers(t *testing.T) {
	ts := newTestStack(t, 4)
	a := ts.namedSession("alice")
	b := ts.namedSession("bob")
	drain(t, a)
	drain(t, b)

	view := RoomView{
		Room:    "r1",
		Users:   []string{"alice", "bob"},
		Members: []*Session{a, b},
	}
	ts.bc.RoomMessage(view, "alice", "hi")

	for _, s := range []*Session{a, b} {
		msgs := notificationsOf(t, s, NotifMessage)
		require.Len(t, msgs, 1)
		assert.Equal(t, "hi", msgs[0].Text)
	}
}

func TestFanoutSkipsUnreachableSessions(t *testing.T) {
	ts := newTestStack(t, 4)
	a := ts.namedSession("alice")
	b := ts.namedSession("bob")
	drain(t, a)
	drain(t, b)

	// A session whose queue is saturated must not abort delivery to the
	// rest of the snapshot.
	for a.trySend([]byte("x")) {
	}

	view := RoomView{Room: "r1", Members: []*Session{a, b}}
	ts.bc.RoomMessage(view, "alice", "still delivered")

	msgs := notificationsOf(t, b, NotifMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "still delivered", msgs[0].Text)
}

func TestFanoutSkipsClosedSessions(t *testing.T) {
	ts := newTestStack(t, 4)
	a := ts.namedSession("alice")
	b := ts.namedSession("bob")
	drain(t, a)
	drain(t, b)

	require.True(t, a.markClosed())

	view := RoomView{Room: "r1", Members: []*Session{a, b}}
	ts.bc.RoomMessage(view, "bob", "hello")

	msgs := notificationsOf(t, b, NotifMessage)
	require.Len(t, msgs, 1)
}

func TestDirectoryChangedTargetsLobbyOnly(t *testing.T) {
	ts := newTestStack(t, 4)
	a := ts.namedSession("alice")
	b := ts.namedSession("bob")

	ts.request(a, Request{Type: ReqCreateRoom, Room: "r1"})
	drain(t, a)
	drain(t, b)

	rooms, lobby := ts.dir.DirectorySnapshot()
	ts.bc.DirectoryChanged(lobby, rooms)

	assert.NotEmpty(t, notificationsOf(t, b, NotifRoomList))
	assert.Empty(t, notificationsOf(t, a, NotifRoomList), "in-room session must not see the directory")
}

func TestRoomMessageRecordsHistory(t *testing.T) {
	history, err := OpenHistory(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = history.Close() })

	ts := newTestStack(t, 4)
	bc := NewBroadcaster(zaptest.NewLogger(t), history)
	a := ts.namedSession("alice")
	drain(t, a)

	view := RoomView{Room: "r1", Members: []*Session{a}}
	bc.RoomMessage(view, "alice", "first")
	bc.RoomMessage(view, "alice", "second")

	lines, err := history.Transcript("r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice: first", "alice: second"}, lines)
}
