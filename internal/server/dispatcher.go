// Package server implements the per-session request state machine. The
// dispatcher validates each request against the session state and the
// Directory, mutates shared state through the Directory's serialized
// operations, and triggers the resulting notifications.
package server

import (
	"go.uber.org/zap"
)

// Dispatcher handles one request at a time per session: requests arrive
// from the session's read loop, so per-session ordering is the read loop's
// ordering. Validated failures are answered with an error notification to
// the requester only and never mutate Directory state.
type Dispatcher struct {
	dir *Directory
	bc  *Broadcaster
	hub *Hub
	log *zap.Logger
}

// NewDispatcher wires the dispatcher to the registry, broadcaster, and hub.
func NewDispatcher(dir *Directory, bc *Broadcaster, hub *Hub, log *zap.Logger) *Dispatcher {
	return &Dispatcher{dir: dir, bc: bc, hub: hub, log: log}
}

// Handle processes one raw frame from s. Malformed frames and requests that
// are invalid in the session's current state produce a bad_request error.
func (dp *Dispatcher) Handle(s *Session, raw []byte) {
	if s.state == StateClosed {
		return
	}

	req, err := ParseRequest(raw)
	if err != nil {
		dp.log.Debug("rejecting frame", zap.String("session", s.id), zap.Error(err))
		s.trySend(errorNotification(KindBadRequest))
		return
	}

	switch req.Type {
	case ReqSetName:
		dp.handleSetName(s, req.Name)
	case ReqCreateRoom:
		dp.handleCreateRoom(s, req.Room)
	case ReqJoinRoom:
		dp.handleJoinRoom(s, req.Room)
	case ReqLeaveRoom:
		dp.handleLeaveRoom(s)
	case ReqSendMessage:
		dp.handleSendMessage(s, req.Text)
	case ReqChangeName:
		dp.handleChangeName(s, req.Name)
	case ReqQuit:
		dp.handleQuit(s)
	}
}

// Disconnect runs teardown for a session whose transport failed. It shares
// the quit path, so whichever of the two fires first wins and the loser is
// a no-op.
func (dp *Dispatcher) Disconnect(s *Session) {
	dp.retire(s)
}

func (dp *Dispatcher) handleSetName(s *Session, name string) {
	if s.state != StateUnnamed {
		s.trySend(errorNotification(KindBadRequest))
		return
	}
	if err := dp.dir.RegisterUsername(s, name); err != nil {
		s.trySend(errorNotification(ErrorKind(err)))
		return
	}
	s.state = StateLobby
	dp.log.Info("username registered", zap.String("session", s.id), zap.String("username", name))

	s.trySend(okNotification(ReqSetName))
	dp.bc.RoomList(s, dp.dir.RoomNames())
}

func (dp *Dispatcher) handleCreateRoom(s *Session, name string) {
	if s.state == StateUnnamed {
		s.trySend(errorNotification(KindBadRequest))
		return
	}
	view, err := dp.dir.CreateRoom(name, s)
	if err != nil {
		s.trySend(errorNotification(ErrorKind(err)))
		return
	}
	s.state = StateInRoom
	dp.log.Info("room created", zap.String("room", name), zap.String("creator", s.username))

	dp.bc.Joined(s, name)
	dp.bc.Roster(view)
	dp.notifyDirectoryChanged()
}

func (dp *Dispatcher) handleJoinRoom(s *Session, name string) {
	if s.state == StateUnnamed {
		s.trySend(errorNotification(KindBadRequest))
		return
	}
	view, err := dp.dir.JoinRoom(name, s)
	if err != nil {
		s.trySend(errorNotification(ErrorKind(err)))
		return
	}
	s.state = StateInRoom
	dp.log.Info("room joined", zap.String("room", name), zap.String("username", s.username))

	dp.bc.Joined(s, name)
	dp.bc.Roster(view)
}

func (dp *Dispatcher) handleLeaveRoom(s *Session) {
	view, deleted, err := dp.dir.LeaveRoom(s)
	if err != nil {
		s.trySend(errorNotification(ErrorKind(err)))
		return
	}
	s.state = StateLobby
	dp.log.Info("room left", zap.String("room", view.Room), zap.String("username", s.username))

	dp.bc.Left(s)
	if deleted {
		dp.notifyDirectoryChanged()
	} else {
		dp.bc.Roster(view)
		dp.bc.RoomList(s, dp.dir.RoomNames())
	}
}

func (dp *Dispatcher) handleSendMessage(s *Session, text string) {
	if s.state != StateInRoom {
		s.trySend(errorNotification(KindNotInRoom))
		return
	}
	if !s.limiter.allow() {
		dp.log.Debug("rate limit exceeded", zap.String("session", s.id))
		s.trySend(errorNotification(KindRateLimited))
		return
	}
	view, err := dp.dir.RoomOf(s)
	if err != nil {
		s.trySend(errorNotification(ErrorKind(err)))
		return
	}
	dp.bc.RoomMessage(view, s.username, text)
}

func (dp *Dispatcher) handleChangeName(s *Session, name string) {
	if s.state == StateUnnamed {
		s.trySend(errorNotification(KindBadRequest))
		return
	}
	old := s.username
	if err := dp.dir.RenameUsername(s, name); err != nil {
		s.trySend(errorNotification(ErrorKind(err)))
		return
	}
	dp.log.Info("username changed", zap.String("from", old), zap.String("to", name))
	s.trySend(okNotification(ReqChangeName))
}

// handleQuit acknowledges the request before teardown so the client gets an
// explicit completion signal instead of spinning until the socket drops.
func (dp *Dispatcher) handleQuit(s *Session) {
	s.trySend(okNotification(ReqQuit))
	dp.retire(s)
}

// retire releases room membership and the username exactly once, then
// pushes the roster and directory updates that follow from membership loss.
// Both the explicit quit and the transport-error path land here, and they
// can race; sync.Once keeps the cleanup idempotent.
func (dp *Dispatcher) retire(s *Session) {
	s.teardown.Do(func() {
		s.state = StateClosed
		view, wasInRoom, roomDeleted := dp.dir.Retire(s)
		if wasInRoom && len(view.Members) > 0 {
			dp.bc.Roster(view)
		}
		if roomDeleted {
			dp.notifyDirectoryChanged()
		}
		dp.hub.Unregister(s)
	})
}

func (dp *Dispatcher) notifyDirectoryChanged() {
	rooms, lobby := dp.dir.DirectorySnapshot()
	dp.bc.DirectoryChanged(lobby, rooms)
}
