// Package server implements the Directory, the process-wide registry of
// rooms and usernames. Every operation that checks and then mutates shared
// state runs under a single mutex, so check-then-act races between
// concurrent sessions cannot occur.
package server

import (
	"errors"
	"sort"
	"sync"
)

// Validation failures surfaced to the requesting session as negative
// acknowledgments. None of them leaves partial state behind.
var (
	ErrNameTaken       = errors.New("username already registered")
	ErrRoomNameTaken   = errors.New("room name already exists")
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomFull        = errors.New("room is at capacity")
	ErrNotInRoom       = errors.New("session is not in a room")
	ErrAlreadyInRoom   = errors.New("session is already in a room")
	ErrInRoomForbidden = errors.New("not allowed while in a room")
)

// ErrorKind maps a Directory validation error to its wire error kind.
// Unknown errors map to bad_request.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrNameTaken):
		return KindNameTaken
	case errors.Is(err, ErrRoomNameTaken):
		return KindRoomNameTaken
	case errors.Is(err, ErrRoomNotFound):
		return KindRoomNotFound
	case errors.Is(err, ErrRoomFull):
		return KindRoomFull
	case errors.Is(err, ErrNotInRoom):
		return KindNotInRoom
	case errors.Is(err, ErrAlreadyInRoom):
		return KindAlreadyInRoom
	case errors.Is(err, ErrInRoomForbidden):
		return KindInRoomForbidden
	default:
		return KindBadRequest
	}
}

type room struct {
	name     string
	capacity int
	members  map[string]*Session // keyed by session id
}

func (r *room) view() RoomView {
	v := RoomView{
		Room:    r.name,
		Users:   make([]string, 0, len(r.members)),
		Members: make([]*Session, 0, len(r.members)),
	}
	for _, s := range r.members {
		v.Users = append(v.Users, s.username)
		v.Members = append(v.Members, s)
	}
	sort.Strings(v.Users)
	return v
}

// RoomView is a consistent snapshot of one room taken under the Directory
// lock. Broadcast fan-out works from the snapshot after the lock is
// released, so membership observed mid-delivery never changes.
type RoomView struct {
	Room    string
	Users   []string // sorted for deterministic roster display
	Members []*Session
}

// Directory owns the authoritative room and username tables. Sessions and
// rooms refer to each other only through names resolved here; the Directory
// is the single source of truth for existence and uniqueness.
type Directory struct {
	mu           sync.Mutex
	rooms        map[string]*room
	users        map[string]*Session
	roomCapacity int
}

// NewDirectory creates an empty Directory whose rooms admit at most
// capacity members each.
func NewDirectory(capacity int) *Directory {
	if capacity <= 0 {
		capacity = defaultRoomCapacity
	}
	return &Directory{
		rooms:        make(map[string]*room),
		users:        make(map[string]*Session),
		roomCapacity: capacity,
	}
}

// RegisterUsername claims name for s. Exact-match uniqueness: a second
// registrant for the same string fails with ErrNameTaken.
func (d *Directory) RegisterUsername(s *Session, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, taken := d.users[name]; taken {
		return ErrNameTaken
	}
	d.users[name] = s
	s.username = name
	return nil
}

// RenameUsername moves s to a new username. Forbidden while s is in a room,
// mirroring the client rule that nickname edits are blocked while joined.
func (d *Directory) RenameUsername(s *Session, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.roomName != "" {
		return ErrInRoomForbidden
	}
	if _, taken := d.users[name]; taken {
		return ErrNameTaken
	}
	delete(d.users, s.username)
	d.users[name] = s
	s.username = name
	return nil
}

// CreateRoom creates a room with s as its sole initial member.
func (d *Directory) CreateRoom(name string, s *Session) (RoomView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.roomName != "" {
		return RoomView{}, ErrAlreadyInRoom
	}
	if _, taken := d.rooms[name]; taken {
		return RoomView{}, ErrRoomNameTaken
	}

	r := &room{
		name:     name,
		capacity: d.roomCapacity,
		members:  map[string]*Session{s.id: s},
	}
	d.rooms[name] = r
	s.roomName = name
	return r.view(), nil
}

// JoinRoom adds s to an existing room.
func (d *Directory) JoinRoom(name string, s *Session) (RoomView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.roomName != "" {
		return RoomView{}, ErrAlreadyInRoom
	}
	r, ok := d.rooms[name]
	if !ok {
		return RoomView{}, ErrRoomNotFound
	}
	if len(r.members) >= r.capacity {
		return RoomView{}, ErrRoomFull
	}

	r.members[s.id] = s
	s.roomName = name
	return r.view(), nil
}

// LeaveRoom removes s from its current room. The returned view covers the
// remaining members; deleted reports whether the room emptied and was
// removed from the listing.
func (d *Directory) LeaveRoom(s *Session) (view RoomView, deleted bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	view, deleted, ok := d.removeFromRoom(s)
	if !ok {
		return RoomView{}, false, ErrNotInRoom
	}
	return view, deleted, nil
}

// Retire releases everything s holds: room membership, then the username.
// Safe to call for sessions that never registered; callers rely on that for
// idempotent teardown after quit or transport failure.
func (d *Directory) Retire(s *Session) (view RoomView, wasInRoom, roomDeleted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	view, roomDeleted, wasInRoom = d.removeFromRoom(s)
	if s.username != "" {
		// Another session may have claimed the name after we lost it;
		// only delete the entry if it is still ours.
		if owner, ok := d.users[s.username]; ok && owner == s {
			delete(d.users, s.username)
		}
		s.username = ""
	}
	return view, wasInRoom, roomDeleted
}

// removeFromRoom is the shared leave path. Caller holds d.mu.
func (d *Directory) removeFromRoom(s *Session) (view RoomView, deleted, ok bool) {
	if s.roomName == "" {
		return RoomView{}, false, false
	}
	r, exists := d.rooms[s.roomName]
	if exists {
		delete(r.members, s.id)
		if len(r.members) == 0 {
			delete(d.rooms, s.roomName)
			deleted = true
		}
		view = r.view()
	}
	s.roomName = ""
	return view, deleted, true
}

// RoomOf snapshots the room s currently occupies, for message fan-out.
func (d *Directory) RoomOf(s *Session) (RoomView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.roomName == "" {
		return RoomView{}, ErrNotInRoom
	}
	r, ok := d.rooms[s.roomName]
	if !ok {
		return RoomView{}, ErrNotInRoom
	}
	return r.view(), nil
}

// RoomNames returns the sorted names of all active rooms. Rooms with zero
// members never appear: they are deleted before the lock is released.
func (d *Directory) RoomNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	names := make([]string, 0, len(d.rooms))
	for name := range d.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Roster returns the sorted usernames in the named room.
func (d *Directory) Roster(name string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	r, ok := d.rooms[name]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return r.view().Users, nil
}

// LobbySessions snapshots every registered session that is not in a room.
// These are the sessions that see the room directory.
func (d *Directory) LobbySessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lobbySessions()
}

// DirectorySnapshot returns the sorted room listing together with the
// lobby sessions that should receive it, taken under one lock so a session
// cannot appear in the lobby set with a listing from a different instant.
func (d *Directory) DirectorySnapshot() (rooms []string, lobby []*Session) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rooms = make([]string, 0, len(d.rooms))
	for name := range d.rooms {
		rooms = append(rooms, name)
	}
	sort.Strings(rooms)
	return rooms, d.lobbySessions()
}

// lobbySessions is the shared snapshot path. Caller holds d.mu.
func (d *Directory) lobbySessions() []*Session {
	lobby := make([]*Session, 0, len(d.users))
	for _, s := range d.users {
		if s.roomName == "" {
			lobby = append(lobby, s)
		}
	}
	return lobby
}
