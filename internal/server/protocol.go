// Package server defines the JSON wire protocol exchanged between chat
// clients and the server: request frames, notification frames, and the
// error kinds carried by negative acknowledgments.
package server

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Request types accepted from clients. One request per WebSocket text frame.
const (
	ReqSetName     = "set_name"
	ReqCreateRoom  = "create_room"
	ReqJoinRoom    = "join_room"
	ReqLeaveRoom   = "leave_room"
	ReqSendMessage = "send_message"
	ReqChangeName  = "change_name"
	ReqQuit        = "quit"
)

// Notification types pushed to clients.
const (
	NotifRoomList = "room_list"
	NotifRoster   = "roster"
	NotifMessage  = "message"
	NotifJoined   = "joined"
	NotifLeft     = "left"
	NotifError    = "error"
	NotifOK       = "ok"
)

// Error kinds reported in error notifications. Each maps to exactly one
// validated failure; none of them indicates a server-side fault.
const (
	KindNameTaken       = "name_taken"
	KindRoomNameTaken   = "room_name_taken"
	KindRoomNotFound    = "room_not_found"
	KindRoomFull        = "room_full"
	KindNotInRoom       = "not_in_room"
	KindAlreadyInRoom   = "already_in_room"
	KindInRoomForbidden = "in_room_forbidden"
	KindRateLimited     = "rate_limited"
	KindBadRequest      = "bad_request"
)

const (
	maxUsernameLen = 32
	maxRoomNameLen = 64
)

// Request is a single client command. Name doubles as the username for
// set_name/change_name and the room name for create_room/join_room.
type Request struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	Room string `json:"room,omitempty"`
	Text string `json:"text,omitempty"`
}

// Notification is a single server push. Fields are populated per Type;
// absent fields are omitted from the encoded frame.
type Notification struct {
	Type   string   `json:"type"`
	Op     string   `json:"op,omitempty"`
	Kind   string   `json:"kind,omitempty"`
	Room   string   `json:"room,omitempty"`
	Rooms  []string `json:"rooms,omitempty"`
	Users  []string `json:"users,omitempty"`
	Sender string   `json:"sender,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// ParseRequest decodes and validates one inbound frame. It rejects frames
// with an unknown type or with missing/oversized arguments so the
// dispatcher only ever sees well-formed requests.
func ParseRequest(raw []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("malformed frame: %w", err)
	}

	switch req.Type {
	case ReqSetName, ReqChangeName:
		if !validName(req.Name, maxUsernameLen) {
			return Request{}, fmt.Errorf("invalid username %q", req.Name)
		}
	case ReqCreateRoom, ReqJoinRoom:
		if !validName(req.Room, maxRoomNameLen) {
			return Request{}, fmt.Errorf("invalid room name %q", req.Room)
		}
	case ReqSendMessage:
		if req.Text == "" {
			return Request{}, fmt.Errorf("empty message")
		}
	case ReqLeaveRoom, ReqQuit:
	default:
		return Request{}, fmt.Errorf("unknown request type %q", req.Type)
	}

	return req, nil
}

func validName(name string, maxLen int) bool {
	if name == "" || len(name) > maxLen {
		return false
	}
	if strings.TrimSpace(name) != name {
		return false
	}
	return !strings.ContainsAny(name, "\x00\n\r")
}

func encodeNotification(n Notification) []byte {
	payload, err := json.Marshal(n)
	if err != nil {
		// Notification contains only strings and slices; Marshal cannot fail.
		panic(fmt.Sprintf("encode notification: %v", err))
	}
	return payload
}

func errorNotification(kind string) []byte {
	return encodeNotification(Notification{Type: NotifError, Kind: kind})
}

func okNotification(op string) []byte {
	return encodeNotification(Notification{Type: NotifOK, Op: op})
}
