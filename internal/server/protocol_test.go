package server

import (
	"strings"
	"testing"
)

func TestParseRequestAcceptsValidFrames(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		typ  string
	}{
		{"set name", `{"type":"set_name","name":"alice"}`, ReqSetName},
		{"create room", `{"type":"create_room","room":"lobby1"}`, ReqCreateRoom},
		{"join room", `{"type":"join_room","room":"lobby1"}`, ReqJoinRoom},
		{"leave room", `{"type":"leave_room"}`, ReqLeaveRoom},
		{"send message", `{"type":"send_message","text":"hi there"}`, ReqSendMessage},
		{"change name", `{"type":"change_name","name":"bob"}`, ReqChangeName},
		{"quit", `{"type":"quit"}`, ReqQuit},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := ParseRequest([]byte(tc.raw))
			if err != nil {
				t.Fatalf("ParseRequest(%s): %v", tc.raw, err)
			}
			if req.Type != tc.typ {
				t.Errorf("got type %q, want %q", req.Type, tc.typ)
			}
		})
	}
}

func TestParseRequestRejectsInvalidFrames(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `this is not json`},
		{"unknown type", `{"type":"teleport"}`},
		{"missing username", `{"type":"set_name"}`},
		{"padded username", `{"type":"set_name","name":" alice "}`},
		{"username with newline", `{"type":"set_name","name":"al\nice"}`},
		{"oversized username", `{"type":"set_name","name":"` + strings.Repeat("a", maxUsernameLen+1) + `"}`},
		{"missing room", `{"type":"create_room"}`},
		{"oversized room", `{"type":"join_room","room":"` + strings.Repeat("r", maxRoomNameLen+1) + `"}`},
		{"empty message", `{"type":"send_message","text":""}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseRequest([]byte(tc.raw)); err == nil {
				t.Errorf("ParseRequest(%s) accepted an invalid frame", tc.raw)
			}
		})
	}
}
