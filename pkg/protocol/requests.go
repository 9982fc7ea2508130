package protocol

import "strings"

// RoomRequest is the payload of createRoom and joinRoom.
type RoomRequest struct {
	Name   string `json:"name"`
	RoomID string `json:"roomId"`
}

// MoveInput accepts either squares or a notation string (UCI or SAN).
type MoveInput struct {
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
	Promotion string `json:"promotion,omitempty"`
	Notation  string `json:"notation,omitempty"`
}

func (m MoveInput) Empty() bool {
	return strings.TrimSpace(m.Notation) == "" && (strings.TrimSpace(m.From) == "" || strings.TrimSpace(m.To) == "")
}

type SubmitMoveRequest struct {
	RoomID string    `json:"roomId"`
	Move   MoveInput `json:"move"`
}

type ChatRequest struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
	Text   string `json:"text"`
}

// LeaveRoomRequest may name the room the sender expects to leave.
type LeaveRoomRequest struct {
	RoomID string `json:"roomId,omitempty"`
}
