// Package protocol defines the JSON frames exchanged between room clients and the server.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Envelope wraps every frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Inbound frame types.
const (
	TypeCreateRoom = "createRoom"
	TypeJoinRoom   = "joinRoom"
	TypeSubmitMove = "submitMove"
	TypeChat       = "chat"
	TypeLeaveRoom  = "leaveRoom"
)

// Outbound frame types.
const (
	TypeAck             = "ack"
	TypeError           = "error"
	TypeDirectoryUpdate = "directoryUpdate"
	TypeRoomJoined      = "roomJoined"
	TypeMovePlayed      = "movePlayed"
	TypeGameOver        = "gameOver"
	TypeInCheck         = "inCheck"
	TypeStatusUpdate    = "statusUpdate"
	TypeChatMessage     = "chatMessage"
	TypeParticipantLeft = "participantLeft"
)

// Decode parses a raw frame. Payload decoding is left to DecodePayload.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	env.Type = strings.TrimSpace(env.Type)
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into dst. An absent payload leaves dst untouched.
func DecodePayload(env Envelope, dst any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return nil
}

// Encode builds a complete frame ready for the wire.
func Encode(typ, id string, payload any) ([]byte, error) {
	env := Envelope{Type: typ, ID: id}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", typ, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// MustEncode is Encode for payloads that are known to marshal.
func MustEncode(typ, id string, payload any) []byte {
	b, err := Encode(typ, id, payload)
	if err != nil {
		panic(err)
	}
	return b
}
