package session

import (
	"errors"

	"github.com/park285/cheese-chess-rooms/internal/room"
	"github.com/park285/cheese-chess-rooms/pkg/protocol"
)

// Error is a request failure reported to the requester only.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Payload converts e into the wire body of an error frame.
func (e *Error) Payload() protocol.ErrorPayload {
	return protocol.ErrorPayload{Code: e.Code, Message: e.Message}
}

var codeTable = []struct {
	err  error
	code string
}{
	{room.ErrRoomIDRequired, protocol.CodeRoomIDRequired},
	{room.ErrRoomExists, protocol.CodeRoomExists},
	{room.ErrRoomNotFound, protocol.CodeRoomNotFound},
	{room.ErrRoomFull, protocol.CodeRoomFull},
	{room.ErrNameTaken, protocol.CodeNameTaken},
	{room.ErrIllegalMove, protocol.CodeIllegalMove},
	{room.ErrNotInRoom, protocol.CodeNotInRoom},
	{room.ErrNotInAnyRoom, protocol.CodeNotInRoom},
	{room.ErrAlreadyJoined, protocol.CodeAlreadyJoined},
	{room.ErrNotYourTurn, protocol.CodeNotYourTurn},
}

// CodeOf maps a registry error to its wire code.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	for _, row := range codeTable {
		if errors.Is(err, row.err) {
			return row.code
		}
	}
	return protocol.CodeInternal
}

// msgData carries every field the message templates may reference.
type msgData struct {
	Room    string
	Name    string
	Move    string
	Current string
	Side    string
	Detail  string
}
