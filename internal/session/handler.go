package session

import (
	"errors"

	"github.com/park285/cheese-chess-rooms/pkg/protocol"
	"go.uber.org/zap"
)

// Handle decodes one inbound frame, runs the operation and replies to the requester.
// Frames of one connection must be handled sequentially.
func (c *Coordinator) Handle(connID string, raw []byte) {
	env, err := protocol.Decode(raw)
	if err != nil {
		c.reply(connID, "", nil, c.badRequest(connID, err))
		return
	}

	var (
		ack    any
		opErr  error
		silent bool
	)
	switch env.Type {
	case protocol.TypeCreateRoom:
		var req protocol.RoomRequest
		if opErr = c.decode(connID, env, &req); opErr == nil {
			ack, opErr = c.CreateRoom(connID, req)
		}
	case protocol.TypeJoinRoom:
		var req protocol.RoomRequest
		if opErr = c.decode(connID, env, &req); opErr == nil {
			ack, opErr = c.JoinRoom(connID, req)
		}
	case protocol.TypeSubmitMove:
		var req protocol.SubmitMoveRequest
		if opErr = c.decode(connID, env, &req); opErr == nil {
			ack, opErr = c.SubmitMove(connID, req)
		}
	case protocol.TypeChat:
		var req protocol.ChatRequest
		if opErr = c.decode(connID, env, &req); opErr == nil {
			opErr = c.Chat(connID, req)
			silent = true
		}
	case protocol.TypeLeaveRoom:
		var req protocol.LeaveRoomRequest
		if opErr = c.decode(connID, env, &req); opErr == nil {
			ack, opErr = c.Leave(connID, req)
		}
	default:
		opErr = c.badRequest(connID, errors.New("unknown type "+env.Type))
	}

	if silent && opErr == nil {
		return
	}
	c.reply(connID, env.ID, ack, opErr)
}

func (c *Coordinator) decode(connID string, env protocol.Envelope, dst any) error {
	if err := protocol.DecodePayload(env, dst); err != nil {
		return c.badRequest(connID, err)
	}
	return nil
}

func (c *Coordinator) badRequest(connID string, err error) *Error {
	msg := c.cat.Text("error."+protocol.CodeBadRequest, msgData{Detail: err.Error()}, err.Error())
	c.log.Debug("session_bad_request", zap.String("conn_id", connID), zap.Error(err))
	return &Error{Code: protocol.CodeBadRequest, Message: msg, Err: err}
}

func (c *Coordinator) reply(connID, id string, ack any, err error) {
	if err == nil {
		c.gw.Send(connID, protocol.MustEncode(protocol.TypeAck, id, ack))
		return
	}
	var se *Error
	if !errors.As(err, &se) {
		se = c.fail(connID, err, msgData{})
	}
	c.gw.Send(connID, protocol.MustEncode(protocol.TypeError, id, se.Payload()))
}
