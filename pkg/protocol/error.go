package protocol

// Error codes carried by error frames.
const (
	CodeRoomIDRequired = "RoomIdRequired"
	CodeRoomExists     = "RoomExists"
	CodeRoomNotFound   = "RoomNotFound"
	CodeRoomFull       = "RoomFull"
	CodeNameTaken      = "NameTaken"
	CodeIllegalMove    = "IllegalMove"
	CodeNotInRoom      = "NotInRoom"
	CodeAlreadyJoined  = "AlreadyJoined"
	CodeNotYourTurn    = "NotYourTurn"
	CodeBadRequest     = "BadRequest"
	CodeInternal       = "Internal"
)

// ErrorPayload is the body of an error frame.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ErrorPayload) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return "room service error"
}
