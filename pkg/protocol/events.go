package protocol

// RoomAck answers a successful createRoom or joinRoom.
type RoomAck struct {
	RoomID  string   `json:"roomId"`
	Color   string   `json:"color"`
	Players []string `json:"players"`
}

// MoveAck answers a successful submitMove.
type MoveAck struct {
	SAN string `json:"san"`
	UCI string `json:"uci"`
}

type LeaveAck struct {
	RoomID string `json:"roomId"`
}

// RoomJoined is multicast to a room whenever its roster grows.
type RoomJoined struct {
	RoomID      string   `json:"roomId"`
	Name        string   `json:"name"`
	Color       string   `json:"color"`
	Players     []string `json:"players"`
	Position    string   `json:"position"`
	MoveHistory []string `json:"moveHistory"`
}

type LastMove struct {
	SAN string `json:"san"`
	UCI string `json:"uci"`
}

type MovePlayed struct {
	RoomID      string   `json:"roomId"`
	Position    string   `json:"position"`
	PGN         string   `json:"pgn"`
	MoveHistory []string `json:"moveHistory"`
	IsGameOver  bool     `json:"isGameOver"`
	LastMove    LastMove `json:"lastMove"`
	By          string   `json:"by"`
}

// GameOver.Winner is null on a draw.
type GameOver struct {
	Winner      *string `json:"winner"`
	WinnerColor string  `json:"winnerColor,omitempty"`
	Reason      string  `json:"reason"`
}

type SideToMove struct {
	SideToMove string `json:"sideToMove"`
}

type ChatMessage struct {
	Name      string `json:"name"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type ParticipantLeft struct {
	Name string `json:"name"`
}

// DirectoryResponse is the body of GET /rooms.
type DirectoryResponse struct {
	Rooms []string `json:"rooms"`
}

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status      string `json:"status"`
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
}
