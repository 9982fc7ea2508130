package room

import (
	"sort"

	"github.com/park285/cheese-chess-rooms/internal/oracle"
)

// MaxParticipants is the seat count of every room.
const MaxParticipants = 2

type Participant struct {
	ConnID string
	Name   string
	Color  oracle.Color
}

// Snapshot is a copy of a room taken under its lock.
type Snapshot struct {
	RoomID       string
	Participants []Participant
	Position     *oracle.Position
}

// Names returns participant names in seat order.
func (s Snapshot) Names() []string {
	out := make([]string, 0, len(s.Participants))
	for _, p := range s.Participants {
		out = append(out, p.Name)
	}
	return out
}

func (s Snapshot) Find(connID string) (Participant, bool) {
	for _, p := range s.Participants {
		if p.ConnID == connID {
			return p, true
		}
	}
	return Participant{}, false
}

// ByColor returns the participant seated on c, if any.
func (s Snapshot) ByColor(c oracle.Color) (Participant, bool) {
	for _, p := range s.Participants {
		if p.Color == c {
			return p, true
		}
	}
	return Participant{}, false
}

// Directory is the sorted list of open room ids.
type Directory []string

// Departure describes a completed leave.
type Departure struct {
	RoomID      string
	Participant Participant
	Remaining   []Participant
	Closed      bool
}

// MoveResult describes an accepted move.
type MoveResult struct {
	Snapshot
	By     Participant
	Result oracle.Result
}

func directoryOf(rooms map[string]*Room) Directory {
	ids := make([]string, 0, len(rooms))
	for id := range rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return Directory(ids)
}
