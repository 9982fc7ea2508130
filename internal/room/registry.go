// Package room keeps the set of open rooms, their participants and authoritative positions.
//
// Lock order is always Registry.mu then Room.mu. Admission (create, join, leave) holds the
// registry write lock; moves and chat only read-lock the registry for lookup and then
// serialise on the room lock.
package room

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/park285/cheese-chess-rooms/internal/oracle"
	"go.uber.org/zap"
)

var (
	ErrRoomIDRequired = errors.New("room id required")
	ErrRoomExists     = errors.New("room already exists")
	ErrRoomNotFound   = errors.New("room not found")
	ErrRoomFull       = errors.New("room is full")
	ErrNameTaken      = errors.New("name already taken in room")
	ErrAlreadyJoined  = errors.New("connection already in a room")
	ErrNotInRoom      = errors.New("connection not in room")
	ErrNotInAnyRoom   = errors.New("connection not in any room")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrIllegalMove    = errors.New("illegal move")
)

type Room struct {
	id string

	mu           sync.Mutex
	participants []Participant
	position     *oracle.Position
	closed       bool
}

func (rm *Room) snapshotLocked() Snapshot {
	return Snapshot{
		RoomID:       rm.id,
		Participants: append([]Participant(nil), rm.participants...),
		Position:     rm.position,
	}
}

func (rm *Room) freeColorLocked() oracle.Color {
	for _, p := range rm.participants {
		if p.Color == oracle.White {
			return oracle.Black
		}
	}
	return oracle.White
}

type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	conns map[string]string // connID -> roomID

	oracle    oracle.Oracle
	turnOrder bool
	log       *zap.Logger
}

type Option func(*Registry)

// WithTurnOrder restricts moves to the participant seated on the side to move.
func WithTurnOrder(on bool) Option {
	return func(r *Registry) { r.turnOrder = on }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

func NewRegistry(o oracle.Oracle, opts ...Option) *Registry {
	r := &Registry{
		rooms:  make(map[string]*Room),
		conns:  make(map[string]string),
		oracle: o,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateRoom opens roomID with connID seated as white. hook runs after the room is
// registered and before any other admission can observe the registry.
func (r *Registry) CreateRoom(roomID, connID, name string, hook func(Snapshot, Directory)) (Snapshot, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return Snapshot{}, ErrRoomIDRequired
	}
	name = strings.TrimSpace(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connID]; ok {
		return Snapshot{}, ErrAlreadyJoined
	}
	if _, ok := r.rooms[roomID]; ok {
		return Snapshot{}, ErrRoomExists
	}

	rm := &Room{
		id:           roomID,
		participants: []Participant{{ConnID: connID, Name: name, Color: oracle.White}},
		position:     r.oracle.Start(),
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()

	r.rooms[roomID] = rm
	r.conns[connID] = roomID
	snap := rm.snapshotLocked()
	r.log.Debug("room_create", zap.String("room_id", roomID), zap.String("conn_id", connID), zap.String("name", name))
	if hook != nil {
		hook(snap, directoryOf(r.rooms))
	}
	return snap, nil
}

// JoinRoom seats connID in an existing room on the free colour.
func (r *Registry) JoinRoom(roomID, connID, name string, hook func(Snapshot, Directory)) (Snapshot, error) {
	roomID = strings.TrimSpace(roomID)
	name = strings.TrimSpace(name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connID]; ok {
		return Snapshot{}, ErrAlreadyJoined
	}
	rm, ok := r.rooms[roomID]
	if !ok {
		return Snapshot{}, ErrRoomNotFound
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return Snapshot{}, ErrRoomNotFound
	}
	if len(rm.participants) >= MaxParticipants {
		return Snapshot{}, ErrRoomFull
	}
	for _, p := range rm.participants {
		if p.Name == name {
			return Snapshot{}, ErrNameTaken
		}
	}

	p := Participant{ConnID: connID, Name: name, Color: rm.freeColorLocked()}
	rm.participants = append(rm.participants, p)
	r.conns[connID] = roomID
	snap := rm.snapshotLocked()
	r.log.Debug("room_join", zap.String("room_id", roomID), zap.String("conn_id", connID), zap.String("color", string(p.Color)))
	if hook != nil {
		hook(snap, directoryOf(r.rooms))
	}
	return snap, nil
}

// Leave removes connID from its room and destroys the room when it becomes empty.
func (r *Registry) Leave(connID string, hook func(Departure, Directory)) (Departure, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, ok := r.conns[connID]
	if !ok {
		return Departure{}, ErrNotInAnyRoom
	}
	delete(r.conns, connID)
	rm, ok := r.rooms[roomID]
	if !ok {
		return Departure{}, ErrNotInAnyRoom
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	dep := Departure{RoomID: roomID}
	kept := rm.participants[:0]
	for _, p := range rm.participants {
		if p.ConnID == connID {
			dep.Participant = p
			continue
		}
		kept = append(kept, p)
	}
	rm.participants = kept
	dep.Remaining = append([]Participant(nil), kept...)
	if len(kept) == 0 {
		r.destroyLocked(rm)
		dep.Closed = true
	}
	r.log.Debug("room_leave",
		zap.String("room_id", roomID),
		zap.String("conn_id", connID),
		zap.Bool("closed", dep.Closed),
	)
	if hook != nil {
		hook(dep, directoryOf(r.rooms))
	}
	return dep, nil
}

// destroyLocked requires r.mu and rm.mu. Calling it on a destroyed room is a no-op.
func (r *Registry) destroyLocked(rm *Room) {
	if rm.closed {
		return
	}
	rm.closed = true
	rm.position = nil
	if cur, ok := r.rooms[rm.id]; ok && cur == rm {
		delete(r.rooms, rm.id)
	}
}

func (r *Registry) lookup(roomID string) (*Room, error) {
	r.mu.RLock()
	rm, ok := r.rooms[strings.TrimSpace(roomID)]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrRoomNotFound
	}
	return rm, nil
}

// ApplyMove validates mv through the oracle and commits the successor position.
// hook runs under the room lock, so hooks of one room observe commit order.
func (r *Registry) ApplyMove(roomID, connID string, mv oracle.Move, hook func(MoveResult)) (MoveResult, error) {
	rm, err := r.lookup(roomID)
	if err != nil {
		return MoveResult{}, err
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return MoveResult{}, ErrRoomNotFound
	}
	var (
		mover Participant
		found bool
	)
	for _, p := range rm.participants {
		if p.ConnID == connID {
			mover, found = p, true
			break
		}
	}
	if !found {
		return MoveResult{}, ErrNotInRoom
	}
	if r.turnOrder && !rm.position.Over() && mover.Color != rm.position.SideToMove() {
		return MoveResult{}, ErrNotYourTurn
	}

	res, err := r.oracle.Apply(rm.position, mv)
	if err != nil {
		if errors.Is(err, oracle.ErrIllegalMove) || errors.Is(err, oracle.ErrGameFinished) {
			return MoveResult{}, fmt.Errorf("%w: %v", ErrIllegalMove, err)
		}
		return MoveResult{}, fmt.Errorf("apply move in %s: %w", rm.id, err)
	}
	rm.position = res.Position

	out := MoveResult{Snapshot: rm.snapshotLocked(), By: mover, Result: res}
	r.log.Debug("room_move",
		zap.String("room_id", rm.id),
		zap.String("conn_id", connID),
		zap.String("uci", res.UCI),
		zap.Bool("game_over", res.GameOver()),
	)
	if hook != nil {
		hook(out)
	}
	return out, nil
}

// WithRoom runs fn with a snapshot of an open room while holding its lock.
func (r *Registry) WithRoom(roomID string, fn func(Snapshot)) error {
	rm, err := r.lookup(roomID)
	if err != nil {
		return err
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return ErrRoomNotFound
	}
	if fn != nil {
		fn(rm.snapshotLocked())
	}
	return nil
}

// Snapshot returns a copy of an open room.
func (r *Registry) Snapshot(roomID string) (Snapshot, error) {
	var snap Snapshot
	err := r.WithRoom(roomID, func(s Snapshot) { snap = s })
	return snap, err
}

// Directory runs fn with the open-room list while admissions are excluded.
func (r *Registry) Directory(fn func(Directory)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(directoryOf(r.rooms))
}

func (r *Registry) RoomIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return directoryOf(r.rooms)
}

// RoomOf reports the room connID currently sits in.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.conns[connID]
	return id, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
