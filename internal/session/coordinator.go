// Package session implements the per-connection room protocol on top of the registry.
// Broadcasts are enqueued from registry hooks, i.e. after a mutation commits and before
// the next mutation of the same room (or of the directory) can start.
package session

import (
	"errors"
	"strings"
	"time"

	"github.com/park285/cheese-chess-rooms/internal/msgcat"
	"github.com/park285/cheese-chess-rooms/internal/oracle"
	"github.com/park285/cheese-chess-rooms/internal/room"
	"github.com/park285/cheese-chess-rooms/pkg/protocol"
	"go.uber.org/zap"
)

// Gateway delivers encoded frames. Implementations must not block.
type Gateway interface {
	Send(connID string, frame []byte)
	Publish(group string, frame []byte)
	Broadcast(frame []byte)
	Subscribe(connID, group string)
	Unsubscribe(connID, group string)
}

// DirectoryPublisher receives every directory snapshot. Update must not block.
type DirectoryPublisher interface {
	Update(ids []string)
}

type Coordinator struct {
	reg    *room.Registry
	gw     Gateway
	cat    *msgcat.Catalog
	mirror DirectoryPublisher
	log    *zap.Logger
	now    func() time.Time
}

type Option func(*Coordinator)

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

func WithCatalog(cat *msgcat.Catalog) Option {
	return func(c *Coordinator) { c.cat = cat }
}

func WithDirectoryPublisher(p DirectoryPublisher) Option {
	return func(c *Coordinator) { c.mirror = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

func New(reg *room.Registry, gw Gateway, opts ...Option) *Coordinator {
	c := &Coordinator{
		reg: reg,
		gw:  gw,
		log: zap.NewNop(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cat == nil {
		c.cat = msgcat.MustDefault()
	}
	return c
}

// GroupName is the gateway group of a room.
func GroupName(roomID string) string { return "room:" + roomID }

// Connect sends the current directory to a newly connected party.
func (c *Coordinator) Connect(connID string) {
	c.reg.Directory(func(d room.Directory) {
		c.gw.Send(connID, directoryFrame(d))
	})
	c.log.Debug("session_connect", zap.String("conn_id", connID))
}

func (c *Coordinator) CreateRoom(connID string, req protocol.RoomRequest) (protocol.RoomAck, error) {
	snap, err := c.reg.CreateRoom(req.RoomID, connID, req.Name, func(s room.Snapshot, d room.Directory) {
		c.announceJoin(connID, s)
		c.broadcastDirectory(d)
	})
	if err != nil {
		return protocol.RoomAck{}, c.fail(connID, err, msgData{Room: req.RoomID, Name: req.Name, Current: c.currentRoom(connID)})
	}
	c.log.Info("room_create", zap.String("room_id", snap.RoomID), zap.String("conn_id", connID), zap.String("name", req.Name))
	return roomAck(connID, snap), nil
}

func (c *Coordinator) JoinRoom(connID string, req protocol.RoomRequest) (protocol.RoomAck, error) {
	snap, err := c.reg.JoinRoom(req.RoomID, connID, req.Name, func(s room.Snapshot, d room.Directory) {
		c.announceJoin(connID, s)
		c.broadcastDirectory(d)
	})
	if err != nil {
		return protocol.RoomAck{}, c.fail(connID, err, msgData{Room: req.RoomID, Name: req.Name, Current: c.currentRoom(connID)})
	}
	c.log.Info("room_join",
		zap.String("room_id", snap.RoomID),
		zap.String("conn_id", connID),
		zap.String("name", req.Name),
		zap.Strings("players", snap.Names()),
	)
	return roomAck(connID, snap), nil
}

func (c *Coordinator) announceJoin(connID string, s room.Snapshot) {
	group := GroupName(s.RoomID)
	c.gw.Subscribe(connID, group)
	p, _ := s.Find(connID)
	c.gw.Publish(group, protocol.MustEncode(protocol.TypeRoomJoined, "", protocol.RoomJoined{
		RoomID:      s.RoomID,
		Name:        p.Name,
		Color:       string(p.Color),
		Players:     s.Names(),
		Position:    s.Position.FEN(),
		MoveHistory: s.Position.History(),
	}))
}

// SubmitMove publishes movePlayed followed by exactly one status event.
func (c *Coordinator) SubmitMove(connID string, req protocol.SubmitMoveRequest) (protocol.MoveAck, error) {
	mv := oracle.Move{From: req.Move.From, To: req.Move.To, Promotion: req.Move.Promotion, Notation: req.Move.Notation}
	res, err := c.reg.ApplyMove(req.RoomID, connID, mv, func(r room.MoveResult) {
		group := GroupName(r.RoomID)
		c.gw.Publish(group, protocol.MustEncode(protocol.TypeMovePlayed, "", protocol.MovePlayed{
			RoomID:      r.RoomID,
			Position:    r.Result.Position.FEN(),
			PGN:         r.Result.PGN,
			MoveHistory: r.Result.Position.History(),
			IsGameOver:  r.Result.GameOver(),
			LastMove:    protocol.LastMove{SAN: r.Result.SAN, UCI: r.Result.UCI},
			By:          r.By.Name,
		}))
		typ, payload := statusEvent(r)
		c.gw.Publish(group, protocol.MustEncode(typ, "", payload))
	})
	if err != nil {
		side := ""
		if snap, serr := c.reg.Snapshot(req.RoomID); serr == nil && snap.Position != nil {
			side = string(snap.Position.SideToMove())
		}
		return protocol.MoveAck{}, c.fail(connID, err, msgData{Room: req.RoomID, Move: mv.String(), Side: side})
	}
	c.log.Info("room_move",
		zap.String("room_id", res.RoomID),
		zap.String("conn_id", connID),
		zap.String("san", res.Result.SAN),
		zap.String("uci", res.Result.UCI),
		zap.Bool("game_over", res.Result.GameOver()),
		zap.String("reason", res.Result.Reason),
	)
	return protocol.MoveAck{SAN: res.Result.SAN, UCI: res.Result.UCI}, nil
}

func statusEvent(r room.MoveResult) (string, any) {
	res := r.Result
	switch {
	case res.Checkmate:
		name := res.Winner.Title()
		if p, ok := r.ByColor(res.Winner); ok && p.Name != "" {
			name = p.Name
		}
		return protocol.TypeGameOver, protocol.GameOver{Winner: &name, WinnerColor: string(res.Winner), Reason: res.Reason}
	case res.Draw:
		return protocol.TypeGameOver, protocol.GameOver{Reason: res.Reason}
	case res.InCheck:
		return protocol.TypeInCheck, protocol.SideToMove{SideToMove: string(res.SideToMove)}
	default:
		return protocol.TypeStatusUpdate, protocol.SideToMove{SideToMove: string(res.SideToMove)}
	}
}

// Chat relays a message to every member of an open room. An empty name falls back to
// the sender's seat name.
func (c *Coordinator) Chat(connID string, req protocol.ChatRequest) error {
	err := c.reg.WithRoom(req.RoomID, func(s room.Snapshot) {
		name := strings.TrimSpace(req.Name)
		if name == "" {
			if p, ok := s.Find(connID); ok {
				name = p.Name
			}
		}
		c.gw.Publish(GroupName(s.RoomID), protocol.MustEncode(protocol.TypeChatMessage, "", protocol.ChatMessage{
			Name:      name,
			Text:      req.Text,
			Timestamp: c.now().UnixMilli(),
		}))
	})
	if err != nil {
		return c.fail(connID, err, msgData{Room: req.RoomID})
	}
	return nil
}

// Leave removes connID from its room. A non-empty req.RoomID must name that room.
func (c *Coordinator) Leave(connID string, req protocol.LeaveRoomRequest) (protocol.LeaveAck, error) {
	want := strings.TrimSpace(req.RoomID)
	if cur := c.currentRoom(connID); want != "" && cur != "" && cur != want {
		return protocol.LeaveAck{}, c.fail(connID, room.ErrNotInRoom, msgData{Room: want, Current: cur})
	}
	dep, err := c.reg.Leave(connID, c.departed(connID))
	if err != nil {
		return protocol.LeaveAck{}, c.fail(connID, err, msgData{Room: want})
	}
	c.logDeparture(connID, dep, "leave")
	return protocol.LeaveAck{RoomID: dep.RoomID}, nil
}

// Disconnect runs the leave path for a closed connection. Unjoined connections are a no-op.
func (c *Coordinator) Disconnect(connID string) {
	dep, err := c.reg.Leave(connID, c.departed(connID))
	if err != nil {
		if !errors.Is(err, room.ErrNotInAnyRoom) {
			c.log.Warn("session_disconnect_error", zap.String("conn_id", connID), zap.Error(err))
		}
		return
	}
	c.logDeparture(connID, dep, "disconnect")
}

func (c *Coordinator) departed(connID string) func(room.Departure, room.Directory) {
	return func(dep room.Departure, d room.Directory) {
		group := GroupName(dep.RoomID)
		c.gw.Unsubscribe(connID, group)
		if !dep.Closed {
			c.gw.Publish(group, protocol.MustEncode(protocol.TypeParticipantLeft, "", protocol.ParticipantLeft{Name: dep.Participant.Name}))
		}
		c.broadcastDirectory(d)
	}
}

func (c *Coordinator) logDeparture(connID string, dep room.Departure, how string) {
	c.log.Info("room_leave",
		zap.String("room_id", dep.RoomID),
		zap.String("conn_id", connID),
		zap.String("name", dep.Participant.Name),
		zap.String("via", how),
		zap.Bool("closed", dep.Closed),
	)
}

// broadcastDirectory runs under the registry lock.
func (c *Coordinator) broadcastDirectory(d room.Directory) {
	c.gw.Broadcast(directoryFrame(d))
	if c.mirror != nil {
		c.mirror.Update(append([]string(nil), d...))
	}
}

func directoryFrame(d room.Directory) []byte {
	ids := []string(d)
	if ids == nil {
		ids = []string{}
	}
	return protocol.MustEncode(protocol.TypeDirectoryUpdate, "", ids)
}

func roomAck(connID string, s room.Snapshot) protocol.RoomAck {
	p, _ := s.Find(connID)
	return protocol.RoomAck{RoomID: s.RoomID, Color: string(p.Color), Players: s.Names()}
}

func (c *Coordinator) currentRoom(connID string) string {
	id, _ := c.reg.RoomOf(connID)
	return id
}

// fail converts err into an *Error with a rendered message.
func (c *Coordinator) fail(connID string, err error, data msgData) *Error {
	code := CodeOf(err)
	se := &Error{Code: code, Err: err}
	key := "error." + code
	if errors.Is(err, room.ErrNotInAnyRoom) {
		key = "error.NotInAnyRoom"
	}
	se.Message = c.cat.Text(key, data, err.Error())
	if code == protocol.CodeInternal {
		c.log.Error("session_internal_error", zap.String("conn_id", connID), zap.Error(err))
	} else {
		c.log.Debug("session_rejected", zap.String("conn_id", connID), zap.String("code", code), zap.Error(err))
	}
	return se
}
