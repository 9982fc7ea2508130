package room

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/park285/cheese-chess-rooms/internal/oracle"
)

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	return NewRegistry(oracle.New(), opts...)
}

func TestCreateRoom(t *testing.T) {
	r := newTestRegistry(t)

	var hookDir Directory
	snap, err := r.CreateRoom("r1", "c1", "alice", func(s Snapshot, d Directory) { hookDir = d })
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if len(snap.Participants) != 1 || snap.Participants[0].Color != oracle.White {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Position == nil || snap.Position.Ply() != 0 {
		t.Fatalf("room should start at the initial position")
	}
	if len(hookDir) != 1 || hookDir[0] != "r1" {
		t.Fatalf("hook directory = %v", hookDir)
	}

	if _, err := r.CreateRoom("r1", "c2", "bob", nil); !errors.Is(err, ErrRoomExists) {
		t.Fatalf("duplicate create err = %v", err)
	}
	if _, err := r.CreateRoom("  ", "c2", "bob", nil); !errors.Is(err, ErrRoomIDRequired) {
		t.Fatalf("blank id err = %v", err)
	}
	if _, err := r.CreateRoom("r2", "c1", "alice", nil); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("second create by joined conn err = %v", err)
	}
	if got := r.RoomIDs(); len(got) != 1 {
		t.Fatalf("failed creates leaked rooms: %v", got)
	}
}

func TestJoinRoom(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.JoinRoom("nope", "c1", "alice", nil); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("join missing err = %v", err)
	}
	if _, err := r.CreateRoom("r1", "c1", "alice", nil); err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if _, err := r.JoinRoom("r1", "c2", "alice", nil); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("same name err = %v", err)
	}
	snap, err := r.JoinRoom("r1", "c2", "bob", nil)
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if got := snap.Names(); len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("names = %v", got)
	}
	if p, _ := snap.Find("c2"); p.Color != oracle.Black {
		t.Fatalf("joiner color = %s", p.Color)
	}
	// full wins over name collision
	if _, err := r.JoinRoom("r1", "c3", "alice", nil); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("third join err = %v", err)
	}
	if _, err := r.JoinRoom("r1", "c2", "bob", nil); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("rejoin err = %v", err)
	}
}

func TestLeave_SeatAndNameFreed(t *testing.T) {
	r := newTestRegistry(t)
	mustCreate(t, r, "r1", "c1", "alice")
	mustJoin(t, r, "r1", "c2", "bob")

	dep, err := r.Leave("c1", nil)
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if dep.Closed || dep.Participant.Name != "alice" || len(dep.Remaining) != 1 {
		t.Fatalf("unexpected departure: %+v", dep)
	}

	snap, err := r.JoinRoom("r1", "c3", "alice", nil)
	if err != nil {
		t.Fatalf("rejoin with freed name: %v", err)
	}
	if p, _ := snap.Find("c3"); p.Color != oracle.White {
		t.Fatalf("freed seat should be white, got %s", p.Color)
	}
	if _, ok := r.RoomOf("c1"); ok {
		t.Fatalf("c1 still indexed")
	}
}

func TestLeave_LastParticipantDestroysRoom(t *testing.T) {
	r := newTestRegistry(t)
	mustCreate(t, r, "r1", "c1", "alice")

	var hookDir Directory = Directory{"sentinel"}
	dep, err := r.Leave("c1", func(d Departure, dir Directory) { hookDir = dir })
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if !dep.Closed {
		t.Fatalf("room should close")
	}
	if len(hookDir) != 0 || r.Len() != 0 {
		t.Fatalf("directory after close = %v", hookDir)
	}
	if _, err := r.Leave("c1", nil); !errors.Is(err, ErrNotInAnyRoom) {
		t.Fatalf("second leave err = %v", err)
	}
	// id is reusable once closed
	mustCreate(t, r, "r1", "c2", "bob")
}

func TestDestroyIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)
	mustCreate(t, r, "r1", "c1", "alice")
	rm := r.rooms["r1"]

	r.mu.Lock()
	rm.mu.Lock()
	r.destroyLocked(rm)
	r.destroyLocked(rm)
	rm.mu.Unlock()
	r.mu.Unlock()

	if r.Len() != 0 || !rm.closed {
		t.Fatalf("room not destroyed")
	}
	// a newer room under the same id survives a stale destroy
	mustCreate(t, r, "r1", "c2", "bob")
	r.mu.Lock()
	rm.mu.Lock()
	r.destroyLocked(rm)
	rm.mu.Unlock()
	r.mu.Unlock()
	if r.Len() != 1 {
		t.Fatalf("stale destroy removed the new room")
	}
}

func TestApplyMove(t *testing.T) {
	r := newTestRegistry(t)
	mustCreate(t, r, "r1", "c1", "alice")
	mustJoin(t, r, "r1", "c2", "bob")
	mustCreate(t, r, "r2", "c3", "carol")

	if _, err := r.ApplyMove("missing", "c1", oracle.Move{From: "e2", To: "e4"}, nil); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("missing room err = %v", err)
	}
	if _, err := r.ApplyMove("r1", "c3", oracle.Move{From: "e2", To: "e4"}, nil); !errors.Is(err, ErrNotInRoom) {
		t.Fatalf("outsider err = %v", err)
	}

	hookCalled := false
	_, err := r.ApplyMove("r1", "c1", oracle.Move{From: "e2", To: "e5"}, func(MoveResult) { hookCalled = true })
	if !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("illegal err = %v", err)
	}
	if hookCalled {
		t.Fatalf("hook ran for a rejected move")
	}
	snap, _ := r.Snapshot("r1")
	if snap.Position.Ply() != 0 {
		t.Fatalf("illegal move changed position")
	}

	res, err := r.ApplyMove("r1", "c1", oracle.Move{From: "e2", To: "e4"}, func(MoveResult) { hookCalled = true })
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if !hookCalled || res.By.Name != "alice" || res.Result.SAN != "e4" {
		t.Fatalf("unexpected move result: %+v", res)
	}
	snap, _ = r.Snapshot("r1")
	if snap.Position.FEN() != res.Result.Position.FEN() {
		t.Fatalf("position not committed")
	}
}

func TestApplyMove_AnyParticipantMayMoveByDefault(t *testing.T) {
	r := newTestRegistry(t)
	mustCreate(t, r, "r1", "c1", "alice")
	mustJoin(t, r, "r1", "c2", "bob")

	// black's seat plays white's first move
	if _, err := r.ApplyMove("r1", "c2", oracle.Move{From: "e2", To: "e4"}, nil); err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
}

func TestApplyMove_TurnOrder(t *testing.T) {
	r := newTestRegistry(t, WithTurnOrder(true))
	mustCreate(t, r, "r1", "c1", "alice")
	mustJoin(t, r, "r1", "c2", "bob")

	if _, err := r.ApplyMove("r1", "c2", oracle.Move{From: "e2", To: "e4"}, nil); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("black moving first err = %v", err)
	}
	if _, err := r.ApplyMove("r1", "c1", oracle.Move{From: "e2", To: "e4"}, nil); err != nil {
		t.Fatalf("white move: %v", err)
	}
	if _, err := r.ApplyMove("r1", "c1", oracle.Move{From: "d2", To: "d4"}, nil); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("white moving twice err = %v", err)
	}
	if _, err := r.ApplyMove("r1", "c2", oracle.Move{From: "e7", To: "e5"}, nil); err != nil {
		t.Fatalf("black move: %v", err)
	}
}

func TestConcurrentJoins_ExactlyOneWins(t *testing.T) {
	for i := 0; i < 50; i++ {
		r := newTestRegistry(t)
		mustCreate(t, r, "r1", "c0", "host")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func(j int) {
				defer wg.Done()
				_, errs[j] = r.JoinRoom("r1", fmt.Sprintf("c%d", j+1), fmt.Sprintf("guest%d", j), nil)
			}(j)
		}
		wg.Wait()

		ok, full := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrRoomFull):
				full++
			default:
				t.Fatalf("unexpected err: %v", err)
			}
		}
		if ok != 1 || full != 1 {
			t.Fatalf("ok=%d full=%d", ok, full)
		}
		snap, _ := r.Snapshot("r1")
		if len(snap.Participants) != MaxParticipants {
			t.Fatalf("participants = %d", len(snap.Participants))
		}
	}
}

func TestConcurrentMoves_SameMoveAppliedOnce(t *testing.T) {
	for i := 0; i < 20; i++ {
		r := newTestRegistry(t)
		mustCreate(t, r, "r1", "c1", "alice")
		mustJoin(t, r, "r1", "c2", "bob")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, conn := range []string{"c1", "c2"} {
			wg.Add(1)
			go func(j int, conn string) {
				defer wg.Done()
				_, errs[j] = r.ApplyMove("r1", conn, oracle.Move{From: "e2", To: "e4"}, nil)
			}(j, conn)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
			} else if !errors.Is(err, ErrIllegalMove) {
				t.Fatalf("unexpected err: %v", err)
			}
		}
		if ok != 1 {
			t.Fatalf("accepted %d copies of the same move", ok)
		}
		snap, _ := r.Snapshot("r1")
		if snap.Position.Ply() != 1 {
			t.Fatalf("ply = %d", snap.Position.Ply())
		}
	}
}

// Rooms only serialise their own moves; games in different rooms run in parallel.
func TestConcurrentMoves_AcrossRooms(t *testing.T) {
	r := newTestRegistry(t)
	const rooms = 6
	line := []string{"Nf3", "d7d5", "g3", "Nc6", "f1g2", "e5"}
	for i := 0; i < rooms; i++ {
		id := fmt.Sprintf("r%d", i)
		mustCreate(t, r, id, id+"-w", "white")
		mustJoin(t, r, id, id+"-b", "black")
	}

	var wg sync.WaitGroup
	errs := make(chan error, rooms)
	for i := 0; i < rooms; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for ply, mv := range line {
				conn := id + "-w"
				if ply%2 == 1 {
					conn = id + "-b"
				}
				if _, err := r.ApplyMove(id, conn, oracle.Move{Notation: mv}, nil); err != nil {
					errs <- fmt.Errorf("%s ply %d (%s): %w", id, ply+1, mv, err)
					return
				}
			}
		}(fmt.Sprintf("r%d", i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	want := []string{"Nf3", "d5", "g3", "Nc6", "Bg2", "e5"}
	for i := 0; i < rooms; i++ {
		snap, err := r.Snapshot(fmt.Sprintf("r%d", i))
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		got := snap.Position.History()
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("room %s history = %v, want %v", snap.RoomID, got, want)
		}
	}
}

func TestWithRoom(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.WithRoom("r1", func(Snapshot) {}); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("missing room err = %v", err)
	}
	mustCreate(t, r, "r1", "c1", "alice")
	var names []string
	if err := r.WithRoom("r1", func(s Snapshot) { names = s.Names() }); err != nil {
		t.Fatalf("WithRoom: %v", err)
	}
	if len(names) != 1 || names[0] != "alice" {
		t.Fatalf("names = %v", names)
	}
}

func mustCreate(t *testing.T, r *Registry, roomID, connID, name string) {
	t.Helper()
	if _, err := r.CreateRoom(roomID, connID, name, nil); err != nil {
		t.Fatalf("CreateRoom(%s): %v", roomID, err)
	}
}

func mustJoin(t *testing.T, r *Registry, roomID, connID, name string) {
	t.Helper()
	if _, err := r.JoinRoom(roomID, connID, name, nil); err != nil {
		t.Fatalf("JoinRoom(%s): %v", roomID, err)
	}
}
