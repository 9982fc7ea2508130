package oracle

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func play(t *testing.T, e *Engine, pos *Position, moves ...string) (*Position, Result) {
	t.Helper()
	var res Result
	for _, mv := range moves {
		var err error
		res, err = e.Apply(pos, Move{Notation: mv})
		if err != nil {
			t.Fatalf("Apply(%s): %v", mv, err)
		}
		pos = res.Position
	}
	return pos, res
}

func TestStart(t *testing.T) {
	pos := New().Start()
	if pos.FEN() != startFEN {
		t.Fatalf("start FEN = %q", pos.FEN())
	}
	if pos.SideToMove() != White || pos.Over() || pos.Ply() != 0 {
		t.Fatalf("unexpected start state: turn=%s over=%v ply=%d", pos.SideToMove(), pos.Over(), pos.Ply())
	}
}

func TestApply_LegalMoveIsPure(t *testing.T) {
	e := New()
	start := e.Start()
	res, err := e.Apply(start, Move{From: "e2", To: "e4"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.SAN != "e4" || res.UCI != "e2e4" {
		t.Fatalf("san=%q uci=%q", res.SAN, res.UCI)
	}
	if res.Mover != White || res.SideToMove != Black || res.GameOver() || res.InCheck {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Position.FEN() == start.FEN() {
		t.Fatalf("position did not advance")
	}
	if start.FEN() != startFEN || start.Ply() != 0 {
		t.Fatalf("input position mutated: %q", start.FEN())
	}
	if res.PGN != "1. e4" {
		t.Fatalf("pgn = %q", res.PGN)
	}
}

func TestApply_IllegalMove(t *testing.T) {
	e := New()
	start := e.Start()
	for _, mv := range []Move{
		{From: "e2", To: "e5"},
		{From: "e7", To: "e5"},
		{Notation: "Qh5"},
		{Notation: "garbage"},
		{},
	} {
		if _, err := e.Apply(start, mv); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("Apply(%+v) err = %v, want ErrIllegalMove", mv, err)
		}
	}
	if start.Ply() != 0 {
		t.Fatalf("illegal move changed the position")
	}
}

func TestApply_PromotionIgnoredForOrdinaryMove(t *testing.T) {
	e := New()
	res, err := e.Apply(e.Start(), Move{From: "g1", To: "f3", Promotion: "q"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.SAN != "Nf3" {
		t.Fatalf("san = %q", res.SAN)
	}
}

func TestApply_Notation(t *testing.T) {
	e := New()
	pos, res := play(t, e, e.Start(), "e4", "e7e5", "Nf3")
	if res.UCI != "g1f3" {
		t.Fatalf("uci = %q", res.UCI)
	}
	if got := strings.Join(pos.History(), " "); got != "e4 e5 Nf3" {
		t.Fatalf("history = %q", got)
	}
	if got := strings.Join(pos.UCIHistory(), " "); got != "e2e4 e7e5 g1f3" {
		t.Fatalf("uci history = %q", got)
	}
}

func TestApply_Check(t *testing.T) {
	e := New()
	_, res := play(t, e, e.Start(), "e2e4", "f7f6", "d1h5")
	if !res.InCheck || res.GameOver() {
		t.Fatalf("expected check without game over: %+v", res)
	}
	if res.SideToMove != Black {
		t.Fatalf("side to move = %s", res.SideToMove)
	}
}

func TestApply_Checkmate(t *testing.T) {
	e := New()
	pos, res := play(t, e, e.Start(), "f2f3", "e7e5", "g2g4", "d8h4")
	if !res.Checkmate || res.Winner != Black || res.Mover != Black {
		t.Fatalf("expected black mate: %+v", res)
	}
	if res.Reason != "checkmate" || res.InCheck {
		t.Fatalf("reason=%q inCheck=%v", res.Reason, res.InCheck)
	}
	if !strings.HasPrefix(res.PGN, "1. f3 e5 2. g4 Qh4") || !strings.HasSuffix(res.PGN, "0-1") {
		t.Fatalf("pgn = %q", res.PGN)
	}
	if !pos.Over() {
		t.Fatalf("position should be over")
	}
	if _, err := e.Apply(pos, Move{From: "a2", To: "a3"}); !errors.Is(err, ErrGameFinished) {
		t.Fatalf("move after mate err = %v", err)
	}
}

func TestApply_Stalemate(t *testing.T) {
	e := New()
	pos, err := FromFEN("7k/5K2/8/8/8/8/8/6Q1 w - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	res, err := e.Apply(pos, Move{From: "g1", To: "g6"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Draw || res.Checkmate || res.Winner != "" {
		t.Fatalf("expected draw: %+v", res)
	}
	if res.Reason != "stalemate" {
		t.Fatalf("reason = %q", res.Reason)
	}
	if !strings.HasSuffix(res.PGN, "1/2-1/2") {
		t.Fatalf("pgn = %q", res.PGN)
	}
}

func TestApply_Promotion(t *testing.T) {
	e := New()
	pos, err := FromFEN("8/P6k/8/8/8/8/8/K7 w - - 0 1")
	if err != nil {
		t.Fatalf("FromFEN: %v", err)
	}
	res, err := e.Apply(pos, Move{From: "a7", To: "a8", Promotion: "q"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.UCI != "a7a8q" {
		t.Fatalf("uci = %q", res.UCI)
	}
	res, err = e.Apply(pos, Move{From: "a7", To: "a8", Promotion: "knight"})
	if err != nil {
		t.Fatalf("Apply knight: %v", err)
	}
	if res.UCI != "a7a8n" {
		t.Fatalf("uci = %q", res.UCI)
	}
	for word, want := range map[string]string{"Rook": "a7a8r", "b": "a7a8b", " queen ": "a7a8q"} {
		res, err = e.Apply(pos, Move{From: "a7", To: "a8", Promotion: word})
		if err != nil {
			t.Fatalf("Apply %q: %v", word, err)
		}
		if res.UCI != want {
			t.Fatalf("promotion %q: uci = %q, want %q", word, res.UCI, want)
		}
	}
	if promotionLetter("king") != "" || promotionLetter("k") != "" {
		t.Fatalf("king accepted as promotion piece")
	}
}

func TestApply_ThreefoldClaim(t *testing.T) {
	shuffle := []string{"g1f3", "g8f6", "f3g1", "f6g8", "g1f3", "g8f6", "f3g1", "f6g8"}

	e := New(WithDrawClaims(true))
	_, res := play(t, e, e.Start(), shuffle...)
	if !res.Draw || res.Reason != "threefoldRepetition" {
		t.Fatalf("expected claimed repetition draw: %+v", res)
	}

	plain := New()
	_, res = play(t, plain, plain.Start(), shuffle...)
	if res.GameOver() {
		t.Fatalf("draw claimed without WithDrawClaims: %+v", res)
	}
}

func TestFromFEN_Invalid(t *testing.T) {
	if _, err := FromFEN("not a fen"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestColor(t *testing.T) {
	if White.Other() != Black || Black.Other() != White {
		t.Fatalf("Other broken")
	}
	if White.Title() != "White" || Black.Title() != "Black" {
		t.Fatalf("Title broken")
	}
}

// Independent positions must not interfere when moves are applied from many goroutines.
// Run with -race.
func TestApply_ConcurrentAcrossPositions(t *testing.T) {
	e := New(WithDrawClaims(true))
	lines := []struct {
		moves []string
		san   []string
	}{
		{moves: []string{"Nf3", "d5", "g3"}, san: []string{"Nf3", "d5", "g3"}},
		{moves: []string{"e2e4", "c7c5", "g1f3"}, san: []string{"e4", "c5", "Nf3"}},
		{moves: []string{"d4", "Nf6", "c2c4", "e6"}, san: []string{"d4", "Nf6", "c4", "e6"}},
		{moves: []string{"e4", "e7e5", "Nf3", "Nc6", "f1b5"}, san: []string{"e4", "e5", "Nf3", "Nc6", "Bb5"}},
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				line := lines[(g+i)%len(lines)]
				pos := e.Start()
				for _, mv := range line.moves {
					res, err := e.Apply(pos, Move{Notation: mv})
					if err != nil {
						errs <- fmt.Errorf("goroutine %d: Apply(%s): %w", g, mv, err)
						return
					}
					pos = res.Position
				}
				if got := strings.Join(pos.History(), " "); got != strings.Join(line.san, " ") {
					errs <- fmt.Errorf("goroutine %d: history = %q, want %q", g, got, strings.Join(line.san, " "))
					return
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
