// Package oracle adapts the chess rules engine to the room coordinator.
// Positions are immutable values; Apply never mutates its input.
package oracle

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	nchess "github.com/corentings/chess/v2"
)

var (
	ErrIllegalMove  = errors.New("illegal move")
	ErrGameFinished = errors.New("game already finished")
)

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Other() Color {
	if c == White {
		return Black
	}
	return White
}

// Title returns "White" or "Black".
func (c Color) Title() string {
	if c == Black {
		return "Black"
	}
	return "White"
}

// Move is a requested move. Notation (UCI or SAN) wins over From/To when set.
// Promotion is ignored when the move is not a promotion.
type Move struct {
	From      string
	To        string
	Promotion string
	Notation  string
}

func (m Move) String() string {
	if s := strings.TrimSpace(m.Notation); s != "" {
		return s
	}
	return strings.TrimSpace(m.From) + strings.TrimSpace(m.To) + strings.TrimSpace(m.Promotion)
}

// Position is an authoritative game state. The zero value is not usable; obtain one from
// Oracle.Start or FromFEN.
type Position struct {
	start string // "" means the standard initial position
	uci   []string
	san   []string
	fen   string
	turn  Color
	over  bool
}

func (p *Position) FEN() string       { return p.fen }
func (p *Position) SideToMove() Color { return p.turn }
func (p *Position) Over() bool        { return p.over }
func (p *Position) Ply() int          { return len(p.uci) }

// History returns the SAN move list.
func (p *Position) History() []string { return append([]string(nil), p.san...) }

// UCIHistory returns the UCI move list.
func (p *Position) UCIHistory() []string { return append([]string(nil), p.uci...) }

// Result describes one accepted move and the position it produced.
type Result struct {
	Position   *Position
	SAN        string
	UCI        string
	Mover      Color
	SideToMove Color
	InCheck    bool
	Checkmate  bool
	Draw       bool
	Winner     Color // set only on checkmate
	Reason     string
	PGN        string
}

func (r Result) GameOver() bool { return r.Checkmate || r.Draw }

// Oracle is the rules engine seen by the room registry.
type Oracle interface {
	Start() *Position
	Apply(pos *Position, mv Move) (Result, error)
}

// Engine implements Oracle on top of corentings/chess.
type Engine struct {
	claimDraws bool
}

type Option func(*Engine)

// WithDrawClaims makes Apply claim threefold repetition and the fifty-move rule as soon as
// they become available.
func WithDrawClaims(on bool) Option {
	return func(e *Engine) { e.claimDraws = on }
}

func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Start() *Position {
	g := nchess.NewGame()
	return &Position{fen: g.FEN(), turn: White}
}

// FromFEN builds a position from an arbitrary FEN.
func FromFEN(fen string) (*Position, error) {
	fen = strings.TrimSpace(fen)
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("parse fen: %w", err)
	}
	g := nchess.NewGame(opt)
	return &Position{
		start: fen,
		fen:   g.FEN(),
		turn:  colorFrom(g.Position().Turn()),
		over:  g.Outcome() != nchess.NoOutcome,
	}, nil
}

// Apply validates mv against pos and returns the successor position.
func (e *Engine) Apply(pos *Position, mv Move) (Result, error) {
	if pos == nil {
		return Result{}, errors.New("nil position")
	}
	if pos.over {
		return Result{}, ErrGameFinished
	}
	game, err := pos.replay()
	if err != nil {
		return Result{}, err
	}
	before := game.Position()
	mover := colorFrom(before.Turn())

	played := push(game, candidates(mv))
	if played == nil {
		return Result{}, fmt.Errorf("%w: %s", ErrIllegalMove, mv.String())
	}
	san := nchess.AlgebraicNotation{}.Encode(before, played)
	uci := played.String()

	if e.claimDraws && game.Outcome() == nchess.NoOutcome {
		claimDraw(game)
	}

	next := &Position{
		start: pos.start,
		uci:   append(append([]string(nil), pos.uci...), uci),
		san:   append(append([]string(nil), pos.san...), san),
		fen:   game.FEN(),
		turn:  colorFrom(game.Position().Turn()),
	}
	res := Result{
		Position:   next,
		SAN:        san,
		UCI:        uci,
		Mover:      mover,
		SideToMove: next.turn,
	}
	switch game.Outcome() {
	case nchess.WhiteWon:
		res.Checkmate, res.Winner = true, White
	case nchess.BlackWon:
		res.Checkmate, res.Winner = true, Black
	case nchess.Draw:
		res.Draw = true
	default:
		res.InCheck = played.HasTag(nchess.Check) || strings.HasSuffix(san, "+")
	}
	if res.GameOver() {
		next.over = true
		res.Reason = reason(game.Method())
	}
	res.PGN = buildPGN(next.san, res)
	return res, nil
}

type candidate struct {
	text     string
	notation nchess.Notation
}

// candidates lists the encodings to try, most specific first.
func candidates(mv Move) []candidate {
	if s := strings.TrimSpace(mv.Notation); s != "" {
		return []candidate{
			{text: strings.ToLower(s), notation: nchess.UCINotation{}},
			{text: s, notation: nchess.AlgebraicNotation{}},
		}
	}
	from := strings.ToLower(strings.TrimSpace(mv.From))
	to := strings.ToLower(strings.TrimSpace(mv.To))
	if from == "" || to == "" {
		return nil
	}
	out := make([]candidate, 0, 2)
	if p := promotionLetter(mv.Promotion); p != "" {
		out = append(out, candidate{text: from + to + p, notation: nchess.UCINotation{}})
	}
	return append(out, candidate{text: from + to, notation: nchess.UCINotation{}})
}

func promotionLetter(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "q", "queen":
		return "q"
	case "r", "rook":
		return "r"
	case "b", "bishop":
		return "b"
	case "n", "knight":
		return "n"
	}
	return ""
}

// sanMu serialises SAN decoding. The engine's algebraic decoder reuses pooled option slices
// that are shared between games.
var sanMu sync.Mutex

func pushNotation(game *nchess.Game, text string, n nchess.Notation) error {
	if _, ok := n.(nchess.AlgebraicNotation); ok {
		sanMu.Lock()
		defer sanMu.Unlock()
	}
	return game.PushNotationMove(text, n, nil)
}

// push plays the first candidate the game accepts. Rejected candidates leave the game untouched.
func push(game *nchess.Game, cands []candidate) *nchess.Move {
	for _, c := range cands {
		if c.text == "" {
			continue
		}
		if err := pushNotation(game, c.text, c.notation); err != nil {
			continue
		}
		moves := game.Moves()
		if len(moves) == 0 {
			return nil
		}
		return moves[len(moves)-1]
	}
	return nil
}

func claimDraw(game *nchess.Game) {
	for _, m := range game.EligibleDraws() {
		if m == nchess.ThreefoldRepetition || m == nchess.FiftyMoveRule {
			_ = game.Draw(m)
			return
		}
	}
}

// replay rebuilds the engine game from the starting position and the stored UCI moves.
func (p *Position) replay() (*nchess.Game, error) {
	var opts []func(*nchess.Game)
	if p.start != "" {
		opt, err := nchess.FEN(p.start)
		if err != nil {
			return nil, fmt.Errorf("parse fen: %w", err)
		}
		opts = append(opts, opt)
	}
	game := nchess.NewGame(opts...)
	for i, mv := range p.uci {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return nil, fmt.Errorf("replay ply %d (%s): %w", i+1, mv, err)
		}
	}
	return game, nil
}

func colorFrom(c nchess.Color) Color {
	if c == nchess.Black {
		return Black
	}
	return White
}

func reason(m nchess.Method) string {
	switch m {
	case nchess.Checkmate:
		return "checkmate"
	case nchess.Stalemate:
		return "stalemate"
	case nchess.ThreefoldRepetition:
		return "threefoldRepetition"
	case nchess.FivefoldRepetition:
		return "fivefoldRepetition"
	case nchess.FiftyMoveRule:
		return "fiftyMoveRule"
	case nchess.SeventyFiveMoveRule:
		return "seventyFiveMoveRule"
	case nchess.InsufficientMaterial:
		return "insufficientMaterial"
	default:
		return "draw"
	}
}
