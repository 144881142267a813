package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
	"go.uber.org/zap"

	"github.com/park285/boardcam/internal/board"
	"github.com/park285/boardcam/internal/chess/uci"
)

var (
	ErrMalformedMove = errors.New("malformed move")
	ErrIllegalMove   = errors.New("illegal move")
	ErrEngine        = errors.New("engine failure")
	ErrGameOver      = errors.New("game is over")
)

// DefaultRandomThreshold is the highest difficulty answered with a random
// legal move instead of a search.
const DefaultRandomThreshold = 10

const (
	MinDifficulty = 1
	MaxDifficulty = 100
)

// Searcher is the part of a UCI engine the session needs.
type Searcher interface {
	Search(ctx context.Context, req uci.SearchRequest) (uci.SearchResponse, error)
}

type Options struct {
	Engine          Searcher
	RandomThreshold int
	Seed            int64
	Logger          *zap.Logger
	// OnFinish runs once, after the move that ends the game.
	OnFinish func(Result)
}

// Result describes one applied move, or why a move was not applied.
type Result struct {
	Move    string
	SAN     string
	Check   bool
	Outcome nchess.Outcome
	Method  nchess.Method
	Err     error
}

func (r Result) Finished() bool {
	return r.Err == nil && r.Outcome != nchess.NoOutcome
}

// Session owns the rules model of one game. The human plays white.
type Session struct {
	game      *nchess.Game
	engine    Searcher
	rng       *rand.Rand
	threshold int
	logger    *zap.Logger
	onFinish  func(Result)
	finish    sync.Once
	bookOnce  sync.Once
	book      *opening.BookECO
}

func NewSession(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	threshold := opts.RandomThreshold
	if threshold <= 0 {
		threshold = DefaultRandomThreshold
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Session{
		game:      nchess.NewGame(),
		engine:    opts.Engine,
		rng:       rand.New(rand.NewSource(seed)),
		threshold: threshold,
		logger:    logger,
		onFinish:  opts.OnFinish,
	}
}

// Replay applies a saved UCI history, used to resume an interrupted game.
func (s *Session) Replay(moves []string) error {
	for _, mv := range moves {
		if res := s.apply(strings.ToLower(strings.TrimSpace(mv))); res.Err != nil {
			return fmt.Errorf("replay %s: %w", mv, res.Err)
		}
	}
	return nil
}

// ApplyHuman validates and plays a 4-character lowercase coordinate move. A
// pawn reaching the last rank is promoted to a queen.
func (s *Session) ApplyHuman(moveStr string) Result {
	if s.Finished() {
		return Result{Err: ErrGameOver}
	}
	text := strings.TrimSpace(moveStr)
	if _, err := board.ParseMove(text); err != nil {
		return Result{Err: fmt.Errorf("%w: %q", ErrMalformedMove, moveStr)}
	}
	if s.isPromotion(text) {
		text += "q"
	}
	res := s.apply(text)
	if res.Err != nil {
		s.logger.Warn("human move rejected", zap.String("move", text), zap.Error(res.Err))
		return res
	}
	s.logger.Info("human move applied", zap.String("move", res.Move), zap.String("san", res.SAN), zap.Bool("check", res.Check))
	s.afterMove(res)
	return res
}

// RequestOpponent picks and plays black's reply. Difficulties up to the
// random threshold play a uniformly random legal move; above it the engine
// searches to depth difficulty/10, at least 1.
func (s *Session) RequestOpponent(ctx context.Context, difficulty int) (Result, error) {
	if s.Finished() {
		return Result{Err: ErrGameOver}, ErrGameOver
	}

	var (
		text   string
		source string
	)
	if difficulty <= s.threshold {
		moves := s.game.ValidMoves()
		if len(moves) == 0 {
			return Result{Err: ErrGameOver}, ErrGameOver
		}
		text = moves[s.rng.Intn(len(moves))].String()
		source = "random"
	} else {
		if s.engine == nil {
			err := fmt.Errorf("%w: no engine configured for difficulty %d", ErrEngine, difficulty)
			return Result{Err: err}, err
		}
		resp, err := s.engine.Search(ctx, uci.SearchRequest{
			FEN:    "startpos",
			Moves:  s.Moves(),
			Limits: uci.Limits{Depth: SearchDepth(difficulty)},
		})
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrEngine, err)
			return Result{Err: err}, err
		}
		text = strings.ToLower(resp.BestMove)
		source = "engine"
		if len(resp.Line.Principal) > 0 {
			s.logger.Debug("engine line",
				zap.Int("depth", SearchDepth(difficulty)),
				zap.Int("eval_cp", resp.Line.EvalCP),
				zap.Int("mate", resp.Line.Mate),
				zap.Strings("pv", resp.Line.Principal))
		}
	}

	res := s.apply(text)
	if res.Err != nil {
		err := fmt.Errorf("%w: opponent move %s rejected: %v", ErrEngine, text, res.Err)
		return Result{Err: err}, err
	}
	s.logger.Info("opponent move applied",
		zap.String("move", res.Move),
		zap.String("san", res.SAN),
		zap.String("source", source),
		zap.Int("difficulty", difficulty),
		zap.Bool("check", res.Check))
	s.afterMove(res)
	return res, nil
}

// SearchDepth maps a difficulty in 1..100 onto a search depth.
func SearchDepth(difficulty int) int {
	if d := difficulty / 10; d > 1 {
		return d
	}
	return 1
}

func (s *Session) apply(text string) Result {
	pos := s.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, text)
	if err != nil {
		return Result{Err: fmt.Errorf("%w: %s", ErrIllegalMove, text)}
	}
	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	if err := s.game.Move(mv, nil); err != nil {
		return Result{Err: fmt.Errorf("%w: %s", ErrIllegalMove, text)}
	}
	return Result{
		Move:    text,
		SAN:     san,
		Check:   mv.HasTag(nchess.Check) || strings.HasSuffix(san, "+") || strings.HasSuffix(san, "#"),
		Outcome: s.game.Outcome(),
		Method:  s.game.Method(),
	}
}

func (s *Session) isPromotion(text string) bool {
	from, err := board.ParseSquare(text[:2])
	if err != nil {
		return false
	}
	piece := s.game.Position().Board().Piece(nchess.NewSquare(nchess.File(from.Col), nchess.Rank(board.Size-1-from.Row)))
	if piece.Type() != nchess.Pawn {
		return false
	}
	if piece.Color() == nchess.White {
		return text[3] == '8'
	}
	return text[3] == '1'
}

func (s *Session) afterMove(res Result) {
	code, title := s.ecoLabel()
	s.logger.Info("opening label",
		zap.String("eco_code", code),
		zap.String("eco_title", title),
		zap.Int("ply", len(s.game.Moves())))
	if res.Finished() {
		s.logger.Info("game finished",
			zap.String("outcome", ResultText(res.Outcome)),
			zap.String("method", res.Method.String()))
		s.finish.Do(func() {
			if s.onFinish != nil {
				s.onFinish(res)
			}
		})
	}
}

func (s *Session) ecoLabel() (string, string) {
	s.bookOnce.Do(func() {
		s.book = opening.NewBookECO()
	})
	if s.book == nil {
		return "", ""
	}
	if eco := s.book.Find(s.game.Moves()); eco != nil {
		return eco.Code(), eco.Title()
	}
	return "", ""
}

func (s *Session) Finished() bool {
	return s.game.Outcome() != nchess.NoOutcome
}

func (s *Session) Outcome() nchess.Outcome { return s.game.Outcome() }

func (s *Session) Method() nchess.Method { return s.game.Method() }

func (s *Session) Position() *nchess.Position { return s.game.Position() }

// Moves returns the UCI history from the start position.
func (s *Session) Moves() []string {
	moves := s.game.Moves()
	out := make([]string, 0, len(moves))
	for _, mv := range moves {
		out = append(out, strings.ToLower(mv.String()))
	}
	return out
}

// SANMoves returns the history in algebraic notation.
func (s *Session) SANMoves() []string {
	positions := s.game.Positions()
	moves := s.game.Moves()
	out := make([]string, len(moves))
	notation := nchess.AlgebraicNotation{}
	for i, mv := range moves {
		if i < len(positions) {
			out[i] = notation.Encode(positions[i], mv)
		}
	}
	return out
}

func (s *Session) PGN() string { return s.game.String() }

// Occupancy is the grid the camera should see for the current position:
// white pieces dark, black pieces light.
func (s *Session) Occupancy() board.Grid {
	b := s.game.Position().Board()
	var g board.Grid
	for r := 0; r < board.Size; r++ {
		for c := 0; c < board.Size; c++ {
			piece := b.Piece(nchess.NewSquare(nchess.File(c), nchess.Rank(board.Size-1-r)))
			switch {
			case piece == nchess.NoPiece:
			case piece.Color() == nchess.White:
				g[r][c] = board.Dark
			default:
				g[r][c] = board.Light
			}
		}
	}
	return g
}

// Board renders the position as text, rank 8 first, white in upper case.
func (s *Session) Board() string {
	b := s.game.Position().Board()
	var sb strings.Builder
	sb.WriteString("  a b c d e f g h\n")
	for r := 7; r >= 0; r-- {
		fmt.Fprintf(&sb, "%d ", r+1)
		for f := 0; f < 8; f++ {
			piece := b.Piece(nchess.NewSquare(nchess.File(f), nchess.Rank(r)))
			sb.WriteString(pieceLetter(piece))
			if f < 7 {
				sb.WriteByte(' ')
			}
		}
		fmt.Fprintf(&sb, " %d\n", r+1)
	}
	sb.WriteString("  a b c d e f g h\n")
	return sb.String()
}

func pieceLetter(p nchess.Piece) string {
	if p == nchess.NoPiece {
		return "."
	}
	var l string
	switch p.Type() {
	case nchess.King:
		l = "k"
	case nchess.Queen:
		l = "q"
	case nchess.Rook:
		l = "r"
	case nchess.Bishop:
		l = "b"
	case nchess.Knight:
		l = "n"
	case nchess.Pawn:
		l = "p"
	default:
		return "?"
	}
	if p.Color() == nchess.White {
		return strings.ToUpper(l)
	}
	return l
}

// ResultText is the score string for the finished game, "*" while running.
func ResultText(o nchess.Outcome) string {
	switch o {
	case nchess.WhiteWon:
		return "1-0"
	case nchess.BlackWon:
		return "0-1"
	case nchess.Draw:
		return "1/2-1/2"
	default:
		return "*"
	}
}
