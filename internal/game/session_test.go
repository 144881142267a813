package game

import (
	"context"
	"errors"
	"strings"
	"testing"

	nchess "github.com/corentings/chess/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/park285/boardcam/internal/board"
	"github.com/park285/boardcam/internal/chess/uci"
)

// scriptedEngine answers searches from a fixed list of moves.
type scriptedEngine struct {
	moves []string
	reqs  []uci.SearchRequest
	err   error
}

func (e *scriptedEngine) Search(_ context.Context, req uci.SearchRequest) (uci.SearchResponse, error) {
	e.reqs = append(e.reqs, req)
	if e.err != nil {
		return uci.SearchResponse{}, e.err
	}
	if len(e.moves) == 0 {
		return uci.SearchResponse{}, uci.ErrNoBestMove
	}
	mv := e.moves[0]
	e.moves = e.moves[1:]
	return uci.SearchResponse{BestMove: mv, Line: uci.Line{EvalCP: 24, Principal: []string{mv}}}, nil
}

func TestApplyHumanLegal(t *testing.T) {
	s := NewSession(Options{Seed: 1})
	res := s.ApplyHuman(" e2e4 ")
	if res.Err != nil {
		t.Fatalf("ApplyHuman: %v", res.Err)
	}
	if res.Move != "e2e4" || res.SAN != "e4" || res.Check || res.Finished() {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := s.Moves(); len(got) != 1 || got[0] != "e2e4" {
		t.Fatalf("moves = %v", got)
	}
}

func TestApplyHumanRejects(t *testing.T) {
	cases := []struct {
		move string
		want error
	}{
		{"e2e", ErrMalformedMove},
		{"e2e4e", ErrMalformedMove},
		{"E2E4", ErrMalformedMove},
		{"e2E4", ErrMalformedMove},
		{"i2i4", ErrMalformedMove},
		{"e2e5", ErrIllegalMove},
		{"e7e5", ErrIllegalMove},
		{"e3e4", ErrIllegalMove},
	}
	for _, tc := range cases {
		s := NewSession(Options{Seed: 1})
		res := s.ApplyHuman(tc.move)
		if !errors.Is(res.Err, tc.want) {
			t.Fatalf("ApplyHuman(%q) err = %v, want %v", tc.move, res.Err, tc.want)
		}
		if len(s.Moves()) != 0 {
			t.Fatalf("ApplyHuman(%q) mutated the game", tc.move)
		}
	}
}

func TestRandomReplyIsLegal(t *testing.T) {
	s := NewSession(Options{Seed: 42})
	if res := s.ApplyHuman("d2d4"); res.Err != nil {
		t.Fatalf("ApplyHuman: %v", res.Err)
	}
	res, err := s.RequestOpponent(context.Background(), 10)
	if err != nil {
		t.Fatalf("RequestOpponent: %v", err)
	}
	if len(res.Move) < 4 || s.Position().Turn() != nchess.White || len(s.Moves()) != 2 {
		t.Fatalf("reply %+v, moves %v", res, s.Moves())
	}
}

func TestRandomReplyIsSeeded(t *testing.T) {
	play := func() string {
		s := NewSession(Options{Seed: 7})
		s.ApplyHuman("e2e4")
		res, err := s.RequestOpponent(context.Background(), 1)
		if err != nil {
			t.Fatalf("RequestOpponent: %v", err)
		}
		return res.Move
	}
	if a, b := play(), play(); a != b {
		t.Fatalf("same seed gave %s and %s", a, b)
	}
}

func TestEngineReplyUsesDepth(t *testing.T) {
	eng := &scriptedEngine{moves: []string{"e7e5"}}
	s := NewSession(Options{Engine: eng})
	s.ApplyHuman("e2e4")
	res, err := s.RequestOpponent(context.Background(), 55)
	if err != nil {
		t.Fatalf("RequestOpponent: %v", err)
	}
	if res.Move != "e7e5" {
		t.Fatalf("reply = %s", res.Move)
	}
	req := eng.reqs[0]
	if req.Limits.Depth != 5 || strings.Join(req.Moves, " ") != "e2e4" {
		t.Fatalf("search request = %+v", req)
	}
}

func TestEngineFailuresAreFatal(t *testing.T) {
	cases := map[string]Searcher{
		"search error": &scriptedEngine{err: errors.New("pipe closed")},
		"illegal move": &scriptedEngine{moves: []string{"e2e4"}},
		"no engine":    nil,
	}
	for name, eng := range cases {
		s := NewSession(Options{Engine: eng})
		s.ApplyHuman("e2e4")
		_, err := s.RequestOpponent(context.Background(), 80)
		if !errors.Is(err, ErrEngine) {
			t.Fatalf("%s: err = %v, want ErrEngine", name, err)
		}
		if len(s.Moves()) != 1 {
			t.Fatalf("%s: game advanced to %v", name, s.Moves())
		}
	}
}

func TestEngineLineIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := NewSession(Options{Engine: &scriptedEngine{moves: []string{"c7c5"}}, Logger: zap.New(core)})
	s.ApplyHuman("e2e4")
	if _, err := s.RequestOpponent(context.Background(), 40); err != nil {
		t.Fatalf("RequestOpponent: %v", err)
	}
	entries := logs.FilterMessage("engine line").All()
	if len(entries) != 1 {
		t.Fatalf("engine line logged %d times", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["eval_cp"] != int64(24) || fields["depth"] != int64(4) {
		t.Fatalf("fields = %v", fields)
	}
}

func TestOccupancyFollowsCaptures(t *testing.T) {
	s := NewSession(Options{Seed: 1})
	if s.Occupancy() != board.StartGrid() {
		t.Fatalf("start occupancy:\n%s", s.Occupancy())
	}
	if err := s.Replay([]string{"e2e4", "d7d5", "e4d5", "d8d5"}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	sq := func(name string) board.Square {
		v, _ := board.ParseSquare(name)
		return v
	}
	want := board.StartGrid().
		Set(sq("e2"), board.Empty).
		Set(sq("d7"), board.Empty).
		Set(sq("d8"), board.Empty).
		Set(sq("d5"), board.Light)
	if got := s.Occupancy(); got != want {
		t.Fatalf("occupancy:\n%s\nwant\n%s", got, want)
	}
}

func TestSearchDepth(t *testing.T) {
	cases := map[int]int{1: 1, 10: 1, 11: 1, 19: 1, 20: 2, 55: 5, 100: 10}
	for difficulty, want := range cases {
		if got := SearchDepth(difficulty); got != want {
			t.Fatalf("SearchDepth(%d) = %d, want %d", difficulty, got, want)
		}
	}
}

func TestHumanCheckIsReported(t *testing.T) {
	eng := &scriptedEngine{moves: []string{"f7f6"}}
	s := NewSession(Options{Engine: eng})
	s.ApplyHuman("e2e4")
	if _, err := s.RequestOpponent(context.Background(), 50); err != nil {
		t.Fatalf("RequestOpponent: %v", err)
	}
	res := s.ApplyHuman("d1h5")
	if res.Err != nil || !res.Check {
		t.Fatalf("expected check, got %+v", res)
	}
}

func TestCheckmateFinishesOnce(t *testing.T) {
	eng := &scriptedEngine{moves: []string{"e7e5", "d8h4"}}
	var finished []Result
	s := NewSession(Options{Engine: eng, OnFinish: func(r Result) { finished = append(finished, r) }})

	s.ApplyHuman("f2f3")
	if _, err := s.RequestOpponent(context.Background(), 90); err != nil {
		t.Fatalf("RequestOpponent: %v", err)
	}
	s.ApplyHuman("g2g4")
	res, err := s.RequestOpponent(context.Background(), 90)
	if err != nil {
		t.Fatalf("RequestOpponent: %v", err)
	}
	if !res.Finished() || !res.Check || res.Outcome != nchess.BlackWon || res.Method != nchess.Checkmate {
		t.Fatalf("unexpected final result %+v", res)
	}
	if len(finished) != 1 {
		t.Fatalf("OnFinish ran %d times", len(finished))
	}
	if after := s.ApplyHuman("a2a3"); !errors.Is(after.Err, ErrGameOver) {
		t.Fatalf("move after mate: %v", after.Err)
	}
	if _, err := s.RequestOpponent(context.Background(), 1); !errors.Is(err, ErrGameOver) {
		t.Fatalf("reply after mate: %v", err)
	}
	if len(finished) != 1 {
		t.Fatalf("OnFinish ran %d times", len(finished))
	}
	if ResultText(s.Outcome()) != "0-1" || !strings.Contains(s.PGN(), "Qh4#") {
		t.Fatalf("result %s, pgn %q", ResultText(s.Outcome()), s.PGN())
	}
}

func TestReplayRestoresHistory(t *testing.T) {
	s := NewSession(Options{})
	if err := s.Replay([]string{"e2e4", "e7e5", "g1f3"}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if s.Position().Turn() != nchess.Black {
		t.Fatalf("turn = %v", s.Position().Turn())
	}
	if san := s.SANMoves(); len(san) != 3 || san[2] != "Nf3" {
		t.Fatalf("san = %v", san)
	}
	if err := NewSession(Options{}).Replay([]string{"e2e5"}); !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("err = %v, want ErrIllegalMove", err)
	}
}

func TestBoardDump(t *testing.T) {
	s := NewSession(Options{})
	s.ApplyHuman("e2e4")
	dump := s.Board()
	for _, want := range []string{
		"  a b c d e f g h",
		"8 r n b q k b n r 8",
		"4 . . . . P . . . 4",
		"2 P P P P . P P P 2",
	} {
		if !strings.Contains(dump, want) {
			t.Fatalf("board dump missing %q:\n%s", want, dump)
		}
	}
}
