package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/color"
	"path/filepath"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"gocv.io/x/gocv"

	"github.com/park285/boardcam/internal/board"
	"github.com/park285/boardcam/internal/chess/uci"
	"github.com/park285/boardcam/internal/domain"
	"github.com/park285/boardcam/internal/store"
	"github.com/park285/boardcam/internal/tracker"
	"github.com/park285/boardcam/internal/vision"
)

const side = 240

// gridFrames plays back a scripted list of occupancy grids as camera
// frames, then fails like a dropped stream.
type gridFrames struct {
	grids  []board.Grid
	next   int
	closed int
}

func (f *gridFrames) Read(dst *gocv.Mat) error {
	if f.next >= len(f.grids) {
		return vision.ErrFrameAcquisition
	}
	img := paintGrid(f.grids[f.next])
	defer img.Close()
	f.next++
	img.CopyTo(dst)
	return nil
}

func (f *gridFrames) Close() error {
	f.closed++
	return nil
}

func paintGrid(g board.Grid) gocv.Mat {
	img := gocv.NewMatWithSize(side, side, gocv.MatTypeCV8UC3)
	img.SetTo(gocv.NewScalar(128, 128, 128, 0))
	cell := side / board.Size
	for r := 0; r < board.Size; r++ {
		for c := 0; c < board.Size; c++ {
			switch g[r][c] {
			case board.Dark:
				gocv.Rectangle(&img, vision.CellRect(r, c, cell), color.RGBA{A: 255}, -1)
			case board.Light:
				gocv.Rectangle(&img, vision.CellRect(r, c, cell), color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
			}
		}
	}
	return img
}

type identityRectifier struct{ closed int }

func (r *identityRectifier) Warp(frame gocv.Mat) gocv.Mat { return frame.Clone() }

func (r *identityRectifier) Close() error {
	r.closed++
	return nil
}

type recordingActuator struct {
	bytes.Buffer
	closed int
	err    error
}

func (a *recordingActuator) Send(move string) error {
	if a.err != nil {
		return a.err
	}
	_, err := a.WriteString(move + "\n")
	return err
}

func (a *recordingActuator) Close() error {
	a.closed++
	return nil
}

type scriptedEngine struct {
	moves  []string
	closed int
}

func (e *scriptedEngine) Search(context.Context, uci.SearchRequest) (uci.SearchResponse, error) {
	if len(e.moves) == 0 {
		return uci.SearchResponse{}, uci.ErrNoBestMove
	}
	mv := e.moves[0]
	e.moves = e.moves[1:]
	return uci.SearchResponse{BestMove: mv}, nil
}

func (e *scriptedEngine) Close() error {
	e.closed++
	return nil
}

type fixture struct {
	deps   Deps
	frames *gridFrames
	rect   *identityRectifier
	act    *recordingActuator
	out    *bytes.Buffer
}

func newFixture(t *testing.T, grids ...board.Grid) *fixture {
	t.Helper()
	f := &fixture{
		frames: &gridFrames{grids: grids},
		rect:   &identityRectifier{},
		act:    &recordingActuator{},
		out:    &bytes.Buffer{},
	}
	f.deps = Deps{
		Frames:     f.frames,
		Rectifier:  f.rect,
		Classifier: vision.NewClassifier(vision.DefaultThresholds()),
		Tracker:    tracker.New(3, nil),
		Actuator:   f.act,
		Difficulty: 5,
		Seed:       11,
		Out:        f.out,
	}
	return f
}

func repeat(g board.Grid, n int) []board.Grid {
	out := make([]board.Grid, n)
	for i := range out {
		out[i] = g
	}
	return out
}

func move(t *testing.T, g board.Grid, from, to string, l board.Label) board.Grid {
	t.Helper()
	a, err := board.ParseSquare(from)
	if err != nil {
		t.Fatalf("ParseSquare: %v", err)
	}
	b, err := board.ParseSquare(to)
	if err != nil {
		t.Fatalf("ParseSquare: %v", err)
	}
	return g.Set(a, board.Empty).Set(b, l)
}

func TestRunDetectsMoveAndDrivesActuator(t *testing.T) {
	start := board.StartGrid()
	moved := move(t, start, "e2", "e4", board.Dark)
	grids := append(repeat(start, 5), repeat(moved, 6)...)
	f := newFixture(t, grids...)

	s, err := New(f.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = s.Run(context.Background())
	if !errors.Is(err, vision.ErrFrameAcquisition) {
		t.Fatalf("Run err = %v, want ErrFrameAcquisition", err)
	}

	moves := s.Game().Moves()
	if len(moves) != 2 || moves[0] != "e2e4" {
		t.Fatalf("moves = %v", moves)
	}
	if got := f.act.String(); got != moves[1]+"\n" {
		t.Fatalf("actuator got %q, want %q", got, moves[1]+"\n")
	}
	if !strings.Contains(f.out.String(), "You: e2e4") {
		t.Fatalf("output missing human move:\n%s", f.out.String())
	}
	if f.frames.closed != 1 || f.rect.closed != 1 || f.act.closed != 1 {
		t.Fatalf("teardown closes: frames=%d rect=%d act=%d", f.frames.closed, f.rect.closed, f.act.closed)
	}
}

func TestRunContinuesAfterOpponentCapture(t *testing.T) {
	start := board.StartGrid()
	e4 := move(t, start, "e2", "e4", board.Dark)
	d5 := move(t, e4, "d7", "d5", board.Light)
	takes := move(t, d5, "e4", "d5", board.Dark)
	retakes := move(t, takes, "d8", "d5", board.Light)
	nf3 := move(t, retakes, "g1", "f3", board.Dark)

	var grids []board.Grid
	grids = append(grids, repeat(start, 5)...)
	grids = append(grids, repeat(e4, 6)...)
	grids = append(grids, repeat(d5, 3)...)
	// the queen retakes a few frames after the move is announced
	grids = append(grids, repeat(takes, 6)...)
	grids = append(grids, repeat(retakes, 5)...)
	grids = append(grids, repeat(nf3, 6)...)

	f := newFixture(t, grids...)
	f.deps.Engine = &scriptedEngine{moves: []string{"d7d5", "d8d5", "b8c6"}}
	f.deps.Difficulty = 60
	s, err := New(f.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.Run(context.Background()); !errors.Is(err, vision.ErrFrameAcquisition) {
		t.Fatalf("Run err = %v, want ErrFrameAcquisition", err)
	}

	want := "e2e4 d7d5 e4d5 d8d5 g1f3 b8c6"
	if got := strings.Join(s.Game().Moves(), " "); got != want {
		t.Fatalf("moves = %q, want %q", got, want)
	}
	if got := f.act.String(); got != "d7d5\nd8d5\nb8c6\n" {
		t.Fatalf("actuator got %q", got)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	f := newFixture(t, repeat(board.StartGrid(), 3)...)
	s, err := New(f.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.frames.next != 0 {
		t.Fatalf("read %d frames after cancel", f.frames.next)
	}
	if !strings.Contains(f.out.String(), "Game stopped after 0 moves") {
		t.Fatalf("output:\n%s", f.out.String())
	}
}

func TestIllegalMoveIsReportedAndLoopContinues(t *testing.T) {
	f := newFixture(t)
	s, err := New(f.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done, err := s.HandleMove(context.Background(), "e2e5")
	if err != nil || done {
		t.Fatalf("HandleMove = %v, %v", done, err)
	}
	if !strings.Contains(f.out.String(), "Invalid move e2e5") {
		t.Fatalf("output:\n%s", f.out.String())
	}
	if f.act.Len() != 0 || len(s.Game().Moves()) != 0 {
		t.Fatalf("illegal move reached the game or actuator")
	}
}

func TestCheckmateArchivesOnce(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	ctx := context.Background()
	rdb, err := store.OpenRedis(ctx, fmt.Sprintf("redis://%s/0", mr.Addr()))
	if err != nil {
		t.Fatalf("OpenRedis: %v", err)
	}
	defer rdb.Close()
	snaps := store.NewSnapshots(rdb, time.Hour)
	archive := store.NewMemoryArchive()
	eng := &scriptedEngine{moves: []string{"e7e5", "d8h4"}}

	f := newFixture(t)
	f.deps.Engine = eng
	f.deps.Difficulty = 60
	f.deps.Archive = archive
	f.deps.Snapshots = snaps
	f.deps.SnapshotDir = t.TempDir()
	s, err := New(f.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if done, err := s.HandleMove(ctx, "f2f3"); err != nil || done {
		t.Fatalf("first move: %v, %v", done, err)
	}
	if _, err := snaps.Load(ctx, s.ID()); err != nil {
		t.Fatalf("snapshot not saved: %v", err)
	}
	done, err := s.HandleMove(ctx, "g2g4")
	if err != nil || !done {
		t.Fatalf("mating move: %v, %v", done, err)
	}
	if f.act.String() != "e7e5\nd8h4\n" {
		t.Fatalf("actuator got %q", f.act.String())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if eng.closed != 1 || f.act.closed != 1 {
		t.Fatalf("engine closed %d, actuator closed %d", eng.closed, f.act.closed)
	}

	games, _ := archive.RecentGames(ctx, 10)
	if len(games) != 1 || games[0].Result != "loss" || games[0].ResultMethod != "checkmate" {
		t.Fatalf("archive = %+v", games)
	}
	if _, err := snaps.Load(ctx, s.ID()); !errors.Is(err, store.ErrSnapshotNotFound) {
		t.Fatalf("snapshot not deleted: %v", err)
	}
	if !strings.Contains(f.out.String(), "Game over: 0-1") {
		t.Fatalf("output:\n%s", f.out.String())
	}
	images, _ := filepath.Glob(filepath.Join(f.deps.SnapshotDir, s.ID()+"-*.png"))
	if len(images) != 4 {
		t.Fatalf("wrote %d board images, want 4", len(images))
	}
}

func TestActuatorFailureStopsSession(t *testing.T) {
	f := newFixture(t)
	f.act.err = errors.New("port unplugged")
	s, err := New(f.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.HandleMove(context.Background(), "e2e4"); err == nil || !strings.Contains(err.Error(), "port unplugged") {
		t.Fatalf("err = %v", err)
	}
}

func TestResumeReplaysMoves(t *testing.T) {
	f := newFixture(t)
	f.deps.Resume = &domain.LiveSession{SessionUUID: "resume-1", Difficulty: 7, Moves: []string{"e2e4", "c7c5"}}
	s, err := New(f.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.ID() != "resume-1" || len(s.Game().Moves()) != 2 {
		t.Fatalf("id %s, moves %v", s.ID(), s.Game().Moves())
	}
	if done, err := s.HandleMove(context.Background(), "g1f3"); err != nil || done {
		t.Fatalf("HandleMove: %v, %v", done, err)
	}

	f.deps.Resume = &domain.LiveSession{SessionUUID: "bad", Difficulty: 7, Moves: []string{"e2e5"}}
	if _, err := New(f.deps); err == nil {
		t.Fatalf("expected replay error")
	}
}

func TestNewValidatesDifficulty(t *testing.T) {
	f := newFixture(t)
	f.deps.Difficulty = 0
	if _, err := New(f.deps); err == nil {
		t.Fatalf("expected error")
	}
}
