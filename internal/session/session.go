package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/park285/boardcam/internal/board"
	"github.com/park285/boardcam/internal/domain"
	"github.com/park285/boardcam/internal/game"
	"github.com/park285/boardcam/internal/render"
	"github.com/park285/boardcam/internal/store"
	"github.com/park285/boardcam/internal/tracker"
	"github.com/park285/boardcam/internal/vision"
)

// Engine is a searcher that owns a process.
type Engine interface {
	game.Searcher
	Close() error
}

type Actuator interface {
	Send(move string) error
	Close() error
}

// Viewer shows the debug image and reports an Esc press.
type Viewer interface {
	Show(img gocv.Mat) bool
	Close() error
}

// Rectifier turns a camera frame into a top-down board image.
type Rectifier interface {
	Warp(frame gocv.Mat) gocv.Mat
	Close() error
}

// Deps are the collaborators of one session. The session owns and closes
// all of them. Engine, Viewer, Snapshots and Archive may be nil.
type Deps struct {
	Frames     vision.FrameSource
	Rectifier  Rectifier
	Classifier *vision.Classifier
	Tracker    *tracker.Tracker
	Viewer     Viewer
	Engine     Engine
	Actuator   Actuator
	Archive    store.Archive
	Snapshots  *store.Snapshots

	Difficulty      int
	RandomThreshold int
	Seed            int64
	SnapshotDir     string
	Resume          *domain.LiveSession

	Out    io.Writer
	Logger *zap.Logger
}

// Session is the context object for one game at the board.
type Session struct {
	d       Deps
	id      string
	game    *game.Session
	started time.Time
	ended   time.Time
	out     io.Writer
	logger  *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

func New(d Deps) (*Session, error) {
	if d.Frames == nil || d.Rectifier == nil || d.Classifier == nil || d.Actuator == nil {
		return nil, fmt.Errorf("session needs frames, rectifier, classifier and actuator")
	}
	if d.Difficulty < game.MinDifficulty || d.Difficulty > game.MaxDifficulty {
		return nil, fmt.Errorf("difficulty %d out of range %d-%d", d.Difficulty, game.MinDifficulty, game.MaxDifficulty)
	}
	if d.Tracker == nil {
		d.Tracker = tracker.New(tracker.DefaultStableFrames, d.Logger)
	}
	if d.Archive == nil {
		d.Archive = store.NewMemoryArchive()
	}
	if d.Out == nil {
		d.Out = io.Discard
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		d:       d,
		id:      uuid.NewString(),
		started: time.Now(),
		out:     d.Out,
	}
	if d.Resume != nil {
		s.id = d.Resume.SessionUUID
		s.d.Difficulty = d.Resume.Difficulty
		if !d.Resume.StartedAt.IsZero() {
			s.started = d.Resume.StartedAt
		}
	}
	s.logger = logger.With(zap.String("session", s.id), zap.Int("difficulty", s.d.Difficulty))
	s.game = game.NewSession(game.Options{
		Engine:          d.Engine,
		RandomThreshold: d.RandomThreshold,
		Seed:            d.Seed,
		Logger:          s.logger,
		OnFinish:        s.onFinish,
	})
	if d.Resume != nil {
		if err := s.game.Replay(d.Resume.Moves); err != nil {
			return nil, fmt.Errorf("resume %s: %w", s.id, err)
		}
		s.d.Tracker.Rebase(s.game.Occupancy())
		s.logger.Info("session resumed", zap.Int("ply", len(d.Resume.Moves)))
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Game() *game.Session { return s.game }

// Run polls frames until the game ends, Esc is pressed, ctx is cancelled or
// a fatal error occurs. Teardown runs before Run returns.
func (s *Session) Run(ctx context.Context) (err error) {
	defer func() {
		if cerr := s.Close(); err == nil {
			err = cerr
		}
	}()

	fmt.Fprint(s.out, s.game.Board())
	frame := gocv.NewMat()
	defer frame.Close()

	for {
		if ctx.Err() != nil {
			s.logger.Info("session interrupted")
			return nil
		}
		if err := s.d.Frames.Read(&frame); err != nil {
			return err
		}
		done, err := s.step(ctx, frame)
		if err != nil || done {
			return err
		}
	}
}

func (s *Session) step(ctx context.Context, frame gocv.Mat) (bool, error) {
	warped := s.d.Rectifier.Warp(frame)
	defer warped.Close()

	grid := s.d.Classifier.Classify(warped)
	if s.d.Viewer != nil {
		vision.DrawOverlay(&warped, grid)
		if s.d.Viewer.Show(warped) {
			s.logger.Info("escape pressed")
			return true, nil
		}
	}

	mv, ok := s.d.Tracker.Observe(grid)
	if !ok {
		return false, nil
	}
	return s.HandleMove(ctx, mv.String())
}

// HandleMove plays a detected human move and, unless the game ended, the
// opponent's reply. It reports whether the session is over.
func (s *Session) HandleMove(ctx context.Context, text string) (bool, error) {
	res := s.game.ApplyHuman(text)
	if res.Err != nil {
		fmt.Fprintf(s.out, "Invalid move %s: %v\n", text, res.Err)
		s.d.Tracker.Reject()
		return errors.Is(res.Err, game.ErrGameOver), nil
	}
	s.announce("You", res)
	if res.Check && !res.Finished() {
		fmt.Fprintln(s.out, "You gave check!")
	}
	s.persist(ctx, res)
	if res.Finished() {
		return true, nil
	}

	reply, err := s.game.RequestOpponent(ctx, s.d.Difficulty)
	if err != nil {
		return false, err
	}
	s.announce("Bot", reply)
	if reply.Check && !reply.Finished() {
		fmt.Fprintln(s.out, "Bot gives you check!")
	}
	if err := s.d.Actuator.Send(reply.Move); err != nil {
		return false, fmt.Errorf("actuator: %w", err)
	}
	s.d.Tracker.Rebase(s.game.Occupancy())
	s.persist(ctx, reply)
	return reply.Finished(), nil
}

func (s *Session) announce(who string, res game.Result) {
	fmt.Fprintf(s.out, "%s: %s (%s)\n", who, res.Move, res.SAN)
	fmt.Fprint(s.out, s.game.Board())
}

// persist saves the live snapshot and the board image. Both are best
// effort; failures are logged.
func (s *Session) persist(ctx context.Context, res game.Result) {
	moves := s.game.Moves()
	if s.d.Snapshots != nil && !res.Finished() {
		live := &domain.LiveSession{
			SessionUUID: s.id,
			Difficulty:  s.d.Difficulty,
			Moves:       moves,
			StartedAt:   s.started,
		}
		if err := s.d.Snapshots.Save(ctx, live); err != nil {
			s.logger.Warn("failed to save session snapshot", zap.Error(err))
		}
	}
	if s.d.SnapshotDir != "" {
		if err := s.writeImage(len(moves), res.Move); err != nil {
			s.logger.Warn("failed to write board image", zap.Error(err))
		}
	}
}

func (s *Session) writeImage(ply int, move string) error {
	var highlight *board.Move
	if len(move) >= 4 {
		if mv, err := board.ParseMove(move[:4]); err == nil {
			highlight = &mv
		}
	}
	data, err := render.PNG(s.game.Position(), highlight)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.d.SnapshotDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.d.SnapshotDir, fmt.Sprintf("%s-%03d.png", s.id, ply)), data, 0o644)
}

func (s *Session) onFinish(res game.Result) {
	s.ended = time.Now()
	s.logger.Info("game over",
		zap.String("result", game.ResultText(res.Outcome)),
		zap.String("method", res.Method.String()),
		zap.Int("ply", len(s.game.Moves())))
}

// Close tears the session down once: engine, serial line, archive and
// snapshot for a finished game, then the camera and window.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.teardown()
	})
	return s.closeErr
}

func (s *Session) teardown() error {
	var errs []error
	if s.d.Engine != nil {
		if err := s.d.Engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", err))
		}
	}
	if err := s.d.Actuator.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close actuator: %w", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.game.Finished() {
		if err := s.archive(ctx); err != nil {
			errs = append(errs, err)
		}
		if s.d.Snapshots != nil {
			if err := s.d.Snapshots.Delete(ctx, s.id); err != nil {
				s.logger.Warn("failed to delete session snapshot", zap.Error(err))
			}
		}
		fmt.Fprintf(s.out, "Game over: %s (%s)\n", game.ResultText(s.game.Outcome()), s.game.Method())
	} else {
		fmt.Fprintf(s.out, "Game stopped after %d moves. Session %s\n", len(s.game.Moves()), s.id)
	}

	if s.d.Viewer != nil {
		if err := s.d.Viewer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close viewer: %w", err))
		}
	}
	if err := s.d.Rectifier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close calibration: %w", err))
	}
	if err := s.d.Frames.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close camera: %w", err))
	}
	return errors.Join(errs...)
}

func (s *Session) archive(ctx context.Context) error {
	ended := s.ended
	if ended.IsZero() {
		ended = time.Now()
	}
	rec := &domain.GameRecord{
		SessionUUID:  s.id,
		Difficulty:   s.d.Difficulty,
		Result:       humanResult(s.game.Outcome()),
		ResultMethod: methodName(s.game.Method()),
		MovesUCI:     s.game.Moves(),
		MovesSAN:     s.game.SANMoves(),
		PGN:          s.game.PGN(),
		StartedAt:    s.started,
		EndedAt:      ended,
		Duration:     ended.Sub(s.started),
	}
	id, err := s.d.Archive.InsertGame(ctx, rec)
	if errors.Is(err, store.ErrDuplicateGame) {
		s.logger.Warn("game already archived")
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive game: %w", err)
	}
	s.logger.Info("game archived", zap.Int64("id", id), zap.String("result", rec.Result))
	return nil
}

func humanResult(o nchess.Outcome) string {
	switch o {
	case nchess.WhiteWon:
		return "win"
	case nchess.BlackWon:
		return "loss"
	case nchess.Draw:
		return "draw"
	default:
		return "unknown"
	}
}

func methodName(m nchess.Method) string {
	return strings.ToLower(m.String())
}
