package chessbuilder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/boardcam/internal/actuator"
	"github.com/park285/boardcam/internal/chess/uci"
	"github.com/park285/boardcam/internal/config"
	"github.com/park285/boardcam/internal/domain"
	"github.com/park285/boardcam/internal/session"
	"github.com/park285/boardcam/internal/store"
	"github.com/park285/boardcam/internal/tracker"
	"github.com/park285/boardcam/internal/vision"
)

// DryRunPort sends actuator output to the console instead of a serial line.
const DryRunPort = "-"

type Options struct {
	Difficulty int
	Resume     bool
	In         io.Reader
	Out        io.Writer
}

// Rig is a ready session plus the shared clients it borrows. Closing the
// session does not close the rig.
type Rig struct {
	Session *session.Session
	db      *sql.DB
	rdb     *redis.Client
}

func (r *Rig) Close() error {
	var errs []error
	if r.db != nil {
		errs = append(errs, r.db.Close())
	}
	if r.rdb != nil {
		errs = append(errs, r.rdb.Close())
	}
	return errors.Join(errs...)
}

type stdoutWriter struct{ io.Writer }

// New opens the camera, calibrates, and wires the engine, serial line and
// storage described by cfg.
func New(ctx context.Context, cfg *config.AppConfig, opts Options, logger *zap.Logger) (rig *Rig, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	var closers []io.Closer
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				closers[i].Close()
			}
		}
	}()

	rig = &Rig{}
	archive, snaps, err := openStorage(ctx, cfg.Storage, rig, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, rig)

	var resume *domain.LiveSession
	if opts.Resume {
		resume = loadResume(ctx, snaps, logger)
	}
	difficulty := opts.Difficulty
	if resume != nil {
		difficulty = resume.Difficulty
	}

	camera, err := vision.OpenCamera(cfg.Camera.URL, image.Pt(cfg.Camera.DisplayWidth, cfg.Camera.DisplayHeight))
	if err != nil {
		return nil, err
	}
	closers = append(closers, camera)

	var viewer session.Viewer
	var window *vision.Viewer
	if !cfg.Vision.Headless {
		window = vision.NewViewer("boardcam")
		viewer = window
		closers = append(closers, window)
	}

	corners, err := CornerSource(cfg, camera, window, opts.In, opts.Out).Corners(ctx)
	if err != nil {
		return nil, fmt.Errorf("calibration corners: %w", err)
	}
	cal, err := vision.NewCalibration(corners, cfg.Vision.BoardPx)
	if err != nil {
		return nil, err
	}
	closers = append(closers, cal)
	logger.Info("calibrated", zap.Any("corners", corners), zap.Int("board_px", cal.Size()))

	var engine session.Engine
	if difficulty > cfg.Game.RandomThreshold {
		eng, err := uci.Start(ctx, cfg.Engine.Path, uci.Options{Threads: cfg.Engine.Threads, HashMB: cfg.Engine.HashMB}, logger)
		if err != nil {
			return nil, fmt.Errorf("start engine: %w", err)
		}
		closers = append(closers, eng)
		if err := eng.NewGame(ctx); err != nil {
			return nil, fmt.Errorf("engine new game: %w", err)
		}
		engine = eng
	}

	act, err := openActuator(cfg.Serial, opts.Out, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, act)

	sess, err := session.New(session.Deps{
		Frames:          camera,
		Rectifier:       cal,
		Classifier:      vision.NewClassifier(Thresholds(cfg.Vision)),
		Tracker:         tracker.New(cfg.Vision.StableFrames, logger),
		Viewer:          viewer,
		Engine:          engine,
		Actuator:        act,
		Archive:         archive,
		Snapshots:       snaps,
		Difficulty:      difficulty,
		RandomThreshold: cfg.Game.RandomThreshold,
		Seed:            cfg.Game.Seed,
		SnapshotDir:     cfg.Storage.SnapshotDir,
		Resume:          resume,
		Out:             opts.Out,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	rig.Session = sess
	return rig, nil
}

// CornerSource prefers configured corners. Otherwise the corners are
// clicked in the window, or typed when running headless.
func CornerSource(cfg *config.AppConfig, frames vision.FrameSource, window *vision.Viewer, in io.Reader, out io.Writer) vision.CornerSource {
	if pts := cfg.Vision.CornerPoints(); pts != nil {
		return vision.StaticCorners(pts)
	}
	if window != nil {
		return &vision.ClickCorners{Source: frames, Window: window, Out: out}
	}
	return &vision.PromptCorners{
		Source:   frames,
		In:       in,
		Out:      out,
		SavePath: filepath.Join(os.TempDir(), "boardcam-calibration.png"),
	}
}

func Thresholds(v config.Vision) vision.Thresholds {
	return vision.Thresholds{
		DarkLower:  vision.HSV(v.DarkLower),
		DarkUpper:  vision.HSV(v.DarkUpper),
		LightLower: vision.HSV(v.LightLower),
		LightUpper: vision.HSV(v.LightUpper),
		DarkRatio:  v.DarkRatio,
		LightRatio: v.LightRatio,
	}
}

func openActuator(cfg config.Serial, out io.Writer, logger *zap.Logger) (*actuator.Actuator, error) {
	port := strings.TrimSpace(cfg.Port)
	switch port {
	case "":
		return nil, fmt.Errorf("serial.port is required (use %q for a dry run)", DryRunPort)
	case DryRunPort:
		logger.Info("dry run: actuator output goes to the console")
		return actuator.New(stdoutWriter{out}, logger), nil
	default:
		return actuator.Open(port, cfg.Baud, logger)
	}
}

// openStorage wires the archive and snapshot store. Without a database the
// archive lives in memory; without redis there are no snapshots.
func openStorage(ctx context.Context, cfg config.Storage, rig *Rig, logger *zap.Logger) (store.Archive, *store.Snapshots, error) {
	var archive store.Archive = store.NewMemoryArchive()
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		rig.db = db
		archive, err = store.NewPostgresArchive(ctx, db)
		if err != nil {
			rig.Close()
			return nil, nil, err
		}
	} else {
		logger.Info("no database configured; finished games are kept in memory")
	}

	var snaps *store.Snapshots
	if strings.TrimSpace(cfg.RedisURL) != "" {
		rdb, err := store.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			rig.Close()
			return nil, nil, err
		}
		rig.rdb = rdb
		snaps = store.NewSnapshots(rdb, cfg.SnapshotTTL)
	}
	return archive, snaps, nil
}

func loadResume(ctx context.Context, snaps *store.Snapshots, logger *zap.Logger) *domain.LiveSession {
	if snaps == nil {
		logger.Warn("resume requested but no redis configured")
		return nil
	}
	live, err := snaps.Latest(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrSnapshotNotFound) {
			logger.Warn("failed to load session snapshot", zap.Error(err))
		} else {
			logger.Info("no session to resume")
		}
		return nil
	}
	return live
}
