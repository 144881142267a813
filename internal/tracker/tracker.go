package tracker

import (
	"github.com/park285/boardcam/internal/board"
	"go.uber.org/zap"
)

// DefaultStableFrames is how many consecutive frames with an unchanged dark
// set are needed before a diff against the baseline is trusted.
const DefaultStableFrames = 10

type State int

const (
	Unstable State = iota
	Accumulating
	Stable
)

func (s State) String() string {
	switch s {
	case Accumulating:
		return "accumulating"
	case Stable:
		return "stable"
	default:
		return "unstable"
	}
}

// Tracker turns a stream of occupancy grids into move events. Only the dark
// label drives it: a change in the dark set between two consecutive frames
// counts as motion, and once the set has held still for the threshold the
// current grid is diffed against the baseline, the last grid accepted as
// settled.
//
// Light-only changes never reset the counter. Motion never moves the
// baseline: a grid in mid-move would hide the move it is part of.
type Tracker struct {
	threshold int
	logger    *zap.Logger

	prev     board.Grid
	baseline board.Grid
	previous board.Grid // baseline before the last emitted move
	count    int
	state    State
	memo     string
	rebase   bool
	warned   bool
}

// New returns a tracker whose first settled frame becomes the baseline,
// unless Rebase supplies one first.
func New(stableFrames int, logger *zap.Logger) *Tracker {
	if stableFrames <= 0 {
		stableFrames = DefaultStableFrames
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{threshold: stableFrames, logger: logger, rebase: true}
}

// Observe consumes one frame. It returns a move the first time a single
// vacate/occupy pair against the baseline is seen in the stable state.
func (t *Tracker) Observe(cur board.Grid) (board.Move, bool) {
	defer func() { t.prev = cur }()

	if !board.SameSet(t.prev, cur, board.Dark) {
		t.count = 0
		t.memo = ""
		t.warned = false
		t.state = Unstable
		return board.Move{}, false
	}

	t.count++
	if t.count < t.threshold {
		t.state = Accumulating
		return board.Move{}, false
	}
	t.state = Stable

	if t.rebase {
		t.rebase = false
		t.baseline = cur
		t.logger.Debug("baseline settled", zap.Int("dark", cur.Count(board.Dark)))
		return board.Move{}, false
	}

	vacated, occupied := board.Diff(t.baseline, cur, board.Dark)
	if len(vacated) == 0 && len(occupied) == 0 {
		t.baseline = cur
		return board.Move{}, false
	}
	mv, ok := inferMove(vacated, occupied)
	if !ok {
		if !t.warned {
			t.warned = true
			t.logger.Warn("board does not match the last position",
				zap.Int("vacated", len(vacated)),
				zap.Int("occupied", len(occupied)),
			)
		}
		return board.Move{}, false
	}
	if mv.String() == t.memo {
		return board.Move{}, false
	}
	t.memo = mv.String()
	t.previous = t.baseline
	t.baseline = cur
	t.logger.Info("move detected", zap.String("move", t.memo), zap.Int("stable_frames", t.count))
	return mv, true
}

// inferMove reads one move from a settled diff: a single vacate/occupy pair,
// or the king and rook squares of a castle, reported as the king's move.
func inferMove(vacated, occupied []board.Square) (board.Move, bool) {
	if len(vacated) == 1 && len(occupied) == 1 {
		return board.Move{From: vacated[0], To: occupied[0]}, true
	}
	if len(vacated) != 2 || len(occupied) != 2 {
		return board.Move{}, false
	}
	row := vacated[0].Row
	for _, sq := range []board.Square{vacated[1], occupied[0], occupied[1]} {
		if sq.Row != row {
			return board.Move{}, false
		}
	}
	// Diff lists squares by column, so pairs come out sorted.
	from, to := []int{vacated[0].Col, vacated[1].Col}, []int{occupied[0].Col, occupied[1].Col}
	switch {
	case from[0] == 4 && from[1] == 7 && to[0] == 5 && to[1] == 6:
		return board.Move{From: board.Square{Row: row, Col: 4}, To: board.Square{Row: row, Col: 6}}, true
	case from[0] == 0 && from[1] == 4 && to[0] == 2 && to[1] == 3:
		return board.Move{From: board.Square{Row: row, Col: 4}, To: board.Square{Row: row, Col: 2}}, true
	}
	return board.Move{}, false
}

// Rebase replaces the baseline with the grid the board is expected to show,
// typically the game position after the opponent's reply. Frames that still
// show the old placement read as a mismatch and are ignored until the board
// catches up and settles.
func (t *Tracker) Rebase(expected board.Grid) {
	t.rebase = false
	t.baseline = expected
	t.previous = expected
	t.memo = ""
	t.warned = false
}

// Reject undoes the baseline change of the last emitted move. The memo is
// kept, so the same placement is not reported again until the dark set moves.
func (t *Tracker) Reject() {
	t.baseline = t.previous
}

func (t *Tracker) State() State { return t.state }

func (t *Tracker) Count() int { return t.count }

func (t *Tracker) Baseline() board.Grid { return t.baseline }

// LastReported is the memo used to suppress re-emitting the same move.
func (t *Tracker) LastReported() string { return t.memo }
