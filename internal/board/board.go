package board

import (
	"errors"
	"fmt"
	"strings"
)

// Size is the number of ranks and files on the board.
const Size = 8

type Label uint8

const (
	Empty Label = iota
	Dark
	Light
)

func (l Label) String() string {
	switch l {
	case Dark:
		return "dark"
	case Light:
		return "light"
	default:
		return "empty"
	}
}

// Grid is one frame's occupancy. Row 0 is rank 8 and column 0 is file a.
// Grid is a value type; assigning it copies every row.
type Grid [Size][Size]Label

type Square struct {
	Row int
	Col int
}

func (s Square) Valid() bool {
	return s.Row >= 0 && s.Row < Size && s.Col >= 0 && s.Col < Size
}

func (s Square) String() string {
	return fmt.Sprintf("%c%d", 'a'+rune(s.Col), Size-s.Row)
}

// ParseSquare parses a lowercase coordinate such as "e2".
func ParseSquare(s string) (Square, error) {
	if len(s) != 2 {
		return Square{}, fmt.Errorf("square %q: want 2 characters", s)
	}
	file, rank := s[0], s[1]
	if file < 'a' || file > 'h' || rank < '1' || rank > '8' {
		return Square{}, fmt.Errorf("square %q out of range", s)
	}
	return Square{Row: Size - int(rank-'0'), Col: int(file - 'a')}, nil
}

type Move struct {
	From Square
	To   Square
}

func (m Move) String() string {
	return m.From.String() + m.To.String()
}

var ErrMoveFormat = errors.New("move must be 4 lowercase coordinate characters")

// ParseMove accepts exactly the positional form "e2e4".
func ParseMove(s string) (Move, error) {
	if len(s) != 4 || s != strings.ToLower(s) {
		return Move{}, ErrMoveFormat
	}
	from, err := ParseSquare(s[:2])
	if err != nil {
		return Move{}, fmt.Errorf("%w: %v", ErrMoveFormat, err)
	}
	to, err := ParseSquare(s[2:])
	if err != nil {
		return Move{}, fmt.Errorf("%w: %v", ErrMoveFormat, err)
	}
	return Move{From: from, To: to}, nil
}

// Count returns how many cells carry label l.
func (g Grid) Count(l Label) int {
	n := 0
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if g[r][c] == l {
				n++
			}
		}
	}
	return n
}

// SameSet reports whether a and b mark exactly the same cells with l.
func SameSet(a, b Grid, l Label) bool {
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			if (a[r][c] == l) != (b[r][c] == l) {
				return false
			}
		}
	}
	return true
}

// Diff compares the cells labelled l in base against cur. Vacated cells held
// l in base but not in cur; occupied cells gained l.
func Diff(base, cur Grid, l Label) (vacated, occupied []Square) {
	for r := 0; r < Size; r++ {
		for c := 0; c < Size; c++ {
			was, is := base[r][c] == l, cur[r][c] == l
			switch {
			case was && !is:
				vacated = append(vacated, Square{Row: r, Col: c})
			case !was && is:
				occupied = append(occupied, Square{Row: r, Col: c})
			}
		}
	}
	return vacated, occupied
}

// Set returns a copy of g with sq labelled l.
func (g Grid) Set(sq Square, l Label) Grid {
	g[sq.Row][sq.Col] = l
	return g
}

// StartGrid is the opening setup. The human plays the dark set, which the
// game model treats as white, so dark pieces sit on ranks 1 and 2.
func StartGrid() Grid {
	var g Grid
	for c := 0; c < Size; c++ {
		g[0][c] = Light
		g[1][c] = Light
		g[6][c] = Dark
		g[7][c] = Dark
	}
	return g
}

func (g Grid) String() string {
	var sb strings.Builder
	for r := 0; r < Size; r++ {
		fmt.Fprintf(&sb, "%d ", Size-r)
		for c := 0; c < Size; c++ {
			switch g[r][c] {
			case Dark:
				sb.WriteString("x ")
			case Light:
				sb.WriteString("o ")
			default:
				sb.WriteString(". ")
			}
		}
		sb.WriteString("\n")
	}
	sb.WriteString("  a b c d e f g h\n")
	return sb.String()
}
