package vision

import (
	"image"
	"image/color"

	"github.com/park285/boardcam/internal/board"
	"gocv.io/x/gocv"
)

// KeyEscape is the key code that ends the session from the debug window.
const KeyEscape = 27

var (
	gridColor  = color.RGBA{R: 255, G: 255, B: 255, A: 0}
	lightFill  = color.RGBA{R: 140, G: 180, B: 210, A: 0}
	darkFill   = color.RGBA{R: 19, G: 69, B: 139, A: 0}
	labelColor = color.RGBA{R: 0, G: 255, B: 0, A: 0}
)

// DrawOverlay paints grid lines, fills occupied cells by label and writes
// each cell's coordinate.
func DrawOverlay(img *gocv.Mat, grid board.Grid) {
	cell := img.Cols() / board.Size
	side := cell * board.Size
	for i := 0; i <= board.Size; i++ {
		gocv.Line(img, image.Pt(0, i*cell), image.Pt(side, i*cell), gridColor, 1)
		gocv.Line(img, image.Pt(i*cell, 0), image.Pt(i*cell, side), gridColor, 1)
	}
	for r := 0; r < board.Size; r++ {
		for c := 0; c < board.Size; c++ {
			rect := CellRect(r, c, cell)
			switch grid[r][c] {
			case board.Light:
				gocv.Rectangle(img, rect, lightFill, -1)
			case board.Dark:
				gocv.Rectangle(img, rect, darkFill, -1)
			}
			sq := board.Square{Row: r, Col: c}
			gocv.PutText(img, sq.String(), image.Pt(rect.Min.X+5, rect.Max.Y-5), gocv.FontHersheySimplex, 0.4, labelColor, 1)
		}
	}
}

// Viewer is the debug window. A nil *Viewer is headless: Show does nothing
// and never asks to quit.
type Viewer struct {
	w *gocv.Window
}

func NewViewer(title string) *Viewer {
	return &Viewer{w: gocv.NewWindow(title)}
}

// Show displays img and polls the keyboard once. It reports true when Esc
// was pressed.
func (v *Viewer) Show(img gocv.Mat) bool {
	if v == nil || v.w == nil {
		return false
	}
	v.w.IMShow(img)
	return v.w.WaitKey(1) == KeyEscape
}

func (v *Viewer) Close() error {
	if v == nil || v.w == nil {
		return nil
	}
	return v.w.Close()
}
