package vision

import (
	"image"

	"github.com/park285/boardcam/internal/board"
	"gocv.io/x/gocv"
)

// HSV is a hue/saturation/value triple on OpenCV's 8-bit scale
// (H 0-180, S and V 0-255).
type HSV [3]float64

func (h HSV) scalar() gocv.Scalar {
	return gocv.NewScalar(h[0], h[1], h[2], 0)
}

// Thresholds decide a cell's label. Dark is checked before light.
type Thresholds struct {
	DarkLower  HSV
	DarkUpper  HSV
	LightLower HSV
	LightUpper HSV
	DarkRatio  float64
	LightRatio float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		DarkLower:  HSV{0, 0, 0},
		DarkUpper:  HSV{180, 255, 60},
		LightLower: HSV{0, 0, 180},
		LightUpper: HSV{180, 50, 255},
		DarkRatio:  0.10,
		LightRatio: 0.15,
	}
}

// Decide labels a cell from the fraction of its pixels inside each band.
func (t Thresholds) Decide(darkRatio, lightRatio float64) board.Label {
	if darkRatio > t.DarkRatio {
		return board.Dark
	}
	if lightRatio > t.LightRatio {
		return board.Light
	}
	return board.Empty
}

// Classifier labels the 64 cells of a rectified board image. It keeps no
// state between calls.
type Classifier struct {
	t Thresholds
}

func NewClassifier(t Thresholds) *Classifier {
	return &Classifier{t: t}
}

// Classify splits img into 8×8 equal cells, row-major, and labels each.
// Pixels beyond a multiple of 8 on the right and bottom edges are ignored.
func (c *Classifier) Classify(img gocv.Mat) board.Grid {
	var grid board.Grid
	cell := img.Cols() / board.Size
	if rows := img.Rows() / board.Size; rows < cell {
		cell = rows
	}
	if cell <= 0 {
		return grid
	}

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	dark := gocv.NewMat()
	defer dark.Close()
	gocv.InRangeWithScalar(hsv, c.t.DarkLower.scalar(), c.t.DarkUpper.scalar(), &dark)

	light := gocv.NewMat()
	defer light.Close()
	gocv.InRangeWithScalar(hsv, c.t.LightLower.scalar(), c.t.LightUpper.scalar(), &light)

	area := float64(cell * cell)
	for r := 0; r < board.Size; r++ {
		for col := 0; col < board.Size; col++ {
			rect := CellRect(r, col, cell)
			grid[r][col] = c.t.Decide(
				float64(countIn(dark, rect))/area,
				float64(countIn(light, rect))/area,
			)
		}
	}
	return grid
}

// CellRect is the pixel rectangle of the cell at row r, column c.
func CellRect(r, c, cell int) image.Rectangle {
	return image.Rect(c*cell, r*cell, (c+1)*cell, (r+1)*cell)
}

func countIn(mask gocv.Mat, rect image.Rectangle) int {
	region := mask.Region(rect)
	defer region.Close()
	return gocv.CountNonZero(region)
}
