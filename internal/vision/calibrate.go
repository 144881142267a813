package vision

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// DefaultBoardPx is the side of the rectified board image.
const DefaultBoardPx = 480

var ErrCornerCount = errors.New("calibration needs exactly 4 corners")

// CornerOrder documents the click order expected by NewCalibration.
const CornerOrder = "A8 (bottom-left), A1 (bottom-right), H1 (top-right), H8 (top-left)"

// Calibration holds the homography from the camera view to a top-down
// square board whose row 0 is rank 8 and column 0 is file a.
type Calibration struct {
	size int
	m    gocv.Mat
}

// NewCalibration maps corners given in CornerOrder onto a size×size canvas:
// H8 to the top-left, H1 to the top-right, A1 to the bottom-right and A8 to
// the bottom-left. The quadrilateral is not validated; a degenerate one
// yields a useless transform, not an error.
func NewCalibration(corners []image.Point, size int) (*Calibration, error) {
	if len(corners) != 4 {
		return nil, fmt.Errorf("%w: got %d", ErrCornerCount, len(corners))
	}
	if size <= 0 {
		size = DefaultBoardPx
	}

	src := gocv.NewPointVector()
	defer src.Close()
	dst := gocv.NewPointVector()
	defer dst.Close()

	for _, pt := range []image.Point{corners[3], corners[2], corners[1], corners[0]} {
		src.Append(pt)
	}
	for _, pt := range canvasCorners(size) {
		dst.Append(pt)
	}

	return &Calibration{size: size, m: gocv.GetPerspectiveTransform(src, dst)}, nil
}

func canvasCorners(size int) []image.Point {
	return []image.Point{
		{0, 0},
		{size, 0},
		{size, size},
		{0, size},
	}
}

func (c *Calibration) Size() int { return c.size }

// Warp rectifies frame. The caller owns the returned Mat.
func (c *Calibration) Warp(frame gocv.Mat) gocv.Mat {
	warped := gocv.NewMat()
	gocv.WarpPerspective(frame, &warped, c.m, image.Pt(c.size, c.size))
	return warped
}

// Project maps a camera-space point into board space.
func (c *Calibration) Project(p image.Point) (float64, float64) {
	var h [3][3]float64
	for r := 0; r < 3; r++ {
		for col := 0; col < 3; col++ {
			h[r][col] = c.m.GetDoubleAt(r, col)
		}
	}
	x, y := float64(p.X), float64(p.Y)
	w := h[2][0]*x + h[2][1]*y + h[2][2]
	if w == 0 {
		return 0, 0
	}
	return (h[0][0]*x + h[0][1]*y + h[0][2]) / w, (h[1][0]*x + h[1][1]*y + h[1][2]) / w
}

func (c *Calibration) Close() error {
	return c.m.Close()
}
