package vision

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"strconv"
	"strings"

	"gocv.io/x/gocv"
)

// CornerSource supplies the four calibration points in CornerOrder. It
// blocks until all four are known.
type CornerSource interface {
	Corners(ctx context.Context) ([]image.Point, error)
}

// StaticCorners are points fixed in configuration.
type StaticCorners []image.Point

func (s StaticCorners) Corners(ctx context.Context) ([]image.Point, error) {
	if len(s) != 4 {
		return nil, fmt.Errorf("%w: configured %d", ErrCornerCount, len(s))
	}
	return append([]image.Point(nil), s...), nil
}

// mouseLeftButtonDown is OpenCV's EVENT_LBUTTONDOWN.
const mouseLeftButtonDown = 1

// ClickCorners shows a single frame in the window and takes one left click
// per corner, marking each with its number. Esc aborts.
type ClickCorners struct {
	Source FrameSource
	Window *Viewer
	Out    io.Writer
}

func (c *ClickCorners) Corners(ctx context.Context) ([]image.Point, error) {
	if c.Window == nil || c.Window.w == nil {
		return nil, fmt.Errorf("click calibration needs a window")
	}
	frame := gocv.NewMat()
	defer frame.Close()
	if err := c.Source.Read(&frame); err != nil {
		return nil, err
	}

	clicks := make(chan image.Point, 8)
	c.Window.w.SetMouseHandler(clickHandler(clicks), nil)
	defer c.Window.w.SetMouseHandler(func(event, x, y, flags int, userdata interface{}) {}, nil)

	fmt.Fprintf(c.Out, "click the board corners in order: %s\n", CornerOrder)
	return collectClicks(ctx, &frame, clicks, func(img gocv.Mat) bool {
		c.Window.w.IMShow(img)
		return c.Window.w.WaitKey(20) == KeyEscape
	}, c.Out)
}

// clickHandler forwards left clicks. It runs inside WaitKey and never blocks.
func clickHandler(clicks chan<- image.Point) func(event, x, y, flags int, userdata interface{}) {
	return func(event, x, y, flags int, userdata interface{}) {
		if event != mouseLeftButtonDown {
			return
		}
		select {
		case clicks <- image.Pt(x, y):
		default:
		}
	}
}

// collectClicks redraws frame through show until four clicks have arrived.
func collectClicks(ctx context.Context, frame *gocv.Mat, clicks <-chan image.Point, show func(gocv.Mat) bool, out io.Writer) ([]image.Point, error) {
	names := strings.Split(CornerOrder, ", ")
	points := make([]image.Point, 0, 4)
	for len(points) < 4 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if show(*frame) {
			return nil, context.Canceled
		}
		select {
		case pt := <-clicks:
			points = append(points, pt)
			drawMarker(frame, pt, len(points))
			fmt.Fprintf(out, "corner %d %s: %d,%d\n", len(points), names[len(points)-1], pt.X, pt.Y)
		default:
		}
	}
	show(*frame)
	return points, nil
}

// PromptCorners shows a single frame with a pixel ruler and reads "x y"
// lines from In, one per corner. When SavePath is set the ruled frame is
// also written there, for headless rigs.
type PromptCorners struct {
	Source   FrameSource
	Window   *Viewer
	In       io.Reader
	Out      io.Writer
	SavePath string
}

var (
	rulerColor  = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	markerColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}
)

func (p *PromptCorners) Corners(ctx context.Context) ([]image.Point, error) {
	frame := gocv.NewMat()
	defer frame.Close()
	if err := p.Source.Read(&frame); err != nil {
		return nil, err
	}
	drawRuler(&frame)
	if p.SavePath != "" {
		if ok := gocv.IMWrite(p.SavePath, frame); !ok {
			return nil, fmt.Errorf("write calibration frame: %s", p.SavePath)
		}
		fmt.Fprintf(p.Out, "calibration frame saved to %s\n", p.SavePath)
	}
	p.Window.Show(frame)
	fmt.Fprintf(p.Out, "enter the board corners in order: %s\n", CornerOrder)

	names := strings.Split(CornerOrder, ", ")
	scanner := bufio.NewScanner(p.In)
	points := make([]image.Point, 0, 4)
	for len(points) < 4 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fmt.Fprintf(p.Out, "corner %d %s as \"x y\": ", len(points)+1, names[len(points)])
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("read corner: %w", err)
			}
			return nil, fmt.Errorf("%w: input closed after %d", ErrCornerCount, len(points))
		}
		pt, err := ParsePoint(scanner.Text())
		if err != nil {
			fmt.Fprintf(p.Out, "%v\n", err)
			continue
		}
		points = append(points, pt)
		drawMarker(&frame, pt, len(points))
		if p.Window.Show(frame) {
			return nil, context.Canceled
		}
	}
	return points, nil
}

// ParsePoint accepts "x y" or "x,y".
func ParsePoint(s string) (image.Point, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(fields) != 2 {
		return image.Point{}, fmt.Errorf("point %q: want two integers", strings.TrimSpace(s))
	}
	x, err := strconv.Atoi(fields[0])
	if err != nil {
		return image.Point{}, fmt.Errorf("point x: %w", err)
	}
	y, err := strconv.Atoi(fields[1])
	if err != nil {
		return image.Point{}, fmt.Errorf("point y: %w", err)
	}
	return image.Pt(x, y), nil
}

func drawMarker(img *gocv.Mat, pt image.Point, n int) {
	gocv.Circle(img, pt, 5, markerColor, -1)
	gocv.PutText(img, strconv.Itoa(n), image.Pt(pt.X+5, pt.Y-5), gocv.FontHersheySimplex, 0.6, markerColor, 2)
}

func drawRuler(img *gocv.Mat) {
	const step = 80
	for x := step; x < img.Cols(); x += step {
		gocv.Line(img, image.Pt(x, 0), image.Pt(x, 8), rulerColor, 1)
		gocv.PutText(img, strconv.Itoa(x), image.Pt(x+2, 18), gocv.FontHersheySimplex, 0.35, rulerColor, 1)
	}
	for y := step; y < img.Rows(); y += step {
		gocv.Line(img, image.Pt(0, y), image.Pt(8, y), rulerColor, 1)
		gocv.PutText(img, strconv.Itoa(y), image.Pt(10, y+4), gocv.FontHersheySimplex, 0.35, rulerColor, 1)
	}
}
