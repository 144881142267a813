package vision

import (
	"errors"
	"fmt"
	"image"
	"strconv"
	"strings"

	"gocv.io/x/gocv"
)

var ErrFrameAcquisition = errors.New("failed to grab frame")

// Display size every frame is resized to before warping. Calibration
// points are picked on a frame of this size.
const (
	DefaultDisplayWidth  = 720
	DefaultDisplayHeight = 480
)

// FrameSource yields one frame per call.
type FrameSource interface {
	Read(dst *gocv.Mat) error
	Close() error
}

// Camera reads from a network stream URL or a local device index.
type Camera struct {
	uri     string
	cap     *gocv.VideoCapture
	display image.Point
}

func OpenCamera(uri string, display image.Point) (*Camera, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, fmt.Errorf("camera uri required")
	}
	var device interface{} = uri
	if n, err := strconv.Atoi(uri); err == nil {
		device = n
	}
	capture, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("open camera %s: %w", uri, err)
	}
	if display.X <= 0 || display.Y <= 0 {
		display = image.Pt(DefaultDisplayWidth, DefaultDisplayHeight)
	}
	return &Camera{uri: uri, cap: capture, display: display}, nil
}

// Read grabs the next frame and resizes it to the display size in place.
func (c *Camera) Read(dst *gocv.Mat) error {
	raw := gocv.NewMat()
	defer raw.Close()
	if ok := c.cap.Read(&raw); !ok || raw.Empty() {
		return fmt.Errorf("%w from %s", ErrFrameAcquisition, c.uri)
	}
	gocv.Resize(raw, dst, c.display, 0, 0, gocv.InterpolationLinear)
	return nil
}

func (c *Camera) Close() error {
	if c == nil || c.cap == nil {
		return nil
	}
	return c.cap.Close()
}
