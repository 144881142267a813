package cli

import (
	"fmt"
	"image"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/park285/boardcam/internal/chessbuilder"
	"github.com/park285/boardcam/internal/config"
	"github.com/park285/boardcam/internal/vision"
)

func Calibrate() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Pick the board corners and print them as config",
		Args:  cobra.NoArgs,
		Long: heredoc.Doc(`calibrate shows one camera frame with a pixel ruler and asks for
			the four board corners in the order A8, A1, H1, H8. The result is
			printed as a vision.corners snippet to paste into the config file,
			so later games skip the prompt.

			With --preview the rectified board, with the detected occupancy
			drawn over it, is written to the given image file.`),
		RunE: runCalibrate,
	}
	cmd.Flags().Bool("headless", false, "Run without a window; the ruled frame is saved to a file")
	cmd.Flags().String("preview", "", "Write the rectified board to this image file")
	return cmd
}

func runCalibrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	headless, _ := cmd.Flags().GetBool("headless")
	preview, _ := cmd.Flags().GetString("preview")
	out := cmd.OutOrStdout()

	camera, err := vision.OpenCamera(cfg.Camera.URL, image.Pt(cfg.Camera.DisplayWidth, cfg.Camera.DisplayHeight))
	if err != nil {
		return err
	}
	defer camera.Close()

	var window *vision.Viewer
	if !headless && !cfg.Vision.Headless {
		window = vision.NewViewer("boardcam calibrate")
		defer window.Close()
	}

	// always ask, even when corners are configured
	fresh := *cfg
	fresh.Vision.Corners = nil
	source := chessbuilder.CornerSource(&fresh, camera, window, cmd.InOrStdin(), out)
	corners, err := source.Corners(cmd.Context())
	if err != nil {
		return err
	}
	cal, err := vision.NewCalibration(corners, cfg.Vision.BoardPx)
	if err != nil {
		return err
	}
	defer cal.Close()

	if preview != "" {
		if err := writePreview(camera, cal, cfg, preview); err != nil {
			return err
		}
		logger().Info("rectified preview written", zap.String("path", preview))
	}

	snippet, err := config.CornersSnippet(corners)
	if err != nil {
		return err
	}
	_, err = out.Write(snippet)
	return err
}

func writePreview(camera *vision.Camera, cal *vision.Calibration, cfg *config.AppConfig, path string) error {
	frame := gocv.NewMat()
	defer frame.Close()
	if err := camera.Read(&frame); err != nil {
		return err
	}
	warped := cal.Warp(frame)
	defer warped.Close()
	grid := vision.NewClassifier(chessbuilder.Thresholds(cfg.Vision)).Classify(warped)
	vision.DrawOverlay(&warped, grid)
	if ok := gocv.IMWrite(path, warped); !ok {
		return fmt.Errorf("write preview %s", path)
	}
	return nil
}
