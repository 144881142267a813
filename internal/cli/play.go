package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/boardcam/internal/chessbuilder"
	"github.com/park285/boardcam/internal/config"
	"github.com/park285/boardcam/internal/game"
)

var errNoDifficulty = errors.New("no difficulty given")

func Play() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Start a game at the board",
		Args:  cobra.NoArgs,
		Long: heredoc.Doc(`play calibrates the camera view, then watches the board until the
			game ends, Esc is pressed in the debug window, or the process is
			interrupted.

			Difficulty runs from 1 to 100. Up to the random threshold (10 by
			default) the reply is a random legal move; above it the engine
			searches to depth difficulty/10.

			Use --port - to print the actuator commands instead of writing
			them to a serial line.`),
		RunE: runPlay,
	}
	cmd.Flags().IntP("difficulty", "d", 0, "Difficulty 1-100; asked on stdin when unset")
	cmd.Flags().Bool("headless", false, "Run without the debug window")
	cmd.Flags().Bool("resume", false, "Resume the last unfinished game from redis")
	cmd.Flags().StringP("port", "p", "", "Serial port of the actuator, or - for a dry run")
	return cmd
}

func runPlay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flag("difficulty").Changed {
		cfg.Game.Difficulty, _ = cmd.Flags().GetInt("difficulty")
	}
	if cmd.Flag("headless").Changed {
		cfg.Vision.Headless, _ = cmd.Flags().GetBool("headless")
	}
	if cmd.Flag("port").Changed {
		cfg.Serial.Port, _ = cmd.Flags().GetString("port")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	resume, _ := cmd.Flags().GetBool("resume")

	in, out := cmd.InOrStdin(), cmd.OutOrStdout()
	difficulty := cfg.Game.Difficulty
	if difficulty == 0 {
		if difficulty, err = promptDifficulty(in, out); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger()
	rig, err := chessbuilder.New(ctx, cfg, chessbuilder.Options{
		Difficulty: difficulty,
		Resume:     resume,
		In:         in,
		Out:        out,
	}, log)
	if err != nil {
		return err
	}
	defer rig.Close()

	log.Info("session started",
		zap.String("session", rig.Session.ID()),
		zap.String("config", cfg.Source),
		zap.String("camera", cfg.Camera.URL))
	return rig.Session.Run(ctx)
}

func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// promptDifficulty asks until it reads a number in range or input ends.
func promptDifficulty(in io.Reader, out io.Writer) (int, error) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "Enter difficulty (%d-%d): ", game.MinDifficulty, game.MaxDifficulty)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return 0, err
			}
			return 0, errNoDifficulty
		}
		n, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err == nil && n >= game.MinDifficulty && n <= game.MaxDifficulty {
			return n, nil
		}
		fmt.Fprintln(out, "Please enter a whole number in range.")
	}
}

