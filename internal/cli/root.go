package cli

import (
	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/park285/boardcam/internal/obslog"
)

func Root() *cobra.Command {
	root := &cobra.Command{
		Use:   "boardcam",
		Short: "Play chess on a physical board watched by a camera",
		Long: heredoc.Doc(`boardcam watches a physical chessboard through a camera, detects
			the move you make with the dark pieces, checks it against the rules,
			and answers with a random or engine move that is sent to the board
			actuator over a serial line.

			Configuration is read from --config, $BOARDCAM_CONFIG or
			$XDG_CONFIG_HOME/boardcam/config.yaml, then overridden by the
			environment.`),
		Args: cobra.NoArgs,

		SilenceErrors: true,
		SilenceUsage:  true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts := obslog.OptionsFromEnv()
			if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
				opts.Level = "debug"
			}
			_, err := obslog.Init(opts)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = obslog.L().Sync()
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "Path to the YAML config file")
	root.PersistentFlags().BoolP("verbose", "v", false, "Log at debug level")

	root.AddCommand(Play())
	root.AddCommand(Calibrate())
	root.AddCommand(History())
	return root
}

func logger() *zap.Logger { return obslog.L() }
