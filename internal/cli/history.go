package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"

	"github.com/park285/boardcam/internal/domain"
	"github.com/park285/boardcam/internal/store"
)

var errNoDatabase = errors.New("no database configured (storage.database_url or DATABASE_URL)")

func History() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recently finished games",
		Args:  cobra.NoArgs,
		Long: heredoc.Doc(`history prints the most recent games from the postgres archive,
			newest first. Use --pgn to print the full PGN of each game instead
			of the summary table.`),
		RunE: runHistory,
	}
	cmd.Flags().IntP("limit", "n", 10, "Number of games to list")
	cmd.Flags().Bool("pgn", false, "Print PGN instead of a table")
	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Storage.DatabaseURL) == "" {
		return errNoDatabase
	}
	limit, _ := cmd.Flags().GetInt("limit")
	asPGN, _ := cmd.Flags().GetBool("pgn")

	ctx := cmd.Context()
	db, err := store.OpenPostgres(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	archive, err := store.NewPostgresArchive(ctx, db)
	if err != nil {
		return err
	}
	games, err := archive.RecentGames(ctx, limit)
	if err != nil {
		return err
	}
	if asPGN {
		return printPGN(cmd.OutOrStdout(), games)
	}
	return printGames(cmd.OutOrStdout(), games)
}

func printGames(out io.Writer, games []*domain.GameRecord) error {
	if len(games) == 0 {
		_, err := fmt.Fprintln(out, "No games yet.")
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tENDED\tDIFFICULTY\tRESULT\tMETHOD\tMOVES\tDURATION")
	for _, g := range games {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%d\t%s\n",
			g.ID,
			g.EndedAt.Local().Format("2006-01-02 15:04"),
			g.Difficulty,
			g.Result,
			g.ResultMethod,
			len(g.MovesUCI),
			g.Duration.Round(time.Second))
	}
	return tw.Flush()
}

func printPGN(out io.Writer, games []*domain.GameRecord) error {
	for i, g := range games {
		if i > 0 {
			fmt.Fprintln(out)
		}
		if _, err := fmt.Fprintln(out, strings.TrimSpace(g.PGN)); err != nil {
			return err
		}
	}
	return nil
}
