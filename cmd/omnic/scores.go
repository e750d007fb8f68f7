package main

import (
	"context"
	"fmt"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"omnic/internal/app"
)

func scoresCmd() *cobra.Command {
	var limit uint64

	cmd := &cobra.Command{
		Use:   "scores",
		Short: "List the most recently stored results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, closeLog, errConfig := loadConfig()
			if errConfig != nil {
				return errConfig
			}
			defer closeLog()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			store, closer, errStore := app.OpenStore(ctx, conf)
			if errStore != nil {
				return errStore
			}
			defer func() {
				if errClose := closer(); errClose != nil {
					slog.Error("Error closing store", slog.String("error", errClose.Error()))
				}
			}()

			scores, errScores := store.Scores(ctx, conf.General.Subject, limit)
			if errScores != nil {
				return errScores
			}

			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "SERIES\tMATCH\tMODE\tRANK\tKILLS\tPLAYED")
			for _, score := range scores {
				kills := "-"
				if score.Kills != nil {
					kills = humanize.Comma(int64(*score.Kills))
				}
				fmt.Fprintf(writer, "%d\t%s\t%s\t%d\t%s\t%s\n",
					score.Series, score.MatchID, score.Type, score.Rank, kills, humanize.Time(score.CreatedAt))
			}

			return writer.Flush()
		},
	}

	cmd.Flags().Uint64Var(&limit, "limit", 20, "number of results to show")

	return cmd
}
