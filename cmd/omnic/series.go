package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"omnic/internal/app"
)

func seriesCmd() *cobra.Command {
	series := &cobra.Command{
		Use:   "series",
		Short: "Manage broadcast series",
	}

	series.AddCommand(&cobra.Command{
		Use:   "open",
		Short: "Start a new series; following results are recorded under it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, closeLog, errConfig := loadConfig()
			if errConfig != nil {
				return errConfig
			}
			defer closeLog()

			if conf.General.Subject == "" {
				return errNoSubject
			}

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

			id, errOpen := store.OpenSeries(ctx, conf.General.Subject)
			if errOpen != nil {
				return errOpen
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Opened %s series for %s\n", humanize.Ordinal(int(id)), conf.General.Subject)

			return nil
		},
	})

	return series
}
