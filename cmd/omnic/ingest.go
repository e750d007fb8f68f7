package main

import (
	"context"
	"log/slog"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"omnic/internal/app"
)

func ingestCmd() *cobra.Command {
	var shard string

	cmd := &cobra.Command{
		Use:   "ingest <match id>",
		Short: "Ingest one match now, bypassing rotation and the watermark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, closeLog, errConfig := loadConfig()
			if errConfig != nil {
				return errConfig
			}
			defer closeLog()

			conf.HTTP.Enabled = false
			conf.Twitch.Enabled = false

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			application, errApp := app.New(ctx, conf, BuildVersion)
			if errApp != nil {
				return errApp
			}
			defer func() {
				if errClose := application.Close(); errClose != nil {
					slog.Error("Error closing", slog.String("error", errClose.Error()))
				}
			}()

			tracker := application.Tracker()
			done := make(chan error, 1)
			go func() { done <- tracker.Run(ctx) }()

			result, errIngest := tracker.ForceIngest(ctx, args[0], shard)

			cancel()
			<-done

			if errIngest != nil {
				return errIngest
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")

			return encoder.Encode(result)
		},
	}

	cmd.Flags().StringVar(&shard, "shard", "", "shard the match was played on (default is the first configured shard)")

	return cmd
}
