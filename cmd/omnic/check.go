package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"omnic/internal/app"
)

func checkCmd() *cobra.Command {
	var shard string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the API key against a shard and print upstream status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, closeLog, errConfig := loadConfig()
			if errConfig != nil {
				return errConfig
			}
			defer closeLog()

			client, errClient := app.NewClient(conf)
			if errClient != nil {
				return errClient
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			status, errStatus := client.CheckStatus(ctx)
			if errStatus != nil {
				return fmt.Errorf("status: %w", errStatus)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API status: %s (version %s, released %s)\n",
				status.Data.ID, status.Data.Attributes.Version, humanize.Time(status.Data.Attributes.ReleasedAt))

			if shard == "" {
				shard = conf.PollerConfig().Shards[0]
			}

			valid, errValidate := client.ValidateKey(ctx, shard)
			if errValidate != nil {
				return fmt.Errorf("validate key: %w", errValidate)
			}
			if !valid {
				return fmt.Errorf("api key rejected by %s", shard)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key accepted by %s\n", shard)

			return nil
		},
	}

	cmd.Flags().StringVar(&shard, "shard", "", "shard to validate the key against (default is the first configured shard)")

	return cmd
}
