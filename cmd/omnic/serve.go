package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"omnic/internal/app"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tracker, its sinks and the HTTP control plane",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conf, closeLog, errConfig := loadConfig()
			if errConfig != nil {
				return errConfig
			}
			defer closeLog()

			ctx, cancel := app.SignalContext(cmd.Context(), nil)
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

			slog.Info("Starting omnic",
				slog.String("version", BuildVersion),
				slog.String("subject", conf.General.Subject),
				slog.Any("sinks", conf.Sink.Backends))

			return application.Run(ctx)
		},
	}
}
