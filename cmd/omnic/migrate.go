package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"omnic/internal/db"
)

var errMissingDSN = errors.New("database.dsn is not set")

var migrationActions = map[string]db.MigrationAction{
	"up":       db.MigrateUp,
	"down":     db.MigrateDn,
	"up-one":   db.MigrateUpOne,
	"down-one": db.MigrateDownOne,
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "migrate [up|down|up-one|down-one]",
		Short:     "Create or update the Postgres schema",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "up-one", "down-one"},
		RunE: func(_ *cobra.Command, args []string) error {
			conf, closeLog, errConfig := loadConfig()
			if errConfig != nil {
				return errConfig
			}
			defer closeLog()

			name := "up"
			if len(args) == 1 {
				name = args[0]
			}

			if conf.Database.DSN == "" {
				return errMissingDSN
			}

			if errMigrate := db.Migrate(migrationActions[name], conf.Database.DSN); errMigrate != nil {
				return errMigrate
			}

			slog.Info("Migration complete", slog.String("action", name))

			return nil
		},
	}
}
