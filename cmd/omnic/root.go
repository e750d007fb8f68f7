// Command omnic follows a streamer's matches across PUBG shards and records
// their placement and kills.
//
// serve - run the tracker and its HTTP control plane
// check - verify the API key and upstream status
// extract - compute rank and kills from a telemetry file
// ingest - ingest one match immediately
// migrate - apply or revert the Postgres schema
// series open - start a new broadcast series
// scores - list recently stored results
// version - print the build version
package main

import (
	"github.com/spf13/cobra"

	"omnic/internal/config"
	"omnic/internal/log"
)

// BuildVersion is set at link time
var BuildVersion = "master"

var cfgFile string

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "omnic",
		Short:         "Track a streamer's PUBG placements and kills",
		Version:       BuildVersion,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./omnic.yml)")

	root.AddCommand(serveCmd())
	root.AddCommand(checkCmd())
	root.AddCommand(extractCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(seriesCmd())
	root.AddCommand(scoresCmd())
	root.AddCommand(versionCmd())

	return root
}

// loadConfig reads configuration and installs the default logger. The
// returned func closes the log file.
func loadConfig() (config.Config, func(), error) {
	config.LoadDotEnv()

	conf, errConfig := config.Read(cfgFile)
	if errConfig != nil {
		return config.Config{}, func() {}, errConfig
	}

	closer := log.MustCreateLogger(conf.Logging, BuildVersion)

	return conf, closer, nil
}
