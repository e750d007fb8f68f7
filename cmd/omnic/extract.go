package main

import (
	"errors"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"omnic/internal/extract"
	"omnic/internal/telemetry"
)

var errNoSubject = errors.New("no subject: pass --subject or set general.subject")

type extractOutput struct {
	Subject string        `json:"subject"`
	Events  int           `json:"events"`
	Rank    extract.Rank  `json:"rank"`
	Kills   extract.Kills `json:"kills"`
}

func extractCmd() *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "extract <telemetry.json>",
		Short: "Compute rank and kills from a downloaded telemetry file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				conf, closeLog, errConfig := loadConfig()
				if errConfig != nil {
					return errConfig
				}
				defer closeLog()
				subject = conf.General.Subject
			}
			if subject == "" {
				return errNoSubject
			}

			data, errRead := os.ReadFile(args[0])
			if errRead != nil {
				return errRead
			}

			var events telemetry.Sequence
			if errDecode := json.Unmarshal(data, &events); errDecode != nil {
				return fmt.Errorf("decode telemetry: %w", errDecode)
			}

			extractor := extract.New(subject, nil)
			out := extractOutput{
				Subject: subject,
				Events:  len(events),
				Rank:    extractor.Rank(events),
				Kills:   extractor.Kills(events),
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")

			return encoder.Encode(out)
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "player name (default is general.subject)")

	return cmd
}
