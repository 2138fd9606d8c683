package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"steward/pkg/config"
	"steward/pkg/logging"
)

// errRunFailed makes the process exit non-zero after the summary was printed.
var errRunFailed = errors.New("auto-replenish run failed")

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one auto-replenish pass and print the summary as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLoggerWithService(serviceName)
			config.LoadEnv(logger)

			app, err := newApp(cmd.Context(), logger, nil)
			if err != nil {
				return err
			}
			defer app.Close()

			summary, runErr := app.job.Run(cmd.Context())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(summary); err != nil {
				return err
			}
			if runErr != nil {
				logger.WithError(runErr).Error("Auto-replenish run failed")
				return errRunFailed
			}
			return nil
		},
	}
}
