package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"steward/pkg/config"
	"steward/pkg/database"
	stewardsql "steward/pkg/database/sql"
	"steward/pkg/logging"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema files in name order",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewLoggerWithService(serviceName)
			config.LoadEnv(logger)

			ctx := cmd.Context()
			db, err := connect(ctx, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.ApplySchema(ctx, db, stewardsql.Content, stewardsql.SchemaDir, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d schema file(s): %s\n", len(applied), strings.Join(applied, ", "))
			return nil
		},
	}
}
