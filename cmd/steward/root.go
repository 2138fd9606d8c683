package main

import (
	"github.com/spf13/cobra"
)

const serviceName = "steward"

// newRootCmd returns the steward command tree.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           serviceName,
		Short:         "Auto-replenish billing service",
		Long:          "steward tops up prepaid SMS and call-minute balances that fell below their threshold by charging the saved card off-session.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
