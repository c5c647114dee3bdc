package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	jsonOutput bool

	appVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	appVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "voxdesk",
		Short: "voxdesk - dual-store database operations",
		Long: `voxdesk operates the data-access layer of the voxdesk service.

Every process keeps a local database for identity data and can route
everything else to an external database. Writes that land on the
external database are mirrored back to the local one.

Configuration comes from built-in defaults, an optional YAML file
(--config) and DB_* environment variables, in that order.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newTestConnectionCommand())
	rootCmd.AddCommand(newSwitchCommand())
	rootCmd.AddCommand(newExecCommand())
	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newProvisionCommand())
	rootCmd.AddCommand(newAgentCommand())

	return rootCmd
}
