package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for ingestagent
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingestagent",
		Short: "File ingestion agent for watched drop directories",
		Long: `ingestagent watches a set of source directories, validates new files
against per-directory naming rules (prefix, date token, extension), moves
valid files into a single destination directory and records every outcome
in a persistent store.

Configuration is read from --config, from a named --profile, or from
./ingestagent.yaml.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: ./ingestagent.yaml)")
	cmd.PersistentFlags().String("profile", "", "Load $INGESTAGENT_HOME/NAME.yaml or /etc/ingestagent/NAME.yaml")
	cmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewCheckCommand())
	cmd.AddCommand(NewHistoryCommand())
	cmd.AddCommand(NewReconcileCommand())

	return cmd
}
