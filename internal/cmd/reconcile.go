package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/ingestagent/internal/filelock"
	"github.com/harrison/ingestagent/internal/recorder"
)

// NewReconcileCommand creates the reconcile command
func NewReconcileCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Resolve move intents left by an interrupted agent",
		Long: `Resolve move intents left by a crash between a move and its record.

A move whose file reached the destination gets its missing Valid record;
any other intent is dropped and the file is retried by the next round.
Runs automatically when the agent starts; refuses to run while an agent
holds the configuration lock.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}

			log, closeLog, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeLog()

			lock, err := filelock.Acquire(cfg.LockPath())
			if err != nil {
				return fmt.Errorf("agent is running: %w", err)
			}
			defer lock.Unlock()

			st, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			report, err := recorder.New(st, cfg.Storage.Timeout(), log, nil).Reconcile(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recovered %d, dropped %d, failed %d\n",
				report.Recovered, report.Dropped, report.Failed)
			if report.Failed > 0 {
				return fmt.Errorf("%d intent(s) could not be resolved", report.Failed)
			}
			return nil
		},
	}

	return cmd
}
