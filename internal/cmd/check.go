package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/ingestagent/internal/models"
	"github.com/harrison/ingestagent/internal/validator"
)

// NewCheckCommand creates the check command
func NewCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <filename>...",
		Short: "Show the verdict each rule gives a filename",
		Long: `Run the validator on filenames without touching the filesystem.

Only the base name of each argument is checked. Without --rule every
configured rule is tried.

Example:
  ingestagent check PL_20240115.m3u XX_20240115.m3u --rule channel-a`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			rules, err := cfg.WatchRules()
			if err != nil {
				return err
			}
			ruleName, _ := cmd.Flags().GetString("rule")
			return checkNames(cmd.OutOrStdout(), rules, ruleName, args)
		},
	}

	cmd.Flags().String("rule", "", "Only check against the named rule")

	return cmd
}

func checkNames(out io.Writer, rules []models.WatchRule, ruleName string, names []string) error {
	selected := rules
	if ruleName != "" {
		selected = nil
		for _, r := range rules {
			if r.Name == ruleName {
				selected = append(selected, r)
			}
		}
		if len(selected) == 0 {
			return fmt.Errorf("no rule named %q", ruleName)
		}
	}

	valid := color.New(color.FgGreen, color.Bold).SprintFunc()
	invalid := color.New(color.FgRed).SprintFunc()

	for _, name := range names {
		base := filepath.Base(name)
		for _, rule := range selected {
			result := validator.Validate(models.NewCandidate(rule.Directory, base, time.Time{}, 0), rule)
			verdict := invalid(string(result.Verdict))
			if result.Verdict.IsValid() {
				verdict = valid(string(result.Verdict))
			}
			fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", base, rule.Label(), verdict, result.Reason)
		}
	}
	return nil
}
