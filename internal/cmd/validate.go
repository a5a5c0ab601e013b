package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/ingestagent/internal/config"
	"github.com/harrison/ingestagent/internal/scheduler"
)

// NewValidateCommand creates and returns the validate subcommand
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and the directories it names",
		Long: `Load and validate the configuration, then check that:
  - every watched directory exists and can be listed
  - the destination directory exists and can be read

Exit code: 0 if valid, 1 if errors found`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			return validateConfig(cfg, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	return cmd
}

// validateConfig prints one line per checked directory and returns an error
// when any of them is unusable.
func validateConfig(cfg *config.Config, out io.Writer) error {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()

	var problems []string
	check := func(label, dir string) {
		if err := listable(dir); err != nil {
			fmt.Fprintf(out, "  %s %s %s: %v\n", bad("✗"), label, dir, err)
			problems = append(problems, fmt.Sprintf("%s %s", label, dir))
			return
		}
		fmt.Fprintf(out, "  %s %s %s\n", ok("✓"), label, dir)
	}

	fmt.Fprintf(out, "Configuration: %d rule(s), %s every %s, storage %s\n",
		len(cfg.Rules), cfg.Schedule, cfg.PollInterval(), cfg.Storage.Driver)

	if err := scheduler.CheckDestination(cfg.Destination); err != nil {
		fmt.Fprintf(out, "  %s destination %s: %v\n", bad("✗"), cfg.Destination, err)
		problems = append(problems, "destination "+cfg.Destination)
	} else {
		fmt.Fprintf(out, "  %s destination %s\n", ok("✓"), cfg.Destination)
	}

	for _, rule := range cfg.Rules {
		check(fmt.Sprintf("rule %s (%s*%s %s)", rule.Name, rule.Prefix, rule.DateFormat, strings.Join(rule.Extensions, ",")), rule.Directory)
	}

	if len(problems) > 0 {
		fmt.Fprintf(out, "\nValidation failed: %d problem(s)\n", len(problems))
		return fmt.Errorf("validation failed: %s", strings.Join(problems, "; "))
	}
	fmt.Fprintln(out, "\nConfiguration is valid")
	return nil
}

func listable(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("not a directory")
	}
	_, err = f.Readdirnames(1)
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}
