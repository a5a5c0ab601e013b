package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/ingestagent/internal/models"
	"github.com/harrison/ingestagent/internal/store"
)

// NewHistoryCommand creates the history command
func NewHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded outcomes",
		Long: `Query the outcome store.

Times accept RFC 3339 (2024-01-15T06:00:00Z) or a plain date (2024-01-15,
meaning midnight UTC). --since is inclusive, --until exclusive.

Examples:
  ingestagent history --source /srv/drop/a/PL_20240115.m3u
  ingestagent history --since 2024-01-15 --until 2024-01-16 --json`,
		Args: cobra.NoArgs,
		RunE: historyCommand,
	}

	cmd.Flags().String("source", "", "Only records for this source path")
	cmd.Flags().String("since", "", "Only records attempted at or after this time")
	cmd.Flags().String("until", "", "Only records attempted before this time")
	cmd.Flags().Int("limit", 100, "Maximum number of records (0 = no limit)")
	cmd.Flags().Bool("json", false, "Print records as JSON")

	return cmd
}

func historyCommand(cmd *cobra.Command, _ []string) error {
	var f store.Filter
	var err error

	f.SourcePath, _ = cmd.Flags().GetString("source")
	f.Limit, _ = cmd.Flags().GetInt("limit")
	if f.Limit < 0 {
		return fmt.Errorf("--limit must not be negative")
	}
	if s, _ := cmd.Flags().GetString("since"); s != "" {
		if f.Since, err = parseTime(s); err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
	}
	if s, _ := cmd.Flags().GetString("until"); s != "" {
		if f.Until, err = parseTime(s); err != nil {
			return fmt.Errorf("invalid --until: %w", err)
		}
	}
	asJSON, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return err
	}

	st, err := openStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.Outcomes(cmd.Context(), f)
	if err != nil {
		return err
	}

	if asJSON {
		return writeJSON(cmd.OutOrStdout(), records)
	}
	return writeTable(cmd.OutOrStdout(), records)
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}

// recordJSON is the --json shape of an OutcomeRecord.
type recordJSON struct {
	ID            string     `json:"id"`
	Rule          string     `json:"rule,omitempty"`
	SourcePath    string     `json:"source_path"`
	SourceModTime time.Time  `json:"source_mtime"`
	Destination   *string    `json:"destination_path"`
	Verdict       string     `json:"verdict"`
	Reason        string     `json:"reason,omitempty"`
	FileDate      *time.Time `json:"file_date,omitempty"`
	FileVersion   string     `json:"file_version,omitempty"`
	AttemptedAt   time.Time  `json:"attempted_at"`
	Error         *string    `json:"error,omitempty"`
}

func writeJSON(out io.Writer, records []models.OutcomeRecord) error {
	rows := make([]recordJSON, len(records))
	for i, r := range records {
		rows[i] = recordJSON{
			ID:            r.ID,
			Rule:          r.RuleName,
			SourcePath:    r.SourcePath,
			SourceModTime: r.SourceModTime,
			Destination:   r.DestinationPath,
			Verdict:       string(r.Verdict),
			Reason:        r.Reason,
			FileDate:      r.FileDate,
			FileVersion:   r.FileVersion,
			AttemptedAt:   r.Timestamp,
			Error:         r.ErrorDetail,
		}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rows)
}

func writeTable(out io.Writer, records []models.OutcomeRecord) error {
	if len(records) == 0 {
		fmt.Fprintln(out, "No records found")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ATTEMPTED\tRULE\tVERDICT\tSOURCE\tDESTINATION\tREASON")
	for _, r := range records {
		dest := r.Destination()
		if dest == "" {
			dest = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Timestamp.Format(time.RFC3339), r.RuleName, r.Verdict, r.SourcePath, dest, r.Reason)
	}
	return tw.Flush()
}
