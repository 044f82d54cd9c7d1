package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"examgate/internal/biometric"
	"examgate/pkg/domain"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the verification metrics and log of an exam session",
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.Flags().Int64("session", 0, "Exam session id")
	_ = reportCmd.MarkFlagRequired("session")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	sessionID := domain.ExamSessionID(mustGetInt64(cmd, "session"))
	if sessionID.IsNil() {
		return fmt.Errorf("--session must be a positive id")
	}
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	client, closeClient, err := newClient(ctx, cfg, log, "", 0)
	if err != nil {
		return err
	}
	defer closeClient()

	m, err := client.SessionMetrics(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to get session metrics: %w", err)
	}
	entries, err := client.SessionDetails(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to get session details: %w", err)
	}
	printReport(os.Stdout, m, entries)
	return nil
}

func printReport(out io.Writer, m biometric.SessionMetrics, entries []biometric.LogEntry) {
	fmt.Fprintf(out, "Session %s: %d events, FRR %s, FAR %s\n\n", m.SessionID, m.Events, formatRate(m.FRR), formatRate(m.FAR))
	if len(entries) == 0 {
		fmt.Fprintln(out, "No verification events recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tPHASE\tMODALITY\tMATCH\tSCORE\tTHRESHOLD\tMETRIC\tMOCK")
	fmt.Fprintln(w, "----\t-----\t--------\t-----\t-----\t---------\t------\t----")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\t%s\t%t\n",
			e.CreatedAt.Format("15:04:05"), e.Phase, e.Modality, e.Matched,
			formatScore(e.Score), formatScore(e.Threshold), e.Metric, e.MockUsed)
	}
	w.Flush()
}

func formatRate(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%%", *v*100)
}

func formatScore(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.3f", *v)
}
