package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"examgate/internal/biometric"
	"examgate/internal/verification"
	"examgate/pkg/domain"
	"examgate/pkg/platform/audit/publisher"
	"examgate/pkg/platform/audit/store/memory"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a full exam attempt: login, start checkpoint, end checkpoint, submit",
	Long: `Runs one exam attempt headlessly. The subject logs in and an exam session
starts, optionally enrolling the given captures first. The start checkpoint
verifies face and voice, then the end checkpoint verifies them again and
submits the session. The end checkpoint reuses the start files unless
--end-face and --end-voice are given.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	addSubjectFlags(runCmd)
	runCmd.Flags().String("face", "", "Face image presented at the start checkpoint")
	runCmd.Flags().String("voice", "", "Voice clip presented at the start checkpoint")
	runCmd.Flags().String("end-face", "", "Face image presented at the end checkpoint")
	runCmd.Flags().String("end-voice", "", "Voice clip presented at the end checkpoint")
	runCmd.Flags().Bool("enroll", false, "Enroll the start captures before verifying")
	runCmd.Flags().Float64("liveness-score", 0, "Liveness score sent at session start")
	runCmd.Flags().Bool("finalize", true, "Retry submission once if the end checkpoint passed but was not accepted")
	runCmd.Flags().Bool("report", true, "Print the session report afterwards")
	runCmd.Flags().Bool("trail", false, "Print the audit trail of the attempt")
	_ = runCmd.MarkFlagRequired("face")
	_ = runCmd.MarkFlagRequired("voice")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	creds := subjectFlags(cmd)

	in := flowInput{
		creds: verification.Credentials{
			Email:    creds.email,
			Password: creds.password,
			Liveness: liveness(mustGetFloat64(cmd, "liveness-score"), cmd.Flags().Changed("liveness-score")),
		},
		finalize: mustGetBool(cmd, "finalize"),
	}
	if in.start, err = loadPair(mustGetString(cmd, "face"), mustGetString(cmd, "voice"), cfg.Capture.MaxArtifactBytes); err != nil {
		return err
	}
	endFace, endVoice := mustGetString(cmd, "end-face"), mustGetString(cmd, "end-voice")
	if endFace == "" {
		endFace = mustGetString(cmd, "face")
	}
	if endVoice == "" {
		endVoice = mustGetString(cmd, "voice")
	}
	if in.end, err = loadPair(endFace, endVoice, cfg.Capture.MaxArtifactBytes); err != nil {
		return err
	}
	if mustGetBool(cmd, "enroll") {
		enroll, err := loadPair(mustGetString(cmd, "face"), mustGetString(cmd, "voice"), cfg.Capture.MaxArtifactBytes)
		if err != nil {
			return err
		}
		in.enroll = &enroll
	}

	client, closeClient, err := newClient(ctx, cfg, log, creds.email, creds.subject)
	if err != nil {
		return err
	}
	defer closeClient()

	trail := publisher.NewPublisher(memory.NewInMemoryStore(), publisher.WithLogger(log))
	defer trail.Close()
	attemptID := domain.NewAttemptID()
	machine, err := verification.New(client,
		verification.WithLogger(log),
		verification.WithAuditPublisher(trail),
		verification.WithAttemptID(attemptID),
		verification.WithDevice("examctl"),
		verification.WithSettings(verification.SessionSettings{
			DurationMinutes: cfg.Exam.DurationMinutes,
			Schedule:        cfg.Exam.Schedule,
			IntervalMinutes: cfg.Exam.IntervalMinutes,
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create state machine: %w", err)
	}

	state, flowErr := runFlow(ctx, machine, in, os.Stdout)

	if mustGetBool(cmd, "trail") {
		if err := printTrail(ctx, os.Stdout, trail, attemptID); err != nil {
			log.WarnContext(ctx, "could not read audit trail", "error", err)
		}
	}
	if mustGetBool(cmd, "report") && state.HasSession() {
		if err := reportSession(ctx, os.Stdout, client, state.SessionID); err != nil {
			log.WarnContext(ctx, "could not fetch session report", "error", err)
		}
	}
	return flowErr
}

func loadPair(facePath, voicePath string, maxBytes int64) (checkpointFiles, error) {
	face, err := loadArtifact(domain.ModalityFace, facePath, maxBytes)
	if err != nil {
		return checkpointFiles{}, err
	}
	voice, err := loadArtifact(domain.ModalityVoice, voicePath, maxBytes)
	if err != nil {
		return checkpointFiles{}, err
	}
	return checkpointFiles{face: face, voice: voice}, nil
}

func reportSession(ctx context.Context, out io.Writer, client *biometric.Client, sessionID domain.ExamSessionID) error {
	m, err := client.SessionMetrics(ctx, sessionID)
	if err != nil {
		return err
	}
	entries, err := client.SessionDetails(ctx, sessionID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	printReport(out, m, entries)
	return nil
}

func printTrail(ctx context.Context, out io.Writer, trail *publisher.Publisher, attemptID domain.AttemptID) error {
	events, err := trail.List(ctx, attemptID)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tCHECKPOINT\tDECISION\tREASON")
	fmt.Fprintln(w, "----\t------\t----------\t--------\t------")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ev.Timestamp.Format("15:04:05.000"), ev.Action, dash(ev.Checkpoint), dash(ev.Decision), dash(ev.Reason))
	}
	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
