package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"examgate/internal/biometric"
	"examgate/internal/capture"
	"examgate/internal/verification"
	"examgate/pkg/domain"
)

var errRejected = errors.New("checkpoint rejected")

// checkpointFiles are the captures presented at one checkpoint.
type checkpointFiles struct {
	face  *capture.Artifact
	voice *capture.Artifact
}

type flowInput struct {
	creds    verification.Credentials
	enroll   *checkpointFiles // nil skips enrollment
	start    checkpointFiles
	end      checkpointFiles
	finalize bool
}

// runFlow walks one attempt from login to submission and prints each step. A
// rejected checkpoint stops the flow with errRejected.
func runFlow(ctx context.Context, m *verification.Machine, in flowInput, out io.Writer) (verification.State, error) {
	state, err := m.Authenticate(ctx, in.creds)
	if err != nil {
		return state, fmt.Errorf("failed to start session: %w", err)
	}
	fmt.Fprintf(out, "Logged in as subject %s, exam session %s\n", state.SubjectID, state.SessionID)

	if in.enroll != nil {
		for _, art := range []*capture.Artifact{in.enroll.face, in.enroll.voice} {
			enrollment, err := m.Enroll(ctx, art)
			if err != nil {
				return m.Snapshot(), fmt.Errorf("failed to enroll %s: %w", art.Modality, err)
			}
			fmt.Fprintf(out, "Enrolled %s (biometric id %d, mock %t)\n", art.Modality, enrollment.BiometricID, enrollment.MockUsed)
		}
	}

	result, err := m.VerifyCheckpoint(ctx, domain.CheckpointStart, in.start.face, in.start.voice)
	if err != nil {
		return result.State, fmt.Errorf("start checkpoint: %w", err)
	}
	printCheckpoint(out, result)
	if !result.Passed {
		return result.State, fmt.Errorf("start: %w", errRejected)
	}

	if state, err = m.SubmitExam(ctx); err != nil {
		return state, fmt.Errorf("failed to request submission: %w", err)
	}

	result, err = m.VerifyCheckpoint(ctx, domain.CheckpointEnd, in.end.face, in.end.voice)
	if err != nil {
		return result.State, fmt.Errorf("end checkpoint: %w", err)
	}
	printCheckpoint(out, result)
	if !result.Passed {
		return result.State, fmt.Errorf("end: %w", errRejected)
	}
	state = result.State
	if !result.Submitted && in.finalize {
		fmt.Fprintln(out, "Submission not accepted, retrying once")
		if state, err = m.Finalize(ctx); err != nil {
			return state, fmt.Errorf("failed to finalize: %w", err)
		}
	}
	if state.Phase != verification.PhaseSubmitted {
		return state, fmt.Errorf("exam session %s was not accepted for submission", state.SessionID)
	}
	fmt.Fprintf(out, "Exam session %s submitted\n", state.SessionID)
	return state, nil
}

func printCheckpoint(out io.Writer, r verification.CheckpointResult) {
	verdict := "REJECTED"
	if r.Passed {
		verdict = "PASSED"
	}
	fmt.Fprintf(out, "%s checkpoint %s\n", r.Checkpoint, verdict)
	for _, o := range []verification.ModalityOutcome{r.Face, r.Voice} {
		fmt.Fprintf(out, "  %-5s %s\n", o.Modality, describeOutcome(o))
	}
}

func describeOutcome(o verification.ModalityOutcome) string {
	if o.Err != nil {
		return "error: " + o.Err.Error()
	}
	desc := "no match"
	if o.Verdict.Matched {
		desc = "match"
	}
	if o.Verdict.Score != nil {
		desc += fmt.Sprintf(" score=%s", formatScore(o.Verdict.Score))
	}
	if o.Verdict.Threshold != nil {
		desc += fmt.Sprintf(" threshold=%s", formatScore(o.Verdict.Threshold))
	}
	if o.Verdict.MockUsed {
		desc += " (mock)"
	}
	return desc
}

// liveness turns the --liveness-score flag into session start fields. The
// threshold is enforced upstream; here any positive score counts as live.
func liveness(score float64, set bool) *biometric.Liveness {
	if !set {
		return nil
	}
	return &biometric.Liveness{OK: score > 0, Score: score}
}
