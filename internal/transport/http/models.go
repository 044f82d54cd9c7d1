package httptransport

import (
	"time"

	"examgate/internal/attempt"
	"examgate/internal/biometric"
	"examgate/internal/capture"
	"examgate/internal/guard"
	"examgate/internal/verification"
	"examgate/pkg/domain"
	dErrors "examgate/pkg/domain-errors"
)

var errNoAttempt = dErrors.New(dErrors.CodeUnauthorized, "no active attempt; log in first")

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// StateResponse is what the UI needs to pick a screen and enable controls.
type StateResponse struct {
	AttemptID string             `json:"attempt_id,omitempty"`
	State     verification.State `json:"state"`
	Screen    guard.Screen       `json:"screen"`
	Held      []domain.Modality  `json:"held_artifacts"`
	Camera    bool               `json:"camera_open"`
	Recording bool               `json:"recording"`
}

func stateResponse(a *attempt.Attempt, state verification.State) StateResponse {
	resp := StateResponse{
		State:  state,
		Screen: guard.Landing(state),
		Held:   []domain.Modality{},
	}
	if a == nil {
		return resp
	}
	resp.AttemptID = a.ID.String()
	resp.Held = a.Tray.Held()
	_, resp.Camera = a.Capture().Camera()
	_, resp.Recording = a.Capture().Recording()
	return resp
}

// ArtifactResponse describes an artifact placed in the tray.
type ArtifactResponse struct {
	Modality    domain.Modality   `json:"modality"`
	ContentType string            `json:"content_type"`
	Bytes       int               `json:"bytes"`
	Source      string            `json:"source"`
	Held        []domain.Modality `json:"held_artifacts"`
}

func artifactResponse(art *capture.Artifact, held []domain.Modality) ArtifactResponse {
	return ArtifactResponse{
		Modality:    art.Modality,
		ContentType: art.ContentType,
		Bytes:       art.Size(),
		Source:      string(art.Source),
		Held:        held,
	}
}

type ModalityResponse struct {
	Matched   *bool    `json:"matched,omitempty"`
	Score     *float64 `json:"score,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func modalityResponse(o verification.ModalityOutcome) ModalityResponse {
	if o.Err != nil {
		return ModalityResponse{Error: dErrors.MessageOf(o.Err)}
	}
	matched := o.Verdict.Matched
	return ModalityResponse{Matched: &matched, Score: o.Verdict.Score, Threshold: o.Verdict.Threshold}
}

// CheckpointResponse reports one checkpoint attempt. A rejected checkpoint is
// a normal 200 with Passed false.
type CheckpointResponse struct {
	Checkpoint domain.Checkpoint `json:"checkpoint"`
	Passed     bool              `json:"passed"`
	Submitted  bool              `json:"submitted"`
	Face       ModalityResponse  `json:"face"`
	Voice      ModalityResponse  `json:"voice"`
	Failures   int               `json:"failures"`
	StateResponse
}

type EnrollResponse struct {
	Modality    domain.Modality `json:"modality"`
	BiometricID int64           `json:"biometric_id"`
	MockUsed    bool            `json:"mock_used"`
}

type ReportResponse struct {
	SessionID domain.ExamSessionID `json:"session_id"`
	Events    int                  `json:"events"`
	FRR       *float64             `json:"frr"`
	FAR       *float64             `json:"far"`
	Log       []ReportEntry        `json:"log"`
}

type ReportEntry struct {
	Modality  string    `json:"modality"`
	Phase     string    `json:"phase"`
	Matched   bool      `json:"match"`
	Score     *float64  `json:"score,omitempty"`
	Threshold *float64  `json:"threshold,omitempty"`
	Metric    string    `json:"metric,omitempty"`
	MockUsed  bool      `json:"mock_used"`
	CreatedAt time.Time `json:"created_at"`
}

func reportResponse(m biometric.SessionMetrics, log []biometric.LogEntry) ReportResponse {
	resp := ReportResponse{
		SessionID: m.SessionID,
		Events:    m.Events,
		FRR:       m.FRR,
		FAR:       m.FAR,
		Log:       make([]ReportEntry, 0, len(log)),
	}
	for _, e := range log {
		resp.Log = append(resp.Log, ReportEntry{
			Modality:  e.Modality,
			Phase:     e.Phase,
			Matched:   e.Matched,
			Score:     e.Score,
			Threshold: e.Threshold,
			Metric:    e.Metric,
			MockUsed:  e.MockUsed,
			CreatedAt: e.CreatedAt,
		})
	}
	return resp
}

type ScreenResponse struct {
	Screen guard.Screen       `json:"screen"`
	State  verification.State `json:"state"`
}
