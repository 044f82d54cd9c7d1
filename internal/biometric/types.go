package biometric

import (
	"time"

	"examgate/internal/capture"
	"examgate/pkg/domain"
)

// SessionRequest starts an exam session.
type SessionRequest struct {
	SubjectID       domain.SubjectID
	DurationMinutes int
	Schedule        domain.ScheduleKind
	// IntervalMinutes is sent only for interval schedules.
	IntervalMinutes int
	// Liveness is optional; when nil no liveness fields are sent.
	Liveness *Liveness
}

// Liveness is a motion score measured before the session starts.
type Liveness struct {
	OK    bool
	Score float64
}

// VerifyRequest checks one modality at one checkpoint.
type VerifyRequest struct {
	Checkpoint domain.Checkpoint
	Modality   domain.Modality
	SubjectID  domain.SubjectID
	SessionID  domain.ExamSessionID
	Artifact   *capture.Artifact
}

// Verdict is the remote match decision for one modality. Only Matched drives
// state; the rest is informational.
type Verdict struct {
	Matched   bool
	Score     *float64
	Threshold *float64
	Metric    string
	MockUsed  bool
}

// Enrollment is the result of storing a reference template.
type Enrollment struct {
	BiometricID int64
	MockUsed    bool
}

// SessionMetrics summarizes the verification events of a session. FRR and FAR
// are nil when the remote has no events to compute them from.
type SessionMetrics struct {
	SessionID domain.ExamSessionID
	Events    int
	FRR       *float64
	FAR       *float64
}

// LogEntry is one verification event recorded upstream.
type LogEntry struct {
	ID        int64
	Modality  string
	Phase     string
	Matched   bool
	Score     *float64
	Threshold *float64
	Metric    string
	MockUsed  bool
	CreatedAt time.Time
}
