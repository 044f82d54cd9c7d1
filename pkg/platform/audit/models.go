package audit

import (
	"context"
	"time"

	id "examgate/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events that decide whether an exam result is
	// admissible: checkpoint verdicts and submissions.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers events relevant to tampering and forensics,
	// e.g. discarded stale verdicts or repeated rejected checkpoints.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine flow events that can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the verification flow to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category   EventCategory
	Timestamp  time.Time
	AttemptID  id.AttemptID
	SubjectID  id.SubjectID
	SessionID  id.ExamSessionID
	Action     string
	Checkpoint string
	Modality   string
	Decision   string
	Reason     string
	Epoch      uint64
	Device     string // user-agent derived label, when known
	RequestID  string
}

type AuditEvent string

const (
	EventAttemptAuthenticated AuditEvent = "attempt_authenticated"
	EventExamSessionStarted   AuditEvent = "exam_session_started"
	EventCheckpointPassed     AuditEvent = "checkpoint_passed"
	EventCheckpointFailed     AuditEvent = "checkpoint_failed"
	EventVerdictDiscarded     AuditEvent = "verdict_discarded"
	EventSubmitRequested      AuditEvent = "exam_submit_requested"
	EventExamSubmitted        AuditEvent = "exam_submitted"
	EventSubmitRejected       AuditEvent = "submit_rejected"
	EventAttemptReset         AuditEvent = "attempt_reset"
	EventBiometricEnrolled    AuditEvent = "biometric_enrolled"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCheckpointPassed: CategoryCompliance,
	EventExamSubmitted:    CategoryCompliance,
	EventSubmitRejected:   CategoryCompliance,

	EventCheckpointFailed: CategorySecurity,
	EventVerdictDiscarded: CategorySecurity,

	EventAttemptAuthenticated: CategoryOperations,
	EventExamSessionStarted:   CategoryOperations,
	EventSubmitRequested:      CategoryOperations,
	EventAttemptReset:         CategoryOperations,
	EventBiometricEnrolled:    CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Appender persists or forwards a single event.
type Appender interface {
	Append(ctx context.Context, event Event) error
}

// Store is an Appender that can also answer per-attempt queries.
type Store interface {
	Appender
	ListByAttempt(ctx context.Context, attemptID id.AttemptID) ([]Event, error)
}
