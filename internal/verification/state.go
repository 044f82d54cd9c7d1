// Package verification owns the per-attempt session state and the machine that
// moves it through login, the start checkpoint, the exam and the end
// checkpoint.
package verification

import (
	"fmt"

	"examgate/pkg/domain"
	dErrors "examgate/pkg/domain-errors"
)

// Phase is where an attempt is in the verification flow.
type Phase string

const (
	PhaseUnauthenticated Phase = "unauthenticated"
	PhaseAuthenticated   Phase = "authenticated"
	PhaseStartVerifying  Phase = "start_verifying"
	PhaseStartVerified   Phase = "start_verified"
	PhaseInExam          Phase = "in_exam"
	PhaseEndVerifying    Phase = "end_verifying"
	PhaseSubmitted       Phase = "submitted"
)

func (p Phase) String() string { return string(p) }

// State is the session-scoped truth of one attempt. It is a value: Apply
// returns a new State and never mutates the receiver.
type State struct {
	Phase         Phase                `json:"phase"`
	SubjectID     domain.SubjectID     `json:"subject_id,omitempty"`
	SessionID     domain.ExamSessionID `json:"session_id,omitempty"`
	StartVerified bool                 `json:"start_verified"`
	EndVerified   bool                 `json:"end_verified"`
	// Epoch increases on every session start and reset. Remote results tagged
	// with an older epoch belong to a session that is no longer current.
	Epoch uint64 `json:"epoch"`
}

// NewState returns the initial state of a fresh attempt.
func NewState() State {
	return State{Phase: PhaseUnauthenticated}
}

// HasSubject reports whether a subject is logged in.
func (s State) HasSubject() bool { return !s.SubjectID.IsNil() }

// HasSession reports whether an exam session is active.
func (s State) HasSession() bool { return !s.SessionID.IsNil() }

// EventKind names an input to the state machine.
type EventKind string

const (
	EventAuthenticated     EventKind = "authenticated"
	EventSessionStarted    EventKind = "session_started"
	EventCheckpointStarted EventKind = "checkpoint_started"
	EventCheckpointPassed  EventKind = "checkpoint_passed"
	EventCheckpointFailed  EventKind = "checkpoint_failed"
	EventExamEntered       EventKind = "exam_entered"
	EventSubmitRequested   EventKind = "submit_requested"
	EventSubmitted         EventKind = "submitted"
	EventReset             EventKind = "reset"
)

// Event is one input to Apply. Checkpoint is set only for checkpoint events;
// SubjectID and SessionID only for the events that assign them.
type Event struct {
	Kind       EventKind
	Checkpoint domain.Checkpoint
	SubjectID  domain.SubjectID
	SessionID  domain.ExamSessionID
}

type transitionKey struct {
	from       Phase
	kind       EventKind
	checkpoint domain.Checkpoint
}

// transitions enumerates every allowed edge. Reset is handled separately since
// it is allowed from any phase.
var transitions = map[transitionKey]Phase{
	{PhaseUnauthenticated, EventAuthenticated, ""}: PhaseAuthenticated,
	{PhaseAuthenticated, EventAuthenticated, ""}:   PhaseAuthenticated,
	{PhaseAuthenticated, EventSessionStarted, ""}:  PhaseAuthenticated,

	{PhaseAuthenticated, EventCheckpointStarted, domain.CheckpointStart}: PhaseStartVerifying,
	{PhaseStartVerifying, EventCheckpointPassed, domain.CheckpointStart}: PhaseStartVerified,
	{PhaseStartVerifying, EventCheckpointFailed, domain.CheckpointStart}: PhaseAuthenticated,
	{PhaseStartVerified, EventExamEntered, ""}:                           PhaseInExam,

	{PhaseInExam, EventSubmitRequested, ""}: PhaseEndVerifying,

	{PhaseEndVerifying, EventCheckpointStarted, domain.CheckpointEnd}: PhaseEndVerifying,
	{PhaseEndVerifying, EventCheckpointPassed, domain.CheckpointEnd}:  PhaseEndVerifying,
	{PhaseEndVerifying, EventCheckpointFailed, domain.CheckpointEnd}:  PhaseEndVerifying,
	{PhaseEndVerifying, EventSubmitted, ""}:                           PhaseSubmitted,
}

// Can reports whether an event of kind at checkpoint is allowed in s, without
// looking at the event payload. It returns a precondition_failed error naming
// the missing condition.
func (s State) Can(kind EventKind, checkpoint domain.Checkpoint) error {
	if kind == EventReset {
		return nil
	}
	if _, ok := transitions[transitionKey{s.Phase, kind, checkpoint}]; !ok {
		return refused(kind, checkpoint, "not allowed in phase "+string(s.Phase))
	}

	switch kind {
	case EventAuthenticated:
		if s.HasSession() {
			return refused(kind, checkpoint, "an exam session is already active")
		}
	case EventSessionStarted:
		if !s.HasSubject() {
			return refused(kind, checkpoint, "no authenticated subject")
		}
		if s.HasSession() {
			return refused(kind, checkpoint, "an exam session is already active")
		}
	case EventCheckpointStarted, EventCheckpointPassed, EventCheckpointFailed:
		if !s.HasSubject() || !s.HasSession() {
			return refused(kind, checkpoint, "no active exam session")
		}
		switch checkpoint {
		case domain.CheckpointStart:
			if s.StartVerified {
				return refused(kind, checkpoint, "start checkpoint already passed")
			}
		case domain.CheckpointEnd:
			if !s.StartVerified {
				return refused(kind, checkpoint, "start checkpoint not passed")
			}
			if s.EndVerified {
				return refused(kind, checkpoint, "end checkpoint already passed")
			}
		}
	case EventExamEntered:
		if !s.StartVerified {
			return refused(kind, checkpoint, "start checkpoint not passed")
		}
	case EventSubmitted:
		if !s.StartVerified || !s.EndVerified {
			return refused(kind, checkpoint, "end checkpoint not passed")
		}
	}
	return nil
}

// Apply returns the state after ev, or an error and the unchanged state when
// ev is not allowed.
func (s State) Apply(ev Event) (State, error) {
	if ev.Kind == EventReset {
		return State{Phase: PhaseUnauthenticated, Epoch: s.Epoch + 1}, nil
	}
	if err := s.Can(ev.Kind, ev.Checkpoint); err != nil {
		return s, err
	}

	next := s
	next.Phase = transitions[transitionKey{s.Phase, ev.Kind, ev.Checkpoint}]

	switch ev.Kind {
	case EventAuthenticated:
		if ev.SubjectID.IsNil() {
			return s, dErrors.New(dErrors.CodeInvalidInput, "authenticated event without subject")
		}
		next.SubjectID = ev.SubjectID
	case EventSessionStarted:
		if ev.SessionID.IsNil() {
			return s, dErrors.New(dErrors.CodeInvalidInput, "session started event without session")
		}
		next.SessionID = ev.SessionID
		next.Epoch = s.Epoch + 1
	case EventCheckpointPassed:
		switch ev.Checkpoint {
		case domain.CheckpointStart:
			next.StartVerified = true
		case domain.CheckpointEnd:
			next.EndVerified = true
		}
	}
	return next, nil
}

func refused(kind EventKind, checkpoint domain.Checkpoint, why string) error {
	what := string(kind)
	if checkpoint != "" {
		what = fmt.Sprintf("%s(%s)", kind, checkpoint)
	}
	return dErrors.New(dErrors.CodePreconditionFailed, what+": "+why)
}
