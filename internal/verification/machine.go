package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"examgate/internal/biometric"
	"examgate/internal/capture"
	"examgate/internal/platform/metrics"
	"examgate/pkg/domain"
	dErrors "examgate/pkg/domain-errors"
	"examgate/pkg/platform/audit"
	"examgate/pkg/requestcontext"
)

// Verifier is the remote biometric capability the machine drives.
type Verifier interface {
	Authenticate(ctx context.Context, email, password string) (domain.SubjectID, error)
	StartExamSession(ctx context.Context, req biometric.SessionRequest) (domain.ExamSessionID, error)
	Verify(ctx context.Context, req biometric.VerifyRequest) (biometric.Verdict, error)
	SubmitSession(ctx context.Context, subjectID domain.SubjectID, sessionID domain.ExamSessionID) (bool, error)
	Enroll(ctx context.Context, subjectID domain.SubjectID, artifact *capture.Artifact) (biometric.Enrollment, error)
}

// AuditPublisher records flow events. Emission failures are logged and never
// change the outcome of a transition.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// SessionSettings are the parameters every exam session is started with.
type SessionSettings struct {
	DurationMinutes int
	Schedule        domain.ScheduleKind
	IntervalMinutes int
}

// DefaultSettings is a sixty minute start_end session.
func DefaultSettings() SessionSettings {
	return SessionSettings{DurationMinutes: 60, Schedule: domain.ScheduleStartEnd}
}

func (s SessionSettings) validate() error {
	if s.DurationMinutes <= 0 {
		return fmt.Errorf("session duration must be positive, got %d", s.DurationMinutes)
	}
	if !s.Schedule.IsValid() {
		return fmt.Errorf("unknown schedule kind %q", s.Schedule)
	}
	if s.Schedule == domain.ScheduleInterval && s.IntervalMinutes <= 0 {
		return fmt.Errorf("interval schedule needs a positive interval")
	}
	return nil
}

// Credentials start an attempt. Liveness is forwarded to session start when set.
type Credentials struct {
	Email    string
	Password string
	Liveness *biometric.Liveness
}

// ModalityOutcome is what one modality call produced. Err is set when the call
// itself failed; Verdict is meaningful only when Err is nil.
type ModalityOutcome struct {
	Modality domain.Modality
	Verdict  biometric.Verdict
	Err      error
}

// CheckpointResult is the outcome of one checkpoint attempt. Passed is true
// only when both modalities matched. Submitted reports whether the end
// checkpoint also completed the session upstream. Issued is false when the
// checkpoint was refused before any verify call went out.
type CheckpointResult struct {
	Checkpoint domain.Checkpoint
	Passed     bool
	Issued     bool
	Face       ModalityOutcome
	Voice      ModalityOutcome
	Submitted  bool
	State      State
}

type operation string

const (
	opAuthenticate operation = "authenticate"
	opVerifyStart  operation = "verify_start"
	opVerifyEnd    operation = "verify_end"
	opSubmit       operation = "submit"
	opEnroll       operation = "enroll"
)

func verifyOp(cp domain.Checkpoint) operation {
	if cp == domain.CheckpointEnd {
		return opVerifyEnd
	}
	return opVerifyStart
}

// Machine runs the verification flow of one attempt. Every composite
// operation holds a busy flag for its duration; starting the same operation
// again while it is in flight fails with conflict. Remote calls run without
// the lock and their results are applied only if the epoch they were issued
// under is still current.
type Machine struct {
	mu    sync.Mutex
	state State
	busy  map[operation]uint64
	token uint64

	verifier  Verifier
	settings  SessionSettings
	attemptID domain.AttemptID
	device    string
	auditor   AuditPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type Option func(*Machine)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) { m.logger = logger }
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(m *Machine) { m.auditor = publisher }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Machine) { m.metrics = mt }
}

func WithAttemptID(attemptID domain.AttemptID) Option {
	return func(m *Machine) { m.attemptID = attemptID }
}

// WithDevice labels audit events with the client device.
func WithDevice(device string) Option {
	return func(m *Machine) { m.device = device }
}

func WithSettings(settings SessionSettings) Option {
	return func(m *Machine) { m.settings = settings }
}

// New returns a machine in the unauthenticated phase.
func New(verifier Verifier, opts ...Option) (*Machine, error) {
	if verifier == nil {
		return nil, errors.New("verifier is required")
	}
	m := &Machine{
		state:    NewState(),
		busy:     make(map[operation]uint64),
		verifier: verifier,
		settings: DefaultSettings(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.settings.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// AttemptID returns the attempt this machine belongs to.
func (m *Machine) AttemptID() domain.AttemptID { return m.attemptID }

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Authenticate logs the subject in and starts an exam session. If login
// succeeds but session start fails the subject stays authenticated with no
// session; calling Authenticate again retries both steps. A submitted attempt
// is reset first.
func (m *Machine) Authenticate(ctx context.Context, creds Credentials) (State, error) {
	m.mu.Lock()
	var pending []audit.Event
	if m.state.Phase == PhaseSubmitted {
		pending = append(pending, m.resetLocked("new login after submission"))
	}
	if err := m.guardLocked(opAuthenticate, EventAuthenticated, ""); err != nil {
		state := m.state
		m.mu.Unlock()
		m.emit(ctx, pending...)
		return state, err
	}
	token := m.acquireLocked(opAuthenticate)
	epoch := m.state.Epoch
	m.mu.Unlock()
	m.emit(ctx, pending...)
	defer m.release(opAuthenticate, token)

	subjectID, err := m.verifier.Authenticate(ctx, creds.Email, creds.Password)
	if err != nil {
		m.logger.WarnContext(ctx, "authentication failed",
			"attempt_id", m.attemptID.String(),
			"error", err,
		)
		return m.Snapshot(), err
	}

	m.mu.Lock()
	if m.state.Epoch != epoch {
		m.mu.Unlock()
		return m.discard(ctx, opAuthenticate, "", epoch)
	}
	next, err := m.state.Apply(Event{Kind: EventAuthenticated, SubjectID: subjectID})
	if err != nil {
		state := m.state
		m.mu.Unlock()
		return state, err
	}
	m.state = next
	authenticated := m.eventLocked(audit.EventAttemptAuthenticated, "")
	m.mu.Unlock()
	m.emit(ctx, authenticated)

	sessionID, err := m.verifier.StartExamSession(ctx, biometric.SessionRequest{
		SubjectID:       subjectID,
		DurationMinutes: m.settings.DurationMinutes,
		Schedule:        m.settings.Schedule,
		IntervalMinutes: m.settings.IntervalMinutes,
		Liveness:        creds.Liveness,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "exam session start failed",
			"attempt_id", m.attemptID.String(),
			"subject_id", subjectID.String(),
			"error", err,
		)
		return m.Snapshot(), err
	}

	m.mu.Lock()
	if m.state.Epoch != epoch || m.state.SubjectID != subjectID {
		m.mu.Unlock()
		return m.discard(ctx, opAuthenticate, "", epoch)
	}
	next, err = m.state.Apply(Event{Kind: EventSessionStarted, SessionID: sessionID})
	if err != nil {
		state := m.state
		m.mu.Unlock()
		return state, err
	}
	m.state = next
	started := m.eventLocked(audit.EventExamSessionStarted, "")
	state := m.state
	m.mu.Unlock()
	m.emit(ctx, started)

	m.logger.InfoContext(ctx, "exam session started",
		"attempt_id", m.attemptID.String(),
		"subject_id", subjectID.String(),
		"session_id", sessionID.String(),
		"epoch", state.Epoch,
	)
	return state, nil
}

// VerifyCheckpoint verifies face and voice concurrently and passes the
// checkpoint only if both match. Missing artifacts are refused before any
// remote call. A passed start checkpoint enters the exam; a passed end
// checkpoint submits the session. A negative verdict is not an error: the
// result reports Passed=false. Remote failures are returned as
// remote_unavailable with the state left where a retry can resume.
func (m *Machine) VerifyCheckpoint(ctx context.Context, cp domain.Checkpoint, face, voice *capture.Artifact) (CheckpointResult, error) {
	result := CheckpointResult{
		Checkpoint: cp,
		Face:       ModalityOutcome{Modality: domain.ModalityFace},
		Voice:      ModalityOutcome{Modality: domain.ModalityVoice},
	}
	if !cp.IsValid() {
		result.State = m.Snapshot()
		return result, dErrors.New(dErrors.CodeInvalidInput, "unknown checkpoint: "+string(cp))
	}
	if face == nil || voice == nil {
		result.State = m.Snapshot()
		return result, dErrors.New(dErrors.CodePreconditionFailed, "both face and voice artifacts are required")
	}
	if face.Modality != domain.ModalityFace || voice.Modality != domain.ModalityVoice {
		result.State = m.Snapshot()
		return result, dErrors.New(dErrors.CodeInvalidInput, "artifacts do not match their modalities")
	}

	op := verifyOp(cp)
	m.mu.Lock()
	if err := m.guardLocked(op, EventCheckpointStarted, cp); err != nil {
		result.State = m.state
		m.mu.Unlock()
		return result, err
	}
	next, err := m.state.Apply(Event{Kind: EventCheckpointStarted, Checkpoint: cp})
	if err != nil {
		result.State = m.state
		m.mu.Unlock()
		return result, err
	}
	m.state = next
	token := m.acquireLocked(op)
	base := m.state
	m.mu.Unlock()
	defer m.release(op, token)

	result.Issued = true
	result.Face, result.Voice = m.verifyModalities(ctx, cp, base, face, voice)
	remoteErr := firstError(result.Face.Err, result.Voice.Err)
	passed := remoteErr == nil && result.Face.Verdict.Matched && result.Voice.Verdict.Matched

	m.mu.Lock()
	if m.state.Epoch != base.Epoch {
		m.mu.Unlock()
		state, err := m.discard(ctx, op, cp, base.Epoch)
		result.State = state
		return result, err
	}
	kind := EventCheckpointFailed
	if passed {
		kind = EventCheckpointPassed
	}
	if next, err = m.state.Apply(Event{Kind: kind, Checkpoint: cp}); err != nil {
		result.State = m.state
		m.mu.Unlock()
		return result, dErrors.Wrap(err, dErrors.CodeInvariantViolation, "checkpoint result could not be applied")
	}
	m.state = next
	if passed && cp == domain.CheckpointStart {
		if next, err = m.state.Apply(Event{Kind: EventExamEntered}); err == nil {
			m.state = next
		}
	}
	action := audit.EventCheckpointFailed
	if passed {
		action = audit.EventCheckpointPassed
	}
	ev := m.eventLocked(action, cp)
	ev.Decision = decision(passed, remoteErr)
	ev.Reason = outcomeReason(result.Face, result.Voice)
	result.Passed = passed
	result.State = m.state

	var submitToken uint64
	if passed && cp == domain.CheckpointEnd {
		submitToken = m.acquireLocked(opSubmit)
	}
	m.mu.Unlock()

	m.recordCheckpoint(ctx, cp, result, remoteErr)
	m.emit(ctx, ev)

	if remoteErr != nil {
		return result, asRemoteUnavailable(remoteErr)
	}
	if !passed || cp != domain.CheckpointEnd {
		return result, nil
	}

	defer m.release(opSubmit, submitToken)
	state, err := m.submit(ctx, result.State)
	result.State = state
	result.Submitted = state.Phase == PhaseSubmitted
	return result, err
}

// SubmitExam signals intent to finish the exam. It makes no remote call.
func (m *Machine) SubmitExam(ctx context.Context) (State, error) {
	m.mu.Lock()
	next, err := m.state.Apply(Event{Kind: EventSubmitRequested})
	if err != nil {
		state := m.state
		m.mu.Unlock()
		return state, err
	}
	m.state = next
	ev := m.eventLocked(audit.EventSubmitRequested, "")
	state := m.state
	m.mu.Unlock()
	m.emit(ctx, ev)
	return state, nil
}

// Finalize retries submission after the end checkpoint passed. It uses the
// already set end flag and needs no new artifacts.
func (m *Machine) Finalize(ctx context.Context) (State, error) {
	m.mu.Lock()
	if err := m.guardLocked(opSubmit, EventSubmitted, ""); err != nil {
		state := m.state
		m.mu.Unlock()
		return state, err
	}
	token := m.acquireLocked(opSubmit)
	base := m.state
	m.mu.Unlock()
	defer m.release(opSubmit, token)

	return m.submit(ctx, base)
}

// Enroll stores a reference template for the logged-in subject. It does not
// change the phase.
func (m *Machine) Enroll(ctx context.Context, artifact *capture.Artifact) (biometric.Enrollment, error) {
	if artifact == nil {
		return biometric.Enrollment{}, dErrors.New(dErrors.CodePreconditionFailed, "artifact is required")
	}
	m.mu.Lock()
	if !m.state.HasSubject() || m.state.Phase == PhaseSubmitted {
		m.mu.Unlock()
		return biometric.Enrollment{}, dErrors.New(dErrors.CodePreconditionFailed, "enrollment needs an authenticated subject")
	}
	if m.busy[opEnroll] != 0 {
		m.mu.Unlock()
		return biometric.Enrollment{}, dErrors.New(dErrors.CodeConflict, "enrollment already in progress")
	}
	token := m.acquireLocked(opEnroll)
	base := m.state
	m.mu.Unlock()
	defer m.release(opEnroll, token)

	enrollment, err := m.verifier.Enroll(ctx, base.SubjectID, artifact)
	if err != nil {
		return biometric.Enrollment{}, asRemoteUnavailable(err)
	}

	m.mu.Lock()
	ev := m.eventLocked(audit.EventBiometricEnrolled, "")
	ev.SubjectID = base.SubjectID
	ev.Modality = string(artifact.Modality)
	m.mu.Unlock()
	m.emit(ctx, ev)
	return enrollment, nil
}

// Reset abandons the attempt from any phase. In-flight results issued before
// the reset are discarded when they arrive.
func (m *Machine) Reset(ctx context.Context, reason string) State {
	m.mu.Lock()
	ev := m.resetLocked(reason)
	state := m.state
	m.mu.Unlock()
	m.emit(ctx, ev)
	m.logger.InfoContext(ctx, "attempt reset",
		"attempt_id", m.attemptID.String(),
		"reason", reason,
		"epoch", state.Epoch,
	)
	return state
}

func (m *Machine) submit(ctx context.Context, base State) (State, error) {
	accepted, err := m.verifier.SubmitSession(ctx, base.SubjectID, base.SessionID)

	m.mu.Lock()
	if m.state.Epoch != base.Epoch {
		m.mu.Unlock()
		return m.discard(ctx, opSubmit, domain.CheckpointEnd, base.Epoch)
	}
	if err != nil || !accepted {
		ev := m.eventLocked(audit.EventSubmitRejected, domain.CheckpointEnd)
		ev.Decision = "not_accepted"
		if err != nil {
			ev.Decision = "error"
			ev.Reason = dErrors.MessageOf(err)
		}
		state := m.state
		m.mu.Unlock()
		m.emit(ctx, ev)
		m.logger.WarnContext(ctx, "exam submission not completed",
			"attempt_id", m.attemptID.String(),
			"session_id", base.SessionID.String(),
			"accepted", accepted,
			"error", err,
		)
		if err != nil {
			return state, asRemoteUnavailable(err)
		}
		return state, nil
	}

	next, err := m.state.Apply(Event{Kind: EventSubmitted})
	if err != nil {
		state := m.state
		m.mu.Unlock()
		return state, err
	}
	m.state = next
	ev := m.eventLocked(audit.EventExamSubmitted, domain.CheckpointEnd)
	state := m.state
	m.mu.Unlock()
	m.emit(ctx, ev)

	m.logger.InfoContext(ctx, "exam submitted",
		"attempt_id", m.attemptID.String(),
		"session_id", state.SessionID.String(),
	)
	return state, nil
}

func (m *Machine) verifyModalities(ctx context.Context, cp domain.Checkpoint, base State, face, voice *capture.Artifact) (ModalityOutcome, ModalityOutcome) {
	outcomes := [2]ModalityOutcome{{Modality: domain.ModalityFace}, {Modality: domain.ModalityVoice}}
	artifacts := [2]*capture.Artifact{face, voice}

	// Both calls always run to completion; the verdict is a join, not a race.
	var g errgroup.Group
	for i := range outcomes {
		g.Go(func() error {
			verdict, err := m.verifier.Verify(ctx, biometric.VerifyRequest{
				Checkpoint: cp,
				Modality:   outcomes[i].Modality,
				SubjectID:  base.SubjectID,
				SessionID:  base.SessionID,
				Artifact:   artifacts[i],
			})
			outcomes[i].Verdict = verdict
			outcomes[i].Err = err
			return err
		})
	}
	_ = g.Wait()
	return outcomes[0], outcomes[1]
}

func (m *Machine) recordCheckpoint(ctx context.Context, cp domain.Checkpoint, result CheckpointResult, remoteErr error) {
	outcome := decision(result.Passed, remoteErr)
	if m.metrics != nil {
		m.metrics.IncrementCheckpointAttempt(string(cp), outcome)
		for _, o := range []ModalityOutcome{result.Face, result.Voice} {
			if o.Err == nil {
				m.metrics.IncrementModalityVerdict(string(cp), string(o.Modality), o.Verdict.Matched)
			}
		}
	}
	m.logger.InfoContext(ctx, "checkpoint attempted",
		"attempt_id", m.attemptID.String(),
		"checkpoint", string(cp),
		"outcome", outcome,
		"face_matched", result.Face.Err == nil && result.Face.Verdict.Matched,
		"voice_matched", result.Voice.Err == nil && result.Voice.Verdict.Matched,
	)
}

// discard drops a result issued under an epoch that is no longer current.
func (m *Machine) discard(ctx context.Context, op operation, cp domain.Checkpoint, epoch uint64) (State, error) {
	m.mu.Lock()
	ev := m.eventLocked(audit.EventVerdictDiscarded, cp)
	ev.Decision = "discarded"
	ev.Reason = fmt.Sprintf("%s issued at epoch %d, current epoch %d", op, epoch, m.state.Epoch)
	ev.Epoch = epoch
	state := m.state
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.IncrementStaleResult()
		if op == opVerifyStart || op == opVerifyEnd {
			m.metrics.IncrementCheckpointAttempt(string(cp), "stale")
		}
	}
	m.emit(ctx, ev)
	m.logger.WarnContext(ctx, "stale result discarded",
		"attempt_id", m.attemptID.String(),
		"operation", string(op),
		"issued_epoch", epoch,
		"current_epoch", state.Epoch,
	)
	return state, dErrors.New(dErrors.CodeStaleResult, "result belongs to a superseded session")
}

func (m *Machine) guardLocked(op operation, kind EventKind, cp domain.Checkpoint) error {
	if m.busy[op] != 0 {
		return dErrors.New(dErrors.CodeConflict, string(op)+" already in progress")
	}
	return m.state.Can(kind, cp)
}

func (m *Machine) acquireLocked(op operation) uint64 {
	m.token++
	m.busy[op] = m.token
	return m.token
}

// release clears op's busy flag unless a reset already cleared it and a newer
// operation holds it.
func (m *Machine) release(op operation, token uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy[op] == token {
		delete(m.busy, op)
	}
}

func (m *Machine) resetLocked(reason string) audit.Event {
	ev := m.eventLocked(audit.EventAttemptReset, "")
	ev.Reason = reason
	m.state, _ = m.state.Apply(Event{Kind: EventReset})
	clear(m.busy)
	return ev
}

func (m *Machine) eventLocked(action audit.AuditEvent, cp domain.Checkpoint) audit.Event {
	return audit.Event{
		AttemptID:  m.attemptID,
		SubjectID:  m.state.SubjectID,
		SessionID:  m.state.SessionID,
		Action:     string(action),
		Checkpoint: string(cp),
		Epoch:      m.state.Epoch,
		Device:     m.device,
	}
}

func (m *Machine) emit(ctx context.Context, events ...audit.Event) {
	if m.auditor == nil {
		return
	}
	for _, ev := range events {
		if ev.RequestID == "" {
			ev.RequestID = requestcontext.RequestID(ctx)
		}
		if err := m.auditor.Emit(ctx, ev); err != nil {
			m.logger.WarnContext(ctx, "audit emit failed",
				"action", ev.Action,
				"attempt_id", m.attemptID.String(),
				"error", err,
			)
		}
	}
}

func decision(passed bool, remoteErr error) string {
	switch {
	case remoteErr != nil:
		return "error"
	case passed:
		return "passed"
	default:
		return "rejected"
	}
}

func outcomeReason(face, voice ModalityOutcome) string {
	describe := func(o ModalityOutcome) string {
		switch {
		case o.Err != nil:
			return string(o.Modality) + "=error"
		case o.Verdict.Matched:
			return string(o.Modality) + "=match"
		default:
			return string(o.Modality) + "=no_match"
		}
	}
	return describe(face) + " " + describe(voice)
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// asRemoteUnavailable codes an error from the verifier that carries no code of
// its own.
func asRemoteUnavailable(err error) error {
	if err == nil {
		return nil
	}
	var coded *dErrors.Error
	if errors.As(err, &coded) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeRemoteUnavailable, "verification service unavailable")
}
