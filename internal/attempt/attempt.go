// Package attempt keeps one in-memory record per browser tab: its state
// machine, capture hardware, captured artifacts and retry counters. Nothing
// here is persisted; a restart or expiry starts the subject over at login.
package attempt

import (
	"context"
	"sync"
	"time"

	"examgate/internal/capture"
	"examgate/internal/verification"
	"examgate/pkg/domain"
	dErrors "examgate/pkg/domain-errors"
)

// Attempt is one tab's walk through the verification flow.
type Attempt struct {
	ID        domain.AttemptID
	Device    string
	CreatedAt time.Time

	Machine *verification.Machine
	// Feed is the browser side of the camera and microphone.
	Feed *capture.RemoteDevice
	Tray *Tray

	captureOpts capture.Options
	maxFailures int

	mu       sync.Mutex
	capture  *capture.Session
	lastSeen time.Time
	failures map[domain.Checkpoint]int
	closed   bool
}

func newAttempt(id domain.AttemptID, device string, machine *verification.Machine, opts capture.Options, maxFailures int, now time.Time) *Attempt {
	feed := capture.NewRemoteDevice()
	return &Attempt{
		ID:          id,
		Device:      device,
		CreatedAt:   now,
		Machine:     machine,
		Feed:        feed,
		Tray:        NewTray(),
		captureOpts: opts,
		maxFailures: maxFailures,
		capture:     capture.NewSession(feed, opts),
		lastSeen:    now,
		failures:    make(map[domain.Checkpoint]int),
	}
}

// Capture returns the current capture session.
func (a *Attempt) Capture() *capture.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capture
}

func (a *Attempt) touch(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if now.After(a.lastSeen) {
		a.lastSeen = now
	}
}

// LastSeen is the time of the last request made for this attempt.
func (a *Attempt) LastSeen() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastSeen
}

// Failures returns how many rejected verdicts cp has collected since it last
// passed.
func (a *Attempt) Failures(cp domain.Checkpoint) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failures[cp]
}

// VerifyCheckpoint runs cp with the artifacts in the tray. Once the verify
// calls are issued both artifacts are consumed whatever the outcome, so a retry
// needs a fresh capture. A checkpoint the machine refuses up front (missing
// artifact, wrong phase, one already in flight) consumes nothing.
func (a *Attempt) VerifyCheckpoint(ctx context.Context, cp domain.Checkpoint) (verification.CheckpointResult, error) {
	if a.maxFailures > 0 && a.Failures(cp) >= a.maxFailures {
		return verification.CheckpointResult{Checkpoint: cp, State: a.Machine.Snapshot()},
			dErrors.New(dErrors.CodeTooManyRequests, "too many failed attempts at the "+string(cp)+" checkpoint; start over")
	}

	face, voice := a.Tray.TakePair()
	result, err := a.Machine.VerifyCheckpoint(ctx, cp, face, voice)
	if !result.Issued {
		a.Tray.Restore(face, voice)
	}

	a.mu.Lock()
	switch {
	case result.Passed:
		delete(a.failures, cp)
	case err == nil:
		a.failures[cp]++
	}
	a.mu.Unlock()
	return result, err
}

// Reset abandons the flow, drops held artifacts and counters and releases the
// camera and microphone. The attempt itself stays usable for a new login.
func (a *Attempt) Reset(ctx context.Context, reason string) verification.State {
	state := a.Machine.Reset(ctx, reason)
	a.Tray.Clear()

	a.mu.Lock()
	old := a.capture
	clear(a.failures)
	if !a.closed {
		a.capture = capture.NewSession(a.Feed, a.captureOpts)
	}
	a.mu.Unlock()

	old.Close()
	return state
}

// close releases everything; the attempt must not be used afterwards.
func (a *Attempt) close(ctx context.Context, reason string) {
	a.Machine.Reset(ctx, reason)
	a.Tray.Clear()

	a.mu.Lock()
	a.closed = true
	session := a.capture
	a.mu.Unlock()

	session.Close()
	a.Feed.Detach()
}
