package attempt

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"examgate/internal/biometric"
	"examgate/internal/capture"
	"examgate/internal/platform/metrics"
	"examgate/internal/verification"
	"examgate/internal/verification/mocks"
	"examgate/pkg/domain"
	dErrors "examgate/pkg/domain-errors"
	"examgate/pkg/platform/sentinel"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type RegistrySuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	verifier *mocks.MockVerifier
	clock    *fakeClock
	metrics  *metrics.Metrics
	registry *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.verifier = mocks.NewMockVerifier(s.ctrl)
	s.clock = &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s.metrics = metrics.New(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry, err := NewRegistry(
		func(id domain.AttemptID, device string) (*verification.Machine, error) {
			return verification.New(s.verifier,
				verification.WithAttemptID(id),
				verification.WithDevice(device),
				verification.WithLogger(logger),
			)
		},
		Config{TTL: time.Hour, MaxCheckpointAttempts: 2, Capture: capture.Options{Now: s.clock.Now}},
		WithClock(s.clock.Now),
		WithMetrics(s.metrics),
		WithLogger(logger),
	)
	s.Require().NoError(err)
	s.registry = registry
}

func (s *RegistrySuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *RegistrySuite) loggedIn() *Attempt {
	a, err := s.registry.Create(context.Background(), "")
	s.Require().NoError(err)
	s.verifier.EXPECT().Authenticate(gomock.Any(), "a@x.com", "p").Return(domain.SubjectID(7), nil)
	s.verifier.EXPECT().StartExamSession(gomock.Any(), gomock.Any()).Return(domain.ExamSessionID(42), nil)
	_, err = a.Machine.Authenticate(context.Background(), verification.Credentials{Email: "a@x.com", Password: "p"})
	s.Require().NoError(err)
	return a
}

func fill(a *Attempt) {
	_ = a.Tray.Put(&capture.Artifact{Modality: domain.ModalityFace, Data: []byte{1}})
	_ = a.Tray.Put(&capture.Artifact{Modality: domain.ModalityVoice, Data: []byte{2}})
}

func (s *RegistrySuite) TestNewRegistry() {
	_, err := NewRegistry(nil, Config{TTL: time.Hour})
	s.ErrorContains(err, "machine factory is required")

	_, err = NewRegistry(func(domain.AttemptID, string) (*verification.Machine, error) { return nil, nil }, Config{})
	s.ErrorContains(err, "ttl")
}

func (s *RegistrySuite) TestCreateAndGet() {
	ctx := context.Background()
	a, err := s.registry.Create(ctx, "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	s.Require().NoError(err)
	s.Contains(a.Device, "Chrome")
	s.Equal(a.ID, a.Machine.AttemptID())
	s.Equal(1, s.registry.Len())
	s.Equal(1.0, promtest.ToFloat64(s.metrics.ActiveAttempts))

	got, err := s.registry.Get(ctx, a.ID)
	s.Require().NoError(err)
	s.Same(a, got)

	_, err = s.registry.Get(ctx, domain.NewAttemptID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RegistrySuite) TestExpiry() {
	ctx := context.Background()
	idle, err := s.registry.Create(ctx, "")
	s.Require().NoError(err)
	busy, err := s.registry.Create(ctx, "")
	s.Require().NoError(err)

	s.clock.Advance(40 * time.Minute)
	_, err = s.registry.Get(ctx, busy.ID)
	s.Require().NoError(err)

	s.clock.Advance(30 * time.Minute)
	s.Equal(1, s.registry.Sweep(ctx))
	s.Equal(1, s.registry.Len())

	_, err = s.registry.Get(ctx, idle.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	s.clock.Advance(2 * time.Hour)
	_, err = s.registry.Get(ctx, busy.ID)
	s.ErrorIs(err, sentinel.ErrExpired)
	s.Equal(0, s.registry.Len())
	s.Equal(0.0, promtest.ToFloat64(s.metrics.ActiveAttempts))
}

func (s *RegistrySuite) TestRemoveResetsMachine() {
	a := s.loggedIn()
	s.registry.Remove(context.Background(), a.ID, "logout")

	s.Equal(verification.PhaseUnauthenticated, a.Machine.Snapshot().Phase)
	s.Equal(0, s.registry.Len())
	s.registry.Remove(context.Background(), a.ID, "logout")
}

func (s *RegistrySuite) TestClose() {
	for range 3 {
		_, err := s.registry.Create(context.Background(), "")
		s.Require().NoError(err)
	}
	s.registry.Close(context.Background())
	s.Equal(0, s.registry.Len())
}

func (s *RegistrySuite) TestVerifyCheckpoint_MissingArtifactKeepsTray() {
	a := s.loggedIn()
	s.Require().NoError(a.Tray.Put(&capture.Artifact{Modality: domain.ModalityFace, Data: []byte{1}}))

	_, err := a.VerifyCheckpoint(context.Background(), domain.CheckpointStart)
	s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))
	s.True(a.Tray.Has(domain.ModalityFace))
	s.Equal(0, a.Failures(domain.CheckpointStart))
}

func (s *RegistrySuite) TestVerifyCheckpoint_WrongPhaseKeepsTray() {
	a := s.loggedIn()
	fill(a)

	result, err := a.VerifyCheckpoint(context.Background(), domain.CheckpointEnd)
	s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))
	s.False(result.Issued)
	s.Len(a.Tray.Held(), 2, "a refused attempt consumes nothing")
	s.Equal(0, a.Failures(domain.CheckpointEnd))
}

func (s *RegistrySuite) TestVerifyCheckpoint_InFlightKeepsNewCaptures() {
	ctx := context.Background()
	a := s.loggedIn()
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, biometric.VerifyRequest) (biometric.Verdict, error) {
			started <- struct{}{}
			<-release
			return biometric.Verdict{Matched: true}, nil
		}).Times(2)

	fill(a)
	done := make(chan error, 1)
	go func() {
		_, err := a.VerifyCheckpoint(ctx, domain.CheckpointStart)
		done <- err
	}()
	<-started
	<-started

	fill(a)
	result, err := a.VerifyCheckpoint(ctx, domain.CheckpointStart)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.False(result.Issued)
	s.Len(a.Tray.Held(), 2, "the second capture survives the refused click")

	close(release)
	s.Require().NoError(<-done)
	s.Equal(verification.PhaseInExam, a.Machine.Snapshot().Phase)
	s.Len(a.Tray.Held(), 2)
}

func (s *RegistrySuite) TestVerifyCheckpoint_ConsumesArtifactsAndBoundsRetries() {
	ctx := context.Background()
	a := s.loggedIn()
	s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).
		Return(biometric.Verdict{Matched: false}, nil).Times(4)

	for i := 1; i <= 2; i++ {
		fill(a)
		result, err := a.VerifyCheckpoint(ctx, domain.CheckpointStart)
		s.Require().NoError(err)
		s.False(result.Passed)
		s.Empty(a.Tray.Held(), "artifacts are single use")
		s.Equal(i, a.Failures(domain.CheckpointStart))
	}

	fill(a)
	_, err := a.VerifyCheckpoint(ctx, domain.CheckpointStart)
	s.True(dErrors.HasCode(err, dErrors.CodeTooManyRequests))
	s.Len(a.Tray.Held(), 2, "a refused attempt consumes nothing")

	a.Reset(ctx, "start over")
	s.Equal(0, a.Failures(domain.CheckpointStart))
	s.Empty(a.Tray.Held())
	s.Equal(verification.PhaseUnauthenticated, a.Machine.Snapshot().Phase)
}

func (s *RegistrySuite) TestVerifyCheckpoint_PassClearsFailures() {
	ctx := context.Background()
	a := s.loggedIn()
	gomock.InOrder(
		s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(biometric.Verdict{Matched: false}, nil).Times(2),
		s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(biometric.Verdict{Matched: true}, nil).Times(2),
	)

	fill(a)
	_, err := a.VerifyCheckpoint(ctx, domain.CheckpointStart)
	s.Require().NoError(err)
	s.Equal(1, a.Failures(domain.CheckpointStart))

	fill(a)
	result, err := a.VerifyCheckpoint(ctx, domain.CheckpointStart)
	s.Require().NoError(err)
	s.True(result.Passed)
	s.Equal(0, a.Failures(domain.CheckpointStart))
}

func (s *RegistrySuite) TestVerifyCheckpoint_RemoteErrorIsNotCounted() {
	a := s.loggedIn()
	s.verifier.EXPECT().Verify(gomock.Any(), gomock.Any()).Return(biometric.Verdict{}, errors.New("down")).Times(2)

	fill(a)
	_, err := a.VerifyCheckpoint(context.Background(), domain.CheckpointStart)
	s.True(dErrors.HasCode(err, dErrors.CodeRemoteUnavailable))
	s.Equal(0, a.Failures(domain.CheckpointStart))
	s.Empty(a.Tray.Held())
}
