package main

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"examgate/internal/biometric"
	"examgate/internal/capture"
	"examgate/internal/verification"
	"examgate/internal/verification/mocks"
	"examgate/pkg/domain"
)

func faceJPEG(t *testing.T) []byte {
	t.Helper()
	data, err := capture.EncodeSnapshot(capture.SolidFrame(32, 24, color.Gray{Y: 128}), 0)
	require.NoError(t, err)
	return data
}

func voiceWAV(t *testing.T) []byte {
	t.Helper()
	data, err := capture.EncodeWAVPCM16LE(make([]byte, 3200), 16000, 1)
	require.NoError(t, err)
	return data
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func pair(t *testing.T) checkpointFiles {
	t.Helper()
	face, err := capture.FromUpload(domain.ModalityFace, "face.jpg", "image/jpeg", faceJPEG(t), 1<<20, time.Now())
	require.NoError(t, err)
	voice, err := capture.FromUpload(domain.ModalityVoice, "voice.wav", "audio/wav", voiceWAV(t), 1<<20, time.Now())
	require.NoError(t, err)
	return checkpointFiles{face: face, voice: voice}
}

func newFlowMachine(t *testing.T) (*verification.Machine, *mocks.MockVerifier) {
	t.Helper()
	ctrl := gomock.NewController(t)
	verifier := mocks.NewMockVerifier(ctrl)
	m, err := verification.New(verifier,
		verification.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		verification.WithAttemptID(domain.NewAttemptID()),
	)
	require.NoError(t, err)
	return m, verifier
}

func expectLogin(v *mocks.MockVerifier, live *biometric.Liveness) {
	v.EXPECT().Authenticate(gomock.Any(), "a@x.com", "p").Return(domain.SubjectID(7), nil)
	v.EXPECT().StartExamSession(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req biometric.SessionRequest) (domain.ExamSessionID, error) {
			if live == nil {
				if req.Liveness != nil {
					return 0, errors.New("unexpected liveness")
				}
			} else if req.Liveness == nil || *req.Liveness != *live {
				return 0, errors.New("liveness not forwarded")
			}
			return domain.ExamSessionID(42), nil
		})
}

func expectVerdicts(v *mocks.MockVerifier, cp domain.Checkpoint, face, voice bool) {
	v.EXPECT().Verify(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req biometric.VerifyRequest) (biometric.Verdict, error) {
			if req.Checkpoint != cp {
				return biometric.Verdict{}, errors.New("wrong checkpoint")
			}
			if req.Modality == domain.ModalityFace {
				return biometric.Verdict{Matched: face}, nil
			}
			return biometric.Verdict{Matched: voice}, nil
		}).Times(2)
}

func TestRunFlow_Submits(t *testing.T) {
	m, v := newFlowMachine(t)
	live := liveness(0.4, true)
	expectLogin(v, live)
	v.EXPECT().Enroll(gomock.Any(), domain.SubjectID(7), gomock.Any()).Return(biometric.Enrollment{BiometricID: 1}, nil).Times(2)
	expectVerdicts(v, domain.CheckpointStart, true, true)
	expectVerdicts(v, domain.CheckpointEnd, true, true)
	v.EXPECT().SubmitSession(gomock.Any(), domain.SubjectID(7), domain.ExamSessionID(42)).Return(true, nil)

	enroll := pair(t)
	var out bytes.Buffer
	state, err := runFlow(context.Background(), m, flowInput{
		creds:  verification.Credentials{Email: "a@x.com", Password: "p", Liveness: live},
		enroll: &enroll,
		start:  pair(t),
		end:    pair(t),
	}, &out)

	require.NoError(t, err)
	assert.Equal(t, verification.PhaseSubmitted, state.Phase)
	assert.True(t, state.StartVerified)
	assert.True(t, state.EndVerified)
	assert.Contains(t, out.String(), "Logged in as subject 7, exam session 42")
	assert.Contains(t, out.String(), "Enrolled face")
	assert.Contains(t, out.String(), "start checkpoint PASSED")
	assert.Contains(t, out.String(), "end checkpoint PASSED")
	assert.Contains(t, out.String(), "Exam session 42 submitted")
}

func TestRunFlow_StartRejected(t *testing.T) {
	m, v := newFlowMachine(t)
	expectLogin(v, nil)
	expectVerdicts(v, domain.CheckpointStart, true, false)

	var out bytes.Buffer
	state, err := runFlow(context.Background(), m, flowInput{
		creds: verification.Credentials{Email: "a@x.com", Password: "p"},
		start: pair(t),
		end:   pair(t),
	}, &out)

	require.ErrorIs(t, err, errRejected)
	assert.Equal(t, verification.PhaseAuthenticated, state.Phase)
	assert.False(t, state.StartVerified)
	assert.Contains(t, out.String(), "start checkpoint REJECTED")
	assert.Contains(t, out.String(), "voice no match")
}

func TestRunFlow_FinalizeRetriesUnacceptedSubmit(t *testing.T) {
	m, v := newFlowMachine(t)
	expectLogin(v, nil)
	expectVerdicts(v, domain.CheckpointStart, true, true)
	expectVerdicts(v, domain.CheckpointEnd, true, true)
	gomock.InOrder(
		v.EXPECT().SubmitSession(gomock.Any(), domain.SubjectID(7), domain.ExamSessionID(42)).Return(false, nil),
		v.EXPECT().SubmitSession(gomock.Any(), domain.SubjectID(7), domain.ExamSessionID(42)).Return(true, nil),
	)

	var out bytes.Buffer
	state, err := runFlow(context.Background(), m, flowInput{
		creds:    verification.Credentials{Email: "a@x.com", Password: "p"},
		start:    pair(t),
		end:      pair(t),
		finalize: true,
	}, &out)

	require.NoError(t, err)
	assert.Equal(t, verification.PhaseSubmitted, state.Phase)
	assert.Contains(t, out.String(), "retrying once")
}

func TestRunFlow_UnacceptedWithoutFinalize(t *testing.T) {
	m, v := newFlowMachine(t)
	expectLogin(v, nil)
	expectVerdicts(v, domain.CheckpointStart, true, true)
	expectVerdicts(v, domain.CheckpointEnd, true, true)
	v.EXPECT().SubmitSession(gomock.Any(), gomock.Any(), gomock.Any()).Return(false, nil)

	state, err := runFlow(context.Background(), m, flowInput{
		creds: verification.Credentials{Email: "a@x.com", Password: "p"},
		start: pair(t),
		end:   pair(t),
	}, io.Discard)

	require.Error(t, err)
	assert.Equal(t, verification.PhaseEndVerifying, state.Phase)
	assert.True(t, state.EndVerified)
}

func TestLoadArtifact(t *testing.T) {
	t.Run("face image", func(t *testing.T) {
		art, err := loadArtifact(domain.ModalityFace, writeFile(t, "me.jpg", faceJPEG(t)), 1<<20)
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", art.ContentType)
		assert.Equal(t, "me.jpg", art.Filename)
		assert.Equal(t, capture.SourceUpload, art.Source)
	})
	t.Run("voice clip", func(t *testing.T) {
		art, err := loadArtifact(domain.ModalityVoice, writeFile(t, "me.wav", voiceWAV(t)), 1<<20)
		require.NoError(t, err)
		assert.Equal(t, domain.ModalityVoice, art.Modality)
	})
	t.Run("wrong media for modality", func(t *testing.T) {
		_, err := loadArtifact(domain.ModalityFace, writeFile(t, "me.wav", voiceWAV(t)), 1<<20)
		require.Error(t, err)
	})
	t.Run("too large", func(t *testing.T) {
		_, err := loadArtifact(domain.ModalityFace, writeFile(t, "me.jpg", faceJPEG(t)), 16)
		require.ErrorContains(t, err, "exceeds")
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := loadArtifact(domain.ModalityFace, filepath.Join(t.TempDir(), "nope.jpg"), 1<<20)
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestPrintReport(t *testing.T) {
	frr := 0.25
	score := 0.91
	var out bytes.Buffer
	printReport(&out, biometric.SessionMetrics{SessionID: 42, Events: 4, FRR: &frr}, []biometric.LogEntry{
		{Modality: "face", Phase: "start", Matched: true, Score: &score, Metric: "cosine", CreatedAt: time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)},
	})

	assert.Contains(t, out.String(), "Session 42: 4 events, FRR 25.0%, FAR n/a")
	assert.Contains(t, out.String(), "09:30:00")
	assert.Contains(t, out.String(), "0.910")

	out.Reset()
	printReport(&out, biometric.SessionMetrics{SessionID: 42}, nil)
	assert.Contains(t, out.String(), "No verification events recorded.")
}

func TestLiveness(t *testing.T) {
	assert.Nil(t, liveness(0.8, false))
	assert.Equal(t, &biometric.Liveness{OK: true, Score: 0.8}, liveness(0.8, true))
	assert.Equal(t, &biometric.Liveness{OK: false, Score: 0}, liveness(0, true))
}
