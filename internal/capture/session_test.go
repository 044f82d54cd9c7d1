package capture

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"
	"time"

	"examgate/pkg/domain"
	dErrors "examgate/pkg/domain-errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type fakeVideo struct {
	mu      sync.Mutex
	frame   Frame
	ok      bool
	stopped int
}

func (v *fakeVideo) Current() (Frame, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frame, v.ok
}

func (v *fakeVideo) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped++
	v.ok = false
}

func (v *fakeVideo) set(img image.Image) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.frame = Frame{Image: img, Seq: v.frame.Seq + 1}
	v.ok = true
}

type fakeAudio struct {
	format  AudioFormat
	stopped int
}

func (a *fakeAudio) Format() AudioFormat { return a.format }
func (a *fakeAudio) Stop()               { a.stopped++ }

type fakeDevice struct {
	video     *fakeVideo
	videoErr  error
	blockOpen bool
	audio     *fakeAudio
	audioErr  error
	sink      func([]byte)
}

func (d *fakeDevice) OpenVideo(ctx context.Context) (VideoTrack, error) {
	if d.blockOpen {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if d.videoErr != nil {
		return nil, d.videoErr
	}
	return d.video, nil
}

func (d *fakeDevice) OpenAudio(_ context.Context, sink func([]byte)) (AudioTrack, error) {
	if d.audioErr != nil {
		return nil, d.audioErr
	}
	d.sink = sink
	return d.audio, nil
}

type SessionSuite struct {
	suite.Suite
	video   *fakeVideo
	audio   *fakeAudio
	device  *fakeDevice
	session *Session
}

func (s *SessionSuite) SetupTest() {
	s.video = &fakeVideo{}
	s.video.set(SolidFrame(640, 480, color.White))
	s.audio = &fakeAudio{format: AudioFormat{Encoding: EncodingPCM16LE, SampleRate: 16000, Channels: 1}}
	s.device = &fakeDevice{video: s.video, audio: s.audio}
	s.session = NewSession(s.device, Options{
		CameraOpenTimeout: 50 * time.Millisecond,
		SnapshotMaxEdge:   320,
		MaxArtifactBytes:  1 << 20,
	})
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

func (s *SessionSuite) TestOpenCamera() {
	s.Run("returns the same handle while open", func() {
		cam1, err := s.session.OpenCamera(context.Background())
		s.Require().NoError(err)
		cam2, err := s.session.OpenCamera(context.Background())
		s.Require().NoError(err)
		s.Same(cam1, cam2)
		s.session.CloseCamera(cam1)
	})

	s.Run("denied camera is media unavailable", func() {
		s.device.videoErr = dErrors.New(dErrors.CodeMediaUnavailable, "camera access denied")
		defer func() { s.device.videoErr = nil }()

		_, err := s.session.OpenCamera(context.Background())
		s.True(dErrors.HasCode(err, dErrors.CodeMediaUnavailable))
	})

	s.Run("no frame before timeout is media unavailable", func() {
		s.device.blockOpen = true
		defer func() { s.device.blockOpen = false }()

		_, err := s.session.OpenCamera(context.Background())
		s.True(dErrors.HasCode(err, dErrors.CodeMediaUnavailable))
	})
}

func (s *SessionSuite) TestSnapshotReadsCurrentFrameDimensions() {
	cam, err := s.session.OpenCamera(context.Background())
	s.Require().NoError(err)
	defer s.session.CloseCamera(cam)

	// Camera switches to portrait after opening.
	s.video.set(SolidFrame(120, 200, color.Black))

	a, err := s.session.Snapshot(cam)
	s.Require().NoError(err)
	s.Equal(domain.ModalityFace, a.Modality)
	s.Equal(SourceLive, a.Source)
	s.Equal("image/jpeg", a.ContentType)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(a.Data))
	s.Require().NoError(err)
	s.Equal(120, cfg.Width)
	s.Equal(200, cfg.Height)
}

func (s *SessionSuite) TestCloseCameraReleasesOnce() {
	cam, err := s.session.OpenCamera(context.Background())
	s.Require().NoError(err)

	s.session.CloseCamera(cam)
	s.session.CloseCamera(cam)
	s.session.CloseCamera(nil)

	s.Equal(1, s.video.stopped)
	_, open := s.session.Camera()
	s.False(open)

	_, err = s.session.Snapshot(cam)
	s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))
}

func (s *SessionSuite) TestRecording() {
	s.Run("chunks are assembled in arrival order", func() {
		rec, err := s.session.StartRecording(context.Background())
		s.Require().NoError(err)

		s.device.sink([]byte{1, 0})
		s.device.sink([]byte{2, 0})
		s.device.sink([]byte{3, 0})

		a, err := s.session.StopRecording(rec)
		s.Require().NoError(err)
		s.Equal(domain.ModalityVoice, a.Modality)
		s.Equal("audio/wav", a.ContentType)
		s.Equal([]byte{1, 0, 2, 0, 3, 0}, a.Data[44:])
		s.Equal(1, s.audio.stopped)

		s.device.sink([]byte{9, 9})
		_, err = s.session.StopRecording(rec)
		s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed), "second stop is refused")
	})

	s.Run("second concurrent recording is a conflict", func() {
		rec, err := s.session.StartRecording(context.Background())
		s.Require().NoError(err)
		defer s.session.StopRecording(rec)

		_, err = s.session.StartRecording(context.Background())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("empty recording is media unavailable", func() {
		rec, err := s.session.StartRecording(context.Background())
		s.Require().NoError(err)
		_, err = s.session.StopRecording(rec)
		s.True(dErrors.HasCode(err, dErrors.CodeMediaUnavailable))
	})

	s.Run("microphone failure frees the slot", func() {
		s.device.audioErr = dErrors.New(dErrors.CodeMediaUnavailable, "microphone access denied")
		_, err := s.session.StartRecording(context.Background())
		s.True(dErrors.HasCode(err, dErrors.CodeMediaUnavailable))
		s.device.audioErr = nil

		rec, err := s.session.StartRecording(context.Background())
		s.Require().NoError(err)
		s.session.StopRecording(rec)
	})
}

func (s *SessionSuite) TestCloseReleasesEverything() {
	cam, err := s.session.OpenCamera(context.Background())
	s.Require().NoError(err)
	_, err = s.session.StartRecording(context.Background())
	s.Require().NoError(err)

	s.session.Close()

	s.Equal(1, s.video.stopped)
	s.Equal(1, s.audio.stopped)
	_, err = s.session.Snapshot(cam)
	s.Error(err)
	_, err = s.session.OpenCamera(context.Background())
	s.True(dErrors.HasCode(err, dErrors.CodePreconditionFailed))
}

func TestLiveness(t *testing.T) {
	video := &fakeVideo{}
	video.set(SolidFrame(64, 64, color.Black))
	sess := NewSession(&fakeDevice{video: video}, Options{})
	cam, err := sess.OpenCamera(context.Background())
	require.NoError(t, err)

	score, err := sess.Liveness(context.Background(), cam, time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, score, "frozen stream has no motion")

	go func() {
		time.Sleep(2 * time.Millisecond)
		video.set(SolidFrame(64, 64, color.White))
	}()
	score, err = sess.Liveness(context.Background(), cam, 50*time.Millisecond)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, score, 1e-6)
}
