package capture

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"examgate/pkg/domain"
	dErrors "examgate/pkg/domain-errors"
)

// Options bound what a capture session may produce.
type Options struct {
	CameraOpenTimeout time.Duration
	SnapshotMaxEdge   int
	MaxArtifactBytes  int64
	Now               func() time.Time
}

// Session owns the media handles of one attempt. At most one camera and one
// recording are held at a time; Close releases both.
type Session struct {
	dev  Device
	opts Options

	mu        sync.Mutex
	camera    *Camera
	recording *Recording
	closed    bool
}

func NewSession(dev Device, opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Session{dev: dev, opts: opts}
}

// Camera is a scoped handle on an open video track.
type Camera struct {
	session  *Session
	track    VideoTrack
	once     sync.Once
	released bool
}

// Recording is a scoped handle on an in-progress audio capture.
type Recording struct {
	session *Session
	track   AudioTrack
	started time.Time

	mu      sync.Mutex
	chunks  [][]byte
	stopped bool
}

// OpenCamera acquires the camera, waiting up to CameraOpenTimeout for a first
// frame. An already open camera is returned as is.
func (s *Session) OpenCamera(ctx context.Context) (*Camera, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "capture session closed")
	}
	if s.camera != nil {
		cam := s.camera
		s.mu.Unlock()
		return cam, nil
	}
	s.mu.Unlock()

	if s.opts.CameraOpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.CameraOpenTimeout)
		defer cancel()
	}
	track, err := s.dev.OpenVideo(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, dErrors.Wrap(err, dErrors.CodeMediaUnavailable, "camera produced no frame in time")
		}
		if dErrors.HasCode(err, dErrors.CodeMediaUnavailable) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeMediaUnavailable, "camera unavailable")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.camera != nil {
		// Lost a race with Close or a concurrent open.
		track.Stop()
		if s.closed {
			return nil, dErrors.New(dErrors.CodePreconditionFailed, "capture session closed")
		}
		return s.camera, nil
	}
	s.camera = &Camera{session: s, track: track}
	return s.camera, nil
}

// Camera returns the open camera, if any.
func (s *Session) Camera() (*Camera, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.camera, s.camera != nil
}

// Snapshot captures exactly the frame current at call time.
func (s *Session) Snapshot(cam *Camera) (*Artifact, error) {
	if cam == nil || cam.isReleased() {
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "camera is not open")
	}
	frame, ok := cam.track.Current()
	if !ok || frame.Image == nil {
		return nil, dErrors.New(dErrors.CodeMediaUnavailable, "camera stream ended")
	}
	data, err := EncodeSnapshot(frame.Image, s.opts.SnapshotMaxEdge)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeMediaUnavailable, "could not encode snapshot")
	}
	a := &Artifact{
		Modality:    domain.ModalityFace,
		ContentType: "image/jpeg",
		Data:        data,
		Source:      SourceLive,
		CapturedAt:  s.opts.Now(),
	}
	if err := Validate(a, s.opts.MaxArtifactBytes); err != nil {
		return nil, err
	}
	return a, nil
}

// Liveness samples two frames gap apart and returns their motion score.
func (s *Session) Liveness(ctx context.Context, cam *Camera, gap time.Duration) (float64, error) {
	if cam == nil || cam.isReleased() {
		return 0, dErrors.New(dErrors.CodePreconditionFailed, "camera is not open")
	}
	first, ok := cam.track.Current()
	if !ok {
		return 0, dErrors.New(dErrors.CodeMediaUnavailable, "camera stream ended")
	}
	timer := time.NewTimer(gap)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
	}
	second, ok := cam.track.Current()
	if !ok {
		return 0, dErrors.New(dErrors.CodeMediaUnavailable, "camera stream ended")
	}
	if second.Seq == first.Seq {
		return 0, nil
	}
	return MotionScore(first.Image, second.Image), nil
}

// CloseCamera releases the camera. Safe on every exit path, including nil.
func (s *Session) CloseCamera(cam *Camera) {
	if cam == nil {
		return
	}
	cam.release()
	s.mu.Lock()
	if s.camera == cam {
		s.camera = nil
	}
	s.mu.Unlock()
}

func (c *Camera) release() {
	c.once.Do(func() {
		c.track.Stop()
		c.session.mu.Lock()
		c.released = true
		c.session.mu.Unlock()
	})
}

func (c *Camera) isReleased() bool {
	c.session.mu.Lock()
	defer c.session.mu.Unlock()
	return c.released
}

// StartRecording begins an audio capture. Only one recording may be active.
func (s *Session) StartRecording(ctx context.Context) (*Recording, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "capture session closed")
	}
	if s.recording != nil {
		s.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeConflict, "a recording is already active")
	}
	rec := &Recording{session: s, started: s.opts.Now()}
	// Reserve the slot before the device call so a concurrent start fails fast.
	s.recording = rec
	s.mu.Unlock()

	track, err := s.dev.OpenAudio(ctx, rec.append)
	if err != nil {
		s.mu.Lock()
		s.recording = nil
		s.mu.Unlock()
		if dErrors.HasCode(err, dErrors.CodeMediaUnavailable) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeMediaUnavailable, "microphone unavailable")
	}

	rec.mu.Lock()
	if rec.stopped {
		// Session closed while the microphone was opening.
		rec.mu.Unlock()
		track.Stop()
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "capture session closed")
	}
	rec.track = track
	rec.mu.Unlock()
	return rec, nil
}

// Recording returns the active recording, if any.
func (s *Session) Recording() (*Recording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording, s.recording != nil
}

// StopRecording stops the capture and assembles the chunks, in arrival order,
// into one voice artifact.
func (s *Session) StopRecording(rec *Recording) (*Artifact, error) {
	if rec == nil {
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "no active recording")
	}
	chunks, format, ok := rec.stop()
	s.mu.Lock()
	if s.recording == rec {
		s.recording = nil
	}
	s.mu.Unlock()
	if !ok {
		return nil, dErrors.New(dErrors.CodePreconditionFailed, "recording already stopped")
	}
	if len(chunks) == 0 {
		return nil, dErrors.New(dErrors.CodeMediaUnavailable, "no audio was captured")
	}

	data, contentType, err := assembleAudio(chunks, format)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeMediaUnavailable, "could not assemble recording")
	}
	a := &Artifact{
		Modality:    domain.ModalityVoice,
		ContentType: contentType,
		Data:        data,
		Source:      SourceLive,
		CapturedAt:  s.opts.Now(),
	}
	if err := Validate(a, s.opts.MaxArtifactBytes); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *Recording) append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.chunks = append(r.chunks, bytes.Clone(chunk))
}

// stop releases the microphone and hands over the buffered chunks once.
func (r *Recording) stop() ([][]byte, AudioFormat, bool) {
	r.mu.Lock()
	track := r.track
	r.mu.Unlock()
	if track != nil {
		// Stop outside the lock: the device may be delivering a chunk.
		track.Stop()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, AudioFormat{}, false
	}
	r.stopped = true
	chunks := r.chunks
	r.chunks = nil
	var format AudioFormat
	if track != nil {
		format = track.Format()
	}
	return chunks, format, true
}

// Duration reports how long the recording has been running.
func (r *Recording) Duration(now time.Time) time.Duration {
	return now.Sub(r.started)
}

// Close releases all hardware held by the session and discards any recording.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	cam, rec := s.camera, s.recording
	s.camera, s.recording = nil, nil
	s.mu.Unlock()

	if cam != nil {
		cam.release()
	}
	if rec != nil {
		rec.stop()
	}
}
