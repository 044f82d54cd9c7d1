package capture

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg" // frame decoders
	_ "image/png"
	"sync"
	"time"

	dErrors "examgate/pkg/domain-errors"
)

// Media kinds named in control messages.
const (
	KindCamera     = "camera"
	KindMicrophone = "microphone"
)

// Control is a message from the gateway to the browser feed.
type Control struct {
	Type string `json:"type"`
	Kind string `json:"kind,omitempty"`
}

const (
	ControlStart   = "start"
	ControlRelease = "release"
)

// RemoteDevice is a Device whose media comes from a browser over the capture
// websocket. The browser pushes frames and audio chunks; the gateway asks it to
// start or release hardware through Outbox.
type RemoteDevice struct {
	now func() time.Time

	mu          sync.Mutex
	attached    bool
	frame       Frame
	hasFrame    bool
	frameWait   chan struct{} // closed and replaced on every new frame
	denied      map[string]string
	audioFormat AudioFormat
	audioSink   func([]byte)
	audioSeq    uint64
	outbox      chan Control
}

func NewRemoteDevice() *RemoteDevice {
	return &RemoteDevice{
		now:         time.Now,
		frameWait:   make(chan struct{}),
		denied:      make(map[string]string),
		audioFormat: AudioFormat{Encoding: EncodingPCM16LE, SampleRate: 16000, Channels: 1},
		outbox:      make(chan Control, 16),
	}
}

// Outbox carries control messages for the browser. The feed writer drains it.
func (d *RemoteDevice) Outbox() <-chan Control { return d.outbox }

// Attach marks a feed as connected. Only one feed may drive a device.
func (d *RemoteDevice) Attach() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.attached {
		return dErrors.New(dErrors.CodeConflict, "capture feed already connected")
	}
	d.attached = true
	clear(d.denied)
	return nil
}

// Detach drops the feed. The last frame is forgotten so a snapshot after the
// browser went away fails instead of returning a stale image.
func (d *RemoteDevice) Detach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attached = false
	d.hasFrame = false
	d.frame = Frame{Seq: d.frame.Seq}
	d.audioSink = nil
	close(d.frameWait)
	d.frameWait = make(chan struct{})
}

func (d *RemoteDevice) Attached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attached
}

// PushFrame decodes an encoded image and makes it the current frame.
func (d *RemoteDevice) PushFrame(encoded []byte) error {
	img, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "undecodable video frame")
	}
	d.SetFrame(img)
	return nil
}

// SetFrame replaces the current frame.
func (d *RemoteDevice) SetFrame(img image.Image) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.frame = Frame{Image: img, Seq: d.frame.Seq + 1, At: d.now()}
	d.hasFrame = true
	close(d.frameWait)
	d.frameWait = make(chan struct{})
}

// PushAudio forwards a chunk to the open audio track, if any. Chunks arriving
// with no track open are dropped.
func (d *RemoteDevice) PushAudio(chunk []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.audioSink != nil {
		d.audioSink(chunk)
	}
}

// SetAudioFormat records the format of subsequent audio chunks.
func (d *RemoteDevice) SetAudioFormat(f AudioFormat) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.audioFormat = f
}

// Deny records that the browser refused access to a media kind.
func (d *RemoteDevice) Deny(kind, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if reason == "" {
		reason = kind + " access denied"
	}
	d.denied[kind] = reason
	if kind == KindCamera {
		close(d.frameWait)
		d.frameWait = make(chan struct{})
	}
}

// Denied reports whether the browser refused a media kind, and why.
func (d *RemoteDevice) Denied(kind string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	reason, ok := d.denied[kind]
	return reason, ok
}

func (d *RemoteDevice) OpenVideo(ctx context.Context) (VideoTrack, error) {
	d.send(Control{Type: ControlStart, Kind: KindCamera})
	for {
		d.mu.Lock()
		if reason, ok := d.denied[KindCamera]; ok {
			d.mu.Unlock()
			return nil, dErrors.New(dErrors.CodeMediaUnavailable, reason)
		}
		if !d.attached {
			d.mu.Unlock()
			return nil, dErrors.New(dErrors.CodeMediaUnavailable, "no capture feed connected")
		}
		if d.hasFrame {
			d.mu.Unlock()
			return &remoteVideoTrack{dev: d}, nil
		}
		wait := d.frameWait
		d.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

func (d *RemoteDevice) OpenAudio(_ context.Context, sink func([]byte)) (AudioTrack, error) {
	d.mu.Lock()
	if reason, ok := d.denied[KindMicrophone]; ok {
		d.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeMediaUnavailable, reason)
	}
	if !d.attached {
		d.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeMediaUnavailable, "no capture feed connected")
	}
	if d.audioSink != nil {
		d.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeConflict, "microphone already in use")
	}
	d.audioSeq++
	d.audioSink = sink
	track := &remoteAudioTrack{dev: d, seq: d.audioSeq}
	d.mu.Unlock()

	d.send(Control{Type: ControlStart, Kind: KindMicrophone})
	return track, nil
}

func (d *RemoteDevice) send(c Control) {
	select {
	case d.outbox <- c:
	default:
		// Feed not draining; the browser resyncs on reconnect.
	}
}

type remoteVideoTrack struct {
	dev  *RemoteDevice
	once sync.Once
	mu   sync.Mutex
	done bool
}

func (t *remoteVideoTrack) Current() (Frame, bool) {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()
	if done {
		return Frame{}, false
	}
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	return t.dev.frame, t.dev.hasFrame
}

func (t *remoteVideoTrack) Stop() {
	t.once.Do(func() {
		t.mu.Lock()
		t.done = true
		t.mu.Unlock()
		t.dev.send(Control{Type: ControlRelease, Kind: KindCamera})
	})
}

type remoteAudioTrack struct {
	dev  *RemoteDevice
	seq  uint64
	once sync.Once
}

// Format reads the device format at call time: browsers announce it after
// the start control, before the first chunk.
func (t *remoteAudioTrack) Format() AudioFormat {
	t.dev.mu.Lock()
	defer t.dev.mu.Unlock()
	return t.dev.audioFormat
}

func (t *remoteAudioTrack) Stop() {
	t.once.Do(func() {
		t.dev.mu.Lock()
		if t.dev.audioSeq == t.seq {
			t.dev.audioSink = nil
		}
		t.dev.mu.Unlock()
		t.dev.send(Control{Type: ControlRelease, Kind: KindMicrophone})
	})
}
