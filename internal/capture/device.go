package capture

import (
	"context"
	"image"
	"time"
)

// Frame is one decoded video frame. Seq increases with every frame a track
// delivers, so two reads with the same Seq saw the same frame.
type Frame struct {
	Image image.Image
	Seq   uint64
	At    time.Time
}

// AudioFormat describes the chunks an audio track delivers.
type AudioFormat struct {
	// Encoding is "pcm_s16le" for raw little-endian samples; anything else is
	// treated as a self-describing container and concatenated as-is.
	Encoding   string
	MimeType   string
	SampleRate int
	Channels   int
}

const EncodingPCM16LE = "pcm_s16le"

func (f AudioFormat) IsPCM() bool { return f.Encoding == EncodingPCM16LE }

// VideoTrack is a live camera stream.
type VideoTrack interface {
	// Current returns the most recent frame. ok is false once the stream has
	// gone away.
	Current() (frame Frame, ok bool)
	// Stop releases the underlying camera. Safe to call more than once.
	Stop()
}

// AudioTrack is a live microphone stream started by OpenAudio.
type AudioTrack interface {
	Format() AudioFormat
	// Stop releases the microphone. No chunk is delivered after Stop returns.
	Stop()
}

// Device acquires media tracks. Implementations return a CodeMediaUnavailable
// error when the user denied access or the hardware is missing.
type Device interface {
	// OpenVideo blocks until the first frame is available or ctx ends.
	OpenVideo(ctx context.Context) (VideoTrack, error)
	// OpenAudio starts delivering chunks to sink in arrival order.
	OpenAudio(ctx context.Context, sink func(chunk []byte)) (AudioTrack, error)
}
