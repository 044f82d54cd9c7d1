package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// assembleAudio joins chunks in arrival order. PCM chunks are wrapped in a
// single WAV container; container formats are concatenated byte for byte.
func assembleAudio(chunks [][]byte, format AudioFormat) ([]byte, string, error) {
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	joined := make([]byte, 0, total)
	for _, c := range chunks {
		joined = append(joined, c...)
	}

	if format.IsPCM() {
		wav, err := EncodeWAVPCM16LE(joined, format.SampleRate, format.Channels)
		if err != nil {
			return nil, "", err
		}
		return wav, "audio/wav", nil
	}
	mime := format.MimeType
	if mime == "" {
		mime = "audio/webm"
	}
	return joined, mime, nil
}

// EncodeWAVPCM16LE wraps raw PCM16LE samples in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate, channels int) ([]byte, error) {
	const bitsPerSample = 16
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}
	blockAlign := channels * bitsPerSample / 8
	if len(pcm)%blockAlign != 0 {
		return nil, fmt.Errorf("pcm length %d is not a multiple of frame size %d", len(pcm), blockAlign)
	}

	dataSize := uint32(len(pcm))
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))

	header := []any{
		[]byte("RIFF"),
		uint32(36) + dataSize,
		[]byte("WAVE"),
		[]byte("fmt "),
		uint32(16),
		uint16(1), // PCM
		uint16(channels),
		uint32(sampleRate),
		uint32(sampleRate * blockAlign),
		uint16(blockAlign),
		uint16(bitsPerSample),
		[]byte("data"),
		dataSize,
	}
	for _, field := range header {
		if err := binary.Write(&buf, binary.LittleEndian, field); err != nil {
			return nil, err
		}
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}
