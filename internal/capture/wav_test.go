package capture

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWAVPCM16LE(t *testing.T) {
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	wav, err := EncodeWAVPCM16LE(pcm, 8000, 2)
	require.NoError(t, err)

	require.Len(t, wav, 44+len(pcm))
	assert.Equal(t, "RIFF", string(wav[0:4]))
	assert.Equal(t, uint32(36+len(pcm)), binary.LittleEndian.Uint32(wav[4:8]))
	assert.Equal(t, "WAVE", string(wav[8:12]))
	assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(wav[22:24]), "channels")
	assert.Equal(t, uint32(8000), binary.LittleEndian.Uint32(wav[24:28]), "sample rate")
	assert.Equal(t, uint32(8000*4), binary.LittleEndian.Uint32(wav[28:32]), "byte rate")
	assert.Equal(t, "data", string(wav[36:40]))
	assert.Equal(t, pcm, wav[44:])
}

func TestEncodeWAVPCM16LE_RejectsPartialFrame(t *testing.T) {
	_, err := EncodeWAVPCM16LE([]byte{1, 2, 3}, 16000, 1)
	assert.Error(t, err)
}

func TestAssembleAudio(t *testing.T) {
	t.Run("pcm chunks become one wav in order", func(t *testing.T) {
		data, ct, err := assembleAudio([][]byte{{1, 0}, {2, 0}, {3, 0}}, AudioFormat{Encoding: EncodingPCM16LE, SampleRate: 16000, Channels: 1})
		require.NoError(t, err)
		assert.Equal(t, "audio/wav", ct)
		assert.Equal(t, []byte{1, 0, 2, 0, 3, 0}, data[44:])
	})

	t.Run("container chunks are concatenated", func(t *testing.T) {
		data, ct, err := assembleAudio([][]byte{[]byte("ab"), []byte("cd")}, AudioFormat{Encoding: "webm", MimeType: "audio/webm"})
		require.NoError(t, err)
		assert.Equal(t, "audio/webm", ct)
		assert.Equal(t, []byte("abcd"), data)
	})
}
