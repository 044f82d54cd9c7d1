package attempt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"examgate/internal/capture"
	"examgate/pkg/domain"
)

func TestTray(t *testing.T) {
	face := &capture.Artifact{Modality: domain.ModalityFace, Data: []byte{1}}
	newerFace := &capture.Artifact{Modality: domain.ModalityFace, Data: []byte{2}}
	voice := &capture.Artifact{Modality: domain.ModalityVoice, Data: []byte{3}}

	t.Run("newer capture replaces held one", func(t *testing.T) {
		tray := NewTray()
		require.NoError(t, tray.Put(face))
		require.NoError(t, tray.Put(newerFace))
		assert.Same(t, newerFace, tray.Take(domain.ModalityFace))
		assert.Nil(t, tray.Take(domain.ModalityFace), "take is single use")
	})

	t.Run("pair is taken only when complete", func(t *testing.T) {
		tray := NewTray()
		require.NoError(t, tray.Put(face))

		f, v := tray.TakePair()
		assert.Nil(t, f)
		assert.Nil(t, v)
		assert.True(t, tray.Has(domain.ModalityFace), "half pair stays held")

		require.NoError(t, tray.Put(voice))
		assert.Equal(t, []domain.Modality{domain.ModalityFace, domain.ModalityVoice}, tray.Held())
		f, v = tray.TakePair()
		assert.Same(t, face, f)
		assert.Same(t, voice, v)
		assert.Empty(t, tray.Held())
	})

	t.Run("rejects artifacts without modality", func(t *testing.T) {
		tray := NewTray()
		assert.Error(t, tray.Put(nil))
		assert.Error(t, tray.Put(&capture.Artifact{Modality: "fingerprint"}))
	})

	t.Run("restore keeps newer captures", func(t *testing.T) {
		tray := NewTray()
		require.NoError(t, tray.Put(newerFace))
		tray.Restore(face, voice, nil)
		assert.Same(t, newerFace, tray.Take(domain.ModalityFace))
		assert.Same(t, voice, tray.Take(domain.ModalityVoice))
	})

	t.Run("clear", func(t *testing.T) {
		tray := NewTray()
		require.NoError(t, tray.Put(face))
		tray.Clear()
		assert.False(t, tray.Has(domain.ModalityFace))
	})
}
