package attempt

import (
	"sync"

	"examgate/internal/capture"
	"examgate/pkg/domain"
	dErrors "examgate/pkg/domain-errors"
)

// Tray holds at most one artifact per modality between capture and the
// checkpoint that consumes it. A newer capture replaces the held one.
type Tray struct {
	mu    sync.Mutex
	slots map[domain.Modality]*capture.Artifact
}

func NewTray() *Tray {
	return &Tray{slots: make(map[domain.Modality]*capture.Artifact)}
}

func (t *Tray) Put(a *capture.Artifact) error {
	if a == nil || !a.Modality.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "artifact has no valid modality")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[a.Modality] = a
	return nil
}

func (t *Tray) Has(m domain.Modality) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.slots[m] != nil
}

// Held lists the modalities with an artifact waiting, in stable order.
func (t *Tray) Held() []domain.Modality {
	t.mu.Lock()
	defer t.mu.Unlock()
	held := make([]domain.Modality, 0, len(domain.Modalities))
	for _, m := range domain.Modalities {
		if t.slots[m] != nil {
			held = append(held, m)
		}
	}
	return held
}

// Take removes and returns the artifact for m, or nil.
func (t *Tray) Take(m domain.Modality) *capture.Artifact {
	t.mu.Lock()
	defer t.mu.Unlock()
	a := t.slots[m]
	delete(t.slots, m)
	return a
}

// TakePair removes both artifacts when both are present. When either is
// missing nothing is removed and both results are nil.
func (t *Tray) TakePair() (face, voice *capture.Artifact) {
	t.mu.Lock()
	defer t.mu.Unlock()
	face, voice = t.slots[domain.ModalityFace], t.slots[domain.ModalityVoice]
	if face == nil || voice == nil {
		return nil, nil
	}
	clear(t.slots)
	return face, voice
}

// Restore puts back artifacts taken for a checkpoint that never ran. A slot
// refilled by a newer capture in the meantime keeps the newer artifact.
func (t *Tray) Restore(artifacts ...*capture.Artifact) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, a := range artifacts {
		if a == nil || t.slots[a.Modality] != nil {
			continue
		}
		t.slots[a.Modality] = a
	}
}

func (t *Tray) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.slots)
}
