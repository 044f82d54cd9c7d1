package domain

import dErrors "examgate/pkg/domain-errors"

// Checkpoint is a gating point that needs both modalities to pass.
type Checkpoint string

const (
	CheckpointStart Checkpoint = "start"
	CheckpointEnd   Checkpoint = "end"
)

// Modality is one biometric channel.
type Modality string

const (
	ModalityFace  Modality = "face"
	ModalityVoice Modality = "voice"
)

// Modalities lists every modality a checkpoint requires, in a stable order.
var Modalities = []Modality{ModalityFace, ModalityVoice}

// ScheduleKind controls when verification is required during a session.
type ScheduleKind string

const (
	ScheduleStartEnd ScheduleKind = "start_end"
	ScheduleInterval ScheduleKind = "interval"
)

func (c Checkpoint) String() string   { return string(c) }
func (m Modality) String() string     { return string(m) }
func (k ScheduleKind) String() string { return string(k) }

func (c Checkpoint) IsValid() bool {
	return c == CheckpointStart || c == CheckpointEnd
}

func (m Modality) IsValid() bool {
	return m == ModalityFace || m == ModalityVoice
}

func (k ScheduleKind) IsValid() bool {
	return k == ScheduleStartEnd || k == ScheduleInterval
}

// ParseCheckpoint validates a checkpoint name from an untrusted source.
func ParseCheckpoint(s string) (Checkpoint, error) {
	c := Checkpoint(s)
	if !c.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown checkpoint: "+s)
	}
	return c, nil
}

// ParseModality validates a modality name from an untrusted source.
func ParseModality(s string) (Modality, error) {
	m := Modality(s)
	if !m.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown modality: "+s)
	}
	return m, nil
}

// ParseScheduleKind validates a schedule kind from an untrusted source.
func ParseScheduleKind(s string) (ScheduleKind, error) {
	k := ScheduleKind(s)
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown schedule kind: "+s)
	}
	return k, nil
}
