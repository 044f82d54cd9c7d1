package capture

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"examgate/pkg/domain"
	dErrors "examgate/pkg/domain-errors"
)

// Source records how an artifact entered the system. Downstream code must not
// branch on it; it exists for logs and audit only.
type Source string

const (
	SourceLive   Source = "live"
	SourceUpload Source = "upload"
)

// Artifact is a captured face still or voice clip. It is held only until the
// verification call that consumes it resolves.
type Artifact struct {
	Modality    domain.Modality
	ContentType string
	Filename    string
	Data        []byte
	Source      Source
	CapturedAt  time.Time
}

// Size returns the payload length in bytes.
func (a *Artifact) Size() int {
	if a == nil {
		return 0
	}
	return len(a.Data)
}

var imageTypes = map[string]string{
	"image/jpeg": "face.jpg",
	"image/png":  "face.png",
}

// audioTypes maps sniffed types to the content type sent upstream.
var audioTypes = map[string]string{
	"audio/wave":      "audio/wav",
	"audio/wav":       "audio/wav",
	"audio/x-wav":     "audio/wav",
	"video/webm":      "audio/webm",
	"audio/webm":      "audio/webm",
	"application/ogg": "audio/ogg",
	"audio/ogg":       "audio/ogg",
	"audio/mpeg":      "audio/mpeg",
	"audio/mp4":       "audio/mp4",
}

var audioFilenames = map[string]string{
	"audio/wav":  "voice.wav",
	"audio/webm": "voice.webm",
	"audio/ogg":  "voice.ogg",
	"audio/mpeg": "voice.mp3",
	"audio/mp4":  "voice.m4a",
}

// FromUpload builds an artifact from an already-captured file. It goes through
// the same Validate as live captures.
func FromUpload(modality domain.Modality, filename, contentType string, data []byte, maxBytes int64, now time.Time) (*Artifact, error) {
	a := &Artifact{
		Modality:    modality,
		ContentType: contentType,
		Filename:    filename,
		Data:        data,
		Source:      SourceUpload,
		CapturedAt:  now,
	}
	if err := Validate(a, maxBytes); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks size and media type and normalizes ContentType and Filename.
func Validate(a *Artifact, maxBytes int64) error {
	if a == nil {
		return dErrors.New(dErrors.CodePreconditionFailed, "artifact missing")
	}
	if !a.Modality.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "unknown modality")
	}
	if len(a.Data) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s artifact is empty", a.Modality))
	}
	if maxBytes > 0 && int64(len(a.Data)) > maxBytes {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("%s artifact exceeds %d bytes", a.Modality, maxBytes))
	}

	sniffed := baseType(http.DetectContentType(a.Data))
	declared := baseType(a.ContentType)

	switch a.Modality {
	case domain.ModalityFace:
		name, ok := imageTypes[sniffed]
		if !ok {
			return dErrors.New(dErrors.CodeInvalidInput, "face artifact must be a JPEG or PNG image")
		}
		a.ContentType = sniffed
		a.Filename = defaultName(a.Filename, name)
	case domain.ModalityVoice:
		normalized, ok := audioTypes[sniffed]
		if !ok {
			// Raw codecs without a magic number fall back to the declared type.
			normalized, ok = audioTypes[declared]
		}
		if !ok {
			return dErrors.New(dErrors.CodeInvalidInput, "voice artifact must be an audio clip")
		}
		a.ContentType = normalized
		a.Filename = defaultName(a.Filename, audioFilenames[normalized])
	}
	return nil
}

func baseType(ct string) string {
	ct, _, _ = strings.Cut(ct, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

func defaultName(given, fallback string) string {
	given = strings.TrimSpace(given)
	if given == "" || strings.ContainsAny(given, `/\`) {
		return fallback
	}
	return given
}
