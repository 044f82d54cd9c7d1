package httptransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"examgate/internal/attempt"
	"examgate/internal/capture"
	"examgate/internal/platform/middleware"
	"examgate/pkg/domain"
	dErrors "examgate/pkg/domain-errors"
	"examgate/pkg/platform/httputil"
	"examgate/pkg/requestcontext"
)

// multipartOverhead leaves room for boundaries and part headers around a file
// of the maximum size.
const multipartOverhead = 64 << 10

var errNoFile = dErrors.New(dErrors.CodePreconditionFailed, "request carries no file")

func (h *Handler) handleOpenCamera(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, ok := h.currentAttempt(w, r)
	if !ok {
		return
	}
	if _, err := a.Capture().OpenCamera(ctx); err != nil {
		h.captureFailed(ctx, a, "camera open failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stateResponse(a, a.Machine.Snapshot()))
}

// handleCloseCamera is idempotent.
func (h *Handler) handleCloseCamera(w http.ResponseWriter, r *http.Request) {
	a, ok := h.currentAttempt(w, r)
	if !ok {
		return
	}
	session := a.Capture()
	if cam, open := session.Camera(); open {
		session.CloseCamera(cam)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSnapshot grabs the frame current at request time into the tray,
// replacing any face artifact held before.
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, ok := h.currentAttempt(w, r)
	if !ok {
		return
	}
	session := a.Capture()
	cam, open := session.Camera()
	if !open {
		httputil.WriteError(w, dErrors.New(dErrors.CodePreconditionFailed, "camera is not open"))
		return
	}
	art, err := session.Snapshot(cam)
	if err != nil {
		h.captureFailed(ctx, a, "snapshot failed", err)
		httputil.WriteError(w, err)
		return
	}
	h.hold(w, a, art)
}

func (h *Handler) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, ok := h.currentAttempt(w, r)
	if !ok {
		return
	}
	if _, err := a.Capture().StartRecording(ctx); err != nil {
		h.captureFailed(ctx, a, "recording start failed", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, stateResponse(a, a.Machine.Snapshot()))
}

// handleStopRecording ends the active recording and holds the clip.
func (h *Handler) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, ok := h.currentAttempt(w, r)
	if !ok {
		return
	}
	session := a.Capture()
	rec, active := session.Recording()
	if !active {
		httputil.WriteError(w, dErrors.New(dErrors.CodePreconditionFailed, "no active recording"))
		return
	}
	art, err := session.StopRecording(rec)
	if err != nil {
		h.captureFailed(ctx, a, "recording stop failed", err)
		httputil.WriteError(w, err)
		return
	}
	h.hold(w, a, art)
}

// handleUpload is the fallback when live capture is unavailable. Uploads pass
// the same validation as live captures.
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	modality, err := domain.ParseModality(chi.URLParam(r, "modality"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	a, ok := h.currentAttempt(w, r)
	if !ok {
		return
	}
	art, err := h.readUpload(w, r, modality)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.hold(w, a, art)
}

func (h *Handler) handleDiscardArtifacts(w http.ResponseWriter, r *http.Request) {
	a, ok := h.currentAttempt(w, r)
	if !ok {
		return
	}
	a.Tray.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// handleCaptureFeed upgrades to the websocket the browser streams camera
// frames and microphone chunks over.
func (h *Handler) handleCaptureFeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, ok := h.currentAttempt(w, r)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		return
	}
	defer conn.Close()

	h.logger.InfoContext(ctx, "capture feed connected",
		"attempt_id", a.ID.String(),
		"request_id", middleware.GetRequestID(ctx),
	)
	if err := capture.ServeFeed(ctx, conn, a.Feed, h.logger); err != nil {
		h.logger.WarnContext(ctx, "capture feed ended",
			"error", err,
			"attempt_id", a.ID.String(),
		)
		return
	}
	h.logger.InfoContext(ctx, "capture feed closed", "attempt_id", a.ID.String())
}

func (h *Handler) hold(w http.ResponseWriter, a *attempt.Attempt, art *capture.Artifact) {
	if err := a.Tray.Put(art); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, artifactResponse(art, a.Tray.Held()))
}

// readUpload reads the "file" part of a multipart body as an artifact of
// modality. A body without a file yields errNoFile.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request, modality domain.Modality) (*capture.Artifact, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return nil, errNoFile
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("upload exceeds %d bytes", h.maxUpload))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid multipart body")
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, errNoFile
		}
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid file part")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "could not read upload")
	}
	return capture.FromUpload(modality, header.Filename, header.Header.Get("Content-Type"), data, h.maxUpload, requestcontext.Now(r.Context()))
}

// captureFailed logs hardware failures; media errors are expected when a
// browser denies access, so they stay at info.
func (h *Handler) captureFailed(ctx context.Context, a *attempt.Attempt, msg string, err error) {
	level := h.logger.WarnContext
	if dErrors.HasCode(err, dErrors.CodeMediaUnavailable) {
		level = h.logger.InfoContext
	}
	level(ctx, msg,
		"error", err,
		"attempt_id", a.ID.String(),
		"request_id", middleware.GetRequestID(ctx),
	)
}
