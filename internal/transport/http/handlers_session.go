package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"examgate/internal/attempt"
	"examgate/internal/biometric"
	"examgate/internal/guard"
	"examgate/internal/platform/middleware"
	"examgate/internal/verification"
	"examgate/pkg/domain"
	dErrors "examgate/pkg/domain-errors"
	"examgate/pkg/platform/httputil"
	"examgate/pkg/requestcontext"
)

// handleLogin authenticates the subject and starts their exam session. A tab
// without a live attempt gets a new one and its cookie, even when login then
// fails, so the retry reuses it.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req loginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, err)
		return
	}

	a, err := h.attemptForLogin(w, r)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to create attempt",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}

	state, err := a.Machine.Authenticate(ctx, verification.Credentials{
		Email:    req.Email,
		Password: req.Password,
		Liveness: h.liveness(r, a),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "login failed",
			"error", err,
			"attempt_id", a.ID.String(),
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stateResponse(a, state))
}

func (h *Handler) attemptForLogin(w http.ResponseWriter, r *http.Request) (*attempt.Attempt, error) {
	ctx := r.Context()
	if id := requestcontext.AttemptID(ctx); !id.IsNil() {
		if a, err := h.attempts.Get(ctx, id); err == nil {
			return a, nil
		}
	}
	a, err := h.attempts.Create(ctx, requestcontext.UserAgent(ctx))
	if err != nil {
		return nil, err
	}
	token, err := h.tokens.Issue(a.ID)
	if err != nil {
		h.attempts.Remove(ctx, a.ID, "token issue failed")
		return nil, err
	}
	h.setCookie(w, token)
	return a, nil
}

// liveness scores motion on the live camera when one is open. Without a camera
// or a usable score, session start carries no liveness fields.
func (h *Handler) liveness(r *http.Request, a *attempt.Attempt) *biometric.Liveness {
	session := a.Capture()
	cam, ok := session.Camera()
	if !ok {
		return nil
	}
	score, err := session.Liveness(r.Context(), cam, livenessGap)
	if err != nil {
		h.logger.WarnContext(r.Context(), "liveness sampling failed",
			"error", err,
			"attempt_id", a.ID.String(),
			"request_id", middleware.GetRequestID(r.Context()),
		)
		return nil
	}
	return &biometric.Liveness{OK: score > 0, Score: score}
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if id := requestcontext.AttemptID(ctx); !id.IsNil() {
		h.attempts.Remove(ctx, id, "logout")
	}
	h.clearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// handleReset abandons the flow but keeps the attempt and its cookie.
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	a, ok := h.currentAttempt(w, r)
	if !ok {
		return
	}
	state := a.Reset(r.Context(), "user reset")
	httputil.WriteJSON(w, http.StatusOK, stateResponse(a, state))
}

// handleState never fails: an anonymous tab sees the initial state.
func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := requestcontext.AttemptID(ctx)
	if id.IsNil() {
		httputil.WriteJSON(w, http.StatusOK, stateResponse(nil, verification.NewState()))
		return
	}
	a, err := h.attempts.Get(ctx, id)
	if err != nil {
		h.clearCookie(w)
		httputil.WriteJSON(w, http.StatusOK, stateResponse(nil, verification.NewState()))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stateResponse(a, a.Machine.Snapshot()))
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	cp, err := domain.ParseCheckpoint(chi.URLParam(r, "checkpoint"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	a, ok := h.currentAttempt(w, r)
	if !ok {
		return
	}

	result, err := a.VerifyCheckpoint(ctx, cp)
	if err != nil {
		h.logger.WarnContext(ctx, "checkpoint not completed",
			"error", err,
			"checkpoint", string(cp),
			"attempt_id", a.ID.String(),
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, CheckpointResponse{
		Checkpoint:    cp,
		Passed:        result.Passed,
		Submitted:     result.Submitted,
		Face:          modalityResponse(result.Face),
		Voice:         modalityResponse(result.Voice),
		Failures:      a.Failures(cp),
		StateResponse: stateResponse(a, result.State),
	})
}

// handleSubmitIntent moves the attempt from the exam to end verification.
func (h *Handler) handleSubmitIntent(w http.ResponseWriter, r *http.Request) {
	a, ok := h.currentAttempt(w, r)
	if !ok {
		return
	}
	state, err := a.Machine.SubmitExam(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stateResponse(a, state))
}

// handleFinalize retries the remote submit after the end checkpoint passed,
// without a new capture.
func (h *Handler) handleFinalize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	a, ok := h.currentAttempt(w, r)
	if !ok {
		return
	}
	state, err := a.Machine.Finalize(ctx)
	if err != nil {
		h.logger.WarnContext(ctx, "finalize failed",
			"error", err,
			"attempt_id", a.ID.String(),
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stateResponse(a, state))
}

// handleEnroll stores a reference template. The artifact is the uploaded file
// when the request carries one, otherwise the one held in the tray.
func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
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
	if err != nil && !dErrors.Is(err, dErrors.CodePreconditionFailed) {
		httputil.WriteError(w, err)
		return
	}
	fromTray := art == nil
	if fromTray {
		if art = a.Tray.Take(modality); art == nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodePreconditionFailed, "no "+string(modality)+" artifact to enroll"))
			return
		}
	}

	enrollment, err := a.Machine.Enroll(ctx, art)
	if err != nil {
		// Refusals happen before the remote call; the held artifact stays usable.
		if fromTray && (dErrors.HasCode(err, dErrors.CodePreconditionFailed) || dErrors.HasCode(err, dErrors.CodeConflict)) {
			a.Tray.Restore(art)
		}
		h.logger.WarnContext(ctx, "enrollment failed",
			"error", err,
			"modality", string(modality),
			"attempt_id", a.ID.String(),
			"request_id", middleware.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, EnrollResponse{
		Modality:    modality,
		BiometricID: enrollment.BiometricID,
		MockUsed:    enrollment.MockUsed,
	})
}

func (h *Handler) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reports == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "session reports are not available"))
		return
	}
	a, ok := h.currentAttempt(w, r)
	if !ok {
		return
	}
	state := a.Machine.Snapshot()
	if !state.HasSession() {
		httputil.WriteError(w, dErrors.New(dErrors.CodePreconditionFailed, "no exam session has started"))
		return
	}

	m, err := h.reports.SessionMetrics(ctx, state.SessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	log, err := h.reports.SessionDetails(ctx, state.SessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reportResponse(m, log))
}

// handleRoot sends the tab to the screen its attempt belongs on.
func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, guard.Landing(h.stateOf(r)).Path(), http.StatusSeeOther)
}

// handleScreen runs behind guard.RequireScreen, so reaching it means the
// attempt may see the screen.
func (h *Handler) handleScreen(screen guard.Screen) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, ScreenResponse{Screen: screen, State: h.stateOf(r)})
	}
}
