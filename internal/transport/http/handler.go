// Package httptransport is the browser-facing boundary of the gateway: JSON
// endpoints that drive an attempt's state machine and capture hardware, the
// guarded screen routes, and the capture websocket.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"examgate/internal/attempt"
	"examgate/internal/biometric"
	"examgate/internal/guard"
	"examgate/internal/platform/metrics"
	"examgate/internal/platform/middleware"
	"examgate/internal/ratelimit"
	"examgate/internal/verification"
	"examgate/pkg/domain"
	"examgate/pkg/platform/httputil"
	"examgate/pkg/platform/middleware/metadata"
	"examgate/pkg/platform/middleware/requesttime"
	"examgate/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Attempts,Reports

// Attempts owns the per-tab attempts.
type Attempts interface {
	Create(ctx context.Context, userAgent string) (*attempt.Attempt, error)
	Get(ctx context.Context, id domain.AttemptID) (*attempt.Attempt, error)
	Remove(ctx context.Context, id domain.AttemptID, reason string)
}

// Reports reads the upstream verification log of an exam session.
type Reports interface {
	SessionMetrics(ctx context.Context, sessionID domain.ExamSessionID) (biometric.SessionMetrics, error)
	SessionDetails(ctx context.Context, sessionID domain.ExamSessionID) ([]biometric.LogEntry, error)
}

const (
	requestTimeout = 30 * time.Second
	// livenessGap separates the two frames compared for motion at login.
	livenessGap = 300 * time.Millisecond
)

// Handler serves every gateway route.
type Handler struct {
	logger   *slog.Logger
	attempts Attempts
	tokens   *attempt.Tokens
	reports  Reports
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
	// maxUpload bounds multipart bodies on the upload routes.
	maxUpload int64
	// secureCookie marks the attempt cookie Secure; off for plain-http dev.
	secureCookie bool
	rateLimit    *ratelimit.Middleware
}

type Option func(*Handler)

func WithReports(r Reports) Option {
	return func(h *Handler) { h.reports = r }
}

func WithMaxUpload(n int64) Option {
	return func(h *Handler) { h.maxUpload = n }
}

func WithSecureCookie(secure bool) Option {
	return func(h *Handler) { h.secureCookie = secure }
}

// WithRateLimit bounds the routes that call the biometric API per client.
func WithRateLimit(m *ratelimit.Middleware) Option {
	return func(h *Handler) { h.rateLimit = m }
}

// WithAllowAnyOrigin accepts capture websockets from any origin. By default
// only same-origin browsers may drive an attempt's camera.
func WithAllowAnyOrigin(allow bool) Option {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = func(r *http.Request) bool { return allow || sameOrigin(r) }
	}
}

func New(attempts Attempts, tokens *attempt.Tokens, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Handler {
	h := &Handler{
		logger:    logger,
		attempts:  attempts,
		tokens:    tokens,
		metrics:   m,
		maxUpload: 10 << 20,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     sameOrigin,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the API, the screens and the capture websocket on r.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(metadata.ClientMetadata)
		r.Use(requesttime.Middleware)
		r.Use(h.attemptFromCookie)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.LatencyMiddleware(h.metrics))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.With(h.limit(ratelimit.ClassLogin), middleware.ContentTypeJSON).Post("/api/login", h.handleLogin)
			r.Post("/api/logout", h.handleLogout)
			r.Post("/api/reset", h.handleReset)
			r.Get("/api/state", h.handleState)

			r.Post("/api/capture/camera", h.handleOpenCamera)
			r.Delete("/api/capture/camera", h.handleCloseCamera)
			r.Post("/api/capture/snapshot", h.handleSnapshot)
			r.Post("/api/capture/recording", h.handleStartRecording)
			r.Delete("/api/capture/recording", h.handleStopRecording)
			r.Post("/api/capture/upload/{modality}", h.handleUpload)
			r.Delete("/api/capture/artifacts", h.handleDiscardArtifacts)

			r.With(h.limit(ratelimit.ClassBiometric)).Post("/api/verify/{checkpoint}", h.handleVerify)
			r.Post("/api/exam/submit", h.handleSubmitIntent)
			r.With(h.limit(ratelimit.ClassBiometric)).Post("/api/exam/finalize", h.handleFinalize)
			r.With(h.limit(ratelimit.ClassBiometric)).Post("/api/enroll/{modality}", h.handleEnroll)
			r.Get("/api/session/report", h.handleSessionReport)

			r.Get("/", h.handleRoot)
			for _, screen := range []guard.Screen{guard.ScreenVerifyStart, guard.ScreenExamSession, guard.ScreenVerifyEnd} {
				r.With(guard.RequireScreen(screen, h.stateOf)).Get(screen.Path(), h.handleScreen(screen))
			}
		})

		// The feed outlives the request timeout; it ends with the browser or
		// the server's base context.
		r.Get("/api/capture/ws", h.handleCaptureFeed)
	})

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}
}

func (h *Handler) limit(class ratelimit.Class) func(http.Handler) http.Handler {
	if h.rateLimit == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return h.rateLimit.Limit(class)
}

// attemptFromCookie binds the attempt named by a valid cookie to the request
// context. A missing or invalid cookie leaves the request anonymous.
func (h *Handler) attemptFromCookie(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(attempt.CookieName)
		if err == nil && c.Value != "" {
			if id, err := h.tokens.Parse(c.Value); err == nil {
				r = r.WithContext(requestcontext.WithAttemptID(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// currentAttempt resolves the request's attempt or writes the error.
func (h *Handler) currentAttempt(w http.ResponseWriter, r *http.Request) (*attempt.Attempt, bool) {
	ctx := r.Context()
	id := requestcontext.AttemptID(ctx)
	if id.IsNil() {
		httputil.WriteError(w, errNoAttempt)
		return nil, false
	}
	a, err := h.attempts.Get(ctx, id)
	if err != nil {
		h.logger.WarnContext(ctx, "attempt lookup failed",
			"error", err,
			"attempt_id", id.String(),
			"request_id", middleware.GetRequestID(ctx),
		)
		h.clearCookie(w)
		httputil.WriteError(w, err)
		return nil, false
	}
	return a, true
}

// stateOf feeds the screen guard. Requests without a live attempt see the
// initial state and are sent to start verification.
func (h *Handler) stateOf(r *http.Request) verification.State {
	id := requestcontext.AttemptID(r.Context())
	if id.IsNil() {
		return verification.NewState()
	}
	a, err := h.attempts.Get(r.Context(), id)
	if err != nil {
		return verification.NewState()
	}
	return a.Machine.Snapshot()
}

func (h *Handler) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     attempt.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     attempt.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteStrictMode,
	})
}

func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		// Non-browser clients often omit Origin.
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}
