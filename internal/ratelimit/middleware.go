package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"examgate/internal/platform/metrics"
	dErrors "examgate/pkg/domain-errors"
	"examgate/pkg/platform/httputil"
	"examgate/pkg/requestcontext"
)

// Class groups endpoints that share a budget.
type Class string

const (
	// ClassLogin covers login, which registers and starts a remote session.
	ClassLogin Class = "login"
	// ClassBiometric covers checkpoint verification and enrollment.
	ClassBiometric Class = "biometric"
)

// Policy is the budget of a class. A non-positive Limit disables it.
type Policy struct {
	Limit  int
	Window time.Duration
}

// PerMinute is a policy of n requests per minute.
func PerMinute(n int) Policy {
	return Policy{Limit: n, Window: time.Minute}
}

// Middleware applies per-client-IP policies to routes.
type Middleware struct {
	limiter  *Limiter
	policies map[Class]Policy
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

type Option func(*Middleware)

func WithMetrics(m *metrics.Metrics) Option {
	return func(mw *Middleware) { mw.metrics = m }
}

func New(limiter *Limiter, policies map[Class]Policy, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		limiter:  limiter,
		policies: policies,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limit returns middleware enforcing class per client IP. It expects the
// client metadata middleware to have run.
func (m *Middleware) Limit(class Class) func(http.Handler) http.Handler {
	policy, ok := m.policies[class]
	if !ok || policy.Limit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := requestcontext.ClientIP(ctx)
			result := m.limiter.Allow(ctx, string(class)+":"+ip, policy.Limit, policy.Window)

			addRateLimitHeaders(w, result)
			if !result.Allowed {
				if m.metrics != nil {
					m.metrics.IncrementRateLimited(string(class))
				}
				m.logger.WarnContext(ctx, "rate limit exceeded",
					"class", string(class),
					"retry_after", result.RetryAfter,
					"request_id", requestcontext.RequestID(ctx),
				)
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				httputil.WriteError(w, dErrors.New(dErrors.CodeTooManyRequests, "too many requests; try again later"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result Result) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
