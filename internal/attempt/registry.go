package attempt

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"examgate/internal/capture"
	"examgate/internal/platform/metrics"
	"examgate/internal/verification"
	"examgate/pkg/domain"
	dErrors "examgate/pkg/domain-errors"
	"examgate/pkg/platform/sentinel"
)

// MachineFactory builds the state machine for a new attempt.
type MachineFactory func(attemptID domain.AttemptID, device string) (*verification.Machine, error)

// Config bounds attempts held by a Registry.
type Config struct {
	// TTL is how long an attempt survives without requests.
	TTL time.Duration
	// MaxCheckpointAttempts caps rejected verdicts per checkpoint; 0 is unlimited.
	MaxCheckpointAttempts int
	Capture               capture.Options
}

// Registry owns every live attempt of the process.
type Registry struct {
	mu       sync.RWMutex
	attempts map[domain.AttemptID]*Attempt

	newMachine MachineFactory
	cfg        Config
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(newMachine MachineFactory, cfg Config, opts ...Option) (*Registry, error) {
	if newMachine == nil {
		return nil, errors.New("machine factory is required")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("attempt ttl must be positive")
	}
	r := &Registry{
		attempts:   make(map[domain.AttemptID]*Attempt),
		newMachine: newMachine,
		cfg:        cfg,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Create starts a new attempt for a client identified by its User-Agent.
func (r *Registry) Create(ctx context.Context, userAgent string) (*Attempt, error) {
	id := domain.NewAttemptID()
	device := DeviceLabel(userAgent)
	machine, err := r.newMachine(id, device)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create attempt")
	}
	a := newAttempt(id, device, machine, r.cfg.Capture, r.cfg.MaxCheckpointAttempts, r.now())

	r.mu.Lock()
	r.attempts[id] = a
	n := len(r.attempts)
	r.mu.Unlock()

	r.reportActive(n)
	r.logger.InfoContext(ctx, "attempt created",
		"attempt_id", id.String(),
		"device", device,
	)
	return a, nil
}

// Get returns a live attempt and marks it seen. Unknown and expired attempts
// are not found.
func (r *Registry) Get(ctx context.Context, id domain.AttemptID) (*Attempt, error) {
	r.mu.RLock()
	a, ok := r.attempts[id]
	r.mu.RUnlock()
	if !ok {
		return nil, dErrors.Wrap(sentinel.ErrNotFound, dErrors.CodeNotFound, "attempt not found")
	}

	now := r.now()
	if r.expired(a, now) {
		r.Remove(ctx, id, "expired")
		return nil, dErrors.Wrap(sentinel.ErrExpired, dErrors.CodeNotFound, "attempt expired")
	}
	a.touch(now)
	return a, nil
}

// Remove closes and forgets an attempt. Removing an unknown attempt is a no-op.
func (r *Registry) Remove(ctx context.Context, id domain.AttemptID, reason string) {
	r.mu.Lock()
	a, ok := r.attempts[id]
	delete(r.attempts, id)
	n := len(r.attempts)
	r.mu.Unlock()
	if !ok {
		return
	}

	a.close(ctx, reason)
	r.reportActive(n)
	r.logger.InfoContext(ctx, "attempt removed",
		"attempt_id", id.String(),
		"reason", reason,
	)
}

// Sweep removes every attempt idle longer than the TTL and returns how many
// it removed.
func (r *Registry) Sweep(ctx context.Context) int {
	now := r.now()
	var stale []domain.AttemptID
	r.mu.RLock()
	for id, a := range r.attempts {
		if r.expired(a, now) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.Remove(ctx, id, "expired")
	}
	return len(stale)
}

// RunSweeper sweeps every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(ctx); n > 0 {
				r.logger.InfoContext(ctx, "expired attempts swept", "count", n)
			}
		}
	}
}

// Close removes every attempt, releasing all capture hardware.
func (r *Registry) Close(ctx context.Context) {
	r.mu.RLock()
	ids := make([]domain.AttemptID, 0, len(r.attempts))
	for id := range r.attempts {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Remove(ctx, id, "shutdown")
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.attempts)
}

func (r *Registry) expired(a *Attempt, now time.Time) bool {
	return now.Sub(a.LastSeen()) > r.cfg.TTL
}

func (r *Registry) reportActive(n int) {
	if r.metrics != nil {
		r.metrics.SetActiveAttempts(n)
	}
}
