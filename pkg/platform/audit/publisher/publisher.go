package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	id "examgate/pkg/domain"
	audit "examgate/pkg/platform/audit"
	"examgate/pkg/platform/audit/worker"
)

// ErrBufferFull is returned in async mode when the event cannot be queued.
var ErrBufferFull = errors.New("audit buffer full")

// Publisher records audit events into a queryable store and optional sinks.
// In sync mode Emit appends before returning; in async mode events are queued
// and a background worker appends them. Close drains the queue.
type Publisher struct {
	store  audit.Store
	sinks  []audit.Appender
	logger *slog.Logger
	now    func() time.Time

	bufferSize int
	queue      chan audit.Event
	worker     *worker.Worker
	done       chan struct{}
	closeOnce  sync.Once
	mu         sync.RWMutex
	closed     bool
}

type Option func(*Publisher)

// WithAsyncBuffer switches the publisher to async mode with the given queue size.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		p.bufferSize = size
	}
}

// WithSink adds a write-only destination (e.g. Kafka) next to the store.
func WithSink(sink audit.Appender) Option {
	return func(p *Publisher) {
		if sink != nil {
			p.sinks = append(p.sinks, sink)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	appenders := append([]audit.Appender{store}, p.sinks...)
	if p.bufferSize > 0 {
		p.queue = make(chan audit.Event, p.bufferSize)
		p.worker = worker.NewWorker(p.queue, p.logger, appenders...)
		go func() {
			defer close(p.done)
			p.worker.Run(context.Background())
		}()
	} else {
		p.worker = worker.NewWorker(nil, p.logger, appenders...)
		close(p.done)
	}
	return p
}

// Emit records an event. The timestamp and category are filled in when unset.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.queue == nil {
		return p.worker.Deliver(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrBufferFull
	}
	select {
	case p.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.logger.WarnContext(ctx, "audit buffer full, dropping event",
			"action", event.Action,
			"attempt_id", event.AttemptID.String(),
		)
		return ErrBufferFull
	}
}

// List returns the events recorded for an attempt.
func (p *Publisher) List(ctx context.Context, attemptID id.AttemptID) ([]audit.Event, error) {
	return p.store.ListByAttempt(ctx, attemptID)
}

// Close stops accepting events and waits for queued events to be appended.
func (p *Publisher) Close() {
	p.closeOnce.Do(func() {
		if p.queue != nil {
			p.mu.Lock()
			p.closed = true
			close(p.queue)
			p.mu.Unlock()
		}
		<-p.done
	})
}
