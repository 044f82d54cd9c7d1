// Package ratelimit bounds how often one client may hit the endpoints that
// reach the biometric API.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is whole seconds until a denied key may try again.
	RetryAfter int
}

// Limiter is an in-memory sliding window per key. It is not shared between
// gateway instances; attempts are not either.
type Limiter struct {
	mu        sync.Mutex
	windows   map[string]*slidingWindow
	now       func() time.Time
	lastPrune time.Time
}

// slidingWindow keeps the timestamps of admitted requests, oldest first.
type slidingWindow struct {
	timestamps []time.Time
	window     time.Duration
}

type LimiterOption func(*Limiter)

func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

func NewLimiter(opts ...LimiterOption) *Limiter {
	l := &Limiter{
		windows: make(map[string]*slidingWindow),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastPrune = l.now()
	return l
}

// Allow admits one request for key if fewer than limit were admitted within
// window.
func (l *Limiter) Allow(_ context.Context, key string, limit int, window time.Duration) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now, window)

	sw := l.windows[key]
	if sw == nil {
		sw = &slidingWindow{window: window}
		l.windows[key] = sw
	}
	sw.window = window
	sw.cleanup(now)

	if len(sw.timestamps) < limit {
		sw.timestamps = append(sw.timestamps, now)
		return Result{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - len(sw.timestamps),
			ResetAt:   sw.timestamps[0].Add(window),
		}
	}

	resetAt := sw.timestamps[0].Add(window)
	retry := int(resetAt.Sub(now).Round(time.Second) / time.Second)
	if retry < 1 {
		retry = 1
	}
	return Result{
		Allowed:    false,
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
		RetryAfter: retry,
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// pruneLocked drops idle keys at most once per window so the map does not
// grow with every client ever seen.
func (l *Limiter) pruneLocked(now time.Time, window time.Duration) {
	if now.Sub(l.lastPrune) < window {
		return
	}
	l.lastPrune = now
	for key, sw := range l.windows {
		sw.cleanup(now)
		if len(sw.timestamps) == 0 {
			delete(l.windows, key)
		}
	}
}

// cleanup removes timestamps that fell out of the window.
func (sw *slidingWindow) cleanup(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for ; i < len(sw.timestamps); i++ {
		if sw.timestamps[i].After(cutoff) {
			break
		}
	}
	sw.timestamps = sw.timestamps[i:]
}
