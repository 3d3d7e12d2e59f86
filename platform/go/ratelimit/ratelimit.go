// Package ratelimit provides fixed-window request budgets keyed by caller
// identity. State lives behind the Store interface: single-process deployments
// use MemoryStore, horizontally scaled ones must use RedisStore so the budget
// holds across instances.
package ratelimit

import (
	"context"
	"time"
)

// Store is a keyed fixed-window counter with TTL semantics.
type Store interface {
	// Incr increments the counter for key, starting a new window of the given
	// length when none is active, and returns the post-increment count plus the
	// instant the current window resets.
	Incr(ctx context.Context, key string, window time.Duration) (count int, reset time.Time, err error)
}

// Decision is the outcome of one Allow call, carrying everything the HTTP
// layer needs for the X-RateLimit-* and Retry-After headers.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// RetryAfter returns the whole seconds until the window resets, at least 1.
func (d Decision) RetryAfter(now time.Time) int {
	secs := int(d.Reset.Sub(now).Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Limiter applies a fixed budget per window per key.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

// NewLimiter builds a Limiter over the given store.
func NewLimiter(store Store, limit int, window time.Duration) *Limiter {
	if store == nil {
		panic("ratelimit: store is required")
	}
	if limit <= 0 {
		panic("ratelimit: limit must be positive")
	}
	if window <= 0 {
		panic("ratelimit: window must be positive")
	}
	return &Limiter{store: store, limit: limit, window: window}
}

// Allow consumes one unit of the key's budget. Exactly limit calls succeed per
// window; the next call is denied until the window resets.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, reset, err := l.store.Incr(ctx, key, l.window)
	if err != nil {
		return Decision{}, err
	}

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Decision{
		Allowed:   count <= l.limit,
		Limit:     l.limit,
		Remaining: remaining,
		Reset:     reset,
	}, nil
}

// Limit returns the configured budget, for handlers that report it.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration { return l.window }
