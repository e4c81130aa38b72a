package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/overgate-io/overgate/internal/observability"
)

// FixedWindowLimiter implements the fixed window rate limiting algorithm.
// Time divides into fixed windows; the counter resets whenever the window
// index (floor(now / window)) changes.
type FixedWindowLimiter struct {
	limit  Limit
	logger observability.Logger

	counters sync.Map
}

// windowCounter is the counter for a single key.
type windowCounter struct {
	count       int
	windowStart time.Time
	mu          sync.Mutex
}

// NewFixedWindowLimiter creates a new fixed window rate limiter.
func NewFixedWindowLimiter(limit Limit, logger observability.Logger) *FixedWindowLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &FixedWindowLimiter{
		limit:  limit,
		logger: logger,
	}
}

// Allow implements Limiter.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// windowStart returns the start of the window containing t.
func (l *FixedWindowLimiter) windowStart(t time.Time) time.Time {
	windowNanos := l.limit.Window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}

// AllowN implements Limiter.
func (l *FixedWindowLimiter) AllowN(_ context.Context, key string, n int) (*Result, error) {
	now := time.Now()
	windowStart := l.windowStart(now)

	value, _ := l.counters.LoadOrStore(key, &windowCounter{
		windowStart: windowStart,
	})
	wc := value.(*windowCounter)

	wc.mu.Lock()
	defer wc.mu.Unlock()

	if !wc.windowStart.Equal(windowStart) {
		wc.count = 0
		wc.windowStart = windowStart
	}

	allowed := wc.count+n <= l.limit.Requests
	if allowed {
		wc.count += n
	}

	remaining := l.limit.Requests - wc.count
	if remaining < 0 {
		remaining = 0
	}

	// Denied requests can retry once the window rolls over.
	var retryAfter time.Duration
	if !allowed {
		retryAfter = windowStart.Add(l.limit.Window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Millisecond
		}
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit.Requests,
		Remaining:  remaining,
		RetryAfter: retryAfter,
	}, nil
}

// Limit implements Limiter.
func (l *FixedWindowLimiter) Limit() Limit {
	return l.limit
}

// Reset implements Limiter.
func (l *FixedWindowLimiter) Reset(key string) {
	l.counters.Delete(key)
}

// Close implements Limiter.
func (l *FixedWindowLimiter) Close() error {
	return nil
}

// Cleanup removes counters from windows that have already rolled over.
func (l *FixedWindowLimiter) Cleanup() {
	current := l.windowStart(time.Now())

	l.counters.Range(func(key, value interface{}) bool {
		wc := value.(*windowCounter)
		wc.mu.Lock()
		if wc.windowStart.Before(current) {
			l.counters.Delete(key)
		}
		wc.mu.Unlock()
		return true
	})
}
