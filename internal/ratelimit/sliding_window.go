package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/overgate-io/overgate/internal/observability"
)

// SlidingWindowLimiter implements the sliding window rate limiting
// algorithm: a time-ordered log of accepted-request timestamps, pruned to
// the trailing window on each check.
type SlidingWindowLimiter struct {
	limit  Limit
	logger observability.Logger

	windows sync.Map
}

// windowState is the timestamp log for a single key.
type windowState struct {
	requests []time.Time
	mu       sync.Mutex
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter.
func NewSlidingWindowLimiter(limit Limit, logger observability.Logger) *SlidingWindowLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &SlidingWindowLimiter{
		limit:  limit,
		logger: logger,
	}
}

// Allow implements Limiter.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *SlidingWindowLimiter) AllowN(_ context.Context, key string, n int) (*Result, error) {
	now := time.Now()

	value, _ := l.windows.LoadOrStore(key, &windowState{})
	ws := value.(*windowState)

	ws.mu.Lock()
	defer ws.mu.Unlock()

	l.prune(ws, now)

	currentCount := len(ws.requests)
	allowed := currentCount+n <= l.limit.Requests
	if allowed {
		for i := 0; i < n; i++ {
			ws.requests = append(ws.requests, now)
		}
		currentCount += n
	}

	remaining := l.limit.Requests - currentCount
	if remaining < 0 {
		remaining = 0
	}

	return &Result{
		Allowed:    allowed,
		Limit:      l.limit.Requests,
		Remaining:  remaining,
		RetryAfter: l.retryAfter(ws, now, currentCount, n, allowed),
	}, nil
}

// prune drops timestamps that fell out of the trailing window.
func (l *SlidingWindowLimiter) prune(ws *windowState, now time.Time) {
	windowStart := now.Add(-l.limit.Window)
	valid := ws.requests[:0]
	for _, t := range ws.requests {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}
	ws.requests = valid
}

// retryAfter computes the time until the oldest counted event expires.
func (l *SlidingWindowLimiter) retryAfter(
	ws *windowState,
	now time.Time,
	currentCount, n int,
	allowed bool,
) time.Duration {
	if allowed || len(ws.requests) == 0 {
		return 0
	}

	excess := currentCount + n - l.limit.Requests
	if excess <= 0 || excess > len(ws.requests) {
		return 0
	}

	oldestToExpire := ws.requests[excess-1]
	retryAfter := oldestToExpire.Add(l.limit.Window).Sub(now)
	if retryAfter <= 0 {
		retryAfter = time.Millisecond
	}
	return retryAfter
}

// Limit implements Limiter.
func (l *SlidingWindowLimiter) Limit() Limit {
	return l.limit
}

// Reset implements Limiter.
func (l *SlidingWindowLimiter) Reset(key string) {
	l.windows.Delete(key)
}

// Close implements Limiter.
func (l *SlidingWindowLimiter) Close() error {
	return nil
}

// Cleanup removes window states whose every timestamp is older than maxAge.
func (l *SlidingWindowLimiter) Cleanup(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)

	l.windows.Range(func(key, value interface{}) bool {
		ws := value.(*windowState)
		ws.mu.Lock()

		allOld := true
		for _, t := range ws.requests {
			if t.After(cutoff) {
				allOld = false
				break
			}
		}
		if allOld {
			l.windows.Delete(key)
		}

		ws.mu.Unlock()
		return true
	})
}
