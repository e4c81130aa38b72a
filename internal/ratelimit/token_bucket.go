package ratelimit

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/overgate-io/overgate/internal/observability"
)

var _ io.Closer = (*TokenBucketLimiter)(nil)

// TokenBucketLimiter implements the token bucket rate limiting algorithm.
// Tokens refill continuously at limit/window per second; each request
// consumes one token. Capacity is limit plus the burst allowance. A
// background goroutine prunes idle buckets; call Close when done.
type TokenBucketLimiter struct {
	rate     float64 // tokens per second
	capacity float64
	limit    Limit
	logger   observability.Logger

	buckets sync.Map

	cleanupInterval time.Duration
	bucketTTL       time.Duration
	stopCleanup     chan struct{}
	cleanupOnce     sync.Once
}

// bucket holds token state for a single key.
type bucket struct {
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
}

// NewTokenBucketLimiter creates a new token bucket rate limiter.
func NewTokenBucketLimiter(limit Limit, logger observability.Logger) *TokenBucketLimiter {
	if logger == nil {
		logger = observability.NopLogger()
	}

	l := &TokenBucketLimiter{
		rate:            float64(limit.Requests) / limit.Window.Seconds(),
		capacity:        float64(limit.Requests + limit.Burst),
		limit:           limit,
		logger:          logger,
		cleanupInterval: 5 * time.Minute,
		bucketTTL:       10 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// cleanupLoop periodically removes stale buckets.
func (l *TokenBucketLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Cleanup(l.bucketTTL)
		case <-l.stopCleanup:
			return
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (l *TokenBucketLimiter) Close() error {
	l.cleanupOnce.Do(func() {
		close(l.stopCleanup)
	})
	return nil
}

// Allow implements Limiter.
func (l *TokenBucketLimiter) Allow(ctx context.Context, key string) (*Result, error) {
	return l.AllowN(ctx, key, 1)
}

// AllowN implements Limiter.
func (l *TokenBucketLimiter) AllowN(_ context.Context, key string, n int) (*Result, error) {
	now := time.Now()

	value, _ := l.buckets.LoadOrStore(key, &bucket{
		tokens:     l.capacity,
		lastUpdate: now,
	})
	b := value.(*bucket)

	b.mu.Lock()
	defer b.mu.Unlock()

	// Continuous refill capped at capacity.
	elapsed := now.Sub(b.lastUpdate).Seconds()
	b.tokens += elapsed * l.rate
	if b.tokens > l.capacity {
		b.tokens = l.capacity
	}
	b.lastUpdate = now

	allowed := b.tokens >= float64(n)
	if allowed {
		b.tokens -= float64(n)
	}

	remaining := int(b.tokens)
	if remaining < 0 {
		remaining = 0
	}

	// Time until enough tokens are regained.
	var retryAfter time.Duration
	if !allowed {
		needed := float64(n) - b.tokens
		retryAfter = time.Duration(needed / l.rate * float64(time.Second))
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
func (l *TokenBucketLimiter) Limit() Limit {
	return l.limit
}

// Reset implements Limiter.
func (l *TokenBucketLimiter) Reset(key string) {
	l.buckets.Delete(key)
}

// Cleanup removes buckets idle for longer than maxAge.
func (l *TokenBucketLimiter) Cleanup(maxAge time.Duration) {
	now := time.Now()

	l.buckets.Range(func(key, value interface{}) bool {
		b := value.(*bucket)
		b.mu.Lock()
		if now.Sub(b.lastUpdate) > maxAge {
			l.buckets.Delete(key)
		}
		b.mu.Unlock()
		return true
	})
}
