package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// limiterFactories builds each algorithm with the same limit for
// property-style tests that must hold across all three.
func limiterFactories(limit Limit) map[string]func() Limiter {
	return map[string]func() Limiter{
		"token_bucket":   func() Limiter { return NewTokenBucketLimiter(limit, nil) },
		"sliding_window": func() Limiter { return NewSlidingWindowLimiter(limit, nil) },
		"fixed_window":   func() Limiter { return NewFixedWindowLimiter(limit, nil) },
	}
}

func TestLimiters_ExactlyLimitAllowed(t *testing.T) {
	// limit=5 per 60s: 8 back-to-back requests yield exactly 5 allows and
	// 3 denies with a positive retry-after.
	for name, newLimiter := range limiterFactories(Limit{Requests: 5, Window: time.Minute}) {
		t.Run(name, func(t *testing.T) {
			l := newLimiter()
			defer func() { _ = l.Close() }()

			allowed, denied := 0, 0
			for i := 0; i < 8; i++ {
				res, err := l.Allow(context.Background(), "client-1")
				require.NoError(t, err)
				if res.Allowed {
					allowed++
				} else {
					denied++
					assert.Positive(t, res.RetryAfter, "denied result must carry a retry-after hint")
				}
			}

			assert.Equal(t, 5, allowed)
			assert.Equal(t, 3, denied)
		})
	}
}

func TestLimiters_WindowElapses(t *testing.T) {
	for name, newLimiter := range limiterFactories(Limit{Requests: 2, Window: 80 * time.Millisecond}) {
		t.Run(name, func(t *testing.T) {
			l := newLimiter()
			defer func() { _ = l.Close() }()

			for i := 0; i < 2; i++ {
				res, err := l.Allow(context.Background(), "k")
				require.NoError(t, err)
				require.True(t, res.Allowed)
			}

			res, err := l.Allow(context.Background(), "k")
			require.NoError(t, err)
			require.False(t, res.Allowed)

			// After the window fully elapses a request is allowed again.
			time.Sleep(120 * time.Millisecond)

			res, err = l.Allow(context.Background(), "k")
			require.NoError(t, err)
			assert.True(t, res.Allowed)
		})
	}
}

func TestLimiters_KeysAreIndependent(t *testing.T) {
	for name, newLimiter := range limiterFactories(Limit{Requests: 1, Window: time.Minute}) {
		t.Run(name, func(t *testing.T) {
			l := newLimiter()
			defer func() { _ = l.Close() }()

			res, _ := l.Allow(context.Background(), "a")
			require.True(t, res.Allowed)
			res, _ = l.Allow(context.Background(), "a")
			require.False(t, res.Allowed)

			// A different key has its own budget.
			res, _ = l.Allow(context.Background(), "b")
			assert.True(t, res.Allowed)
		})
	}
}

func TestLimiters_Reset(t *testing.T) {
	for name, newLimiter := range limiterFactories(Limit{Requests: 1, Window: time.Hour}) {
		t.Run(name, func(t *testing.T) {
			l := newLimiter()
			defer func() { _ = l.Close() }()

			res, _ := l.Allow(context.Background(), "k")
			require.True(t, res.Allowed)
			res, _ = l.Allow(context.Background(), "k")
			require.False(t, res.Allowed)

			l.Reset("k")

			res, _ = l.Allow(context.Background(), "k")
			assert.True(t, res.Allowed)
		})
	}
}

func TestLimiters_ConcurrentSameKey(t *testing.T) {
	// Under concurrent access to one key the admission count must be
	// exact: no lost updates, no over-admission.
	for name, newLimiter := range limiterFactories(Limit{Requests: 50, Window: time.Minute}) {
		t.Run(name, func(t *testing.T) {
			l := newLimiter()
			defer func() { _ = l.Close() }()

			var wg sync.WaitGroup
			var mu sync.Mutex
			allowed := 0

			for i := 0; i < 100; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := l.Allow(context.Background(), "shared")
					require.NoError(t, err)
					if res.Allowed {
						mu.Lock()
						allowed++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 50, allowed)
		})
	}
}

func TestTokenBucket_BurstAllowance(t *testing.T) {
	l := NewTokenBucketLimiter(Limit{Requests: 5, Window: time.Minute, Burst: 3}, nil)
	defer func() { _ = l.Close() }()

	allowed := 0
	for i := 0; i < 10; i++ {
		res, err := l.Allow(context.Background(), "bursty")
		require.NoError(t, err)
		if res.Allowed {
			allowed++
		}
	}

	// Capacity is limit plus burst.
	assert.Equal(t, 8, allowed)
}

func TestTokenBucket_RetryAfterRegainsOneToken(t *testing.T) {
	l := NewTokenBucketLimiter(Limit{Requests: 60, Window: time.Minute}, nil)
	defer func() { _ = l.Close() }()

	for i := 0; i < 60; i++ {
		res, err := l.Allow(context.Background(), "k")
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}

	res, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, res.Allowed)
	// Refill rate is 1 token/s, so regaining one token takes about a second.
	assert.InDelta(t, time.Second.Seconds(), res.RetryAfter.Seconds(), 0.25)
}

func TestTokenBucket_Cleanup(t *testing.T) {
	l := NewTokenBucketLimiter(Limit{Requests: 10, Window: time.Minute}, nil)
	defer func() { _ = l.Close() }()

	_, err := l.Allow(context.Background(), "stale")
	require.NoError(t, err)

	l.Cleanup(0)

	_, loaded := l.buckets.Load("stale")
	assert.False(t, loaded)
}

func TestFixedWindow_Cleanup(t *testing.T) {
	l := NewFixedWindowLimiter(Limit{Requests: 2, Window: 30 * time.Millisecond}, nil)

	_, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	l.Cleanup()

	_, loaded := l.counters.Load("k")
	assert.False(t, loaded)
}

func TestSlidingWindow_Cleanup(t *testing.T) {
	l := NewSlidingWindowLimiter(Limit{Requests: 2, Window: 10 * time.Millisecond}, nil)

	_, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	l.Cleanup(10 * time.Millisecond)

	_, loaded := l.windows.Load("k")
	assert.False(t, loaded)
}

func TestNoopLimiter(t *testing.T) {
	l := NewNoopLimiter()
	res, err := l.Allow(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.NoError(t, l.Close())
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		cfg       *Config
		wantType  interface{}
		expectErr bool
	}{
		{name: "nil uses defaults", cfg: nil, wantType: &TokenBucketLimiter{}},
		{
			name:     "token bucket",
			cfg:      &Config{Algorithm: AlgorithmTokenBucket, Requests: 10, Window: time.Minute},
			wantType: &TokenBucketLimiter{},
		},
		{
			name:     "sliding window",
			cfg:      &Config{Algorithm: AlgorithmSlidingWindow, Requests: 10, Window: time.Minute},
			wantType: &SlidingWindowLimiter{},
		},
		{
			name:     "fixed window",
			cfg:      &Config{Algorithm: AlgorithmFixedWindow, Requests: 10, Window: time.Minute},
			wantType: &FixedWindowLimiter{},
		},
		{
			name:      "unknown algorithm",
			cfg:       &Config{Algorithm: "leaky_bucket", Requests: 10, Window: time.Minute},
			expectErr: true,
		},
		{
			name:      "zero requests",
			cfg:       &Config{Algorithm: AlgorithmFixedWindow, Window: time.Minute},
			expectErr: true,
		},
		{
			name:      "zero window",
			cfg:       &Config{Algorithm: AlgorithmFixedWindow, Requests: 10},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.wantType, l)
			_ = l.Close()
		})
	}
}
