// Package retry implements attempt budgets with exponential backoff,
// used by the webhook dispatcher for redelivery.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

const (
	// DefaultMaxAttempts is the total number of delivery attempts,
	// including the first one.
	DefaultMaxAttempts = 5

	// DefaultInitialBackoff is the delay before the first retry.
	DefaultInitialBackoff = 500 * time.Millisecond

	// DefaultMaxBackoff caps the delay between attempts.
	DefaultMaxBackoff = 30 * time.Second

	// DefaultJitterFactor spreads retries out to avoid synchronized
	// redelivery bursts.
	DefaultJitterFactor = 0.25
)

// Config bounds a retried operation.
type Config struct {
	// MaxAttempts is the total attempt budget including the initial
	// attempt. Values below 1 fall back to the default.
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff growth.
	MaxBackoff time.Duration

	// JitterFactor in [0, 1] adds randomness to each delay.
	JitterFactor float64
}

// DefaultConfig returns the standard webhook retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		JitterFactor:   DefaultJitterFactor,
	}
}

func (c Config) maxAttempts() int {
	if c.MaxAttempts < 1 {
		return DefaultMaxAttempts
	}
	return c.MaxAttempts
}

func (c Config) initialBackoff() time.Duration {
	if c.InitialBackoff <= 0 {
		return DefaultInitialBackoff
	}
	return c.InitialBackoff
}

func (c Config) maxBackoff() time.Duration {
	if c.MaxBackoff <= 0 {
		return DefaultMaxBackoff
	}
	return c.MaxBackoff
}

func (c Config) jitterFactor() float64 {
	switch {
	case c.JitterFactor <= 0:
		return DefaultJitterFactor
	case c.JitterFactor > 1:
		return 1
	default:
		return c.JitterFactor
	}
}

// Func is an operation that may be retried. The attempt counter starts
// at 1.
type Func func(attempt int) error

// OnRetry is invoked after a failed attempt, before sleeping.
type OnRetry func(attempt int, err error, delay time.Duration)

// Do runs fn until it succeeds, the attempt budget is spent, or the
// context is cancelled. The last error is returned on exhaustion;
// context cancellation wins over it.
func Do(ctx context.Context, cfg Config, fn Func, onRetry OnRetry) error {
	max := cfg.maxAttempts()

	var lastErr error
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}

		if attempt == max {
			break
		}

		delay := Backoff(attempt, cfg)
		if onRetry != nil {
			onRetry(attempt, lastErr, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// Backoff returns the delay after a given failed attempt: the initial
// backoff doubled per prior attempt, with jitter, capped at MaxBackoff.
func Backoff(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := float64(cfg.initialBackoff()) * math.Pow(2, float64(attempt-1))
	d += d * cfg.jitterFactor() * rand.Float64()

	if max := float64(cfg.maxBackoff()); d > max {
		d = max
	}
	return time.Duration(d)
}
