package ratelimit

import (
	"fmt"
	"time"

	"github.com/overgate-io/overgate/internal/observability"
)

// Config holds configuration for creating a rate limiter.
type Config struct {
	// Algorithm is the rate limiting algorithm to use.
	Algorithm Algorithm

	// Requests is the maximum number of requests allowed in the window.
	Requests int

	// Window is the time window for the rate limit.
	Window time.Duration

	// Burst is the additional burst allowance (token bucket only).
	Burst int

	// Logger for the rate limiter.
	Logger observability.Logger
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Algorithm: AlgorithmTokenBucket,
		Requests:  100,
		Window:    time.Minute,
		Burst:     10,
	}
}

// New creates a rate limiter for the configured algorithm.
func New(cfg *Config) (Limiter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Requests <= 0 {
		return nil, fmt.Errorf("requests must be positive, got %d", cfg.Requests)
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %s", cfg.Window)
	}

	limit := Limit{
		Requests: cfg.Requests,
		Window:   cfg.Window,
		Burst:    cfg.Burst,
	}

	switch cfg.Algorithm {
	case AlgorithmTokenBucket, "":
		return NewTokenBucketLimiter(limit, cfg.Logger), nil
	case AlgorithmSlidingWindow:
		return NewSlidingWindowLimiter(limit, cfg.Logger), nil
	case AlgorithmFixedWindow:
		return NewFixedWindowLimiter(limit, cfg.Logger), nil
	default:
		return nil, fmt.Errorf("unknown algorithm: %s", cfg.Algorithm)
	}
}
