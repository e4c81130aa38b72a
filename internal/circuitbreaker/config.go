// Package circuitbreaker provides per-endpoint failure isolation for the
// gateway. It implements the circuit breaker pattern to prevent repeated
// calls to an unhealthy upstream.
package circuitbreaker

import (
	"time"
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// MaxFailures is the number of consecutive failures before opening
	// the circuit.
	MaxFailures int

	// OpenTimeout is how long the circuit stays open after the last
	// failure before transitioning to half-open.
	OpenTimeout time.Duration

	// HalfOpenMax is the maximum number of probe requests allowed in
	// half-open state.
	HalfOpenMax int

	// SuccessThreshold is the number of successful probes needed to close
	// the circuit from half-open state.
	SuccessThreshold int

	// OnStateChange is called when the circuit breaker state changes.
	OnStateChange func(name string, from, to State)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		MaxFailures:      5,
		OpenTimeout:      30 * time.Second,
		HalfOpenMax:      3,
		SuccessThreshold: 1,
	}
}

// Validate normalizes invalid values to defaults.
func (c *Config) Validate() {
	if c.MaxFailures < 1 {
		c.MaxFailures = 5
	}
	if c.OpenTimeout < time.Millisecond {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMax < 1 {
		c.HalfOpenMax = 3
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = 1
	}
}

// WithMaxFailures sets the maximum consecutive failures.
func (c *Config) WithMaxFailures(n int) *Config {
	c.MaxFailures = n
	return c
}

// WithOpenTimeout sets the open timeout.
func (c *Config) WithOpenTimeout(d time.Duration) *Config {
	c.OpenTimeout = d
	return c
}

// WithHalfOpenMax sets the half-open probe budget.
func (c *Config) WithHalfOpenMax(n int) *Config {
	c.HalfOpenMax = n
	return c
}

// WithOnStateChange sets the state change callback.
func (c *Config) WithOnStateChange(fn func(name string, from, to State)) *Config {
	c.OnStateChange = fn
	return c
}
