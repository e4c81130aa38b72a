package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/overgate-io/overgate/internal/observability"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates normal operation: calls pass through and
	// their outcomes are recorded.
	StateClosed State = iota

	// StateOpen indicates all calls are rejected immediately.
	StateOpen

	// StateHalfOpen indicates a bounded number of probe calls are
	// allowed through to test recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when the circuit breaker rejects a call.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker is a per-endpoint failure-isolation state machine. It is
// evaluated strictly before forwarding; the call outcome is recorded
// strictly after the upstream call completes or times out. Safe for
// concurrent use by many simultaneous requests to the same endpoint.
type CircuitBreaker struct {
	name   string
	config *Config
	logger observability.Logger

	mu    sync.Mutex
	state State

	consecutiveFails int
	halfOpenProbes   int
	halfOpenSuccess  int

	lastFailure     time.Time
	lastStateChange time.Time
}

// New creates a new circuit breaker in the closed state.
func New(name string, config *Config, logger observability.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	config.Validate()

	if logger == nil {
		logger = observability.NopLogger()
	}

	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger,
		state:           StateClosed,
		lastStateChange: time.Now(),
	}
}

// Allow reports whether a call may proceed. In open state it transitions
// to half-open once the open timeout has elapsed since the last failure;
// in half-open state it admits up to the probe budget and re-opens when
// the budget is exhausted without a definitive success.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.lastFailure) >= cb.config.OpenTimeout {
			cb.transitionTo(StateHalfOpen)
			cb.halfOpenProbes = 1
			return true
		}
		return false

	case StateHalfOpen:
		if cb.halfOpenProbes < cb.config.HalfOpenMax {
			cb.halfOpenProbes++
			return true
		}
		// Probe budget exhausted without a success.
		cb.transitionTo(StateOpen)
		cb.lastFailure = time.Now()
		return false

	default:
		return false
	}
}

// Release returns an admission slot that was never exercised against the
// upstream, such as a request served from cache. Without this, repeated
// cache hits in half-open state would exhaust the probe budget and
// re-open the circuit with no upstream evidence.
func (cb *CircuitBreaker) Release() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen && cb.halfOpenProbes > 0 {
		cb.halfOpenProbes--
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFails = 0

	case StateHalfOpen:
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed)
		}
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFails++
		if cb.consecutiveFails >= cb.config.MaxFailures {
			cb.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		// Any probe failure re-opens the circuit.
		cb.transitionTo(StateOpen)
	}
}

// transitionTo moves the breaker to a new state. Caller holds cb.mu.
func (cb *CircuitBreaker) transitionTo(newState State) {
	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()
	cb.consecutiveFails = 0
	cb.halfOpenProbes = 0
	cb.halfOpenSuccess = 0

	cb.logger.Info("circuit breaker state changed",
		observability.String("name", cb.name),
		observability.String("from", oldState.String()),
		observability.String("to", newState.String()),
	)

	if cb.config.OnStateChange != nil {
		go cb.config.OnStateChange(cb.name, oldState, newState)
	}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the circuit breaker back to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateClosed {
		cb.transitionTo(StateClosed)
	} else {
		cb.consecutiveFails = 0
	}
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats is a point-in-time snapshot of breaker state.
type Stats struct {
	State            State
	ConsecutiveFails int
	HalfOpenProbes   int
	LastFailure      time.Time
	LastStateChange  time.Time
}

// Stats returns the current statistics of the circuit breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		State:            cb.state,
		ConsecutiveFails: cb.consecutiveFails,
		HalfOpenProbes:   cb.halfOpenProbes,
		LastFailure:      cb.lastFailure,
		LastStateChange:  cb.lastStateChange,
	}
}
