package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen
	// StateHalfOpen lets a probe call through.
	StateHalfOpen
)

// String returns a string representation of the state.
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

// CircuitBreaker fails fast while a dependency (the embedding server) is down.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the number of consecutive failures that open the circuit.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.maxFailures = n
	}
}

// WithResetTimeout sets how long the circuit stays open before probing.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.resetTimeout = d
	}
}

// NewCircuitBreaker creates a circuit breaker. Default: 5 failures, 30s reset.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState must be called with mu held.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && time.Since(cb.lastFailure) > cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

func (cb *CircuitBreaker) record(err error, probing bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.failures = 0
		cb.state = StateClosed
		return
	}

	cb.failures++
	cb.lastFailure = time.Now()
	if probing || cb.failures >= cb.maxFailures {
		cb.state = StateOpen
	}
}

// Execute runs fn through the circuit breaker.
// Returns ErrCircuitOpen without calling fn if the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	_, err := CircuitExecute(cb, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// CircuitExecute runs fn through cb and returns its result.
func CircuitExecute[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	cb.mu.Lock()
	state := cb.currentState()
	cb.mu.Unlock()

	if state == StateOpen {
		var zero T
		return zero, ErrCircuitOpen
	}

	result, err := fn()
	cb.record(err, state == StateHalfOpen)
	return result, err
}
