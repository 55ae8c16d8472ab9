// Package breaker implements the per-upstream circuit breaker the gateway
// uses to shed load from failing services.
package breaker

import (
	"sync"
	"time"

	"github.com/Gupta-Nikhil85/pgai-sub000/pkg/apperrors"
)

// State represents the current state of the circuit breaker.
type State int

const (
	// StateClosed means the circuit is operational and requests flow through.
	StateClosed State = iota
	// StateOpen means the circuit has tripped due to failures and requests are blocked.
	StateOpen
	// StateHalfOpen means the circuit is testing if the upstream has recovered.
	StateHalfOpen
)

// String returns a human-readable string for the circuit state.
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

// Config holds circuit breaker parameters.
type Config struct {
	// FailureThreshold is the number of consecutive failures before the circuit trips.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before admitting a trial call.
	ResetTimeout time.Duration
}

// DefaultConfig returns the platform defaults: trip after 5 consecutive
// failures, try again after 30 seconds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker is a three-state circuit breaker guarding one upstream service.
// Exactly one trial call is admitted per half-open epoch.
type Breaker struct {
	mu               sync.RWMutex
	name             string
	consecutiveFails int
	threshold        int
	resetTimeout     time.Duration
	lastFailure      time.Time
	state            State
}

// New creates a circuit breaker for the named upstream.
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		name:         name,
		threshold:    cfg.FailureThreshold,
		resetTimeout: cfg.ResetTimeout,
		state:        StateClosed,
	}
}

// Name returns the upstream this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether a call may proceed. After the reset timeout the
// first caller transitions the breaker to half-open and is admitted as the
// single trial; concurrent callers are rejected until the trial resolves.
func (b *Breaker) Allow() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true, nil
	case StateOpen:
		if time.Since(b.lastFailure) > b.resetTimeout {
			b.state = StateHalfOpen
			return true, nil
		}
		return false, apperrors.New(apperrors.KindCircuitOpen, "upstream "+b.name+" is unavailable (circuit open)")
	case StateHalfOpen:
		// A trial request is already in flight.
		return false, apperrors.New(apperrors.KindCircuitOpen, "upstream "+b.name+" is recovering (circuit half-open)")
	default:
		return false, apperrors.New(apperrors.KindInternal, "circuit breaker in unknown state")
	}
}

// RecordSuccess resets the failure count and closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails = 0
	b.state = StateClosed
}

// RecordFailure increments the failure count, re-opens a half-open
// circuit, and trips a closed circuit at the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails++
	b.lastFailure = time.Now()

	if b.state == StateHalfOpen {
		b.state = StateOpen
		return
	}
	if b.consecutiveFails >= b.threshold {
		b.state = StateOpen
	}
}

// State returns the current state of the circuit breaker.
func (b *Breaker) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// ConsecutiveFailures returns the current count of consecutive failures.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.consecutiveFails
}

// Reset manually closes the circuit. Intended for tests and manual
// intervention only.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFails = 0
	b.state = StateClosed
}
