package group

import (
	"sync"
	"time"
)

// CircuitState is one of the three states a per-member CircuitBreaker can
// be in.
type CircuitState int

const (
	Closed CircuitState = iota
	Open
	HalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards one group member: it opens after consecutive
// failures within the window, and after resetTimeout enters HALF_OPEN,
// admitting exactly one probe before deciding to close or reopen.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	resetTimeout     time.Duration

	state               CircuitState
	consecutiveFailures int
	openedAt            time.Time
	probeInFlight       bool
}

// NewCircuitBreaker creates a CLOSED breaker.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{failureThreshold: failureThreshold, resetTimeout: resetTimeout, state: Closed}
}

// AllowRequest reports whether a request may currently be routed to this
// member, transitioning OPEN -> HALF_OPEN if the reset timeout has
// elapsed. HALF_OPEN admits exactly one in-flight probe at a time.
func (cb *CircuitBreaker) AllowRequest() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case HalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	case Open:
		if time.Since(cb.openedAt) >= cb.resetTimeout {
			cb.state = HalfOpen
			cb.probeInFlight = true
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess closes the breaker (from CLOSED or HALF_OPEN) and clears
// the failure streak.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.state = Closed
	cb.probeInFlight = false
}

// RecordFailure increments the failure streak and opens the breaker once
// the threshold is reached, or immediately reopens on a failed probe.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.probeInFlight = false

	if cb.state == HalfOpen {
		cb.state = Open
		cb.openedAt = time.Now()
		return
	}

	cb.consecutiveFailures++
	if cb.consecutiveFailures >= cb.failureThreshold {
		cb.state = Open
		cb.openedAt = time.Now()
	}
}

// State returns the breaker's current state without side effects (does not
// perform the OPEN -> HALF_OPEN check AllowRequest does).
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
