// Package health implements HealthTracker: the pure in-memory failure
// counter and exponential backoff clock a Provider consults before
// deciding whether it may serve traffic or attempt another start.
package health

import (
	"math"
	"sync"
	"time"
)

const maxBackoff = 60 * time.Second

// Tracker tracks consecutive/total failures, success-rate, and the
// wall-clock backoff window for one Provider. It is configured only with
// MaxConsecutiveFailures and holds no reference to the Provider it
// measures.
type Tracker struct {
	mu sync.Mutex

	maxConsecutiveFailures int

	consecutiveFailures int
	totalInvocations    int
	totalFailures       int
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
}

// New creates a Tracker that considers a Provider eligible for DEGRADED
// once consecutive failures reach maxConsecutiveFailures.
func New(maxConsecutiveFailures int) *Tracker {
	return &Tracker{maxConsecutiveFailures: maxConsecutiveFailures}
}

// RecordSuccess resets the consecutive failure count, stamps the success
// time, and counts the invocation.
func (t *Tracker) RecordSuccess() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutiveFailures = 0
	t.lastSuccessAt = time.Now()
	t.totalInvocations++
}

// RecordFailure increments both failure counters and the invocation
// count, and stamps the failure time. Use this for failures that indicate
// the provider itself is unhealthy (timeouts, transport errors).
func (t *Tracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutiveFailures++
	t.totalFailures++
	t.totalInvocations++
	t.lastFailureAt = time.Now()
}

// RecordInvocationFailure counts a failure toward totals but not toward
// the consecutive streak: used when the failure is user-caused (a bad
// argument, a domain-level RPC error) rather than a health signal.
func (t *Tracker) RecordInvocationFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalFailures++
	t.totalInvocations++
}

// ShouldDegrade reports whether consecutive failures have reached the
// configured threshold.
func (t *Tracker) ShouldDegrade() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutiveFailures >= t.maxConsecutiveFailures
}

// CanRetry reports whether enough wall-clock time has elapsed since the
// last failure for another start attempt.
func (t *Tracker) CanRetry() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.canRetryLocked()
}

func (t *Tracker) canRetryLocked() bool {
	if t.lastFailureAt.IsZero() {
		return true
	}
	return time.Since(t.lastFailureAt) >= t.backoffLocked()
}

// TimeUntilRetry returns the remaining backoff duration, or zero if a
// retry is already allowed.
func (t *Tracker) TimeUntilRetry() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastFailureAt.IsZero() {
		return 0
	}
	remaining := t.backoffLocked() - time.Since(t.lastFailureAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// backoffLocked computes min(60s, 2^consecutive_failures seconds). Caller
// must hold t.mu.
func (t *Tracker) backoffLocked() time.Duration {
	if t.consecutiveFailures >= 6 {
		// 2^6s == 64s already exceeds the 60s cap; avoid overflowing
		// math.Pow/time.Duration for large failure counts.
		return maxBackoff
	}
	backoff := time.Duration(math.Pow(2, float64(t.consecutiveFailures))) * time.Second
	if backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

// SuccessRate returns the fraction of invocations that succeeded, or 1.0
// if there have been no invocations yet.
func (t *Tracker) SuccessRate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.totalInvocations == 0 {
		return 1.0
	}
	return float64(t.totalInvocations-t.totalFailures) / float64(t.totalInvocations)
}

// Reset clears all counters and timestamps back to their zero state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.consecutiveFailures = 0
	t.totalInvocations = 0
	t.totalFailures = 0
	t.lastSuccessAt = time.Time{}
	t.lastFailureAt = time.Time{}
}

// Snapshot is an immutable point-in-time view of a Tracker's state.
type Snapshot struct {
	ConsecutiveFailures int
	TotalInvocations    int
	TotalFailures       int
	LastSuccessAt       time.Time
	LastFailureAt       time.Time
	SuccessRate         float64
	CanRetry            bool
	TimeUntilRetry      time.Duration
}

// ToDict returns a Snapshot of the tracker's current state, mirroring the
// shape exposed to callers for diagnostics and status queries.
func (t *Tracker) ToDict() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	rate := 1.0
	if t.totalInvocations > 0 {
		rate = float64(t.totalInvocations-t.totalFailures) / float64(t.totalInvocations)
	}

	remaining := time.Duration(0)
	if !t.lastFailureAt.IsZero() {
		remaining = t.backoffLocked() - time.Since(t.lastFailureAt)
		if remaining < 0 {
			remaining = 0
		}
	}

	return Snapshot{
		ConsecutiveFailures: t.consecutiveFailures,
		TotalInvocations:    t.totalInvocations,
		TotalFailures:       t.totalFailures,
		LastSuccessAt:       t.lastSuccessAt,
		LastFailureAt:       t.lastFailureAt,
		SuccessRate:         rate,
		CanRetry:            t.canRetryLocked(),
		TimeUntilRetry:      remaining,
	}
}

// ConsecutiveFailures returns the current consecutive failure count.
func (t *Tracker) ConsecutiveFailures() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.consecutiveFailures
}
