package group

import "time"

// Member is one Provider's participation in a group: its static weight and
// priority, its current rotation bit, its own circuit breaker, and the
// bookkeeping the rebalance protocol and least-busy strategy need.
type Member struct {
	ProviderID string
	Weight     int
	Priority   int
	InRotation bool

	CB *CircuitBreaker

	consecutiveHealthy   int
	consecutiveUnhealthy int

	inFlight   int
	lastUsedAt time.Time
}

// NewMember creates a member starting out of rotation; rebalance brings it
// in once it has accrued enough healthy observations.
func NewMember(providerID string, weight, priority int, cbFailureThreshold int, cbResetTimeout time.Duration) *Member {
	if weight < 1 {
		weight = 1
	}
	return &Member{
		ProviderID: providerID,
		Weight:     weight,
		Priority:   priority,
		CB:         NewCircuitBreaker(cbFailureThreshold, cbResetTimeout),
	}
}
