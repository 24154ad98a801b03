// Package group implements the ProviderGroup aggregate: load-balanced
// selection across a set of Providers, per-member circuit breaking, and
// the rebalance protocol that keeps rotation membership in sync with
// observed health.
package group

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"fleetmcp/internal/bus"
	"fleetmcp/internal/provider"
)

// Strategy selects which member serves the next request.
type Strategy string

const (
	RoundRobin   Strategy = "round_robin"
	Weighted     Strategy = "weighted"
	LeastBusy    Strategy = "least-busy"
	PriorityFirst Strategy = "priority-first"
	Random       Strategy = "random"
)

// State is the derived health of a group as a whole.
type State int

const (
	Ready State = iota
	Degraded
	Unavailable
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Degraded:
		return "degraded"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Config is the policy a Group is constructed with.
type Config struct {
	GroupID            string
	Strategy           Strategy
	MinHealthy         int
	HealthyThreshold   int // consecutive healthy observations to flip a member in
	UnhealthyThreshold int // consecutive failure observations to flip a member out
	CBFailureThreshold int
	CBResetTimeout     time.Duration
}

// Group is the ProviderGroup aggregate root.
type Group struct {
	mu sync.Mutex

	cfg     Config
	members []*Member

	rrCursor       int
	weightedCursor int
	rng            *rand.Rand

	events []bus.Event
}

// New creates an empty group under cfg. Defaults: MinHealthy=1,
// HealthyThreshold=1, UnhealthyThreshold=1, CBFailureThreshold=5,
// CBResetTimeout=30s.
func New(cfg Config) *Group {
	if cfg.MinHealthy <= 0 {
		cfg.MinHealthy = 1
	}
	if cfg.HealthyThreshold <= 0 {
		cfg.HealthyThreshold = 1
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = 1
	}
	if cfg.CBFailureThreshold <= 0 {
		cfg.CBFailureThreshold = 5
	}
	if cfg.CBResetTimeout <= 0 {
		cfg.CBResetTimeout = 30 * time.Second
	}
	return &Group{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (g *Group) emit(evt bus.Event) {
	g.events = append(g.events, evt)
}

// hasMember reports whether providerID is a member of g, regardless of
// rotation state.
func (g *Group) hasMember(providerID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, m := range g.members {
		if m.ProviderID == providerID {
			return true
		}
	}
	return false
}

// ID returns the group's configured GroupID.
func (g *Group) ID() string {
	return g.cfg.GroupID
}

// CollectEvents drains and returns every event produced since the last call.
func (g *Group) CollectEvents() []bus.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	drained := g.events
	g.events = nil
	return drained
}

// AddMember registers a new member, out of rotation until rebalance brings
// it in.
func (g *Group) AddMember(providerID string, weight, priority int) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, m := range g.members {
		if m.ProviderID == providerID {
			return fmt.Errorf("provider %q already a member of group %q", providerID, g.cfg.GroupID)
		}
	}
	g.members = append(g.members, NewMember(providerID, weight, priority, g.cfg.CBFailureThreshold, g.cfg.CBResetTimeout))
	g.emit(bus.NewGroupMemberAdded(g.cfg.GroupID, providerID))
	return nil
}

// RemoveMember drops a member from the group entirely.
func (g *Group) RemoveMember(providerID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, m := range g.members {
		if m.ProviderID == providerID {
			g.members = append(g.members[:i], g.members[i+1:]...)
			g.emit(bus.NewGroupMemberRemoved(g.cfg.GroupID, providerID))
			return nil
		}
	}
	return fmt.Errorf("provider %q is not a member of group %q", providerID, g.cfg.GroupID)
}

// SelectMember picks the next member per the configured strategy. Returns
// nil if no member is currently in rotation with a closed-or-half-open
// circuit breaker willing to admit a request.
func (g *Group) SelectMember() *Member {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.cfg.Strategy {
	case Weighted:
		return g.selectWeightedLocked()
	case LeastBusy:
		return g.selectLeastBusyLocked()
	case PriorityFirst:
		return g.selectPriorityFirstLocked()
	case Random:
		return g.selectRandomLocked()
	default:
		return g.selectRoundRobinLocked(g.members)
	}
}

// selectRoundRobinLocked rotates g.rrCursor through candidates, skipping
// members not currently eligible, and returns the first eligible one found.
func (g *Group) selectRoundRobinLocked(candidates []*Member) *Member {
	if len(candidates) == 0 {
		return nil
	}
	for i := 0; i < len(candidates); i++ {
		idx := (g.rrCursor + i) % len(candidates)
		m := candidates[idx]
		if g.eligibleLocked(m) {
			g.rrCursor = (idx + 1) % len(candidates)
			g.reserveLocked(m)
			return m
		}
	}
	return nil
}

func (g *Group) selectWeightedLocked() *Member {
	var ring []*Member
	for _, m := range g.members {
		if !g.eligibleLocked(m) {
			continue
		}
		for i := 0; i < m.Weight; i++ {
			ring = append(ring, m)
		}
	}
	if len(ring) == 0 {
		return nil
	}
	m := ring[g.weightedCursor%len(ring)]
	g.weightedCursor++
	g.reserveLocked(m)
	return m
}

func (g *Group) selectLeastBusyLocked() *Member {
	var best *Member
	for _, m := range g.members {
		if !g.eligibleLocked(m) {
			continue
		}
		if best == nil {
			best = m
			continue
		}
		if m.inFlight < best.inFlight {
			best = m
		} else if m.inFlight == best.inFlight && m.lastUsedAt.Before(best.lastUsedAt) {
			best = m
		}
	}
	if best != nil {
		g.reserveLocked(best)
	}
	return best
}

func (g *Group) selectPriorityFirstLocked() *Member {
	lowest, ok := g.lowestEligiblePriorityLocked()
	if !ok {
		return nil
	}
	var candidates []*Member
	for _, m := range g.members {
		if m.Priority == lowest && g.eligibleLocked(m) {
			candidates = append(candidates, m)
		}
	}
	return g.selectRoundRobinLocked(candidates)
}

func (g *Group) lowestEligiblePriorityLocked() (int, bool) {
	found := false
	lowest := 0
	for _, m := range g.members {
		if !g.eligibleLocked(m) {
			continue
		}
		if !found || m.Priority < lowest {
			lowest = m.Priority
			found = true
		}
	}
	return lowest, found
}

func (g *Group) selectRandomLocked() *Member {
	var candidates []*Member
	for _, m := range g.members {
		if g.eligibleLocked(m) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	m := candidates[g.rng.Intn(len(candidates))]
	g.reserveLocked(m)
	return m
}

func (g *Group) eligibleLocked(m *Member) bool {
	return m.InRotation && m.CB.AllowRequest()
}

func (g *Group) reserveLocked(m *Member) {
	m.inFlight++
	m.lastUsedAt = time.Now()
}

// ReportSuccess records a successful observation against a member:
// releases its in-flight slot, closes its circuit breaker, and advances
// the consecutive-healthy streak rebalance uses to flip it into rotation.
func (g *Group) ReportSuccess(providerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := g.findLocked(providerID)
	if m == nil {
		return
	}
	if m.inFlight > 0 {
		m.inFlight--
	}
	wasTripped := m.CB.State() != Closed
	m.CB.RecordSuccess()
	if wasTripped {
		g.emit(bus.NewCircuitClosed(g.cfg.GroupID, providerID))
	}
	m.consecutiveHealthy++
	m.consecutiveUnhealthy = 0
}

// ReportFailure records a failed observation against a member.
func (g *Group) ReportFailure(providerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	m := g.findLocked(providerID)
	if m == nil {
		return
	}
	if m.inFlight > 0 {
		m.inFlight--
	}
	wasOpen := m.CB.State() == Open
	m.CB.RecordFailure()
	if !wasOpen && m.CB.State() == Open {
		g.emit(bus.NewCircuitOpened(g.cfg.GroupID, providerID))
	}
	m.consecutiveUnhealthy++
	m.consecutiveHealthy = 0
}

func (g *Group) findLocked(providerID string) *Member {
	for _, m := range g.members {
		if m.ProviderID == providerID {
			return m
		}
	}
	return nil
}

// Rebalance reconciles every member's rotation bit against providerStates
// (the authoritative Provider.State() for each member, as observed by the
// caller) and the accrued observation streaks, per the thresholds
// configured on the group.
func (g *Group) Rebalance(providerStates map[string]provider.State) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, m := range g.members {
		state, known := providerStates[m.ProviderID]
		isReady := known && state == provider.Ready

		if !isReady || m.consecutiveUnhealthy >= g.cfg.UnhealthyThreshold {
			if m.InRotation {
				m.InRotation = false
				g.emit(bus.NewGroupRotationFlipped(g.cfg.GroupID, m.ProviderID, false))
			}
			continue
		}

		if !m.InRotation && m.CB.State() != Open && m.consecutiveHealthy >= g.cfg.HealthyThreshold {
			m.InRotation = true
			g.emit(bus.NewGroupRotationFlipped(g.cfg.GroupID, m.ProviderID, true))
		}
	}
}

// State returns the group's derived health.
func (g *Group) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stateLocked()
}

func (g *Group) stateLocked() State {
	healthy := g.healthyCountLocked()
	switch {
	case healthy >= g.cfg.MinHealthy:
		return Ready
	case healthy > 0:
		return Degraded
	default:
		return Unavailable
	}
}

func (g *Group) healthyCountLocked() int {
	count := 0
	for _, m := range g.members {
		if m.InRotation {
			count++
		}
	}
	return count
}

// HealthyCount and TotalCount are read-model accessors for status queries.
func (g *Group) HealthyCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.healthyCountLocked()
}

func (g *Group) TotalCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.members)
}

// MemberSnapshot is an immutable point-in-time view of one member, used by
// ToStatusDict.
type MemberSnapshot struct {
	ProviderID string
	Weight     int
	Priority   int
	InRotation bool
	CBState    string
}

// ToStatusDict returns the full member-level breakdown described by the
// group management read-model.
func (g *Group) ToStatusDict() map[string]interface{} {
	g.mu.Lock()
	defer g.mu.Unlock()

	members := make([]MemberSnapshot, 0, len(g.members))
	for _, m := range g.members {
		members = append(members, MemberSnapshot{
			ProviderID: m.ProviderID,
			Weight:     m.Weight,
			Priority:   m.Priority,
			InRotation: m.InRotation,
			CBState:    m.CB.State().String(),
		})
	}

	return map[string]interface{}{
		"group_id":     g.cfg.GroupID,
		"state":        g.stateLocked().String(),
		"strategy":     string(g.cfg.Strategy),
		"healthy_count": g.healthyCountLocked(),
		"total_count":  len(g.members),
		"members":      members,
	}
}
