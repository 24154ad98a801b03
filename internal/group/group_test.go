package group

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmcp/internal/provider"
)

func bringIntoRotation(g *Group, providerIDs ...string) {
	states := make(map[string]provider.State)
	for _, id := range providerIDs {
		states[id] = provider.Ready
	}
	for _, m := range g.members {
		if _, ok := states[m.ProviderID]; ok {
			m.consecutiveHealthy = g.cfg.HealthyThreshold
		}
	}
	g.Rebalance(states)
}

func TestGroup_RoundRobinRotatesThroughMembers(t *testing.T) {
	g := New(Config{GroupID: "g1", Strategy: RoundRobin, HealthyThreshold: 1})
	require.NoError(t, g.AddMember("a", 1, 0))
	require.NoError(t, g.AddMember("b", 1, 0))
	bringIntoRotation(g, "a", "b")

	first := g.SelectMember()
	second := g.SelectMember()
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ProviderID, second.ProviderID)
}

func TestGroup_SelectMemberNilWhenNoneInRotation(t *testing.T) {
	g := New(Config{GroupID: "g1", Strategy: RoundRobin})
	require.NoError(t, g.AddMember("a", 1, 0))
	assert.Nil(t, g.SelectMember())
}

func TestGroup_WeightedFavorsHigherWeight(t *testing.T) {
	g := New(Config{GroupID: "g1", Strategy: Weighted, HealthyThreshold: 1})
	require.NoError(t, g.AddMember("light", 1, 0))
	require.NoError(t, g.AddMember("heavy", 3, 0))
	bringIntoRotation(g, "light", "heavy")

	counts := map[string]int{}
	for i := 0; i < 8; i++ {
		m := g.SelectMember()
		require.NotNil(t, m)
		counts[m.ProviderID]++
	}
	assert.Greater(t, counts["heavy"], counts["light"])
}

func TestGroup_LeastBusyPicksLowestInFlight(t *testing.T) {
	g := New(Config{GroupID: "g1", Strategy: LeastBusy, HealthyThreshold: 1})
	require.NoError(t, g.AddMember("a", 1, 0))
	require.NoError(t, g.AddMember("b", 1, 0))
	bringIntoRotation(g, "a", "b")

	first := g.SelectMember()
	require.NotNil(t, first)

	second := g.SelectMember()
	require.NotNil(t, second)
	assert.NotEqual(t, first.ProviderID, second.ProviderID, "least-busy must not pick the member already holding an in-flight slot")
}

func TestGroup_PriorityFirstPrefersLowestPriorityNumber(t *testing.T) {
	g := New(Config{GroupID: "g1", Strategy: PriorityFirst, HealthyThreshold: 1})
	require.NoError(t, g.AddMember("primary", 1, 0))
	require.NoError(t, g.AddMember("backup", 1, 1))
	bringIntoRotation(g, "primary", "backup")

	for i := 0; i < 5; i++ {
		m := g.SelectMember()
		require.NotNil(t, m)
		assert.Equal(t, "primary", m.ProviderID)
		g.ReportSuccess("primary")
	}
}

func TestGroup_PriorityFirstFallsBackWhenPrimaryExcluded(t *testing.T) {
	g := New(Config{GroupID: "g1", Strategy: PriorityFirst, HealthyThreshold: 1, UnhealthyThreshold: 1})
	require.NoError(t, g.AddMember("primary", 1, 0))
	require.NoError(t, g.AddMember("backup", 1, 1))
	bringIntoRotation(g, "primary", "backup")

	g.ReportFailure("primary")
	g.Rebalance(map[string]provider.State{"primary": provider.Degraded, "backup": provider.Ready})

	m := g.SelectMember()
	require.NotNil(t, m)
	assert.Equal(t, "backup", m.ProviderID)
}

func TestGroup_RebalanceFlipsOutOnProviderStateChange(t *testing.T) {
	g := New(Config{GroupID: "g1", Strategy: RoundRobin, HealthyThreshold: 1, UnhealthyThreshold: 1})
	require.NoError(t, g.AddMember("a", 1, 0))
	bringIntoRotation(g, "a")
	assert.Equal(t, 1, g.HealthyCount())

	g.Rebalance(map[string]provider.State{"a": provider.Degraded})
	assert.Equal(t, 0, g.HealthyCount())
}

func TestGroup_DerivedState(t *testing.T) {
	g := New(Config{GroupID: "g1", Strategy: RoundRobin, MinHealthy: 2, HealthyThreshold: 1})
	require.NoError(t, g.AddMember("a", 1, 0))
	require.NoError(t, g.AddMember("b", 1, 0))
	assert.Equal(t, Unavailable, g.State())

	bringIntoRotation(g, "a")
	assert.Equal(t, Degraded, g.State())

	bringIntoRotation(g, "b")
	assert.Equal(t, Ready, g.State())
}

func TestGroup_CircuitBreakerExcludesMemberFromSelection(t *testing.T) {
	g := New(Config{GroupID: "g1", Strategy: RoundRobin, HealthyThreshold: 1, CBFailureThreshold: 2, CBResetTimeout: time.Minute})
	require.NoError(t, g.AddMember("a", 1, 0))
	bringIntoRotation(g, "a")

	g.ReportFailure("a")
	g.ReportFailure("a")

	assert.Nil(t, g.SelectMember(), "an open circuit breaker must exclude the member even while in rotation")
}

func TestGroup_EventsCollectedOnAddRemoveAndRotationFlip(t *testing.T) {
	g := New(Config{GroupID: "g1", Strategy: RoundRobin, HealthyThreshold: 1})
	require.NoError(t, g.AddMember("a", 1, 0))
	bringIntoRotation(g, "a")
	require.NoError(t, g.RemoveMember("a"))

	events := g.CollectEvents()
	assert.Len(t, events, 3)
}
