package saga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmcp/internal/bus"
	"fleetmcp/internal/group"
	"fleetmcp/internal/provider"
	"fleetmcp/internal/repository"
)

func newColdProvider(id string) *provider.Provider {
	return provider.New(provider.Spec{ProviderID: id, Mode: provider.ModeSubprocess, Command: []string{"echo"}}, nil)
}

func TestRebalanceSaga_RebalancesOnlyAffectedGroups(t *testing.T) {
	repo := repository.New()
	groups := group.NewRegistry()
	eventBus := bus.New()

	require.NoError(t, repo.Add(newColdProvider("math")))

	g := group.New(group.Config{GroupID: "math-pool", Strategy: group.RoundRobin, HealthyThreshold: 1})
	require.NoError(t, g.AddMember("math", 1, 0))
	g.ReportSuccess("math")
	g.Rebalance(map[string]provider.State{"math": provider.Ready})
	g.CollectEvents() // drain AddMember and the flip into rotation
	require.NoError(t, groups.Add(g))

	var flips int
	eventBus.Subscribe(bus.GroupRotationFlipped{}, func(evt bus.Event) {
		flips++
	})

	NewRebalanceSaga(repo, groups, eventBus)

	eventBus.Publish(bus.NewProviderStateChanged("math", "ready", "cold"))

	assert.Equal(t, 1, flips, "a member whose provider the repository reports COLD should flip out of rotation")
	assert.Nil(t, g.SelectMember())
}

func TestRebalanceSaga_IgnoresUnrelatedProvider(t *testing.T) {
	repo := repository.New()
	groups := group.NewRegistry()
	eventBus := bus.New()

	require.NoError(t, repo.Add(newColdProvider("math")))
	require.NoError(t, repo.Add(newColdProvider("search")))

	g := group.New(group.Config{GroupID: "math-pool", Strategy: group.RoundRobin})
	require.NoError(t, g.AddMember("math", 1, 0))
	g.CollectEvents()
	require.NoError(t, groups.Add(g))

	NewRebalanceSaga(repo, groups, eventBus)

	eventBus.Publish(bus.NewProviderStateChanged("search", "cold", "ready"))

	assert.Nil(t, g.SelectMember(), "an event for a provider outside the group must not rebalance it")
}
