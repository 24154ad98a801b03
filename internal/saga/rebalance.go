// Package saga holds the event-driven reactors that issue follow-up
// commands in response to something another aggregate published, without
// ever holding that aggregate's own lock while doing so: the rebalance
// saga reacts to provider health events by rebalancing every group the
// provider belongs to, and the reload saga reacts to a configuration
// reload request by diffing and applying the new file.
package saga

import (
	"fleetmcp/internal/bus"
	"fleetmcp/internal/group"
	"fleetmcp/internal/provider"
	"fleetmcp/internal/repository"
	"fleetmcp/pkg/logging"
)

// RebalanceSaga keeps every group's rotation membership in sync with
// provider health by reacting to published events: it reports the
// observation to each affected group and rebalances it directly, after the
// originating provider's lock has been released.
type RebalanceSaga struct {
	repo   *repository.Repository
	groups *group.Registry
	bus    *bus.EventBus
}

// NewRebalanceSaga subscribes to the provider and health events that can
// change a group's derived state, and returns the saga so its lifetime is
// owned by the caller (nothing to Start/Stop; subscriptions are live as
// soon as this returns).
func NewRebalanceSaga(repo *repository.Repository, groups *group.Registry, eventBus *bus.EventBus) *RebalanceSaga {
	s := &RebalanceSaga{repo: repo, groups: groups, bus: eventBus}

	eventBus.Subscribe(bus.ProviderDegraded{}, func(evt bus.Event) {
		s.onProviderHealthEvent(evt.(bus.ProviderDegraded).ProviderID, false)
	})
	eventBus.Subscribe(bus.ProviderStateChanged{}, func(evt bus.Event) {
		e := evt.(bus.ProviderStateChanged)
		s.onProviderHealthEvent(e.ProviderID, e.NewState == provider.Ready.String())
	})
	eventBus.Subscribe(bus.HealthCheckPassed{}, func(evt bus.Event) {
		s.onProviderHealthEvent(evt.(bus.HealthCheckPassed).ProviderID, true)
	})
	eventBus.Subscribe(bus.HealthCheckFailed{}, func(evt bus.Event) {
		s.onProviderHealthEvent(evt.(bus.HealthCheckFailed).ProviderID, false)
	})

	return s
}

// onProviderHealthEvent records the observation against every member
// representing providerID, then rebalances only the groups it belongs to.
// Recording before rebalancing mirrors how ReportSuccess/ReportFailure
// already drive the consecutive-observation streaks Rebalance consults;
// a raw state-change event alone never flips a member into rotation.
func (s *RebalanceSaga) onProviderHealthEvent(providerID string, healthy bool) {
	affected := s.groups.ContainingMember(providerID)
	if len(affected) == 0 {
		return
	}

	for _, g := range affected {
		if healthy {
			g.ReportSuccess(providerID)
		} else {
			g.ReportFailure(providerID)
		}
	}

	states := s.providerStateSnapshot()
	for _, g := range affected {
		g.Rebalance(states)
		s.publishGroupEvents(g)
	}
}

// providerStateSnapshot reads every known provider's current state once,
// outside any group's lock, so Rebalance never has to call back into the
// repository while a group is locked.
func (s *RebalanceSaga) providerStateSnapshot() map[string]provider.State {
	all := s.repo.GetAll()
	states := make(map[string]provider.State, len(all))
	for _, p := range all {
		states[p.ID()] = p.State()
	}
	return states
}

func (s *RebalanceSaga) publishGroupEvents(g *group.Group) {
	for _, evt := range g.CollectEvents() {
		s.bus.Publish(evt)
		logging.Debug("RebalanceSaga", "published %T for group %s", evt, g.ID())
	}
}
