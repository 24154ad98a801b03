package saga

import (
	"fmt"
	"sync"
	"time"

	"fleetmcp/internal/bus"
	"fleetmcp/internal/config"
	"fleetmcp/internal/group"
	"fleetmcp/internal/provider"
	"fleetmcp/internal/repository"
	"fleetmcp/pkg/ferrors"
	"fleetmcp/pkg/logging"
)

// ReloadSaga handles ReloadConfigurationCommand: load the file, diff it
// against the last-applied generation, stop and remove what's gone,
// register what's new or changed as COLD providers (started on first use),
// and rebuild (not patch) every group, mirroring the way
// groups are treated as wholly derived from configuration rather than
// incrementally reconciled.
type ReloadSaga struct {
	mu                sync.Mutex
	repo              *repository.Repository
	groups            *group.Registry
	bus               *bus.EventBus
	containerLauncher provider.ContainerLauncher
	current           config.FileConfig
}

// NewReloadSaga registers itself as the ReloadConfigurationCommand handler
// on commandBus. containerLauncher may be nil if no docker-mode provider is
// ever configured.
func NewReloadSaga(repo *repository.Repository, groups *group.Registry, eventBus *bus.EventBus, commandBus *bus.CommandBus, containerLauncher provider.ContainerLauncher) (*ReloadSaga, error) {
	s := &ReloadSaga{repo: repo, groups: groups, bus: eventBus, containerLauncher: containerLauncher}

	err := commandBus.Register(bus.ReloadConfigurationCommand{}, func(cmd bus.Command) (interface{}, error) {
		return s.handle(cmd.(bus.ReloadConfigurationCommand))
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Seed installs the configuration the fleet was started with, so the first
// reload diffs against it instead of an empty set.
func (s *ReloadSaga) Seed(cfg config.FileConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = cfg
}

// Bootstrap populates the repository and group registry from cfg as if it
// were the result of a reload from an empty fleet, then seeds current so
// the next real reload diffs against it. Used once at process startup.
func (s *ReloadSaga) Bootstrap(cfg config.FileConfig) {
	ids := make([]string, 0, len(cfg.Providers))
	for id := range cfg.Providers {
		ids = append(ids, id)
	}
	s.applyProviders(cfg, ids)
	s.rebuildGroups(cfg)
	s.Seed(cfg)
}

// ReloadResult mirrors the command handler's return payload.
type ReloadResult struct {
	Added     []string
	Removed   []string
	Updated   []string
	Unchanged []string
}

func (s *ReloadSaga) handle(cmd bus.ReloadConfigurationCommand) (ReloadResult, error) {
	start := time.Now()
	s.bus.Publish(bus.NewConfigurationReloadRequested(cmd.Path))

	next, err := config.Load(cmd.Path)
	if err != nil {
		s.bus.Publish(bus.NewConfigurationReloadFailed(err.Error()))
		return ReloadResult{}, fmt.Errorf("reloading configuration from %s: %w", cmd.Path, err)
	}

	s.mu.Lock()
	previous := s.current
	s.mu.Unlock()

	diff := config.DiffProviders(previous, next)

	s.stopProviders(diff.Removed, diff.Updated, cmd.Graceful)
	s.removeProviders(diff.Removed)
	s.applyProviders(next, append(append([]string{}, diff.Added...), diff.Updated...))
	s.rebuildGroups(next)

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	s.bus.Publish(bus.NewConfigurationReloaded(diff.Added, diff.Removed, diff.Updated, diff.Unchanged, time.Since(start)))
	logging.Info("ReloadSaga", "configuration reloaded from %s: %d added, %d removed, %d updated, %d unchanged",
		cmd.Path, len(diff.Added), len(diff.Removed), len(diff.Updated), len(diff.Unchanged))

	return ReloadResult{Added: diff.Added, Removed: diff.Removed, Updated: diff.Updated, Unchanged: diff.Unchanged}, nil
}

// stopProviders stops every provider about to be removed or replaced.
// Both modes close the provider's client immediately; graceful differs
// only in the recorded stop reason ("config_reload" instead of
// "shutdown"), and an in-flight invocation is not waited for. A stop failure is logged, never fatal to the
// reload: a provider that refuses to stop still gets dropped from the
// repository below.
func (s *ReloadSaga) stopProviders(removed, updated []string, graceful bool) {
	for _, id := range append(append([]string{}, removed...), updated...) {
		p, err := s.repo.Get(id)
		if err != nil {
			continue
		}
		var stopErr error
		if graceful {
			stopErr = p.Stop("config_reload")
		} else {
			stopErr = p.Shutdown()
		}
		if stopErr != nil {
			logging.Warn("ReloadSaga", "provider %s did not stop cleanly during reload: %v", id, stopErr)
		}
		s.drainEvents(p)
	}
}

func (s *ReloadSaga) removeProviders(ids []string) {
	for _, id := range ids {
		if err := s.repo.Remove(id); err != nil {
			logging.Warn("ReloadSaga", "removing provider %s during reload: %v", id, err)
			continue
		}
		logging.Info("ReloadSaga", "provider %s removed by reload", id)
	}
}

// applyProviders (re)builds every added or updated provider from next and
// registers it, replacing whatever was under that ID before.
func (s *ReloadSaga) applyProviders(next config.FileConfig, ids []string) {
	for _, id := range ids {
		pc, ok := next.Providers[id]
		if !ok {
			continue
		}
		s.repo.Remove(id) // no-op if not present; clears the slot for updated IDs
		p := provider.New(pc.ToSpec(id), s.containerLauncher)
		if err := s.repo.Add(p); err != nil {
			logging.Warn("ReloadSaga", "registering provider %s during reload: %v", id, err)
			continue
		}
		logging.Info("ReloadSaga", "provider %s applied by reload", id)
	}
}

// rebuildGroups discards every existing group and reconstructs the set
// from next, the same all-or-nothing treatment reload_handler.py gives
// GROUPS ("clear, then reload"): a group's rotation membership is derived
// state, not something worth incrementally patching.
func (s *ReloadSaga) rebuildGroups(next config.FileConfig) {
	for _, g := range s.groups.GetAll() {
		s.groups.Remove(g.ID())
	}

	for id, gc := range next.Groups {
		g := group.New(group.Config{
			GroupID:            id,
			Strategy:           group.Strategy(gc.Strategy),
			MinHealthy:         gc.MinHealthy,
			HealthyThreshold:   gc.Health.HealthyThreshold,
			UnhealthyThreshold: gc.Health.UnhealthyThreshold,
			CBFailureThreshold: gc.CircuitBreaker.FailureThreshold,
			CBResetTimeout:     time.Duration(gc.CircuitBreaker.ResetTimeoutSeconds) * time.Second,
		})
		for _, m := range gc.Members {
			if err := g.AddMember(m.ProviderID, m.Weight, m.Priority); err != nil {
				logging.Warn("ReloadSaga", "adding member %s to group %s during reload: %v", m.ProviderID, id, err)
			}
		}
		if err := s.groups.Add(g); err != nil {
			logging.Warn("ReloadSaga", "registering group %s during reload: %v", id, err)
		}
	}
}

// LoadProvider instantiates and registers the single provider named by
// providerID out of the last-applied configuration, without touching any
// other provider or rebuilding groups. Returns a not-found error if
// providerID was never declared in the configuration file; there is no
// registry to fall back to.
func (s *ReloadSaga) LoadProvider(providerID string) error {
	s.mu.Lock()
	cfg := s.current
	s.mu.Unlock()

	if _, ok := cfg.Providers[providerID]; !ok {
		return ferrors.NewProviderNotFoundError(providerID)
	}
	if s.repo.Exists(providerID) {
		return fmt.Errorf("provider %s is already loaded", providerID)
	}

	s.applyProviders(cfg, []string{providerID})
	return nil
}

// UnloadProvider stops providerID and removes it from the repository. It
// does not touch the configuration file, so a later reload or LoadProvider
// call can bring the same provider back.
func (s *ReloadSaga) UnloadProvider(providerID string) error {
	p, err := s.repo.Get(providerID)
	if err != nil {
		return ferrors.NewProviderNotFoundError(providerID)
	}

	if stopErr := p.Shutdown(); stopErr != nil {
		logging.Warn("ReloadSaga", "provider %s did not stop cleanly during unload: %v", providerID, stopErr)
	}
	s.drainEvents(p)

	return s.repo.Remove(providerID)
}

func (s *ReloadSaga) drainEvents(p *provider.Provider) {
	for _, evt := range p.CollectEvents() {
		s.bus.Publish(evt)
	}
}
