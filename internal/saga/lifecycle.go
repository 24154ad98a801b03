package saga

import (
	"context"
	"sort"
	"time"

	"fleetmcp/internal/bus"
	"fleetmcp/internal/group"
	"fleetmcp/internal/repository"
)

// DefaultLifecycleTimeout bounds a single start/health-check command, the
// same way DefaultInvokeTimeout bounds a tool call.
const DefaultLifecycleTimeout = 30 * time.Second

// LifecycleSaga registers the command handlers that manage one provider's
// running state directly (start, stop, health-check, GC-now) and the
// query handlers that read back provider status and tool catalogs, separate from
// InvokeSaga's tool-call hot path and ReloadSaga's whole-fleet diffing.
type LifecycleSaga struct {
	repo   *repository.Repository
	groups *group.Registry
	bus    *bus.EventBus
	reload *ReloadSaga
}

// NewLifecycleSaga registers every handler it owns on commandBus and
// queryBus. reload is used to fulfill LoadProviderCommand/
// UnloadProviderCommand, which add or remove a single provider without
// the all-or-nothing diff a full reload performs.
func NewLifecycleSaga(repo *repository.Repository, groups *group.Registry, eventBus *bus.EventBus, commandBus *bus.CommandBus, queryBus *bus.QueryBus, reload *ReloadSaga) (*LifecycleSaga, error) {
	s := &LifecycleSaga{repo: repo, groups: groups, bus: eventBus, reload: reload}

	registrations := []struct {
		sample  bus.Command
		handler bus.CommandHandler
	}{
		{bus.StartProviderCommand{}, func(cmd bus.Command) (interface{}, error) { return s.handleStart(cmd.(bus.StartProviderCommand)) }},
		{bus.StopProviderCommand{}, func(cmd bus.Command) (interface{}, error) { return s.handleStop(cmd.(bus.StopProviderCommand)) }},
		{bus.HealthCheckCommand{}, func(cmd bus.Command) (interface{}, error) { return s.handleHealthCheck(cmd.(bus.HealthCheckCommand)) }},
		{bus.ShutdownIdleProvidersCommand{}, func(cmd bus.Command) (interface{}, error) { return s.handleShutdownIdle() }},
		{bus.LoadProviderCommand{}, func(cmd bus.Command) (interface{}, error) { return s.handleLoad(cmd.(bus.LoadProviderCommand)) }},
		{bus.UnloadProviderCommand{}, func(cmd bus.Command) (interface{}, error) { return s.handleUnload(cmd.(bus.UnloadProviderCommand)) }},
	}
	for _, r := range registrations {
		if err := commandBus.Register(r.sample, r.handler); err != nil {
			return nil, err
		}
	}

	queries := []struct {
		sample  bus.Query
		handler bus.QueryHandler
	}{
		{bus.ListProvidersQuery{}, func(q bus.Query) (interface{}, error) { return s.handleListProviders(q.(bus.ListProvidersQuery)) }},
		{bus.GetProviderQuery{}, func(q bus.Query) (interface{}, error) { return s.handleGetProvider(q.(bus.GetProviderQuery)) }},
		{bus.GetProviderToolsQuery{}, func(q bus.Query) (interface{}, error) { return s.handleGetProviderTools(q.(bus.GetProviderToolsQuery)) }},
	}
	for _, r := range queries {
		if err := queryBus.Register(r.sample, r.handler); err != nil {
			return nil, err
		}
	}

	return s, nil
}

func (s *LifecycleSaga) handleStart(cmd bus.StartProviderCommand) (interface{}, error) {
	p, err := s.repo.Get(cmd.ProviderID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultLifecycleTimeout)
	defer cancel()
	err = p.EnsureReady(ctx)
	s.drainProviderEvents(p)
	if err != nil {
		return nil, err
	}
	return p.ToStatusDict(), nil
}

func (s *LifecycleSaga) handleStop(cmd bus.StopProviderCommand) (interface{}, error) {
	p, err := s.repo.Get(cmd.ProviderID)
	if err != nil {
		return nil, err
	}
	reason := cmd.Reason
	if reason == "" {
		reason = "requested"
	}
	stopErr := p.Stop(reason)
	s.drainProviderEvents(p)
	return nil, stopErr
}

func (s *LifecycleSaga) handleHealthCheck(cmd bus.HealthCheckCommand) (interface{}, error) {
	p, err := s.repo.Get(cmd.ProviderID)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), DefaultLifecycleTimeout)
	defer cancel()
	healthy := p.HealthCheck(ctx)
	s.drainProviderEvents(p)
	return healthy, nil
}

func (s *LifecycleSaga) handleShutdownIdle() (interface{}, error) {
	collected := 0
	for _, p := range s.repo.GetAll() {
		if p.MaybeShutdownIdle() {
			collected++
		}
		s.drainProviderEvents(p)
	}
	return collected, nil
}

func (s *LifecycleSaga) handleLoad(cmd bus.LoadProviderCommand) (interface{}, error) {
	if err := s.reload.LoadProvider(cmd.ProviderID); err != nil {
		return nil, err
	}
	p, err := s.repo.Get(cmd.ProviderID)
	if err != nil {
		return nil, err
	}
	if !cmd.ForceUnverified {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultLifecycleTimeout)
		defer cancel()
		if startErr := p.EnsureReady(ctx); startErr != nil {
			s.drainProviderEvents(p)
			return nil, startErr
		}
	}
	s.drainProviderEvents(p)
	return p.ToStatusDict(), nil
}

func (s *LifecycleSaga) handleUnload(cmd bus.UnloadProviderCommand) (interface{}, error) {
	return nil, s.reload.UnloadProvider(cmd.ProviderID)
}

func (s *LifecycleSaga) handleListProviders(q bus.ListProvidersQuery) (interface{}, error) {
	providers := s.repo.GetAll()
	sort.Slice(providers, func(i, j int) bool { return providers[i].ID() < providers[j].ID() })

	var out []map[string]interface{}
	for _, p := range providers {
		if q.StateFilter != "" && p.State().String() != q.StateFilter {
			continue
		}
		out = append(out, p.ToStatusDict())
	}
	return out, nil
}

func (s *LifecycleSaga) handleGetProvider(q bus.GetProviderQuery) (interface{}, error) {
	p, err := s.repo.Get(q.ProviderID)
	if err != nil {
		return nil, err
	}
	return p.ToStatusDict(), nil
}

func (s *LifecycleSaga) handleGetProviderTools(q bus.GetProviderToolsQuery) (interface{}, error) {
	p, err := s.repo.Get(q.ProviderID)
	if err != nil {
		return nil, err
	}
	return p.Tools(), nil
}

func (s *LifecycleSaga) drainProviderEvents(p interface{ CollectEvents() []bus.Event }) {
	for _, evt := range p.CollectEvents() {
		s.bus.Publish(evt)
	}
}
