package saga

import (
	"context"
	"time"

	"fleetmcp/internal/bus"
	"fleetmcp/internal/group"
	"fleetmcp/internal/repository"
	"fleetmcp/pkg/ferrors"
)

// DefaultInvokeTimeout is used when a command arrives with no explicit
// timeout (InvokeToolCommand.Timeout == 0).
const DefaultInvokeTimeout = 30 * time.Second

// InvokeSaga registers the InvokeToolCommand handler: the hot path that
// resolves a provider-or-group ID from the repository and registry, brings
// the target to READY, dispatches the tool call, and on a group miss
// retries against a different member before giving up.
type InvokeSaga struct {
	repo   *repository.Repository
	groups *group.Registry
	bus    *bus.EventBus
}

// NewInvokeSaga wires the handler into commandBus and returns the saga so
// callers can still reach it for tests.
func NewInvokeSaga(repo *repository.Repository, groups *group.Registry, eventBus *bus.EventBus, commandBus *bus.CommandBus) (*InvokeSaga, error) {
	s := &InvokeSaga{repo: repo, groups: groups, bus: eventBus}
	err := commandBus.Register(bus.InvokeToolCommand{}, func(cmd bus.Command) (interface{}, error) {
		return s.handle(cmd.(bus.InvokeToolCommand))
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *InvokeSaga) handle(cmd bus.InvokeToolCommand) (interface{}, error) {
	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultInvokeTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if p, err := s.repo.Get(cmd.ProviderID); err == nil {
		result, callErr := p.InvokeTool(ctx, cmd.ToolName, cmd.Arguments, timeout)
		s.drainProviderEvents(p)
		return result, callErr
	}

	g, err := s.groups.Get(cmd.ProviderID)
	if err != nil {
		return nil, ferrors.NewProviderNotFoundError(cmd.ProviderID)
	}
	return s.invokeOnGroup(ctx, g, cmd.ToolName, cmd.Arguments, timeout)
}

// invokeOnGroup selects a member, invokes on it, and on failure retries a
// different member until the group runs out of eligible candidates.
func (s *InvokeSaga) invokeOnGroup(ctx context.Context, g *group.Group, toolName string, args map[string]interface{}, timeout time.Duration) (interface{}, error) {
	var lastErr error
	tried := make(map[string]bool)

	for attempt := 0; attempt < g.TotalCount()+1; attempt++ {
		member := g.SelectMember()
		if member == nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, ferrors.NewProviderDegradedError(g.ID())
		}
		if tried[member.ProviderID] {
			break
		}
		tried[member.ProviderID] = true

		p, err := s.repo.Get(member.ProviderID)
		if err != nil {
			g.ReportFailure(member.ProviderID)
			s.drainGroupEvents(g)
			lastErr = err
			continue
		}

		result, callErr := p.InvokeTool(ctx, toolName, args, timeout)
		s.drainProviderEvents(p)
		if callErr != nil {
			g.ReportFailure(member.ProviderID)
			s.drainGroupEvents(g)
			lastErr = callErr
			continue
		}

		g.ReportSuccess(member.ProviderID)
		s.drainGroupEvents(g)
		return result, nil
	}

	if lastErr == nil {
		lastErr = ferrors.NewProviderDegradedError(g.ID())
	}
	return nil, lastErr
}

func (s *InvokeSaga) drainProviderEvents(p interface{ CollectEvents() []bus.Event }) {
	for _, evt := range p.CollectEvents() {
		s.bus.Publish(evt)
	}
}

func (s *InvokeSaga) drainGroupEvents(g *group.Group) {
	for _, evt := range g.CollectEvents() {
		s.bus.Publish(evt)
	}
}
