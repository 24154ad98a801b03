package saga

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmcp/internal/bus"
	"fleetmcp/internal/group"
	"fleetmcp/internal/provider"
	"fleetmcp/internal/repository"
	"fleetmcp/pkg/ferrors"
)

func newInvokeSaga(t *testing.T) (*repository.Repository, *group.Registry, *bus.EventBus, *bus.CommandBus) {
	t.Helper()
	repo := repository.New()
	groups := group.NewRegistry()
	eventBus := bus.New()
	commandBus := bus.NewCommandBus()
	_, err := NewInvokeSaga(repo, groups, eventBus, commandBus)
	require.NoError(t, err)
	return repo, groups, eventBus, commandBus
}

func TestInvokeSaga_UnknownProviderAndGroupReturnsNotFound(t *testing.T) {
	_, _, _, commandBus := newInvokeSaga(t)

	_, err := commandBus.Send(bus.InvokeToolCommand{ProviderID: "ghost", ToolName: "add"})
	var notFound *ferrors.ProviderNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestInvokeSaga_GroupWithNoHealthyMemberReturnsDegraded(t *testing.T) {
	repo, groups, _, commandBus := newInvokeSaga(t)

	require.NoError(t, repo.Add(provider.New(provider.Spec{ProviderID: "math", Mode: provider.ModeSubprocess}, nil)))

	g := group.New(group.Config{GroupID: "math-pool", Strategy: group.RoundRobin})
	require.NoError(t, g.AddMember("math", 1, 0))
	require.NoError(t, groups.Add(g))

	_, err := commandBus.Send(bus.InvokeToolCommand{ProviderID: "math-pool", ToolName: "add"})
	var degraded *ferrors.ProviderDegradedError
	assert.ErrorAs(t, err, &degraded, "a member out of rotation must not be selected")
}

func TestInvokeSaga_DirectProviderDispatchReachesProviderStateMachine(t *testing.T) {
	repo, _, _, commandBus := newInvokeSaga(t)

	require.NoError(t, repo.Add(provider.New(provider.Spec{
		ProviderID: "broken",
		Mode:       provider.ModeSubprocess,
		Command:    []string{"definitely-not-a-real-binary-xyz"},
	}, nil)))

	_, err := commandBus.Send(bus.InvokeToolCommand{ProviderID: "broken", ToolName: "add", Timeout: time.Second})
	var startErr *ferrors.ProviderStartError
	assert.ErrorAs(t, err, &startErr, "the saga must actually call through to EnsureReady/InvokeTool, not short-circuit")
}
