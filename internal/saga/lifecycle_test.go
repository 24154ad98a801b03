package saga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmcp/internal/bus"
	"fleetmcp/internal/config"
	"fleetmcp/internal/group"
	"fleetmcp/internal/provider"
	"fleetmcp/internal/repository"
	"fleetmcp/pkg/ferrors"
)

func newLifecycleSaga(t *testing.T) (*repository.Repository, *bus.EventBus, *bus.CommandBus, *bus.QueryBus, *ReloadSaga) {
	t.Helper()
	repo := repository.New()
	groups := group.NewRegistry()
	eventBus := bus.New()
	commandBus := bus.NewCommandBus()
	queryBus := bus.NewQueryBus()

	reloadSaga, err := NewReloadSaga(repo, groups, eventBus, commandBus, nil)
	require.NoError(t, err)

	_, err = NewLifecycleSaga(repo, groups, eventBus, commandBus, queryBus, reloadSaga)
	require.NoError(t, err)

	return repo, eventBus, commandBus, queryBus, reloadSaga
}

func TestLifecycleSaga_StartProviderReachesStateMachine(t *testing.T) {
	repo, _, commandBus, _, _ := newLifecycleSaga(t)
	require.NoError(t, repo.Add(provider.New(provider.Spec{
		ProviderID: "broken",
		Mode:       provider.ModeSubprocess,
		Command:    []string{"definitely-not-a-real-binary-xyz"},
	}, nil)))

	_, err := commandBus.Send(bus.StartProviderCommand{ProviderID: "broken"})
	var startErr *ferrors.ProviderStartError
	assert.ErrorAs(t, err, &startErr)
}

func TestLifecycleSaga_StartProviderUnknownIDReturnsNotFound(t *testing.T) {
	_, _, commandBus, _, _ := newLifecycleSaga(t)

	_, err := commandBus.Send(bus.StartProviderCommand{ProviderID: "ghost"})
	var notFound *ferrors.ProviderNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestLifecycleSaga_StopProviderOnColdProviderSucceeds(t *testing.T) {
	repo, _, commandBus, _, _ := newLifecycleSaga(t)
	require.NoError(t, repo.Add(provider.New(provider.Spec{
		ProviderID: "math",
		Mode:       provider.ModeSubprocess,
		Command:    []string{"math-server"},
	}, nil)))

	_, err := commandBus.Send(bus.StopProviderCommand{ProviderID: "math", Reason: "operator_request"})
	assert.NoError(t, err)
}

func TestLifecycleSaga_ShutdownIdleProvidersReturnsCollectedCount(t *testing.T) {
	repo, _, commandBus, _, _ := newLifecycleSaga(t)
	require.NoError(t, repo.Add(provider.New(provider.Spec{
		ProviderID: "math",
		Mode:       provider.ModeSubprocess,
		Command:    []string{"math-server"},
	}, nil)))

	result, err := commandBus.Send(bus.ShutdownIdleProvidersCommand{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.(int), "a cold provider was never running and has nothing to idle-shutdown")
}

func TestLifecycleSaga_LoadAndUnloadProviderCommandsRoundTrip(t *testing.T) {
	repo, _, commandBus, queryBus, reloadSaga := newLifecycleSaga(t)

	path := writeConfig(t, `
providers:
  math:
    mode: subprocess
    command: ["math-server"]
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	reloadSaga.Seed(cfg)

	_, err = commandBus.Send(bus.LoadProviderCommand{ProviderID: "math", ForceUnverified: true})
	require.NoError(t, err)
	assert.True(t, repo.Exists("math"))

	result, err := queryBus.Send(bus.GetProviderQuery{ProviderID: "math"})
	require.NoError(t, err)
	status := result.(map[string]interface{})
	assert.Equal(t, "math", status["provider_id"])

	_, err = commandBus.Send(bus.UnloadProviderCommand{ProviderID: "math"})
	require.NoError(t, err)
	assert.False(t, repo.Exists("math"))
}

func TestLifecycleSaga_LoadProviderCommandUnknownIDReturnsNotFound(t *testing.T) {
	_, _, commandBus, _, _ := newLifecycleSaga(t)

	_, err := commandBus.Send(bus.LoadProviderCommand{ProviderID: "ghost"})
	var notFound *ferrors.ProviderNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestLifecycleSaga_ListProvidersQuerySortedByID(t *testing.T) {
	repo, _, _, queryBus, _ := newLifecycleSaga(t)
	require.NoError(t, repo.Add(provider.New(provider.Spec{ProviderID: "zeta", Mode: provider.ModeSubprocess}, nil)))
	require.NoError(t, repo.Add(provider.New(provider.Spec{ProviderID: "alpha", Mode: provider.ModeSubprocess}, nil)))

	result, err := queryBus.Send(bus.ListProvidersQuery{})
	require.NoError(t, err)
	listed := result.([]map[string]interface{})
	require.Len(t, listed, 2)
	assert.Equal(t, "alpha", listed[0]["provider_id"])
	assert.Equal(t, "zeta", listed[1]["provider_id"])
}

func TestLifecycleSaga_ListProvidersQueryFiltersByState(t *testing.T) {
	repo, _, _, queryBus, _ := newLifecycleSaga(t)
	require.NoError(t, repo.Add(provider.New(provider.Spec{ProviderID: "math", Mode: provider.ModeSubprocess}, nil)))

	result, err := queryBus.Send(bus.ListProvidersQuery{StateFilter: "ready"})
	require.NoError(t, err)
	assert.Empty(t, result.([]map[string]interface{}), "a cold provider never matches a ready-state filter")
}

func TestLifecycleSaga_GetProviderToolsQueryUnknownIDReturnsNotFound(t *testing.T) {
	_, _, _, queryBus, _ := newLifecycleSaga(t)

	_, err := queryBus.Send(bus.GetProviderToolsQuery{ProviderID: "ghost"})
	var notFound *ferrors.ProviderNotFoundError
	assert.ErrorAs(t, err, &notFound)
}
