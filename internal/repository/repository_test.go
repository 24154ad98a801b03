package repository

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmcp/internal/provider"
	"fleetmcp/pkg/ferrors"
)

func newTestProvider(id string) *provider.Provider {
	return provider.New(provider.Spec{ProviderID: id, Mode: provider.ModeSubprocess}, nil)
}

func TestRepository_AddGetExists(t *testing.T) {
	r := New()
	p := newTestProvider("math")

	require.NoError(t, r.Add(p))
	assert.True(t, r.Exists("math"))

	got, err := r.Get("math")
	require.NoError(t, err)
	assert.Same(t, p, got)
}

func TestRepository_AddDuplicateFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(newTestProvider("math")))
	err := r.Add(newTestProvider("math"))
	assert.Error(t, err)
}

func TestRepository_GetMissingReturnsProviderNotFound(t *testing.T) {
	r := New()
	_, err := r.Get("missing")
	assert.True(t, ferrors.IsProviderNotFound(err))
}

func TestRepository_RemoveAndCount(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(newTestProvider("a")))
	require.NoError(t, r.Add(newTestProvider("b")))
	assert.Equal(t, 2, r.Count())

	require.NoError(t, r.Remove("a"))
	assert.Equal(t, 1, r.Count())
	assert.False(t, r.Exists("a"))

	err := r.Remove("a")
	assert.True(t, ferrors.IsProviderNotFound(err))
}

func TestRepository_GetAllIsSnapshot(t *testing.T) {
	r := New()
	require.NoError(t, r.Add(newTestProvider("a")))
	require.NoError(t, r.Add(newTestProvider("b")))

	all := r.GetAll()
	assert.Len(t, all, 2)

	require.NoError(t, r.Remove("a"))
	assert.Len(t, all, 2, "previously taken snapshot must not observe the removal")
}

func TestRepository_ConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = r.Add(newTestProvider(string(rune('a' + i%26))))
			r.GetAll()
		}(i)
	}
	wg.Wait()
}
