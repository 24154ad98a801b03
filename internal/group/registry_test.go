package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetmcp/pkg/ferrors"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	r := NewRegistry()
	g := New(Config{GroupID: "math-pool", Strategy: RoundRobin})

	require.NoError(t, r.Add(g))
	assert.Error(t, r.Add(g), "a duplicate GroupID must be rejected")

	got, err := r.Get("math-pool")
	require.NoError(t, err)
	assert.Same(t, g, got)

	_, err = r.Get("missing")
	var notFound *ferrors.GroupNotFoundError
	assert.ErrorAs(t, err, &notFound)

	require.NoError(t, r.Remove("math-pool"))
	assert.Empty(t, r.GetAll())
}

func TestRegistry_ContainingMember(t *testing.T) {
	r := NewRegistry()
	a := New(Config{GroupID: "a", Strategy: RoundRobin})
	b := New(Config{GroupID: "b", Strategy: RoundRobin})
	require.NoError(t, a.AddMember("math", 1, 0))
	require.NoError(t, r.Add(a))
	require.NoError(t, r.Add(b))

	matches := r.ContainingMember("math")
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].ID())

	assert.Empty(t, r.ContainingMember("search"))
}
