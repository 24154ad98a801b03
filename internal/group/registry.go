package group

import (
	"fmt"
	"sync"

	"fleetmcp/pkg/ferrors"
)

// Registry is a keyed GroupID -> *Group map, mirroring the provider
// repository's shape: its own mutations are serialized by mu, while a
// long-running Rebalance or SelectMember call on one Group never blocks
// lookups of another.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]*Group
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]*Group)}
}

// Add registers g under its own GroupID. Fails if the ID is already present.
func (r *Registry) Add(g *Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := g.cfg.GroupID
	if _, exists := r.groups[id]; exists {
		return fmt.Errorf("group %q already registered", id)
	}
	r.groups[id] = g
	return nil
}

// Get returns the group for id, or a GroupNotFoundError.
func (r *Registry) Get(id string) (*Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.groups[id]
	if !ok {
		return nil, ferrors.NewGroupNotFoundError(id)
	}
	return g, nil
}

// Remove drops id from the registry.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.groups[id]; !ok {
		return ferrors.NewGroupNotFoundError(id)
	}
	delete(r.groups, id)
	return nil
}

// GetAll returns a snapshot slice of every registered group.
func (r *Registry) GetAll() []*Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Group, 0, len(r.groups))
	for _, g := range r.groups {
		all = append(all, g)
	}
	return all
}

// ContainingMember returns every group that currently has providerID as a
// member, regardless of its rotation state. Used by the rebalance saga to
// find which groups must react to a single provider's state change.
func (r *Registry) ContainingMember(providerID string) []*Group {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []*Group
	for _, g := range r.groups {
		if g.hasMember(providerID) {
			matches = append(matches, g)
		}
	}
	return matches
}
