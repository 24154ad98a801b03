// Package repository holds the concurrency-safe keyed collection of
// Provider aggregates every other component operates against.
package repository

import (
	"fmt"
	"sync"

	"fleetmcp/internal/provider"
	"fleetmcp/pkg/ferrors"
)

// Repository is a keyed ProviderID -> *provider.Provider map. Its own
// mutations are serialized by mu; mutations to an individual Provider
// serialize on that Provider's own lock, so a long-running InvokeTool call
// never blocks Add/Remove/GetAll on other providers.
type Repository struct {
	mu        sync.RWMutex
	providers map[string]*provider.Provider
}

// New creates an empty Repository.
func New() *Repository {
	return &Repository{providers: make(map[string]*provider.Provider)}
}

// Add registers p under its own ID. Fails if the ID is already present.
func (r *Repository) Add(p *provider.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[p.ID()]; exists {
		return fmt.Errorf("provider %q already registered", p.ID())
	}
	r.providers[p.ID()] = p
	return nil
}

// Get returns the provider for id, or a ProviderNotFoundError.
func (r *Repository) Get(id string) (*provider.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, ferrors.NewProviderNotFoundError(id)
	}
	return p, nil
}

// Exists reports whether id is registered.
func (r *Repository) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.providers[id]
	return ok
}

// Remove drops id from the repository. It does not stop or shut the
// provider down; callers are expected to have already done so.
func (r *Repository) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[id]; !ok {
		return ferrors.NewProviderNotFoundError(id)
	}
	delete(r.providers, id)
	return nil
}

// GetAll returns a snapshot slice of every registered provider. Iterating
// the returned slice never races with concurrent Add/Remove calls.
func (r *Repository) GetAll() []*provider.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*provider.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		all = append(all, p)
	}
	return all
}

// Count returns the number of registered providers.
func (r *Repository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
