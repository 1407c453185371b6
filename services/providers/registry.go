package providers

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrAdapterNotFound is returned when a provider is not registered
	ErrAdapterNotFound = errors.New("provider not registered")

	// ErrAlreadyRegistered is returned when registering a duplicate provider
	ErrAlreadyRegistered = errors.New("provider already registered")
)

// Registry holds the configured adapters together with their routing specs.
// Registration happens once at startup; lookups afterwards are read-only.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	specs    map[string]Spec
	ordered  []string // provider ids in priority-asc, id-asc order
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		specs:    make(map[string]Spec),
	}
}

// Register adds an adapter with its spec.
func (r *Registry) Register(adapter Adapter, spec Spec) error {
	if adapter == nil {
		return errors.New("adapter cannot be nil")
	}
	if adapter.ID() == "" {
		return errors.New("adapter id cannot be empty")
	}
	if adapter.ID() != spec.ID {
		return errors.New("adapter id does not match spec id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.adapters[spec.ID]; exists {
		return ErrAlreadyRegistered
	}

	r.adapters[spec.ID] = adapter
	r.specs[spec.ID] = spec
	r.ordered = append(r.ordered, spec.ID)
	r.sortOrdered()
	return nil
}

// sortOrdered keeps the candidate order deterministic: priority ascending,
// id ascending on ties. Must be called with the lock held.
func (r *Registry) sortOrdered() {
	sort.Slice(r.ordered, func(i, j int) bool {
		a, b := r.specs[r.ordered[i]], r.specs[r.ordered[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})
}

// Adapter retrieves an adapter by provider id
func (r *Registry) Adapter(id string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, exists := r.adapters[id]
	if !exists {
		return nil, ErrAdapterNotFound
	}
	return adapter, nil
}

// Spec retrieves the routing spec for a provider id
func (r *Registry) Spec(id string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, exists := r.specs[id]
	return spec, exists
}

// Has reports whether a provider id is registered
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.adapters[id]
	return exists
}

// Candidates returns the full candidate list in routing order: the preferred
// provider first (when registered), then the rest by priority ascending with
// id ascending on ties. An empty or unknown preference yields the plain
// priority order. The same inputs always produce the same order.
func (r *Registry) Candidates(preferredID string) []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := make([]Spec, 0, len(r.ordered))
	if preferredID != "" {
		if spec, exists := r.specs[preferredID]; exists {
			candidates = append(candidates, spec)
		}
	}
	for _, id := range r.ordered {
		if id == preferredID {
			continue
		}
		candidates = append(candidates, r.specs[id])
	}
	return candidates
}

// IDs returns all registered provider ids in candidate order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, len(r.ordered))
	copy(ids, r.ordered)
	return ids
}

// Count returns the number of registered providers
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.adapters)
}
