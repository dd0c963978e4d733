package instance

import "sync"

// Registry is the authoritative in-memory map from logical profile id to
// its live handles. A profile is "running" exactly when it has an entry
// here; every close path ends by clearing the entry regardless of how the
// cleanup itself went.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Get returns the entry for a profile, or nil.
func (r *Registry) Get(profileID string) *Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[profileID]
}

// SetIfAbsent records an entry unless one already exists. The single-writer
// check-and-set is what serializes a launch against a concurrent close or
// second launch on the same profile id.
func (r *Registry) SetIfAbsent(profileID string, e *Entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[profileID]; exists {
		return false
	}
	r.entries[profileID] = e
	return true
}

// Update mutates an entry under the registry lock, so handle attachment
// during the launch window never races a concurrent close. Reports whether
// the entry still existed.
func (r *Registry) Update(profileID string, fn func(e *Entry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[profileID]
	if !ok {
		return false
	}
	fn(e)
	return true
}

// Clear removes and returns the entry for a profile. Clearing an absent
// entry is a no-op, not an error.
func (r *Registry) Clear(profileID string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entries[profileID]
	delete(r.entries, profileID)
	return e
}

// ListAll returns a snapshot of all registered profile ids.
func (r *Registry) ListAll() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
