package thread

import (
	"fmt"
	"sync"
)

// Registry hands out threads keyed by the canonical unordered pair. It is
// idempotent within a process: repeated GetOrCreate calls for the same pair
// return the same *Thread, so appends are visible to every holder. Safe for
// concurrent use across orchestrated runs.
type Registry struct {
	mu    sync.Mutex
	cache map[string]*Thread
	store Store
}

// NewRegistry creates a registry backed by store. A nil store falls back to
// NewInMemoryStore.
func NewRegistry(store Store) *Registry {
	if store == nil {
		store = NewInMemoryStore()
	}
	return &Registry{cache: map[string]*Thread{}, store: store}
}

// GetOrCreate returns the thread for the unordered pair (a, b), creating it
// lazily on first use. Creation loads any previously persisted history
// through the store.
func (r *Registry) GetOrCreate(a, b string) (*Thread, error) {
	key := PairKey(a, b)

	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.cache[key]; ok {
		return t, nil
	}

	msgs, err := r.store.Load(key)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", key, err)
	}

	t := &Thread{key: key, messages: msgs, onAppend: r.store.Save}
	r.cache[key] = t
	return t, nil
}

// Lookup returns the thread for the pair if it was created before. Unlike
// GetOrCreate it never allocates a thread or touches the store.
func (r *Registry) Lookup(a, b string) (*Thread, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.cache[PairKey(a, b)]
	return t, ok
}

// Keys returns the canonical keys of all threads created so far.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.cache))
	for k := range r.cache {
		keys = append(keys, k)
	}
	return keys
}
