package core

import (
	"maps"
	"sync"
)

// SharedState is the keyed mutable store visible to every tool execution
// within one orchestrated run, including tools of agents reached through
// delegation. It is created per top-level request and discarded when the run
// completes unless a caller captures it explicitly. Safe for concurrent use.
type SharedState struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewSharedState returns an empty store.
func NewSharedState() *SharedState {
	return &SharedState{data: map[string]any{}}
}

// Get returns the value stored under key and whether it exists.
func (s *SharedState) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key, overwriting any previous entry.
func (s *SharedState) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}

// Delete removes key from the store.
func (s *SharedState) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
}

// Merge copies all pairs from delta into the store.
func (s *SharedState) Merge(delta map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.data, delta)
}

// Len reports the number of stored keys.
func (s *SharedState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Snapshot returns a shallow copy of the current contents, for callers that
// want to capture run state before it is discarded.
func (s *SharedState) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	maps.Copy(out, s.data)
	return out
}
