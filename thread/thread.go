// Package thread maintains one ordered conversation history per
// communicating pair of participants. The Registry canonicalizes pair keys,
// caches thread identity in memory and delegates durable storage to a Store
// invoked at creation and after each append.
package thread

import (
	"strings"
	"sync"

	"github.com/hupe1980/agencykit/core"
)

// PairKey canonicalizes an unordered participant pair into a stable key. The
// same two names in either order yield the same key.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "::" + b
}

// SplitPairKey returns the two participants of a canonical key.
func SplitPairKey(key string) (string, string) {
	parts := strings.SplitN(key, "::", 2)
	if len(parts) != 2 {
		return key, ""
	}
	return parts[0], parts[1]
}

// Thread is the append-only message history for one communicating pair.
// Appends are serialized; the configured save hook runs inside the append
// critical section so persisted order always matches observed order.
type Thread struct {
	key string

	mu       sync.RWMutex
	messages []core.Message
	onAppend func(key string, msgs []core.Message) error
}

// Key returns the canonical pair key of this thread.
func (t *Thread) Key() string { return t.key }

// Append adds msg to the history and invokes the persistence hook. The
// message stays appended even when persistence fails; the error is returned
// so callers can surface it.
func (t *Thread) Append(msg core.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
	if t.onAppend != nil {
		snapshot := make([]core.Message, len(t.messages))
		copy(snapshot, t.messages)
		return t.onAppend(t.key, snapshot)
	}
	return nil
}

// Messages returns a defensive copy of the accumulated history.
func (t *Thread) Messages() []core.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]core.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len reports the number of accumulated messages.
func (t *Thread) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
