package thread

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hupe1980/agencykit/core"
)

// Store persists thread histories. Load is invoked once at thread creation,
// Save after every append with the full ordered history. Implementations
// must tolerate Load for keys they have never seen (return an empty history).
type Store interface {
	Load(key string) ([]core.Message, error)
	Save(key string, msgs []core.Message) error
}

// InMemoryStore is a volatile Store keeping histories in a process-local
// map. Safe for concurrent access; best suited for tests and ephemeral runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]core.Message
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{threads: map[string][]core.Message{}}
}

// Load returns the stored history for key, or an empty one.
func (s *InMemoryStore) Load(key string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.threads[key]
	out := make([]core.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Save stores a copy of the history under key.
func (s *InMemoryStore) Save(key string, msgs []core.Message) error {
	cp := make([]core.Message, len(msgs))
	copy(cp, msgs)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[key] = cp
	return nil
}

// FileStore persists each thread as a JSON file under a directory. File
// names derive from the canonical pair key.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create thread dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(key string) string {
	safe := strings.NewReplacer("::", "__", string(os.PathSeparator), "_").Replace(key)
	return filepath.Join(s.dir, safe+".json")
}

// Load reads the persisted history for key; a missing file means an empty history.
func (s *FileStore) Load(key string) ([]core.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read thread %s: %w", key, err)
	}

	var msgs []core.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", key, err)
	}
	return msgs, nil
}

// Save writes the full history atomically (write to temp file, then rename).
func (s *FileStore) Save(key string, msgs []core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode thread %s: %w", key, err)
	}

	target := s.path(key)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write thread %s: %w", key, err)
	}
	return os.Rename(tmp, target)
}
