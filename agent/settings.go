package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Settings is an opaque snapshot of per-agent configuration keyed by agent
// name, persisted through a SettingsStore at agency construction and
// teardown. The core never inspects its contents beyond writing snapshots.
type Settings map[string]AgentSettings

// AgentSettings captures the externally visible configuration of one agent.
type AgentSettings struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Model       string   `json:"model,omitempty"`
	Tools       []string `json:"tools,omitempty"`
}

// Snapshot returns the agent's persistable configuration.
func (a *Agent) Snapshot() AgentSettings {
	defs := a.executor.Definitions()
	tools := make([]string, len(defs))
	for i, d := range defs {
		tools[i] = d.Name
	}
	return AgentSettings{
		Name:        a.name,
		Description: a.description,
		Model:       a.llm.Info().Name,
		Tools:       tools,
	}
}

// SettingsStore persists agency settings. Implementations are opaque to the
// core: Load runs during agency construction, Save during teardown.
type SettingsStore interface {
	Load() (Settings, error)
	Save(settings Settings) error
}

// InMemorySettingsStore is a volatile SettingsStore for tests and demos.
type InMemorySettingsStore struct {
	mu       sync.Mutex
	settings Settings
}

// NewInMemorySettingsStore constructs an empty in-memory settings store.
func NewInMemorySettingsStore() *InMemorySettingsStore {
	return &InMemorySettingsStore{settings: Settings{}}
}

// Load returns the last saved settings.
func (s *InMemorySettingsStore) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(Settings, len(s.settings))
	for k, v := range s.settings {
		out[k] = v
	}
	return out, nil
}

// Save replaces the stored settings.
func (s *InMemorySettingsStore) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}

// FileSettingsStore persists settings as a single JSON file.
type FileSettingsStore struct {
	path string
	mu   sync.Mutex
}

// NewFileSettingsStore returns a store writing to path.
func NewFileSettingsStore(path string) *FileSettingsStore {
	return &FileSettingsStore{path: path}
}

// Load reads the settings file; a missing file yields empty settings.
func (s *FileSettingsStore) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Settings{}, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

// Save writes the settings file atomically.
func (s *FileSettingsStore) Save(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return os.Rename(tmp, s.path)
}
