// File: internal/storage/storage.go
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// KeyValueStorage is the durable backing store for GM_getValue and friends.
// Values are arbitrary JSON-serializable data. Implementations must be safe
// for concurrent use.
type KeyValueStorage interface {
	// GetValue returns the stored value for key, or def when absent.
	GetValue(ctx context.Context, key string, def any) (any, error)
	// SetValue stores value under key, replacing any previous value.
	SetValue(ctx context.Context, key string, value any) error
	// DeleteValue removes key. Deleting an absent key is not an error.
	DeleteValue(ctx context.Context, key string) error
	// ListValues returns all stored keys, sorted.
	ListValues(ctx context.Context) ([]string, error)
}

// Memory is the default in-process backend. Values round-trip through JSON
// so memory and Postgres backends expose identical type behavior (numbers
// come back as float64, maps as map[string]any).
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) GetValue(_ context.Context, key string, def any) (any, error) {
	m.mu.RLock()
	raw, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return def, nil
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return def, err
	}
	return out, nil
}

func (m *Memory) SetValue(_ context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[key] = raw
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteValue(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListValues(_ context.Context) ([]string, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// Scoped namespaces every key with the owning script's id, the single place
// where the "<scriptId>:<name>" convention lives. Two scripts storing under
// the same name therefore never collide.
type Scoped struct {
	backing  KeyValueStorage
	scriptID string
	prefix   string
}

// Scope wraps a store for one script.
func Scope(backing KeyValueStorage, scriptID string) *Scoped {
	return &Scoped{
		backing:  backing,
		scriptID: scriptID,
		prefix:   scriptID + ":",
	}
}

func (s *Scoped) GetValue(ctx context.Context, key string, def any) (any, error) {
	return s.backing.GetValue(ctx, s.prefix+key, def)
}

func (s *Scoped) SetValue(ctx context.Context, key string, value any) error {
	return s.backing.SetValue(ctx, s.prefix+key, value)
}

func (s *Scoped) DeleteValue(ctx context.Context, key string) error {
	return s.backing.DeleteValue(ctx, s.prefix+key)
}

// ListValues returns the script's own keys with the namespace stripped.
func (s *Scoped) ListValues(ctx context.Context) ([]string, error) {
	all, err := s.backing.ListValues(ctx)
	if err != nil {
		return nil, err
	}
	var own []string
	for _, k := range all {
		if rest, ok := strings.CutPrefix(k, s.prefix); ok {
			own = append(own, rest)
		}
	}
	return own, nil
}

// Snapshot loads every value owned by the script, keyed by the unscoped
// name. The capability builder seeds the in-frame synchronous cache with it.
func (s *Scoped) Snapshot(ctx context.Context) (map[string]any, error) {
	keys, err := s.ListValues(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		v, err := s.GetValue(ctx, k, nil)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}
