// File: internal/scriptstore/store.go
package scriptstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/greasewire/greasewire/internal/script"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const stateFile = "state.json"

// ChangeKind classifies a store mutation for change listeners.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeUpdated  ChangeKind = "updated"
	ChangeRemoved  ChangeKind = "removed"
	ChangeEnabled  ChangeKind = "enabled"
	ChangeDisabled ChangeKind = "disabled"
)

// ChangeEvent is delivered to listeners after a mutation has been persisted.
type ChangeEvent struct {
	Kind   ChangeKind
	Script *script.UserScript
}

// scriptState is the persisted per-script record; the source itself lives in
// <id>.user.js next to the state file.
type scriptState struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// Store owns the userscript collection: a directory of *.user.js files plus
// a state.json carrying stable ids, enabled flags, and insertion order.
type Store struct {
	dir    string
	logger *zap.Logger

	mu        sync.RWMutex
	order     []string // insertion order of ids; selection ties break on it
	byID      map[string]*script.UserScript
	listeners []func(ChangeEvent)
}

// New opens (or creates) a store rooted at dir.
func New(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create scripts dir %q: %w", dir, err)
	}
	s := &Store{
		dir:    dir,
		logger: logger.Named("scriptstore"),
		byID:   make(map[string]*script.UserScript),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// OnChange registers a listener invoked after every persisted mutation.
func (s *Store) OnChange(fn func(ChangeEvent)) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// GetAllScripts returns all scripts (enabled and disabled) in insertion
// order. The slice is a copy; the scripts are shared.
func (s *Store) GetAllScripts() []*script.UserScript {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*script.UserScript, 0, len(s.order))
	for _, id := range s.order {
		if us, ok := s.byID[id]; ok {
			out = append(out, us)
		}
	}
	return out
}

// GetScript looks up one script by id.
func (s *Store) GetScript(id string) (*script.UserScript, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	us, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("no script with id %q", id)
	}
	return us, nil
}

// AddScript validates and stores a new script, assigning it a stable id.
// New scripts start enabled.
func (s *Store) AddScript(rawSource string) (*script.UserScript, error) {
	if err := script.Validate(rawSource); err != nil {
		return nil, err
	}
	us := &script.UserScript{
		ID:      uuid.New().String(),
		Enabled: true,
		Source:  rawSource,
		Meta:    script.ParseHeader(rawSource),
	}

	s.mu.Lock()
	s.byID[us.ID] = us
	s.order = append(s.order, us.ID)
	err := s.persistLocked(us)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.notify(ChangeEvent{Kind: ChangeAdded, Script: us})
	s.logger.Info("Script added.", zap.String("script_id", us.ID), zap.String("name", us.DisplayName()))
	return us, nil
}

// UpdateScript replaces a script's source and re-derives its metadata. The
// id is immutable across updates.
func (s *Store) UpdateScript(id, rawSource string) error {
	if err := script.Validate(rawSource); err != nil {
		return err
	}

	s.mu.Lock()
	us, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no script with id %q", id)
	}
	us.Source = rawSource
	us.Meta = script.ParseHeader(rawSource)
	err := s.persistLocked(us)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(ChangeEvent{Kind: ChangeUpdated, Script: us})
	return nil
}

// EnableScript marks a script eligible for selection.
func (s *Store) EnableScript(id string) error {
	return s.setEnabled(id, true)
}

// DisableScript withdraws a script from selection. Listeners use the event
// to cascade cleanup (e.g. dropping the script's menu command proxies).
func (s *Store) DisableScript(id string) error {
	return s.setEnabled(id, false)
}

func (s *Store) setEnabled(id string, enabled bool) error {
	s.mu.Lock()
	us, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no script with id %q", id)
	}
	changed := us.Enabled != enabled
	us.Enabled = enabled
	var err error
	if changed {
		err = s.saveStateLocked()
	}
	s.mu.Unlock()
	if err != nil || !changed {
		return err
	}

	kind := ChangeEnabled
	if !enabled {
		kind = ChangeDisabled
	}
	s.notify(ChangeEvent{Kind: kind, Script: us})
	return nil
}

// RemoveScript deletes a script and its source file.
func (s *Store) RemoveScript(id string) error {
	s.mu.Lock()
	us, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("no script with id %q", id)
	}
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	if err := os.Remove(s.sourcePath(id)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("Failed to remove script source file.", zap.String("script_id", id), zap.Error(err))
	}
	err := s.saveStateLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.notify(ChangeEvent{Kind: ChangeRemoved, Script: us})
	return nil
}

// FindByIdentity locates a script by its (@namespace, @name) pair, the
// identity used when syncing external sources.
func (s *Store) FindByIdentity(namespace, name string) (*script.UserScript, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		us := s.byID[id]
		if us != nil && us.Meta.Namespace == namespace && us.Meta.Name == name {
			return us, true
		}
	}
	return nil, false
}

// --- persistence ---

func (s *Store) sourcePath(id string) string {
	return filepath.Join(s.dir, id+".user.js")
}

// persistLocked writes the script source and the state file. Callers hold mu.
func (s *Store) persistLocked(us *script.UserScript) error {
	if err := os.WriteFile(s.sourcePath(us.ID), []byte(us.Source), 0o644); err != nil {
		return fmt.Errorf("failed to write script source: %w", err)
	}
	return s.saveStateLocked()
}

func (s *Store) saveStateLocked() error {
	states := make([]scriptState, 0, len(s.order))
	for _, id := range s.order {
		if us, ok := s.byID[id]; ok {
			states = append(states, scriptState{ID: id, Enabled: us.Enabled})
		}
	}
	raw, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(s.dir, stateFile+".tmp")
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return os.Rename(tmp, filepath.Join(s.dir, stateFile))
}

func (s *Store) load() error {
	raw, err := os.ReadFile(filepath.Join(s.dir, stateFile))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	var states []scriptState
	if err := json.Unmarshal(raw, &states); err != nil {
		return fmt.Errorf("state file is corrupt: %w", err)
	}

	for _, st := range states {
		src, err := os.ReadFile(s.sourcePath(st.ID))
		if err != nil {
			s.logger.Warn("Dropping script with missing source file.",
				zap.String("script_id", st.ID), zap.Error(err))
			continue
		}
		us := &script.UserScript{
			ID:      st.ID,
			Enabled: st.Enabled,
			Source:  string(src),
			Meta:    script.ParseHeader(string(src)),
		}
		s.byID[st.ID] = us
		s.order = append(s.order, st.ID)
	}
	return nil
}

func (s *Store) notify(ev ChangeEvent) {
	s.mu.RLock()
	listeners := make([]func(ChangeEvent), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}
