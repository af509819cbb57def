// File: internal/menu/menu.go

// Package menu keeps the host-side registry of GM_registerMenuCommand
// proxies. Handlers stay inside the owning frame; the registry only records
// enough to list commands and route execute-command messages back.
package menu

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/greasewire/greasewire/internal/wire"
)

// MessageSender delivers an envelope into the frame that owns a command.
// The injection coordinator implements it.
type MessageSender interface {
	SendToFrame(ctx context.Context, frameID string, env *wire.Envelope) error
}

// Command is one registered proxy.
type Command struct {
	ID         string
	ScriptID   string
	ScriptName string
	Name       string
	AccessKey  string
	// FrameID identifies the frame whose shim holds the handler.
	FrameID string
}

// Registry tracks commands keyed by (scriptId, commandId).
type Registry struct {
	sender MessageSender
	logger *zap.Logger

	mu       sync.RWMutex
	commands map[string]map[string]Command // scriptID -> commandID -> Command
}

// NewRegistry builds an empty registry routing executions through sender.
func NewRegistry(sender MessageSender, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sender:   sender,
		logger:   logger.Named("menu"),
		commands: make(map[string]map[string]Command),
	}
}

// Register records a proxy for a command announced by a frame. Re-announcing
// the same (scriptId, commandId) pair overwrites in place, so a re-injected
// script does not pile up duplicates.
func (r *Registry) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.commands[cmd.ScriptID]
	if !ok {
		byID = make(map[string]Command)
		r.commands[cmd.ScriptID] = byID
	}
	byID[cmd.ID] = cmd

	r.logger.Debug("Menu command registered.",
		zap.String("script", cmd.ScriptID),
		zap.String("command", cmd.ID),
		zap.String("name", cmd.Name))
}

// Unregister drops one proxy. Unknown ids are a no-op.
func (r *Registry) Unregister(scriptID, commandID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if byID, ok := r.commands[scriptID]; ok {
		delete(byID, commandID)
		if len(byID) == 0 {
			delete(r.commands, scriptID)
		}
	}
}

// RemoveScript cascades removal of every proxy a script owns. Wired to the
// script store's disable/remove change events.
func (r *Registry) RemoveScript(scriptID string) {
	r.mu.Lock()
	n := len(r.commands[scriptID])
	delete(r.commands, scriptID)
	r.mu.Unlock()

	if n > 0 {
		r.logger.Debug("Cascaded menu command removal.",
			zap.String("script", scriptID), zap.Int("commands", n))
	}
}

// RemoveFrame drops every proxy owned by a detached or navigated frame;
// its handlers are gone with the document.
func (r *Registry) RemoveFrame(frameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for scriptID, byID := range r.commands {
		for id, cmd := range byID {
			if cmd.FrameID == frameID {
				delete(byID, id)
			}
		}
		if len(byID) == 0 {
			delete(r.commands, scriptID)
		}
	}
}

// List returns all commands sorted by script name then command name, for
// display surfaces.
func (r *Registry) List() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Command
	for _, byID := range r.commands {
		for _, cmd := range byID {
			out = append(out, cmd)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScriptName != out[j].ScriptName {
			return out[i].ScriptName < out[j].ScriptName
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Execute routes an execute-command message to the frame owning the
// command's handler.
func (r *Registry) Execute(ctx context.Context, scriptID, commandID string) error {
	r.mu.RLock()
	cmd, ok := r.commands[scriptID][commandID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown menu command %s/%s", scriptID, commandID)
	}

	return r.sender.SendToFrame(ctx, cmd.FrameID, &wire.Envelope{
		Type:      wire.TypeExecuteCommand,
		ScriptID:  scriptID,
		CommandID: commandID,
	})
}

// HandleEnvelope applies a register/unregister message from a frame. The
// caller has already authenticated the frame; frameID is its tracked id.
func (r *Registry) HandleEnvelope(frameID, scriptName string, env *wire.Envelope) error {
	switch env.Type {
	case wire.TypeRegisterMenuCommand:
		if env.CommandID == "" || env.Name == "" {
			return fmt.Errorf("register-menu-command missing id or name")
		}
		r.Register(Command{
			ID:         env.CommandID,
			ScriptID:   env.ScriptID,
			ScriptName: scriptName,
			Name:       env.Name,
			AccessKey:  env.AccessKey,
			FrameID:    frameID,
		})
		return nil
	case wire.TypeUnregisterMenuCommand:
		r.Unregister(env.ScriptID, env.CommandID)
		return nil
	default:
		return fmt.Errorf("not a menu envelope: %s", env.Type)
	}
}
