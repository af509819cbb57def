// File: internal/inject/dispatch.go
package inject

import (
	"context"

	"github.com/chromedp/cdproto/runtime"
	"go.uber.org/zap"

	"github.com/greasewire/greasewire/internal/storage"
	"github.com/greasewire/greasewire/internal/wire"
)

// OnBindingCalled handles a frame-to-host message. The execution context id
// authenticates the sender: a message is accepted only when the context
// belongs to a tracked frame, and only for a script this coordinator has
// actually injected into that frame. Everything else is dropped loudly
// enough to audit but without feeding anything back to the page.
func (c *Coordinator) OnBindingCalled(ctxID runtime.ExecutionContextID, payload string) {
	c.mu.Lock()
	frameID, ok := c.ctxOwner[ctxID]
	var fs *frameState
	if ok {
		fs = c.frames[frameID]
	}
	c.mu.Unlock()

	if fs == nil {
		c.logger.Warn("Dropping message from an unrecognized execution context.",
			zap.Int64("context", int64(ctxID)))
		return
	}

	env, err := wire.Decode(payload)
	if err != nil {
		c.logger.Warn("Dropping undecodable message.",
			zap.String("frame", frameID), zap.Error(err))
		return
	}
	if !wire.Known(env.Type) {
		c.logger.Debug("Ignoring message of unknown type.",
			zap.String("frame", frameID), zap.String("type", string(env.Type)))
		return
	}

	us, err := c.scripts.GetScript(env.ScriptID)
	if err != nil {
		c.logger.Warn("Dropping message naming an unknown script.",
			zap.String("frame", frameID), zap.String("script", env.ScriptID))
		return
	}
	c.mu.Lock()
	entry, injected := fs.ledger[env.ScriptID]
	injected = injected && entry.epoch == fs.epoch && entry.done
	c.mu.Unlock()
	if !injected {
		c.logger.Warn("Dropping message from a script not injected in this frame.",
			zap.String("frame", frameID), zap.String("script", env.ScriptID))
		return
	}

	c.dispatch(fs, us.DisplayName(), env)
}

func (c *Coordinator) dispatch(fs *frameState, scriptName string, env *wire.Envelope) {
	switch env.Type {
	case wire.TypeRegisterMenuCommand, wire.TypeUnregisterMenuCommand:
		if err := c.menus.HandleEnvelope(fs.frameID, scriptName, env); err != nil {
			c.logger.Warn("Rejected menu message.",
				zap.String("frame", fs.frameID), zap.Error(err))
		}

	case wire.TypeStorageGet, wire.TypeStorageSet, wire.TypeStorageDelete, wire.TypeStorageList:
		c.handleStorage(fs, env)

	case wire.TypeXHRRequest:
		c.handleXHR(fs, scriptName, env)

	case wire.TypeXHRAbort:
		c.relay.Abort(env.RequestID)

	case wire.TypeNotification:
		n := env.Notification
		if n == nil {
			return
		}
		c.logger.Info("Script notification.",
			zap.String("script", scriptName),
			zap.String("title", n.Title),
			zap.String("text", n.Text))

	case wire.TypeSetClipboard:
		// No clipboard integration on the host; surface the content so it
		// is not silently lost.
		c.logger.Info("Script requested clipboard write.",
			zap.String("script", scriptName), zap.String("text", env.Text))

	case wire.TypeOpenTab:
		if c.tabs == nil {
			c.logger.Warn("Dropping open-tab request; no tab opener configured.",
				zap.String("script", scriptName), zap.String("url", env.URL))
			return
		}
		c.spawn(func(ctx context.Context) {
			if err := c.tabs.OpenTab(ctx, env.URL, env.Active); err != nil {
				c.logger.Warn("Opening a tab failed.",
					zap.String("url", env.URL), zap.Error(err))
			}
		})

	case wire.TypeLog:
		c.logger.Info("Script log.",
			zap.String("script", scriptName),
			zap.String("level", env.Level),
			zap.String("message", env.Message))

	case wire.TypeScriptInfo:
		c.logger.Debug("Script announced itself.",
			zap.String("frame", fs.frameID), zap.String("script", scriptName))

	default:
		// wire.Known filtered already; nothing to do.
	}
}

// handleStorage applies a storage operation against the script's namespace
// and, when the message carries a request id, replies with a storage-value
// envelope so GM.* promise calls resolve.
func (c *Coordinator) handleStorage(fs *frameState, env *wire.Envelope) {
	scoped := storage.Scope(c.values, env.ScriptID)
	frameID := fs.frameID

	c.spawn(func(ctx context.Context) {
		reply := &wire.Envelope{
			Type:      wire.TypeStorageValue,
			ScriptID:  env.ScriptID,
			RequestID: env.RequestID,
			Key:       env.Key,
		}

		var opErr error
		switch env.Type {
		case wire.TypeStorageGet:
			val, err := scoped.GetValue(ctx, env.Key, nil)
			opErr = err
			if err == nil && val != nil {
				if raw, mErr := json.Marshal(val); mErr == nil {
					reply.Value = raw
				}
			}
		case wire.TypeStorageSet:
			var val any
			if err := json.Unmarshal(env.Value, &val); err != nil {
				opErr = err
			} else {
				opErr = scoped.SetValue(ctx, env.Key, val)
			}
		case wire.TypeStorageDelete:
			opErr = scoped.DeleteValue(ctx, env.Key)
		case wire.TypeStorageList:
			keys, err := scoped.ListValues(ctx)
			opErr = err
			reply.Keys = keys
		}

		if opErr != nil {
			c.logger.Warn("Storage operation failed.",
				zap.String("script", env.ScriptID),
				zap.String("op", string(env.Type)),
				zap.Error(opErr))
			reply.Error = opErr.Error()
		}

		if env.RequestID == "" {
			return
		}
		if err := c.SendToFrame(ctx, frameID, reply); err != nil {
			c.logger.Debug("Storage reply delivery failed.",
				zap.String("frame", frameID), zap.Error(err))
		}
	})
}

// handleXHR relays a GM_xmlhttpRequest and delivers the outcome back.
func (c *Coordinator) handleXHR(fs *frameState, scriptName string, env *wire.Envelope) {
	us, err := c.scripts.GetScript(env.ScriptID)
	if err != nil {
		return
	}
	frameID := fs.frameID

	c.mu.Lock()
	pageURL := fs.url
	c.mu.Unlock()

	c.spawn(func(ctx context.Context) {
		reply := c.relay.Do(ctx, us, pageURL, env)
		if err := c.SendToFrame(ctx, frameID, reply); err != nil {
			c.logger.Debug("Relay reply delivery failed.",
				zap.String("frame", frameID),
				zap.String("script", scriptName),
				zap.Error(err))
		}
	})
}

// spawn runs fn on the coordinator's lifetime context, tracked for Close.
func (c *Coordinator) spawn(fn func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if c.rootCtx.Err() != nil {
			return
		}
		fn(c.rootCtx)
	}()
}
