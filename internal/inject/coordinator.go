// File: internal/inject/coordinator.go

// Package inject drives userscript injection across a browser session's
// frames: it tracks frame lifecycles, sequences run-at buckets, keeps the
// per-frame injection ledger, and falls back to polling for frames whose
// reloads produce no observable lifecycle events.
package inject

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/runtime"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/greasewire/greasewire/internal/capability"
	"github.com/greasewire/greasewire/internal/config"
	"github.com/greasewire/greasewire/internal/menu"
	"github.com/greasewire/greasewire/internal/resource"
	"github.com/greasewire/greasewire/internal/script"
	"github.com/greasewire/greasewire/internal/selector"
	"github.com/greasewire/greasewire/internal/storage"
	"github.com/greasewire/greasewire/internal/wire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Evaluator runs a JavaScript expression inside a specific frame. The
// browser session implements it on Runtime.Evaluate; out may be nil when
// the result is irrelevant.
type Evaluator interface {
	Evaluate(ctx context.Context, frameID string, expr string, out any) error
}

// ScriptProvider is the slice of the script store the coordinator needs.
type ScriptProvider interface {
	GetAllScripts() []*script.UserScript
	GetScript(id string) (*script.UserScript, error)
}

// TabOpener services GM_openInTab. Optional; nil drops open-tab requests
// with a warning.
type TabOpener interface {
	OpenTab(ctx context.Context, url string, active bool) error
}

// Injection phases, in document order. A frame's reached stage gates which
// run-at buckets may inject.
const (
	stageStart = 0 // document created, scripts may run before parsing
	stageBody  = 1 // document.body exists
	stageEnd   = 2 // DOMContentLoaded fired
	stageIdle  = 3 // load fired and the settle delay elapsed
)

// frameState is everything the coordinator tracks for one frame.
type frameState struct {
	frameID  string
	identity string // stable uuid, stamped into the DOM as data-gw-target
	url      string
	topLevel bool

	epoch uint64
	stage int
	force bool // next pass bypasses marker and ledger checks

	ledger frameLedger

	cancel context.CancelFunc
	kick   chan struct{}

	lastSample string
	pollCount  int
}

// Coordinator is the injection engine for one browser session.
type Coordinator struct {
	cfg      config.InjectorConfig
	logger   *zap.Logger
	scripts  ScriptProvider
	selector *selector.Selector
	loader   *resource.Loader
	builder  *capability.Builder
	values   storage.KeyValueStorage
	menus    *menu.Registry
	relay    *capability.XHRRelay
	eval     Evaluator
	tabs     TabOpener

	rootCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	frames   map[string]*frameState
	ctxOwner map[runtime.ExecutionContextID]string
}

// Options carries the coordinator's collaborators.
type Options struct {
	Config   config.InjectorConfig
	Logger   *zap.Logger
	Scripts  ScriptProvider
	Selector *selector.Selector
	Loader   *resource.Loader
	Builder  *capability.Builder
	Values   storage.KeyValueStorage
	Relay    *capability.XHRRelay
	Eval     Evaluator
	Tabs     TabOpener
}

// New builds a Coordinator. It owns goroutines from the first tracked frame
// until Close.
func New(opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:      opts.Config,
		logger:   logger.Named("coordinator"),
		scripts:  opts.Scripts,
		selector: opts.Selector,
		loader:   opts.Loader,
		builder:  opts.Builder,
		values:   opts.Values,
		relay:    opts.Relay,
		eval:     opts.Eval,
		tabs:     opts.Tabs,
		rootCtx:  ctx,
		stop:     cancel,
		frames:   make(map[string]*frameState),
		ctxOwner: make(map[runtime.ExecutionContextID]string),
	}
	// The registry routes execute-command messages back through the
	// coordinator, so the coordinator owns it.
	c.menus = menu.NewRegistry(c, logger)
	return c
}

// Menus exposes the registry for display surfaces and store change hooks.
func (c *Coordinator) Menus() *menu.Registry {
	return c.menus
}

// Close tears down every frame worker and waits for in-flight work.
func (c *Coordinator) Close() {
	c.stop()
	c.mu.Lock()
	for _, fs := range c.frames {
		fs.cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// --- frame event intake --------------------------------------------------

// OnFrameAttached starts tracking a frame. Idempotent.
func (c *Coordinator) OnFrameAttached(frameID string, topLevel bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trackLocked(frameID, topLevel)
}

// OnFrameNavigated records a navigation: the epoch bumps, the ledger
// resets, and an injection pass is scheduled from the start stage.
func (c *Coordinator) OnFrameNavigated(frameID, url string, topLevel bool) {
	c.mu.Lock()
	fs := c.trackLocked(frameID, topLevel)
	fs.url = url
	fs.topLevel = topLevel
	c.bumpEpochLocked(fs, stageStart)
	c.mu.Unlock()

	c.menus.RemoveFrame(frameID)
	c.kick(fs)
}

// OnFrameDetached stops tracking a frame and tears down its worker.
func (c *Coordinator) OnFrameDetached(frameID string) {
	c.mu.Lock()
	fs, ok := c.frames[frameID]
	if ok {
		delete(c.frames, frameID)
	}
	for id, owner := range c.ctxOwner {
		if owner == frameID {
			delete(c.ctxOwner, id)
		}
	}
	c.mu.Unlock()

	if ok {
		fs.cancel()
		c.menus.RemoveFrame(frameID)
	}
}

// OnLifecycle advances a frame's reached stage from a CDP lifecycle event.
// "init" signals a fresh document, which is a navigation for our purposes.
func (c *Coordinator) OnLifecycle(frameID, event string) {
	c.mu.Lock()
	fs, ok := c.frames[frameID]
	if !ok {
		c.mu.Unlock()
		return
	}
	switch event {
	case "init":
		c.bumpEpochLocked(fs, stageStart)
	case "DOMContentLoaded":
		// A parsed document guarantees body presence, so this milestone
		// unlocks both the body and end buckets.
		if fs.stage < stageEnd {
			fs.stage = stageEnd
		}
	case "load":
		if fs.stage < stageIdle {
			fs.stage = stageIdle
		}
	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if event == "load" && c.cfg.IdleSettleDelay > 0 {
		// Let the page settle before document-idle scripts run.
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			select {
			case <-c.rootCtx.Done():
				return
			case <-timeAfter(c.cfg.IdleSettleDelay):
			}
			c.mu.Lock()
			fs, ok := c.frames[frameID]
			c.mu.Unlock()
			if ok {
				c.kick(fs)
			}
		}()
		return
	}
	c.kick(fs)
}

// OnExecutionContextCreated records which frame owns a JS execution context,
// the basis for authenticating binding calls.
func (c *Coordinator) OnExecutionContextCreated(id runtime.ExecutionContextID, frameID string) {
	c.mu.Lock()
	c.ctxOwner[id] = frameID
	c.mu.Unlock()
}

// OnExecutionContextDestroyed forgets a context.
func (c *Coordinator) OnExecutionContextDestroyed(id runtime.ExecutionContextID) {
	c.mu.Lock()
	delete(c.ctxOwner, id)
	c.mu.Unlock()
}

// trackLocked registers a frame and starts its worker. Caller holds mu.
func (c *Coordinator) trackLocked(frameID string, topLevel bool) *frameState {
	if fs, ok := c.frames[frameID]; ok {
		return fs
	}
	fctx, cancel := context.WithCancel(c.rootCtx)
	fs := &frameState{
		frameID:  frameID,
		identity: uuid.New().String(),
		topLevel: topLevel,
		ledger:   make(frameLedger),
		cancel:   cancel,
		kick:     make(chan struct{}, 1),
	}
	c.frames[frameID] = fs

	c.wg.Add(1)
	go c.frameWorker(fctx, fs)

	c.logger.Debug("Tracking frame.",
		zap.String("frame", frameID),
		zap.String("identity", fs.identity),
		zap.Bool("top_level", topLevel))
	return fs
}

// bumpEpochLocked starts a new navigation epoch. Caller holds mu.
func (c *Coordinator) bumpEpochLocked(fs *frameState, stage int) {
	fs.epoch++
	fs.stage = stage
	fs.force = false
	fs.ledger = make(frameLedger)
	fs.lastSample = ""
	fs.pollCount = 0
}

// kick schedules an injection pass; a pending kick is enough.
func (c *Coordinator) kick(fs *frameState) {
	select {
	case fs.kick <- struct{}{}:
	default:
	}
}

// --- operations ------------------------------------------------------------

// ForceReinject bypasses the marker and ledger checks for one frame and
// re-runs every matching script at the current stage.
func (c *Coordinator) ForceReinject(frameID string) error {
	c.mu.Lock()
	fs, ok := c.frames[frameID]
	if ok {
		fs.force = true
		fs.ledger = make(frameLedger)
	}
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown frame %q", frameID)
	}
	c.kick(fs)
	return nil
}

// SendToFrame delivers an envelope into a frame's shim dispatcher. It is
// the menu registry's MessageSender.
func (c *Coordinator) SendToFrame(ctx context.Context, frameID string, env *wire.Envelope) error {
	raw, err := wire.Encode(env)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf("window.%s(%s)", wire.DeliverFunc, jsString(raw))
	return c.eval.Evaluate(ctx, frameID, expr, nil)
}

// --- injection passes ------------------------------------------------------

// frameWorker serializes all injection work for one frame and owns its
// polling fallback ticker.
func (c *Coordinator) frameWorker(ctx context.Context, fs *frameState) {
	defer c.wg.Done()

	ticker := newTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fs.kick:
			c.pass(ctx, fs)
		case <-ticker.C:
			c.poll(ctx, fs)
		}
	}
}

// pass injects every matching script whose run-at bucket has been reached,
// in bucket order. Within a bucket the selection order (store insertion) is
// preserved; buckets never interleave because the pass is sequential.
func (c *Coordinator) pass(ctx context.Context, fs *frameState) {
	c.mu.Lock()
	url := fs.url
	topLevel := fs.topLevel
	stage := fs.stage
	epoch := fs.epoch
	force := fs.force
	fs.force = false
	c.mu.Unlock()

	if url == "" {
		return
	}

	// Stamp the frame identity so external tooling can correlate the DOM
	// with coordinator logs. Failure is harmless.
	_ = c.eval.Evaluate(ctx, fs.frameID, stampIdentityJS(fs.identity), nil)

	sel := c.selector.SelectForURL(url, topLevel)
	for _, us := range sel.Scripts {
		if us.Meta.RunAt.Order() > stage {
			// Selection is bucket-ordered; everything after this waits for
			// a later lifecycle stage.
			break
		}
		if ctx.Err() != nil {
			return
		}
		c.injectScript(ctx, fs, us, epoch, force)
	}
}

// injectScript runs one script in one frame at most once per epoch, with a
// bounded retry on evaluation failure.
func (c *Coordinator) injectScript(ctx context.Context, fs *frameState, us *script.UserScript, epoch uint64, force bool) {
	c.mu.Lock()
	entry := fs.ledger.entryFor(us.ID, epoch)
	if !force && (entry.done || entry.abandoned) {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	log := c.logger.With(
		zap.String("frame", fs.frameID),
		zap.String("script", us.DisplayName()),
		zap.Uint64("epoch", epoch))

	if !force {
		var present bool
		if err := c.eval.Evaluate(ctx, fs.frameID, markerCheckJS(us.ID), &present); err == nil && present {
			// Another pass (or a pre-navigation document) already carries
			// this script; record and move on.
			c.mu.Lock()
			entry.done = true
			c.mu.Unlock()
			return
		}
	}

	payload, err := c.buildPayload(ctx, fs, us)
	if err != nil {
		log.Error("Payload build failed; abandoning for this epoch.", zap.Error(err))
		c.mu.Lock()
		entry.abandoned = true
		c.mu.Unlock()
		return
	}

	for {
		c.mu.Lock()
		if entry.attempts >= c.cfg.MaxRetries {
			entry.abandoned = true
			c.mu.Unlock()
			log.Warn("Injection retries exhausted; abandoning for this epoch.",
				zap.Int("attempts", entry.attempts))
			return
		}
		entry.attempts++
		c.mu.Unlock()

		if err := c.eval.Evaluate(ctx, fs.frameID, payload, nil); err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Debug("Injection attempt failed.", zap.Error(err))
			continue
		}

		c.mu.Lock()
		entry.done = true
		c.mu.Unlock()
		log.Info("Script injected.", zap.String("run_at", string(us.Meta.RunAt)))
		return
	}
}

// buildPayload composes shim + dependencies + user code + dedup marker and
// syntax-checks the result before it ever reaches the browser.
func (c *Coordinator) buildPayload(ctx context.Context, fs *frameState, us *script.UserScript) (string, error) {
	pre := c.loader.Preprocess(ctx, us)
	if len(pre.RequiresFailed) > 0 {
		c.logger.Warn("Some @require dependencies failed to load; injecting without them.",
			zap.String("script", us.DisplayName()),
			zap.Strings("failed", pre.RequiresFailed))
	}

	seed, err := storage.Scope(c.values, us.ID).Snapshot(ctx)
	if err != nil {
		c.logger.Warn("Stored values unavailable; seeding an empty cache.",
			zap.String("script", us.DisplayName()), zap.Error(err))
		seed = map[string]any{}
	}

	body, err := c.builder.Build(us, fs.url, seed, pre.Code)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(body)
	b.WriteString("\n")
	b.WriteString(markerStampJS(us.ID))

	payload := b.String()
	if err := script.Validate(payload); err != nil {
		return "", fmt.Errorf("composed payload does not parse: %w", err)
	}
	return payload, nil
}

// --- injected JS snippets ----------------------------------------------------

func markerCheckJS(scriptID string) string {
	return fmt.Sprintf(
		`!!document.querySelector('meta[data-gw-script=%s]')`, jsString(scriptID))
}

func markerStampJS(scriptID string) string {
	return fmt.Sprintf(`;(function () {
  try {
    if (!document.querySelector('meta[data-gw-script=' + JSON.stringify(%s) + ']')) {
      var m = document.createElement('meta');
      m.setAttribute('data-gw-script', %s);
      (document.head || document.documentElement).appendChild(m);
    }
  } catch (e) {}
})();`, jsString(scriptID), jsString(scriptID))
}

func stampIdentityJS(identity string) string {
	return fmt.Sprintf(`;(function () {
  try { document.documentElement.setAttribute('data-gw-target', %s); } catch (e) {}
})();`, jsString(identity))
}

func jsString(s string) string {
	raw, err := json.MarshalToString(s)
	if err != nil {
		return `""`
	}
	return raw
}
