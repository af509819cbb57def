// File: internal/browser/session.go

// Package browser owns the Chrome process attachment and the CDP plumbing
// between a tab and the injection coordinator.
package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/greasewire/greasewire/internal/config"
	"github.com/greasewire/greasewire/internal/inject"
	"github.com/greasewire/greasewire/internal/wire"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Session is one top-level browser target (a tab) plus the allocator that
// owns it. It implements inject.Evaluator and inject.TabOpener.
type Session struct {
	id     string
	cfg    config.BrowserConfig
	logger *zap.Logger

	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	mu        sync.Mutex
	contexts  map[string]runtime.ExecutionContextID // frame id -> main-world context
	mainFrame string
	tabs      []context.CancelFunc
	closed    bool
}

// NewSession launches a browser (or attaches to cfg.RemoteURL) and opens
// one tab. The tab is live after this returns; call Attach to wire a
// coordinator before navigating.
func NewSession(cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sessionID := uuid.New().String()
	s := &Session{
		id:       sessionID,
		cfg:      cfg,
		logger:   logger.Named("browser").With(zap.String("session_id", sessionID)),
		contexts: make(map[string]runtime.ExecutionContextID),
	}

	if cfg.RemoteURL != "" {
		s.allocCtx, s.allocCancel = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
		s.logger.Info("Attaching to remote browser.", zap.String("url", cfg.RemoteURL))
	} else {
		opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
		if !cfg.Headless {
			opts = append(opts, chromedp.Flag("headless", false))
		}
		if cfg.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
		}
		if cfg.UserAgent != "" {
			opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
		}
		if cfg.IgnoreTLSErrors {
			opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
		}
		s.allocCtx, s.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	s.ctx, s.cancel = chromedp.NewContext(s.allocCtx)

	startCtx := s.ctx
	if cfg.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(s.ctx, cfg.StartupTimeout)
		defer cancel()
	}

	// Materialize the target and enable the event domains the coordinator
	// feeds on. Lifecycle events are off by default.
	err := chromedp.Run(startCtx,
		chromedp.ActionFunc(func(c context.Context) error {
			if err := page.Enable().Do(c); err != nil {
				return err
			}
			if err := page.SetLifecycleEventsEnabled(true).Do(c); err != nil {
				return err
			}
			if err := runtime.Enable().Do(c); err != nil {
				return err
			}
			return runtime.AddBinding(wire.HostBinding).Do(c)
		}),
	)
	if err != nil {
		s.cancel()
		s.allocCancel()
		return nil, fmt.Errorf("starting browser session: %w", err)
	}

	if tgt := chromedp.FromContext(s.ctx); tgt != nil && tgt.Target != nil {
		s.mainFrame = string(tgt.Target.TargetID)
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Attach streams this tab's CDP events into the coordinator and registers
// the main frame with it.
func (s *Session) Attach(coord *inject.Coordinator) {
	chromedp.ListenTarget(s.ctx, func(ev any) {
		switch ev := ev.(type) {
		case *page.EventFrameAttached:
			coord.OnFrameAttached(string(ev.FrameID), false)

		case *page.EventFrameNavigated:
			top := ev.Frame.ParentID == ""
			coord.OnFrameNavigated(string(ev.Frame.ID), ev.Frame.URL, top)

		case *page.EventFrameDetached:
			s.forgetFrame(string(ev.FrameID))
			coord.OnFrameDetached(string(ev.FrameID))

		case *page.EventLifecycleEvent:
			coord.OnLifecycle(string(ev.FrameID), ev.Name)

		case *runtime.EventExecutionContextCreated:
			frameID, isDefault := parseAuxData(ev.Context.AuxData)
			if frameID == "" || !isDefault {
				return
			}
			s.mu.Lock()
			s.contexts[frameID] = ev.Context.ID
			s.mu.Unlock()
			coord.OnExecutionContextCreated(ev.Context.ID, frameID)

		case *runtime.EventExecutionContextDestroyed:
			s.mu.Lock()
			for f, id := range s.contexts {
				if id == ev.ExecutionContextID {
					delete(s.contexts, f)
				}
			}
			s.mu.Unlock()
			coord.OnExecutionContextDestroyed(ev.ExecutionContextID)

		case *runtime.EventExecutionContextsCleared:
			s.mu.Lock()
			s.contexts = make(map[string]runtime.ExecutionContextID)
			s.mu.Unlock()

		case *runtime.EventBindingCalled:
			if ev.Name == wire.HostBinding {
				coord.OnBindingCalled(ev.ExecutionContextID, ev.Payload)
			}
		}
	})

	if s.mainFrame != "" {
		coord.OnFrameAttached(s.mainFrame, true)
	}
}

// Navigate drives the tab to a URL.
func (s *Session) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Navigate(url))
}

// Evaluate implements inject.Evaluator: the expression runs in the frame's
// main-world execution context; the result unmarshals into out when
// non-nil.
func (s *Session) Evaluate(ctx context.Context, frameID, expr string, out any) error {
	s.mu.Lock()
	ctxID, ok := s.contexts[frameID]
	s.mu.Unlock()
	if !ok && frameID != s.mainFrame {
		return fmt.Errorf("no execution context for frame %q", frameID)
	}

	runCtx, cancel := combineContext(s.ctx, ctx)
	defer cancel()

	return chromedp.Run(runCtx, chromedp.ActionFunc(func(c context.Context) error {
		p := runtime.Evaluate(expr).WithReturnByValue(out != nil)
		if ok && ctxID != 0 {
			p = p.WithContextID(ctxID)
		}
		val, exc, err := p.Do(c)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("evaluation threw: %s", exc.Error())
		}
		if out == nil || val == nil {
			return nil
		}
		return json.Unmarshal(val.Value, out)
	}))
}

// OpenTab implements inject.TabOpener by creating a sibling target.
func (s *Session) OpenTab(ctx context.Context, url string, active bool) error {
	tctx, tcancel := chromedp.NewContext(s.ctx)

	s.mu.Lock()
	s.tabs = append(s.tabs, tcancel)
	s.mu.Unlock()

	runCtx, cancel := combineContext(tctx, ctx)
	defer cancel()

	actions := chromedp.Tasks{chromedp.Navigate(url)}
	if active {
		actions = append(actions, chromedp.ActionFunc(func(c context.Context) error {
			return page.BringToFront().Do(c)
		}))
	}
	if err := chromedp.Run(runCtx, actions); err != nil {
		tcancel()
		return fmt.Errorf("opening tab %q: %w", url, err)
	}
	s.logger.Info("Opened tab.", zap.String("url", url), zap.Bool("active", active))
	return nil
}

// Close shuts down the tab, any tabs it opened, and the allocator.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	tabs := s.tabs
	s.mu.Unlock()

	s.logger.Debug("Closing browser session.")
	for _, cancel := range tabs {
		cancel()
	}
	s.cancel()
	s.allocCancel()
}

func (s *Session) forgetFrame(frameID string) {
	s.mu.Lock()
	delete(s.contexts, frameID)
	s.mu.Unlock()
}

// parseAuxData pulls the owning frame out of an execution context's aux
// data. Only the default (main) world of a frame hosts injections.
func parseAuxData(raw []byte) (frameID string, isDefault bool) {
	var aux struct {
		FrameID   string `json:"frameId"`
		IsDefault bool   `json:"isDefault"`
	}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return "", false
	}
	return aux.FrameID, aux.IsDefault
}

// combineContext derives a context canceled when either parent is, so CDP
// actions respect both the session lifetime and the caller's deadline.
func combineContext(session, caller context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(session)
	stop := context.AfterFunc(caller, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
