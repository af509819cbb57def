// File: internal/selector/selector.go
package selector

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/greasewire/greasewire/internal/match"
	"github.com/greasewire/greasewire/internal/script"
)

// ScriptLister is the slice of the script store the selector needs.
type ScriptLister interface {
	GetAllScripts() []*script.UserScript
}

// Selection is the outcome for one URL: matching scripts ordered by run-at
// phase, ties broken by store insertion order.
type Selection struct {
	Scripts []*script.UserScript
}

// Buckets groups the selection by run-at phase, preserving order inside each
// bucket. The coordinator injects buckets as strict sequential phases.
func (s Selection) Buckets() map[script.RunAt][]*script.UserScript {
	out := make(map[script.RunAt][]*script.UserScript)
	for _, us := range s.Scripts {
		r := script.ParseRunAt(string(us.Meta.RunAt))
		out[r] = append(out[r], us)
	}
	return out
}

// cachedSet is a compiled pattern set tied to the pattern fingerprint it was
// built from, so edits to a script's pattern lists invalidate it.
type cachedSet struct {
	fingerprint string
	set         *match.Set
}

// Selector combines the pattern matcher with the enabled-script list.
type Selector struct {
	store  ScriptLister
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]cachedSet // script id -> compiled patterns
}

// New builds a Selector over the given store.
func New(store ScriptLister, logger *zap.Logger) *Selector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Selector{
		store:  store,
		logger: logger.Named("selector"),
		cache:  make(map[string]cachedSet),
	}
}

// SelectForURL returns the enabled scripts matching the URL, ordered by
// run-at phase then store insertion order. topLevel distinguishes the main
// frame from subframes so @noframes scripts stay out of iframes.
func (s *Selector) SelectForURL(rawURL string, topLevel bool) Selection {
	u, err := url.Parse(rawURL)
	if err != nil {
		s.logger.Debug("Unparseable URL never matches.", zap.String("url", rawURL), zap.Error(err))
		return Selection{}
	}

	all := s.store.GetAllScripts()
	type ranked struct {
		us    *script.UserScript
		order int
		idx   int
	}
	var matched []ranked

	for idx, us := range all {
		if !us.Enabled {
			continue
		}
		if us.Meta.NoFrames && !topLevel {
			continue
		}
		set := s.compiled(us)
		if set.Empty() {
			continue
		}
		if set.MatchURL(u, rawURL) {
			matched = append(matched, ranked{us: us, order: us.Meta.RunAt.Order(), idx: idx})
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].order != matched[j].order {
			return matched[i].order < matched[j].order
		}
		return matched[i].idx < matched[j].idx
	})

	sel := Selection{Scripts: make([]*script.UserScript, len(matched))}
	for i, r := range matched {
		sel.Scripts[i] = r.us
	}
	return sel
}

// compiled returns the cached pattern set for a script, rebuilding it when
// the pattern lists changed since the last selection.
func (s *Selector) compiled(us *script.UserScript) *match.Set {
	fp := fingerprint(us)

	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.cache[us.ID]; ok && c.fingerprint == fp {
		return c.set
	}
	set := match.NewSet(us.Patterns(), us.Meta.Excludes, s.logger.With(zap.String("script_id", us.ID)))
	s.cache[us.ID] = cachedSet{fingerprint: fp, set: set}
	return set
}

// Invalidate drops the cached patterns for a script, e.g. after removal.
func (s *Selector) Invalidate(scriptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cache, scriptID)
}

func fingerprint(us *script.UserScript) string {
	var b strings.Builder
	for _, p := range us.Meta.Matches {
		b.WriteString("m:")
		b.WriteString(p)
		b.WriteByte('\n')
	}
	for _, p := range us.Meta.Includes {
		b.WriteString("i:")
		b.WriteString(p)
		b.WriteByte('\n')
	}
	for _, p := range us.Meta.Excludes {
		b.WriteString("x:")
		b.WriteString(p)
		b.WriteByte('\n')
	}
	return b.String()
}
