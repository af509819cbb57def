// File: internal/match/set.go
package match

import (
	"net/url"

	"go.uber.org/zap"
)

// Set aggregates a script's include and exclude patterns into one predicate.
// Patterns that fail to compile are logged and skipped: a broken include
// never matches, a broken exclude never excludes (fail-closed selection).
type Set struct {
	includes []*CompiledPattern
	excludes []*CompiledPattern
}

// NewSet compiles the given pattern lists. It never fails; compile errors
// degrade the set instead of blocking selection for the whole script list.
func NewSet(includes, excludes []string, logger *zap.Logger) *Set {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Set{}
	for _, p := range includes {
		cp, err := Compile(p)
		if err != nil {
			logger.Warn("Skipping invalid include pattern.", zap.String("pattern", p), zap.Error(err))
			continue
		}
		s.includes = append(s.includes, cp)
	}
	for _, p := range excludes {
		cp, err := Compile(p)
		if err != nil {
			logger.Warn("Skipping invalid exclude pattern.", zap.String("pattern", p), zap.Error(err))
			continue
		}
		s.excludes = append(s.excludes, cp)
	}
	return s
}

// Empty reports whether no include pattern survived compilation.
func (s *Set) Empty() bool { return len(s.includes) == 0 }

// Matches reports whether the URL hits at least one include and no exclude.
func (s *Set) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return s.MatchURL(u, rawURL)
}

// MatchURL is Matches over a pre-parsed URL.
func (s *Set) MatchURL(u *url.URL, rawURL string) bool {
	included := false
	for _, p := range s.includes {
		if p.MatchURL(u, rawURL) {
			included = true
			break
		}
	}
	if !included {
		return false
	}
	for _, p := range s.excludes {
		if p.MatchURL(u, rawURL) {
			return false
		}
	}
	return true
}
