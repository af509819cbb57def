// File: internal/script/script.go
package script

import (
	"strings"
)

// RunAt is the declared document-lifecycle stage at which a script executes.
type RunAt string

const (
	RunAtDocumentStart RunAt = "document-start"
	RunAtDocumentBody  RunAt = "document-body"
	RunAtDocumentEnd   RunAt = "document-end"
	RunAtDocumentIdle  RunAt = "document-idle"
)

// Order returns the injection phase index for bucket sequencing. Lower runs
// earlier. Unknown values sort with document-idle.
func (r RunAt) Order() int {
	switch r {
	case RunAtDocumentStart:
		return 0
	case RunAtDocumentBody:
		return 1
	case RunAtDocumentEnd:
		return 2
	case RunAtDocumentIdle:
		return 3
	default:
		return 3
	}
}

// ParseRunAt normalizes a @run-at value. Unrecognized values fall back to
// document-idle, the userscript manager default.
func ParseRunAt(s string) RunAt {
	switch RunAt(strings.TrimSpace(s)) {
	case RunAtDocumentStart:
		return RunAtDocumentStart
	case RunAtDocumentBody:
		return RunAtDocumentBody
	case RunAtDocumentEnd:
		return RunAtDocumentEnd
	case RunAtDocumentIdle:
		return RunAtDocumentIdle
	default:
		return RunAtDocumentIdle
	}
}

// Resource is a named @resource declaration.
type Resource struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Metadata is everything derived from the ==UserScript== header block.
type Metadata struct {
	Name        string     `json:"name"`
	Namespace   string     `json:"namespace"`
	Version     string     `json:"version"`
	Description string     `json:"description"`
	Author      string     `json:"author"`
	Matches     []string   `json:"matches"`
	Includes    []string   `json:"includes"`
	Excludes    []string   `json:"excludes"`
	Requires    []string   `json:"requires"`
	Resources   []Resource `json:"resources"`
	Connects    []string   `json:"connects"`
	Grants      []string   `json:"grants"`
	RunAt       RunAt      `json:"runAt"`
	NoFrames    bool       `json:"noFrames"`
	Icon        string     `json:"icon"`
	DownloadURL string     `json:"downloadURL"`
	UpdateURL   string     `json:"updateURL"`
}

// UserScript is the unit the selector and coordinator operate on. The id is
// stable and immutable; metadata is re-derived whenever the source changes.
type UserScript struct {
	ID      string   `json:"id"`
	Enabled bool     `json:"enabled"`
	Source  string   `json:"source"`
	Meta    Metadata `json:"meta"`
}

// Patterns returns the union of @match and @include patterns. A script with
// neither never matches anything.
func (s *UserScript) Patterns() []string {
	out := make([]string, 0, len(s.Meta.Matches)+len(s.Meta.Includes))
	out = append(out, s.Meta.Matches...)
	out = append(out, s.Meta.Includes...)
	return out
}

// DisplayName prefers @name, falling back to the id.
func (s *UserScript) DisplayName() string {
	if s.Meta.Name != "" {
		return s.Meta.Name
	}
	return s.ID
}

// EffectiveGrants returns the declared grant set, or the inferred one when
// the header carries no @grant lines. `@grant none` yields an empty set.
func (s *UserScript) EffectiveGrants() []string {
	if len(s.Meta.Grants) == 1 && strings.EqualFold(s.Meta.Grants[0], "none") {
		return nil
	}
	if len(s.Meta.Grants) > 0 {
		return s.Meta.Grants
	}
	return InferGrants(s.Source)
}
