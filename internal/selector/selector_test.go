// File: internal/selector/selector_test.go
package selector_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/greasewire/greasewire/internal/script"
	"github.com/greasewire/greasewire/internal/selector"
)

// listStore is a trivial in-memory ScriptLister.
type listStore struct {
	scripts []*script.UserScript
}

func (l *listStore) GetAllScripts() []*script.UserScript { return l.scripts }

func mkScript(id string, runAt script.RunAt, matches, excludes []string, enabled bool) *script.UserScript {
	return &script.UserScript{
		ID:      id,
		Enabled: enabled,
		Meta: script.Metadata{
			Name:     id,
			Matches:  matches,
			Excludes: excludes,
			RunAt:    runAt,
		},
	}
}

func ids(sel selector.Selection) []string {
	out := make([]string, len(sel.Scripts))
	for i, s := range sel.Scripts {
		out[i] = s.ID
	}
	return out
}

func TestSelectForURL(t *testing.T) {
	t.Parallel()

	store := &listStore{scripts: []*script.UserScript{
		mkScript("idle-1", script.RunAtDocumentIdle, []string{"https://*.example.com/*"}, nil, true),
		mkScript("start-1", script.RunAtDocumentStart, []string{"*://*/*"}, nil, true),
		mkScript("end-1", script.RunAtDocumentEnd, []string{"https://example.com/*"}, nil, true),
		mkScript("disabled", script.RunAtDocumentStart, []string{"*://*/*"}, nil, false),
		mkScript("excluded", script.RunAtDocumentIdle, []string{"https://example.com/*"}, []string{"*://*/private*"}, true),
		mkScript("body-1", script.RunAtDocumentBody, []string{"https://example.com/*"}, nil, true),
		mkScript("other-site", script.RunAtDocumentIdle, []string{"https://other.org/*"}, nil, true),
	}}
	sel := selector.New(store, zap.NewNop())

	t.Run("run-at ordering with insertion-order ties", func(t *testing.T) {
		got := ids(sel.SelectForURL("https://example.com/private/x", true))
		want := []string{"start-1", "body-1", "end-1", "idle-1"}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("selection order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("exclude removes, disabled never matches", func(t *testing.T) {
		got := ids(sel.SelectForURL("https://example.com/public", true))
		assert.Contains(t, got, "excluded")
		assert.NotContains(t, got, "disabled")

		got = ids(sel.SelectForURL("https://example.com/private/area", true))
		assert.NotContains(t, got, "excluded")
	})

	t.Run("unrelated site filtered", func(t *testing.T) {
		got := ids(sel.SelectForURL("https://other.org/", true))
		assert.NotContains(t, got, "end-1")
		assert.Contains(t, got, "other-site")
	})

	t.Run("unparseable url selects nothing", func(t *testing.T) {
		assert.Empty(t, sel.SelectForURL("http://bad url/%zz", true).Scripts)
	})
}

func TestSelectHonorsNoFrames(t *testing.T) {
	t.Parallel()

	noframes := mkScript("nf", script.RunAtDocumentIdle, []string{"*://*/*"}, nil, true)
	noframes.Meta.NoFrames = true
	framed := mkScript("fr", script.RunAtDocumentIdle, []string{"*://*/*"}, nil, true)

	sel := selector.New(&listStore{scripts: []*script.UserScript{noframes, framed}}, zap.NewNop())

	top := ids(sel.SelectForURL("https://example.com/", true))
	assert.Equal(t, []string{"nf", "fr"}, top)

	sub := ids(sel.SelectForURL("https://example.com/", false))
	assert.Equal(t, []string{"fr"}, sub)
}

func TestSelectInsertionOrderTieBreak(t *testing.T) {
	t.Parallel()

	store := &listStore{scripts: []*script.UserScript{
		mkScript("b", script.RunAtDocumentIdle, []string{"*://*/*"}, nil, true),
		mkScript("a", script.RunAtDocumentIdle, []string{"*://*/*"}, nil, true),
	}}
	sel := selector.New(store, zap.NewNop())

	// Insertion order, not lexical order.
	assert.Equal(t, []string{"b", "a"}, ids(sel.SelectForURL("https://x.y/", true)))
}

func TestCompiledPatternCacheInvalidation(t *testing.T) {
	t.Parallel()

	us := mkScript("mutable", script.RunAtDocumentIdle, []string{"https://old.example.com/*"}, nil, true)
	store := &listStore{scripts: []*script.UserScript{us}}
	sel := selector.New(store, zap.NewNop())

	require.NotEmpty(t, sel.SelectForURL("https://old.example.com/", true).Scripts)
	require.Empty(t, sel.SelectForURL("https://new.example.com/", true).Scripts)

	// Edit the pattern list; the cached set must be rebuilt.
	us.Meta.Matches = []string{"https://new.example.com/*"}
	assert.NotEmpty(t, sel.SelectForURL("https://new.example.com/", true).Scripts)
	assert.Empty(t, sel.SelectForURL("https://old.example.com/", true).Scripts)
}

func TestBuckets(t *testing.T) {
	t.Parallel()

	store := &listStore{scripts: []*script.UserScript{
		mkScript("s1", script.RunAtDocumentStart, []string{"*://*/*"}, nil, true),
		mkScript("i1", script.RunAtDocumentIdle, []string{"*://*/*"}, nil, true),
		mkScript("s2", script.RunAtDocumentStart, []string{"*://*/*"}, nil, true),
	}}
	sel := selector.New(store, zap.NewNop())

	buckets := sel.SelectForURL("https://example.com/", true).Buckets()
	require.Len(t, buckets[script.RunAtDocumentStart], 2)
	require.Len(t, buckets[script.RunAtDocumentIdle], 1)
	assert.Equal(t, "s1", buckets[script.RunAtDocumentStart][0].ID)
	assert.Equal(t, "s2", buckets[script.RunAtDocumentStart][1].ID)
}
