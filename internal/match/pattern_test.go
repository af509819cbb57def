// File: internal/match/pattern_test.go
package match_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/greasewire/greasewire/internal/match"
)

func TestCompileMatchPatterns(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		pattern string
		hits    []string
		misses  []string
	}{
		{
			name:    "total wildcard is web-schemes only",
			pattern: "*://*/*",
			hits:    []string{"https://a.b/x", "http://a.b/x", "https://a.b/"},
			misses:  []string{"file:///x", "ftp://a.b/x"},
		},
		{
			name:    "subdomain wildcard includes bare domain",
			pattern: "https://*.example.com/*",
			hits:    []string{"https://example.com/", "https://sub.example.com/a/b", "https://a.b.example.com/"},
			misses:  []string{"https://notexample.com/", "https://example.com.evil.net/"},
		},
		{
			name:    "exact host and path",
			pattern: "http://example.com/news",
			hits:    []string{"http://example.com/news"},
			misses:  []string{"http://example.com/news/today", "http://example.com/", "https://example.com/news"},
		},
		{
			name:    "absent path means optional-slash root",
			pattern: "https://example.com",
			hits:    []string{"https://example.com", "https://example.com/"},
			misses:  []string{"https://example.com/x"},
		},
		{
			name:    "path wildcard spans query",
			pattern: "https://example.com/search*",
			hits:    []string{"https://example.com/search", "https://example.com/search?q=1"},
			misses:  []string{"https://example.com/about"},
		},
		{
			name:    "host matching ignores port",
			pattern: "http://localhost/*",
			hits:    []string{"http://localhost:8080/app"},
			misses:  []string{"http://localhost.evil/app"},
		},
		{
			name:    "explicit scheme is exact",
			pattern: "http://example.com/*",
			hits:    []string{"http://example.com/x"},
			misses:  []string{"https://example.com/x"},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cp, err := match.Compile(tc.pattern)
			require.NoError(t, err)
			for _, u := range tc.hits {
				assert.True(t, cp.Matches(u), "%q should match %q", tc.pattern, u)
			}
			for _, u := range tc.misses {
				assert.False(t, cp.Matches(u), "%q should not match %q", tc.pattern, u)
			}
		})
	}
}

func TestCompileHostWildcardShorthand(t *testing.T) {
	t.Parallel()

	cp, err := match.Compile("*.example.com")
	require.NoError(t, err)

	assert.True(t, cp.Matches("https://sub.example.com/page"))
	assert.True(t, cp.Matches("https://example.com/"))
	assert.False(t, cp.Matches("https://notexample.com/"))
}

func TestCompileGlob(t *testing.T) {
	t.Parallel()

	t.Run("star wildcard anchored full-string", func(t *testing.T) {
		t.Parallel()
		cp, err := match.Compile("https://example.com/*/detail")
		require.NoError(t, err)
		assert.True(t, cp.Matches("https://example.com/item/detail"))
		assert.True(t, cp.Matches("https://example.com/a/b/detail"))
		assert.False(t, cp.Matches("https://example.com/item/detail/extra"))
	})

	t.Run("question mark single char", func(t *testing.T) {
		t.Parallel()
		cp, err := match.Compile("http://example.com/page?")
		require.NoError(t, err)
		assert.True(t, cp.Matches("http://example.com/page1"))
		assert.False(t, cp.Matches("http://example.com/page12"))
	})

	t.Run("scheme wildcard routes to glob", func(t *testing.T) {
		t.Parallel()
		cp, err := match.Compile("http*://example.com/*")
		require.NoError(t, err)
		assert.True(t, cp.Matches("http://example.com/"))
		assert.True(t, cp.Matches("https://example.com/a/b"))
		assert.False(t, cp.Matches("https://other.com/a"))
	})
}

func TestCompileRegexLiteral(t *testing.T) {
	t.Parallel()

	t.Run("ECMAScript semantics", func(t *testing.T) {
		t.Parallel()
		cp, err := match.Compile(`/^https://news\.ycombinator\.com//`)
		require.NoError(t, err)
		assert.True(t, cp.Matches("https://news.ycombinator.com/item?id=1"))
		assert.False(t, cp.Matches("https://example.com/"))
	})

	t.Run("lookahead works", func(t *testing.T) {
		t.Parallel()
		// Go's regexp rejects lookaheads; the regex dialect must not.
		cp, err := match.Compile(`/^https://(?!www\.)example\.com//`)
		require.NoError(t, err)
		assert.True(t, cp.Matches("https://example.com/x"))
		assert.False(t, cp.Matches("https://www.example.com/x"))
	})

	t.Run("invalid regex fails compilation", func(t *testing.T) {
		t.Parallel()
		_, err := match.Compile(`/([unclosed/`)
		assert.Error(t, err)
	})
}

func TestCompileRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, p := range []string{"", "://nohost/*", "https://ex*ample.com/*", "*."} {
		_, err := match.Compile(p)
		assert.Error(t, err, "pattern %q must fail compilation", p)
	}
}

func TestSetSemantics(t *testing.T) {
	t.Parallel()

	logger := zap.NewNop()

	t.Run("include and exclude conjunction", func(t *testing.T) {
		t.Parallel()
		s := match.NewSet(
			[]string{"https://*.example.com/*"},
			[]string{"*://*.example.com/admin/*"},
			logger,
		)
		assert.True(t, s.Matches("https://sub.example.com/public"))
		assert.False(t, s.Matches("https://sub.example.com/admin/panel"))
		assert.False(t, s.Matches("https://other.org/"))
	})

	t.Run("invalid patterns fail closed", func(t *testing.T) {
		t.Parallel()
		s := match.NewSet([]string{"https://ex*ample.com/*"}, nil, logger)
		assert.True(t, s.Empty())
		assert.False(t, s.Matches("https://example.com/"))
	})

	t.Run("invalid exclude never excludes", func(t *testing.T) {
		t.Parallel()
		s := match.NewSet([]string{"https://example.com/*"}, []string{"https://ex*clude.com/*"}, logger)
		assert.True(t, s.Matches("https://example.com/x"))
	})

	t.Run("unparseable url never matches", func(t *testing.T) {
		t.Parallel()
		s := match.NewSet([]string{"*://*/*"}, nil, logger)
		assert.False(t, s.Matches("http://exa mple.com/%zz"))
	})
}

func FuzzCompile(f *testing.F) {
	f.Add("*://*/*", "https://a.b/x")
	f.Add("*.example.com", "https://sub.example.com/")
	f.Add("/^https?:/", "http://x/")
	f.Fuzz(func(t *testing.T, pattern, rawURL string) {
		cp, err := match.Compile(pattern)
		if err != nil {
			return
		}
		// Matching must never panic, whatever the inputs.
		_ = cp.Matches(rawURL)
	})
}
