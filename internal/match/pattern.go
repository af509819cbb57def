// File: internal/match/pattern.go
package match

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// CompiledPattern is the cached, immutable artifact of one declarative
// pattern string: a predicate over a URL. Build one with Compile.
type CompiledPattern struct {
	raw  string
	test func(u *url.URL, raw string) bool
}

// Raw returns the original pattern string.
func (p *CompiledPattern) Raw() string { return p.raw }

// Matches parses the URL and evaluates the predicate. Unparseable URLs never
// match.
func (p *CompiledPattern) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return p.MatchURL(u, rawURL)
}

// MatchURL evaluates the predicate against an already parsed URL. The raw
// string is passed alongside so glob and regex dialects see the exact text
// the page navigated to.
func (p *CompiledPattern) MatchURL(u *url.URL, rawURL string) bool {
	return p.test(u, rawURL)
}

// Compile translates one declarative pattern into a predicate. Three
// dialects are recognized, in this order:
//
//   - /regex/ literals, evaluated with ECMAScript RegExp semantics;
//   - scheme://host/path match patterns with * wildcards and the *.host
//     subdomain form;
//   - bare *.host subdomain shorthands;
//   - full-string globs (* and ?) over the whole URL otherwise.
func Compile(pattern string) (*CompiledPattern, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("empty pattern")
	}

	switch {
	case len(pattern) > 1 && strings.HasPrefix(pattern, "/") && strings.HasSuffix(pattern, "/"):
		return compileRegexLiteral(pattern)
	// A ? anywhere forces the glob dialect: match patterns have no
	// single-character wildcard, so ? in a URL-shaped pattern is glob
	// syntax rather than a pinned query string.
	case strings.Contains(pattern, "://") && !strings.Contains(pattern, "?"):
		// A wildcard inside the scheme ("http*://...") is glob syntax too;
		// the match dialect only allows "*" as the whole scheme.
		scheme := pattern[:strings.Index(pattern, "://")]
		if strings.Contains(scheme, "*") && scheme != "*" {
			return compileGlob(pattern)
		}
		return compileMatchPattern(pattern)
	case strings.HasPrefix(pattern, "*.") && !strings.ContainsAny(pattern[2:], "/*?"):
		return compileHostWildcard(pattern)
	default:
		return compileGlob(pattern)
	}
}

// --- regex literal dialect ---

// regexLiteral wraps a RegExp compiled inside a goja runtime. The runtime is
// not goroutine safe, hence the mutex around every test call.
type regexLiteral struct {
	mu   sync.Mutex
	vm   *goja.Runtime
	test goja.Callable
	re   goja.Value
}

func compileRegexLiteral(pattern string) (*CompiledPattern, error) {
	body := pattern[1 : len(pattern)-1]

	vm := goja.New()
	// strconv.Quote emits escapes that are equally valid in a JS string
	// literal, so the body travels into the VM untouched.
	re, err := vm.RunString("new RegExp(" + strconv.Quote(body) + ")")
	if err != nil {
		return nil, fmt.Errorf("invalid regex literal %q: %w", pattern, err)
	}
	testFn, ok := goja.AssertFunction(re.ToObject(vm).Get("test"))
	if !ok {
		return nil, fmt.Errorf("regex literal %q did not produce a RegExp", pattern)
	}

	lit := &regexLiteral{vm: vm, test: testFn, re: re}
	return &CompiledPattern{
		raw: pattern,
		test: func(_ *url.URL, raw string) bool {
			lit.mu.Lock()
			defer lit.mu.Unlock()
			res, err := lit.test(lit.re, lit.vm.ToValue(raw))
			if err != nil {
				return false
			}
			return res.ToBoolean()
		},
	}, nil
}

// --- match pattern dialect ---

func compileMatchPattern(pattern string) (*CompiledPattern, error) {
	rest, ok := strings.CutPrefix(pattern, "*://")
	scheme := "*"
	if !ok {
		idx := strings.Index(pattern, "://")
		scheme = strings.ToLower(pattern[:idx])
		rest = pattern[idx+3:]
	}
	if scheme == "" {
		return nil, fmt.Errorf("match pattern %q has empty scheme", pattern)
	}

	hostPart := rest
	pathPart := ""
	if idx := strings.Index(rest, "/"); idx >= 0 {
		hostPart = rest[:idx]
		pathPart = rest[idx:]
	}
	if hostPart == "" && scheme != "file" {
		return nil, fmt.Errorf("match pattern %q has empty host", pattern)
	}

	hostMatch, err := compileHostComponent(hostPart)
	if err != nil {
		return nil, fmt.Errorf("match pattern %q: %w", pattern, err)
	}
	pathMatch, err := compilePathComponent(pathPart)
	if err != nil {
		return nil, fmt.Errorf("match pattern %q: %w", pattern, err)
	}

	return &CompiledPattern{
		raw: pattern,
		test: func(u *url.URL, _ string) bool {
			if !schemeMatches(scheme, u.Scheme) {
				return false
			}
			if scheme != "file" && !hostMatch(strings.ToLower(u.Hostname())) {
				return false
			}
			target := u.EscapedPath()
			if u.RawQuery != "" {
				target += "?" + u.RawQuery
			}
			return pathMatch(target)
		},
	}, nil
}

// schemeMatches applies the wildcard scheme convention: "*" stands for the
// web schemes only, so the total wildcard *://*/* never claims file: or ftp:
// URLs.
func schemeMatches(pattern, scheme string) bool {
	scheme = strings.ToLower(scheme)
	if pattern == "*" {
		return scheme == "http" || scheme == "https"
	}
	return pattern == scheme
}

func compileHostComponent(host string) (func(string) bool, error) {
	host = strings.ToLower(host)
	switch {
	case host == "*":
		return func(string) bool { return true }, nil
	case strings.HasPrefix(host, "*."):
		base := host[2:]
		if base == "" || strings.Contains(base, "*") {
			return nil, fmt.Errorf("invalid host wildcard %q", host)
		}
		return func(h string) bool {
			return h == base || strings.HasSuffix(h, "."+base)
		}, nil
	case strings.Contains(host, "*"):
		return nil, fmt.Errorf("host wildcard %q: * is only valid as a *. prefix or alone", host)
	default:
		return func(h string) bool { return h == host }, nil
	}
}

// compilePathComponent turns the path part into an anchored matcher. An
// absent path denotes exact-root match with an optional trailing slash.
func compilePathComponent(path string) (func(string) bool, error) {
	if path == "" {
		return func(p string) bool { return p == "" || p == "/" }, nil
	}
	re, err := globToRegexp(path, false)
	if err != nil {
		return nil, err
	}
	return re.MatchString, nil
}

// --- bare host wildcard dialect ---

func compileHostWildcard(pattern string) (*CompiledPattern, error) {
	base := strings.ToLower(pattern[2:])
	if base == "" {
		return nil, fmt.Errorf("invalid host wildcard %q", pattern)
	}
	return &CompiledPattern{
		raw: pattern,
		test: func(u *url.URL, _ string) bool {
			h := strings.ToLower(u.Hostname())
			return h == base || strings.HasSuffix(h, "."+base)
		},
	}, nil
}

// --- glob dialect ---

func compileGlob(pattern string) (*CompiledPattern, error) {
	re, err := globToRegexp(pattern, true)
	if err != nil {
		return nil, err
	}
	return &CompiledPattern{
		raw:  pattern,
		test: func(_ *url.URL, raw string) bool { return re.MatchString(raw) },
	}, nil
}

// globToRegexp translates a glob into an anchored regexp. questionMark
// enables the single-character ? wildcard used by the include/exclude glob
// dialect; match-pattern paths treat ? literally (it separates the query).
func globToRegexp(glob string, questionMark bool) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range glob {
		switch {
		case r == '*':
			b.WriteString(".*")
		case r == '?' && questionMark:
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
