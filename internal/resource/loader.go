// File: internal/resource/loader.go
package resource

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/greasewire/greasewire/internal/config"
	"github.com/greasewire/greasewire/internal/script"
)

// Kind classifies a cached resource by its URL suffix.
type Kind string

const (
	KindScript Kind = "script"
	KindStyle  Kind = "style"
	KindOther  Kind = "other"
)

// KindOf infers the resource kind from the URL path extension.
func KindOf(url string) Kind {
	path := url
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	switch {
	case strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".mjs"):
		return KindScript
	case strings.HasSuffix(path, ".css"):
		return KindStyle
	default:
		return KindOther
	}
}

// CacheEntry records one fetch attempt. Failures are cached too, so a dead
// URL does not trigger a fetch storm; they stay until an explicit Clear.
type CacheEntry struct {
	URL       string
	Content   string
	FetchedAt time.Time
	OK        bool
	Kind      Kind
}

// Loader fetches and caches @require/@resource content.
type Loader struct {
	client  *resty.Client
	limiter *rate.Limiter
	group   singleflight.Group
	logger  *zap.Logger
	maxBody int64

	mu    sync.RWMutex
	cache map[string]*CacheEntry
}

// NewLoader builds a Loader from configuration.
func NewLoader(cfg config.ResourceConfig, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(cfg.FetchTimeout).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetHeader("Accept-Encoding", "br;q=1.0, gzip;q=0.8, identity;q=0.5")

	return &Loader{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(cfg.RateBurst, 1)),
		logger:  logger.Named("resource"),
		maxBody: cfg.MaxBodyBytes,
		cache:   make(map[string]*CacheEntry),
	}
}

// Load returns the content for a URL, fetching and caching on first use.
// Failures are logged, memoized, and surface as empty content: a missing
// dependency degrades the script instead of blocking the frame.
func (l *Loader) Load(ctx context.Context, url string) string {
	l.mu.RLock()
	entry, ok := l.cache[url]
	l.mu.RUnlock()
	if ok {
		return entry.Content
	}

	// singleflight collapses concurrent loads of the same URL into one
	// fetch; every waiter shares the cached outcome.
	v, _, _ := l.group.Do(url, func() (any, error) {
		return l.fetchAndCache(ctx, url), nil
	})
	return v.(*CacheEntry).Content
}

// Entry exposes the cache record for a URL, if any.
func (l *Loader) Entry(url string) (*CacheEntry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.cache[url]
	return e, ok
}

// Clear drops the whole cache, including memoized failures.
func (l *Loader) Clear() {
	l.mu.Lock()
	l.cache = make(map[string]*CacheEntry)
	l.mu.Unlock()
}

func (l *Loader) fetchAndCache(ctx context.Context, url string) *CacheEntry {
	// A cached entry may have appeared while we queued on singleflight.
	l.mu.RLock()
	if e, ok := l.cache[url]; ok {
		l.mu.RUnlock()
		return e
	}
	l.mu.RUnlock()

	entry := &CacheEntry{URL: url, FetchedAt: time.Now(), Kind: KindOf(url)}

	content, err := l.fetch(ctx, url)
	if err != nil {
		l.logger.Warn("Resource fetch failed; caching the failure.",
			zap.String("url", url), zap.Error(err))
	} else {
		entry.Content = content
		entry.OK = true
	}

	l.mu.Lock()
	l.cache[url] = entry
	l.mu.Unlock()
	return entry
}

func (l *Loader) fetch(ctx context.Context, url string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return "", err
	}

	resp, err := l.client.R().SetContext(ctx).SetDoNotParseResponse(true).Get(url)
	if err != nil {
		return "", err
	}
	raw := resp.RawBody()
	defer raw.Close()

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode())
	}

	var reader io.Reader = raw
	switch strings.ToLower(resp.Header().Get("Content-Encoding")) {
	case "br":
		reader = brotli.NewReader(raw)
	case "gzip":
		gz, err := gzip.NewReader(raw)
		if err != nil {
			return "", fmt.Errorf("bad gzip body: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(reader, l.maxBody)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Extract unions the dependency declarations parsed from the header block
// with the structured metadata already on the script, de-duplicated by URL
// for requires and by name for resources. Editing flows can leave the two
// views briefly divergent; injection must honor both.
func Extract(us *script.UserScript) (requires []string, resources []script.Resource) {
	headerMeta := script.ParseHeader(us.Source)

	seenURL := make(map[string]struct{})
	for _, u := range append(append([]string{}, us.Meta.Requires...), headerMeta.Requires...) {
		if _, dup := seenURL[u]; dup || u == "" {
			continue
		}
		seenURL[u] = struct{}{}
		requires = append(requires, u)
	}

	seenName := make(map[string]struct{})
	for _, r := range append(append([]script.Resource{}, us.Meta.Resources...), headerMeta.Resources...) {
		if _, dup := seenName[r.Name]; dup || r.Name == "" {
			continue
		}
		seenName[r.Name] = struct{}{}
		resources = append(resources, r)
	}
	return requires, resources
}
