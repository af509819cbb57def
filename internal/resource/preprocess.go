// File: internal/resource/preprocess.go
package resource

import (
	"context"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/sync/errgroup"

	"github.com/greasewire/greasewire/internal/script"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Preprocessed is the outcome of composing a script with its dependencies.
type Preprocessed struct {
	// Code is the full injectable text: resource cache seeding, then each
	// @require body, then the user source.
	Code string

	RequiresLoaded  []string
	RequiresFailed  []string
	ResourcesLoaded []string
	ResourcesFailed []string
}

// Preload fetches all of a script's requires and resources concurrently so
// the first injection does not pay the latency serially.
func (l *Loader) Preload(ctx context.Context, us *script.UserScript) {
	requires, resources := Extract(us)
	g, ctx := errgroup.WithContext(ctx)
	for _, u := range requires {
		u := u
		g.Go(func() error { l.Load(ctx, u); return nil })
	}
	for _, r := range resources {
		r := r
		g.Go(func() error { l.Load(ctx, r.URL); return nil })
	}
	_ = g.Wait()
}

// Preprocess composes the injectable payload body for a script. Each loaded
// @resource lands in window._gmResourceCache under its declared name; each
// @require body is inlined ahead of the user code inside its own try/catch
// so one failing dependency does not abort the rest. Failed fetches degrade
// to empty entries and are reported, never thrown.
func (l *Loader) Preprocess(ctx context.Context, us *script.UserScript) *Preprocessed {
	requires, resources := Extract(us)
	out := &Preprocessed{}

	var b strings.Builder

	if len(resources) > 0 {
		b.WriteString(";(function () {\n")
		b.WriteString("  window._gmResourceCache = window._gmResourceCache || {};\n")
		for _, r := range resources {
			content := l.Load(ctx, r.URL)
			if entry, ok := l.Entry(r.URL); ok && entry.OK {
				out.ResourcesLoaded = append(out.ResourcesLoaded, r.Name)
			} else {
				out.ResourcesFailed = append(out.ResourcesFailed, r.Name)
			}
			b.WriteString("  window._gmResourceCache[")
			b.WriteString(jsString(us.ID + "/" + r.Name))
			b.WriteString("] = ")
			b.WriteString(jsString(content))
			b.WriteString(";\n")
		}
		b.WriteString("})();\n")
	}

	for _, u := range requires {
		body := l.Load(ctx, u)
		if entry, ok := l.Entry(u); ok && entry.OK {
			out.RequiresLoaded = append(out.RequiresLoaded, u)
		} else {
			out.RequiresFailed = append(out.RequiresFailed, u)
			continue
		}
		b.WriteString("try {\n")
		b.WriteString(body)
		b.WriteString("\n} catch (e) { console.error(")
		b.WriteString(jsString("greasewire: @require " + u + " threw:"))
		b.WriteString(", e); }\n")
	}

	b.WriteString(us.Source)
	out.Code = b.String()
	return out
}

// jsString renders a Go string as a JavaScript string literal. JSON string
// encoding is a strict subset of JS literal syntax, so marshaling is enough.
func jsString(s string) string {
	raw, err := json.Marshal(s)
	if err != nil {
		return `""`
	}
	return string(raw)
}
