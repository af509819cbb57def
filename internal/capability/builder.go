// File: internal/capability/builder.go

// Package capability renders the per-script GM_*/GM API surface injected
// ahead of user code, and enforces the host-side @connect policy.
package capability

import (
	_ "embed"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/greasewire/greasewire/internal/script"
	"github.com/greasewire/greasewire/internal/wire"
)

//go:embed gm_api.js
var apiTemplate string

const (
	// BootstrapPlaceholder is replaced with the per-script bootstrap JSON.
	BootstrapPlaceholder = "/*{{GREASEWIRE_BOOTSTRAP}}*/"
	// UserCodePlaceholder is replaced with the preprocessed user code so it
	// executes inside the shim closure and sees the scoped API bindings.
	UserCodePlaceholder = "/*{{GREASEWIRE_USER_CODE}}*/"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ScriptInfo is the GM_info payload.
type ScriptInfo struct {
	Handler string         `json:"scriptHandler"`
	Version string         `json:"version"`
	Script  ScriptInfoMeta `json:"script"`
}

// ScriptInfoMeta is the nested `script` object of GM_info.
type ScriptInfoMeta struct {
	ID          string            `json:"uuid"`
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace"`
	Version     string            `json:"version"`
	Description string            `json:"description"`
	RunAt       string            `json:"runAt"`
	Matches     []string          `json:"matches"`
	Includes    []string          `json:"includes"`
	Excludes    []string          `json:"excludes"`
	Grants      []string          `json:"grant"`
	Resources   map[string]string `json:"resources"`
}

// Bootstrap is the configuration object the shim reads as `GW`.
type Bootstrap struct {
	ScriptID    string            `json:"scriptId"`
	PageURL     string            `json:"pageUrl"`
	Grants      []string          `json:"grants"`
	Resources   map[string]string `json:"resources"`
	Connects    []string          `json:"connects"`
	Values      map[string]any    `json:"values"`
	HostBinding string            `json:"hostBinding"`
	DeliverFunc string            `json:"deliverFunc"`
	Info        ScriptInfo        `json:"info"`
}

// Builder renders injectable payloads.
type Builder struct {
	handlerVersion string
}

// NewBuilder returns a Builder stamping the given version into GM_info.
func NewBuilder(version string) *Builder {
	if version == "" {
		version = "dev"
	}
	return &Builder{handlerVersion: version}
}

// Build composes the full injectable payload for one script: the embedded
// API template with the bootstrap JSON and the preprocessed user code
// substituted in. seed carries the script's current stored values so
// synchronous GM_getValue answers without a round trip.
func (b *Builder) Build(us *script.UserScript, pageURL string, seed map[string]any, userCode string) (string, error) {
	if !strings.Contains(apiTemplate, BootstrapPlaceholder) ||
		!strings.Contains(apiTemplate, UserCodePlaceholder) {
		return "", fmt.Errorf("api template is missing a required placeholder")
	}

	boot := b.bootstrap(us, pageURL, seed)
	raw, err := json.MarshalToString(boot)
	if err != nil {
		return "", fmt.Errorf("marshaling bootstrap for %s: %w", us.ID, err)
	}

	// "</script>" inside a JSON string would end an inline script element
	// if the payload ever lands in markup. Harmless to escape always.
	raw = strings.ReplaceAll(raw, "</", `<\/`)

	payload := strings.Replace(apiTemplate, BootstrapPlaceholder, raw, 1)
	payload = strings.Replace(payload, UserCodePlaceholder, userCode, 1)
	return payload, nil
}

func (b *Builder) bootstrap(us *script.UserScript, pageURL string, seed map[string]any) Bootstrap {
	resources := make(map[string]string, len(us.Meta.Resources))
	for _, r := range us.Meta.Resources {
		resources[r.Name] = r.URL
	}
	if seed == nil {
		seed = map[string]any{}
	}
	grants := us.EffectiveGrants()
	if grants == nil {
		grants = []string{}
	}

	return Bootstrap{
		ScriptID:    us.ID,
		PageURL:     pageURL,
		Grants:      grants,
		Resources:   resources,
		Connects:    us.Meta.Connects,
		Values:      seed,
		HostBinding: wire.HostBinding,
		DeliverFunc: wire.DeliverFunc,
		Info: ScriptInfo{
			Handler: "greasewire",
			Version: b.handlerVersion,
			Script: ScriptInfoMeta{
				ID:          us.ID,
				Name:        us.Meta.Name,
				Namespace:   us.Meta.Namespace,
				Version:     us.Meta.Version,
				Description: us.Meta.Description,
				RunAt:       string(us.Meta.RunAt),
				Matches:     us.Meta.Matches,
				Includes:    us.Meta.Includes,
				Excludes:    us.Meta.Excludes,
				Grants:      grants,
				Resources:   resources,
			},
		},
	}
}
