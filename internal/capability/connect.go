// File: internal/capability/connect.go
package capability

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/greasewire/greasewire/internal/script"
)

// ConnectPolicy decides whether a GM_xmlhttpRequest target is covered by
// the script's @connect declarations. The default posture is advisory:
// violations are logged but allowed, matching how mainstream userscript
// managers treat @connect for pre-granted scripts. Enforcing mode hard
// blocks instead.
type ConnectPolicy struct {
	enforce bool
	logger  *zap.Logger
}

// NewConnectPolicy builds a policy; enforce selects warn-vs-block.
func NewConnectPolicy(enforce bool, logger *zap.Logger) *ConnectPolicy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConnectPolicy{enforce: enforce, logger: logger.Named("connect")}
}

// Check returns nil when the request may proceed. A declared violation
// returns an error only in enforcing mode; otherwise it logs a warning.
// pageHost is the host of the document the script runs in; @connect "self"
// covers it.
func (p *ConnectPolicy) Check(us *script.UserScript, targetURL, pageHost string) error {
	u, err := url.Parse(targetURL)
	if err != nil || u.Hostname() == "" {
		return fmt.Errorf("unparseable request target %q", targetURL)
	}
	host := strings.ToLower(u.Hostname())

	if p.covered(us.Meta.Connects, host, strings.ToLower(pageHost)) {
		return nil
	}

	p.logger.Warn("Request target is not declared in the script's @connect list.",
		zap.String("script", us.DisplayName()),
		zap.String("host", host),
		zap.Strings("connect", us.Meta.Connects))

	if p.enforce {
		return fmt.Errorf("host %q not covered by @connect", host)
	}
	return nil
}

func (p *ConnectPolicy) covered(connects []string, host, pageHost string) bool {
	for _, entry := range connects {
		entry = strings.ToLower(strings.TrimSpace(entry))
		switch {
		case entry == "":
			continue
		case entry == "*":
			return true
		case entry == "self":
			if host == pageHost {
				return true
			}
		case entry == "localhost":
			if host == "localhost" || host == "127.0.0.1" {
				return true
			}
		case strings.HasPrefix(entry, "."):
			// ".example.com" declares a suffix; it covers the bare domain
			// and every host under it.
			base := entry[1:]
			if base != "" && (host == base || strings.HasSuffix(host, "."+base)) {
				return true
			}
		case entry == host:
			return true
		case strings.HasSuffix(host, "."+entry):
			return true
		default:
			// A bare registrable domain covers every host under it. The
			// eTLD+1 comparison keeps "example.co.uk" from matching
			// "notexample.co.uk".
			if base, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil && base == entry {
				return true
			}
		}
	}
	return false
}
