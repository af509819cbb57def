// File: internal/capability/xhr.go
package capability

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/greasewire/greasewire/internal/config"
	"github.com/greasewire/greasewire/internal/script"
	"github.com/greasewire/greasewire/internal/wire"
)

// XHRRelay performs GM_xmlhttpRequest fetches on behalf of page code. The
// host realm is not bound by the page origin, which is exactly what the
// cross-origin GM_xmlhttpRequest contract requires.
type XHRRelay struct {
	client         *resty.Client
	anon           *resty.Client
	policy         *ConnectPolicy
	logger         *zap.Logger
	defaultTimeout time.Duration

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// NewXHRRelay builds a relay honoring the given connect policy.
func NewXHRRelay(cfg config.CapabilityConfig, policy *ConnectPolicy, logger *zap.Logger) *XHRRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &XHRRelay{
		client: resty.New().SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)),
		// The anonymous client carries no cookie jar, so requests with
		// anonymous set send no stored cookies.
		anon:           resty.New().SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).SetCookieJar(nil),
		policy:         policy,
		logger:         logger.Named("xhr"),
		defaultTimeout: cfg.RequestTimeout,
		inflight:       make(map[string]context.CancelFunc),
	}
}

// Do executes one relayed request and returns the reply envelope to deliver
// back to the frame: xhr-response on success, xhr-error otherwise. Abort
// cancels by request id.
func (r *XHRRelay) Do(ctx context.Context, us *script.UserScript, pageURL string, env *wire.Envelope) *wire.Envelope {
	req := env.XHR
	if req == nil || req.URL == "" {
		return errorEnvelope(env, "malformed xhr-request")
	}

	pageHost := ""
	if pu, err := url.Parse(pageURL); err == nil {
		pageHost = pu.Hostname()
	}
	if err := r.policy.Check(us, req.URL, pageHost); err != nil {
		return errorEnvelope(env, err.Error())
	}

	timeout := r.defaultTimeout
	if req.TimeoutMS > 0 {
		timeout = time.Duration(req.TimeoutMS) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.mu.Lock()
	r.inflight[env.RequestID] = cancel
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.inflight, env.RequestID)
		r.mu.Unlock()
	}()

	client := r.client
	if req.Anonymous {
		client = r.anon
	}
	rr := client.R().SetContext(ctx).SetHeaders(req.Headers)
	if req.Data != "" {
		rr.SetBody(req.Data)
	}
	if req.User != "" && !req.Anonymous {
		rr.SetBasicAuth(req.User, req.Password)
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = "GET"
	}
	resp, err := rr.Execute(method, req.URL)
	if err != nil {
		r.logger.Debug("Relayed request failed.",
			zap.String("script", us.ID), zap.String("url", req.URL), zap.Error(err))
		return errorEnvelope(env, err.Error())
	}

	return &wire.Envelope{
		Type:      wire.TypeXHRResponse,
		ScriptID:  env.ScriptID,
		RequestID: env.RequestID,
		XHRResponse: &wire.XHRResponse{
			Status:          resp.StatusCode(),
			StatusText:      resp.Status(),
			ResponseHeaders: flattenHeaders(resp),
			FinalURL:        resp.RawResponse.Request.URL.String(),
			ResponseText:    string(resp.Body()),
		},
	}
}

// Abort cancels an in-flight relayed request. Unknown ids are a no-op; the
// race between completion and abort is inherent to the API.
func (r *XHRRelay) Abort(requestID string) {
	r.mu.Lock()
	cancel, ok := r.inflight[requestID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
}

func errorEnvelope(in *wire.Envelope, msg string) *wire.Envelope {
	return &wire.Envelope{
		Type:      wire.TypeXHRError,
		ScriptID:  in.ScriptID,
		RequestID: in.RequestID,
		Error:     msg,
	}
}

// flattenHeaders renders response headers the way XMLHttpRequest's
// getAllResponseHeaders does: "name: value" lines, CRLF separated.
func flattenHeaders(resp *resty.Response) string {
	var lines []string
	for name, vals := range resp.Header() {
		for _, v := range vals {
			lines = append(lines, fmt.Sprintf("%s: %s", strings.ToLower(name), v))
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\r\n")
}
