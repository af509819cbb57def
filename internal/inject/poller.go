// File: internal/inject/poller.go
package inject

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// sampleJS fingerprints the document cheaply enough to run every poll: the
// href catches real navigations, title and child counts catch same-URL
// reloads and SPA-style document swaps.
const sampleJS = `(function () {
  try {
    return JSON.stringify([
      location.href,
      document.title,
      document.documentElement ? document.documentElement.childElementCount : -1,
      document.body ? document.body.childElementCount : -1
    ]);
  } catch (e) { return 'err:' + String(e); }
})()`

// poll is the refresh-detection fallback for frames whose reloads emit no
// usable lifecycle events. A changed sample is treated as a navigation;
// every RecheckEvery polls the markers of injected scripts are re-verified
// even without a detected change.
func (c *Coordinator) poll(ctx context.Context, fs *frameState) {
	c.mu.Lock()
	url := fs.url
	c.mu.Unlock()
	if url == "" {
		return
	}

	var sample string
	if err := c.eval.Evaluate(ctx, fs.frameID, sampleJS, &sample); err != nil {
		// The frame may be mid-navigation; the next tick retries.
		return
	}

	c.mu.Lock()
	changed := fs.lastSample != "" && sample != fs.lastSample
	fs.lastSample = sample
	fs.pollCount++
	recheck := c.cfg.RecheckEvery > 0 && fs.pollCount%c.cfg.RecheckEvery == 0
	c.mu.Unlock()

	if changed {
		href := hrefFromSample(sample)
		c.logger.Debug("Poll detected a document change; starting a new epoch.",
			zap.String("frame", fs.frameID), zap.String("url", href))

		c.mu.Lock()
		if href != "" {
			fs.url = href
		}
		// The document we just sampled is live, so every bucket is already
		// reachable in the replacement epoch.
		c.bumpEpochLocked(fs, stageIdle)
		c.mu.Unlock()

		c.menus.RemoveFrame(fs.frameID)
		c.pass(ctx, fs)
		return
	}

	if recheck {
		c.verifyMarkers(ctx, fs)
		c.pass(ctx, fs)
	}
}

// verifyMarkers clears ledger entries whose dedup marker vanished, so the
// following pass re-injects those scripts.
func (c *Coordinator) verifyMarkers(ctx context.Context, fs *frameState) {
	c.mu.Lock()
	epoch := fs.epoch
	var done []string
	for id, e := range fs.ledger {
		if e.epoch == epoch && e.done {
			done = append(done, id)
		}
	}
	c.mu.Unlock()

	for _, id := range done {
		var present bool
		if err := c.eval.Evaluate(ctx, fs.frameID, markerCheckJS(id), &present); err != nil {
			continue
		}
		if !present {
			c.logger.Debug("Marker vanished; scheduling re-injection.",
				zap.String("frame", fs.frameID), zap.String("script", id))
			c.mu.Lock()
			delete(fs.ledger, id)
			c.mu.Unlock()
		}
	}
}

// hrefFromSample pulls the location back out of the poll fingerprint.
func hrefFromSample(sample string) string {
	var parts []any
	if err := json.UnmarshalFromString(sample, &parts); err != nil || len(parts) == 0 {
		return ""
	}
	href, _ := parts[0].(string)
	return href
}

func newTicker(d time.Duration) *time.Ticker {
	if d <= 0 {
		d = 2 * time.Second
	}
	return time.NewTicker(d)
}

func timeAfter(d time.Duration) <-chan time.Time {
	return time.After(d)
}
