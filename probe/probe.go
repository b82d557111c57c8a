// Package probe implements bounded liveness checks against a freshly
// spawned dev server.
//
// Frameworks differ in what they answer during startup: some serve the site
// root immediately, some only a static fallback, some respond on an API
// health path before assets compile. The prober sweeps a small fixed set of
// candidate paths with short per-request timeouts so an orchestrator running
// many sessions concurrently is never starved by one slow backend.
package probe

import (
	"context"
	"net/http"
	"time"

	"github.com/previewhq/preview-core/logger"
)

// DefaultPaths are the candidate paths tried on every tick, in order.
var DefaultPaths = []string{"/", "/index.html", "/api/health", "/healthz"}

// Prober polls candidate URLs until one answers successfully or a budget
// elapses.
type Prober struct {
	// Client issues probe requests. Its Timeout is ignored; per-request
	// deadlines come from RequestTimeout.
	Client *http.Client

	// Paths are the candidate paths tried each tick. Defaults to
	// DefaultPaths when empty.
	Paths []string

	// RequestTimeout bounds a single HEAD or GET request.
	RequestTimeout time.Duration
}

// New returns a Prober with the given per-request timeout.
func New(requestTimeout time.Duration) *Prober {
	return &Prober{
		Client:         &http.Client{},
		RequestTimeout: requestTimeout,
	}
}

// Probe polls baseURL's candidate paths until one answers 2xx or the budget
// elapses. It sleeps interval between ticks and returns false once budget is
// spent or ctx is cancelled. A blocked request never outlives one
// RequestTimeout, so cancellation is observed promptly.
func (p *Prober) Probe(ctx context.Context, baseURL string, budget, interval time.Duration) bool {
	deadline := time.Now().Add(budget)
	log := logger.WithComponent("probe")

	for {
		if ctx.Err() != nil {
			return false
		}
		if p.Check(ctx, baseURL) {
			return true
		}
		if time.Now().Add(interval).After(deadline) {
			log.Debug("probe budget exhausted", "baseURL", baseURL, "budget", budget)
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
}

// Check performs one probe tick: for each candidate path, HEAD first, then
// GET if HEAD fails or answers non-2xx. Returns true on the first success.
func (p *Prober) Check(ctx context.Context, baseURL string) bool {
	paths := p.Paths
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	for _, path := range paths {
		if p.request(ctx, http.MethodHead, baseURL+path) {
			return true
		}
		if p.request(ctx, http.MethodGet, baseURL+path) {
			return true
		}
	}
	return false
}

// request issues a single bounded request and reports whether it answered
// 2xx.
func (p *Prober) request(ctx context.Context, method, url string) bool {
	reqCtx, cancel := context.WithTimeout(ctx, p.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, url, nil)
	if err != nil {
		return false
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
