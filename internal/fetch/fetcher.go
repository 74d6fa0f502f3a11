// Package fetch issues the outbound request to the proxied target with
// browser-mimicking headers and content-aware timeouts.
package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Fetcher wraps the outbound HTTP client.
type Fetcher struct {
	client       *http.Client
	pageTimeout  time.Duration
	gameTimeout  time.Duration
	maxRedirects int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTimeouts overrides the page and game-host timeouts.
func WithTimeouts(page, game time.Duration) Option {
	return func(f *Fetcher) {
		f.pageTimeout = page
		f.gameTimeout = game
	}
}

// New creates a Fetcher. Redirects are followed up to a bounded depth.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		pageTimeout:  30 * time.Second,
		gameTimeout:  45 * time.Second,
		maxRedirects: 10,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.client = &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= f.maxRedirects {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return f
}

// Timeout picks the request budget for a target. Hosts heuristically
// identified as browser games get the long budget: their asset loads must
// not be killed prematurely while ordinary pages fail fast.
func (f *Fetcher) Timeout(u *url.URL) time.Duration {
	if isGameHost(u) {
		return f.gameTimeout
	}
	return f.pageTimeout
}

func isGameHost(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	full := strings.ToLower(u.String())
	if strings.HasSuffix(host, ".io") {
		return true
	}
	for _, marker := range []string{"game", "agar", "slither", "diep"} {
		if strings.Contains(host, marker) || strings.Contains(full, marker) {
			return true
		}
	}
	return false
}

// Do issues the outbound request. The context is bounded by the per-target
// timeout; cancel releases the connection early.
func (f *Fetcher) Do(ctx context.Context, method string, u *url.URL, body io.Reader, contentType string) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, f.Timeout(u))

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		cancel()
		return nil, nil, err
	}

	req.Header = BrowserHeaders(u, Classify(u))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return resp, cancel, nil
}

// Client exposes the underlying HTTP client for secondary fetches (font
// fallback mirrors) that carry their own timeout.
func (f *Fetcher) Client() *http.Client {
	return f.client
}
