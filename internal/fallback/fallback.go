// Package fallback maps upstream failure classes to synthetic substitute
// responses so an embedding page degrades gracefully instead of breaking.
package fallback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"syscall"
	"time"
)

const fontFetchTimeout = 10 * time.Second

// Response is a synthetic substitute body.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
	// CacheControl, when set, overrides the handler's default caching.
	CacheControl string
	// ZeroLength forces an explicit Content-Length: 0 header.
	ZeroLength bool
}

// Engine decides substitutions. The client is used for secondary font
// mirror fetches.
type Engine struct {
	client *http.Client
}

func New(client *http.Client) *Engine {
	if client == nil {
		client = http.DefaultClient
	}
	return &Engine{client: client}
}

// ForStatus maps a (status, target) combination to a substitute. The
// second return is false when no policy applies and the upstream status
// should be propagated instead.
func (e *Engine) ForStatus(ctx context.Context, u *url.URL, status int) (*Response, bool) {
	p := strings.ToLower(u.Path)
	ext := path.Ext(p)

	switch {
	case status == http.StatusForbidden && isFontPath(ext):
		return e.fontSubstitute(ctx, p), true

	case status == http.StatusForbidden && (ext == ".svg" || isImagePath(ext) || strings.Contains(p, "/icon")):
		return &Response{
			Status:      http.StatusOK,
			ContentType: "image/svg+xml",
			Body:        []byte(iconFor(p)),
		}, true

	case status == http.StatusNotFound && isImagePath(ext):
		return &Response{
			Status:      http.StatusOK,
			ContentType: "image/svg+xml",
			Body:        []byte(svgImagePlaceholder),
		}, true

	case status == http.StatusNotFound && (ext == ".js" || ext == ".mjs"):
		return &Response{
			Status:      http.StatusOK,
			ContentType: "application/javascript",
			Body:        []byte("// File not found\n"),
		}, true

	case status == http.StatusNotFound && ext == ".css":
		return &Response{
			Status:      http.StatusOK,
			ContentType: "text/css",
			Body:        []byte("/* File not found */\n"),
		}, true

	case status == http.StatusNotFound && ext == ".br":
		return &Response{
			Status:      http.StatusOK,
			ContentType: "application/octet-stream",
			Body:        nil,
			ZeroLength:  true,
		}, true
	}

	return nil, false
}

// ForNetworkError converts transport-level failures into a benign empty
// script. A broken sub-resource (ads, trackers, disconnected game servers)
// must not surface as a page-breaking 5xx to the embedding page.
func ForNetworkError(err error) (*Response, bool) {
	if !isNetworkError(err) {
		return nil, false
	}
	return &Response{
		Status:      http.StatusOK,
		ContentType: "application/javascript",
		Body:        []byte("// Upstream unavailable\n"),
	}, true
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "fetch failed")
}

func (e *Engine) fontSubstitute(ctx context.Context, p string) *Response {
	for _, m := range fontMirrors {
		if !strings.Contains(p, m.match) {
			continue
		}
		if body := e.fetchFont(ctx, m.url); body != nil {
			return &Response{
				Status:      http.StatusOK,
				ContentType: "font/woff2",
				Body:        body,
			}
		}
	}
	// No mirror matched or the mirror fetch failed: empty font body so the
	// page falls back to its next font-family entry.
	return &Response{
		Status:      http.StatusOK,
		ContentType: "font/woff2",
		Body:        nil,
		ZeroLength:  true,
	}
}

func (e *Engine) fetchFont(ctx context.Context, mirrorURL string) []byte {
	ctx, cancel := context.WithTimeout(ctx, fontFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mirrorURL, nil)
	if err != nil {
		return nil
	}
	resp, err := e.client.Do(req)
	if err != nil {
		slog.Debug("Font mirror fetch failed", "url", mirrorURL, "error", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil
	}
	return body
}

func iconFor(p string) string {
	switch {
	case strings.Contains(p, "arrow"):
		return svgArrow
	case strings.Contains(p, "search"):
		return svgSearch
	case strings.Contains(p, "facebook"):
		return svgFacebook
	case strings.Contains(p, "twitter"):
		return svgTwitter
	case strings.Contains(p, "instagram"):
		return svgInstagram
	default:
		return svgGeneric
	}
}

func isFontPath(ext string) bool {
	switch ext {
	case ".woff", ".woff2", ".ttf", ".otf", ".eot":
		return true
	}
	return false
}

func isImagePath(ext string) bool {
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".avif", ".bmp":
		return true
	}
	return false
}
