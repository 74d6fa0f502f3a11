package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gauravyad12/unishare-webproxy/internal/config"
)

// stubUpstream answers requests per-URL from a canned table; anything not in
// the table gets a 404 text body.
type stubUpstream struct {
	responses map[string]stubResponse
	requests  []*http.Request
}

type stubResponse struct {
	status      int
	contentType string
	body        string
}

func (s *stubUpstream) RoundTrip(req *http.Request) (*http.Response, error) {
	s.requests = append(s.requests, req)
	r, ok := s.responses[req.URL.String()]
	if !ok {
		r = stubResponse{status: http.StatusNotFound, contentType: "text/plain", body: "not found"}
	}
	return &http.Response{
		StatusCode: r.status,
		Header:     http.Header{"Content-Type": []string{r.contentType}},
		Body:       io.NopCloser(bytes.NewReader([]byte(r.body))),
		Request:    req,
	}, nil
}

func newTestServer(t *testing.T, upstream *stubUpstream) *Server {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	cfgYAML := `
server:
  listen: "127.0.0.1:0"
limits:
  ip_get: 1000
  ip_post: 1000
  url_get: 10
  url_post: 5
`
	if err := os.WriteFile(path, []byte(cfgYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	srv, err := NewServer(cfg, nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if upstream != nil {
		srv.fetcher.Client().Transport = upstream
	}
	t.Cleanup(func() {
		srv.Stop(context.Background())
		_ = cfg.Close()
	})
	return srv
}

func doGet(h http.Handler, target, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestProxyGetRewritesHTML(t *testing.T) {
	upstream := &stubUpstream{responses: map[string]stubResponse{
		"https://example.com/page": {
			status:      http.StatusOK,
			contentType: "text/html; charset=utf-8",
			body:        `<html><head><title>t</title></head><body><img src="/img/a.png"></body></html>`,
		},
	}}
	srv := newTestServer(t, upstream)

	rec := doGet(srv.Handler(), ProxyRoute+"?url="+url.QueryEscape("https://example.com/page"), "198.51.100.1:1234")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()

	want := ProxyRoute + "?url=" + url.QueryEscape("https://example.com/img/a.png")
	if !strings.Contains(body, want) {
		t.Fatalf("img src not rewritten, body:\n%s", body)
	}
	if !strings.Contains(body, "window.fetch") {
		t.Fatalf("client runtime not injected")
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "no-cache") {
		t.Fatalf("Cache-Control = %q, want no-cache", cc)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing permissive CORS header")
	}
}

func TestProxyGetRewritesCSS(t *testing.T) {
	upstream := &stubUpstream{responses: map[string]stubResponse{
		"https://example.com/site.css": {
			status:      http.StatusOK,
			contentType: "text/css",
			body:        `body { background: url("/bg.png"); }`,
		},
	}}
	srv := newTestServer(t, upstream)

	rec := doGet(srv.Handler(), ProxyRoute+"?url="+url.QueryEscape("https://example.com/site.css"), "198.51.100.1:1234")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), url.QueryEscape("https://example.com/bg.png")) {
		t.Fatalf("css url() not rewritten: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get("Cache-Control"), "max-age=86400") {
		t.Fatalf("css must be cacheable, got %q", rec.Header().Get("Cache-Control"))
	}
}

func TestProxyGetPassesThroughJS(t *testing.T) {
	const script = `fetch("https://api.example.com/data");`
	upstream := &stubUpstream{responses: map[string]stubResponse{
		"https://example.com/app.js": {
			status:      http.StatusOK,
			contentType: "application/javascript",
			body:        script,
		},
	}}
	srv := newTestServer(t, upstream)

	rec := doGet(srv.Handler(), ProxyRoute+"?url="+url.QueryEscape("https://example.com/app.js"), "198.51.100.1:1234")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != script {
		t.Fatalf("script body modified: %q", rec.Body.String())
	}
}

func TestProxyGetMissingURL(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := doGet(srv.Handler(), ProxyRoute, "198.51.100.1:1234")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestProxyGetRejectsPrivateTarget(t *testing.T) {
	srv := newTestServer(t, nil)

	for _, raw := range []string{
		"http://10.0.0.5/internal",
		"http://169.254.169.254/latest/meta-data/",
		"http://localhost/admin",
	} {
		rec := doGet(srv.Handler(), ProxyRoute+"?url="+url.QueryEscape(raw), "198.51.100.1:1234")
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: status = %d, want 403", raw, rec.Code)
		}
	}
}

func TestProxyGetPerURLRateLimit(t *testing.T) {
	upstream := &stubUpstream{responses: map[string]stubResponse{
		"https://example.com/hot": {
			status:      http.StatusOK,
			contentType: "text/html",
			body:        "<html><body>ok</body></html>",
		},
	}}
	srv := newTestServer(t, upstream)

	target := ProxyRoute + "?url=" + url.QueryEscape("https://example.com/hot")

	// Distinct client IPs so only the per-URL budget is in play.
	for i := 0; i < 10; i++ {
		rec := doGet(srv.Handler(), target, fmt.Sprintf("198.51.100.%d:1234", i+1))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rec.Code)
		}
	}

	rec := doGet(srv.Handler(), target, "198.51.100.99:1234")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("request 11: status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Fatalf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Limit") != "10" {
		t.Fatalf("X-RateLimit-Limit = %q, want 10", rec.Header().Get("X-RateLimit-Limit"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("X-RateLimit-Remaining = %q, want 0", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestProxyGetTrackerStub(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doGet(srv.Handler(), ProxyRoute+"?url="+url.QueryEscape("https://www.google-analytics.com/analytics.js"), "198.51.100.1:1234")
	if rec.Code != http.StatusOK {
		t.Fatalf("script tracker: status = %d, want 200 stub", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Blocked tracker") {
		t.Fatalf("script tracker body = %q", rec.Body.String())
	}

	rec = doGet(srv.Handler(), ProxyRoute+"?url="+url.QueryEscape("https://www.google-analytics.com/collect"), "198.51.100.1:1234")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("non-script tracker: status = %d, want 204", rec.Code)
	}
}

func TestProxyGetUpstream404JS(t *testing.T) {
	upstream := &stubUpstream{responses: map[string]stubResponse{}}
	srv := newTestServer(t, upstream)

	rec := doGet(srv.Handler(), ProxyRoute+"?url="+url.QueryEscape("https://example.com/gone.js"), "198.51.100.1:1234")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 substitute", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "File not found") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}

func TestProxyPostForwardsBody(t *testing.T) {
	upstream := &stubUpstream{responses: map[string]stubResponse{
		"https://api.example.com/submit": {
			status:      http.StatusCreated,
			contentType: "application/json",
			body:        `{"ok":true}`,
		},
	}}
	srv := newTestServer(t, upstream)

	req := httptest.NewRequest(http.MethodPost,
		ProxyRoute+"?url="+url.QueryEscape("https://api.example.com/submit"),
		strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "198.51.100.1:1234"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Fatalf("body = %q", rec.Body.String())
	}

	if len(upstream.requests) != 1 {
		t.Fatalf("upstream saw %d requests", len(upstream.requests))
	}
	sent, _ := io.ReadAll(upstream.requests[0].Body)
	if string(sent) != `{"name":"x"}` {
		t.Fatalf("forwarded body = %q", sent)
	}
	if ct := upstream.requests[0].Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("forwarded Content-Type = %q", ct)
	}
}

func TestProxyHead(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodHead, ProxyRoute+"?url="+url.QueryEscape("https://example.com/"), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("valid target: status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodHead, ProxyRoute+"?url="+url.QueryEscape("http://127.0.0.1/x"), nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("private target: status = %d, want 403", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodHead, ProxyRoute, nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing url: status = %d, want 400", rec.Code)
	}
}

func TestPreflight(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, ProxyRoute, nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if methods := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(methods, "HEAD") {
		t.Fatalf("Allow-Methods = %q", methods)
	}
}

func TestCheckEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doGet(srv.Handler(), "/api/proxy/check?url="+url.QueryEscape("https://example.com/"), "")
	var res struct {
		Safe   bool   `json:"safe"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Safe {
		t.Fatalf("safe url flagged: %+v", res)
	}

	rec = doGet(srv.Handler(), "/api/proxy/check?url="+url.QueryEscape("http://localhost/x"), "")
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Safe || res.Reason == "" {
		t.Fatalf("unsafe url not flagged: %+v", res)
	}
}

func TestAuthGate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  listen: \"127.0.0.1:0\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	srv, err := NewServer(cfg, func(r *http.Request) error {
		if r.Header.Get("Authorization") == "" {
			return fmt.Errorf("no session")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() {
		srv.Stop(context.Background())
		_ = cfg.Close()
	})

	rec := doGet(srv.Handler(), ProxyRoute+"?url="+url.QueryEscape("https://example.com/"), "198.51.100.1:1234")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("ungated request: status = %d, want 401", rec.Code)
	}
}

func TestBrowserShellServed(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := doGet(srv.Handler(), "/browser", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"<iframe", "/api/proxy/check", ProxyRoute} {
		if !strings.Contains(body, want) {
			t.Errorf("shell page missing %q", want)
		}
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := doGet(srv.Handler(), "/healthz", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz = %d %q", rec.Code, rec.Body.String())
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5555"
	if ip := clientIP(req); ip != "203.0.113.9" {
		t.Fatalf("remote addr ip = %q", ip)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if ip := clientIP(req); ip != "198.51.100.7" {
		t.Fatalf("xff ip = %q", ip)
	}

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "198.51.100.8")
	if ip := clientIP(req); ip != "198.51.100.8" {
		t.Fatalf("x-real-ip = %q", ip)
	}
}
