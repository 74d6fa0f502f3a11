package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gauravyad12/unishare-webproxy/internal/fallback"
	"github.com/gauravyad12/unishare-webproxy/internal/fetch"
	"github.com/gauravyad12/unishare-webproxy/internal/limiter"
	"github.com/gauravyad12/unishare-webproxy/internal/rewrite"
	"github.com/gauravyad12/unishare-webproxy/internal/target"
)

const maxPostBodyBytes = 10 * 1024 * 1024

func (s *Server) handleProxyGet(w http.ResponseWriter, r *http.Request) {
	rt := s.snapshot()

	if !s.authorize(w, r) {
		return
	}

	raw := r.URL.Query().Get("url")
	if raw == "" {
		requestsTotal.WithLabelValues(r.Method, "invalid").Inc()
		http.Error(w, "Missing url parameter", http.StatusBadRequest)
		return
	}

	ip := clientIP(r)
	if res := s.limiter.Allow(r.Context(), "ip:"+ip, rt.limits.IPGet); !res.Allowed {
		s.writeRateLimited(w, r, res, "ip")
		return
	}

	u, err := rt.resolver.Resolve(raw, r.Header.Get("Referer"), r.Header.Get("User-Agent"))
	if err != nil {
		s.writeResolveError(w, r, err)
		return
	}

	if res := s.limiter.Allow(r.Context(), "url:"+u.String(), rt.limits.URLGet); !res.Allowed {
		s.writeRateLimited(w, r, res, "url")
		return
	}

	hostname := target.SplitHost(u.Host)
	if d := s.detector.Check(hostname); !d.Allowed {
		s.writeDomainRejected(w, r, hostname, d.Reason, d.Blocked, d.BlockedUntil)
		return
	}

	if err := rt.resolver.Validate(u); err != nil {
		s.writeResolveError(w, r, err)
		return
	}

	if rt.resolver.IsTracker(hostname) {
		s.writeTrackerStub(w, r, u)
		return
	}

	s.fetchAndTransform(w, r, rt, u)
}

func (s *Server) fetchAndTransform(w http.ResponseWriter, r *http.Request, rt runtimeState, u *url.URL) {
	start := time.Now()
	resp, cancel, err := s.fetcher.Do(r.Context(), http.MethodGet, u, nil, "")
	if err != nil {
		if fb, ok := fallback.ForNetworkError(err); ok {
			slog.Debug("Upstream network failure, serving stub", "url", u.String(), "error", err)
			s.writeFallback(w, r, fb, "network")
			return
		}
		requestsTotal.WithLabelValues(r.Method, "error").Inc()
		http.Error(w, "Upstream request failed", http.StatusBadGateway)
		return
	}
	defer cancel()
	defer resp.Body.Close()
	upstreamDuration.Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if fb, ok := s.fallback.ForStatus(r.Context(), u, resp.StatusCode); ok {
			slog.Debug("Upstream failure, serving substitute", "url", u.String(), "status", resp.StatusCode)
			s.writeFallback(w, r, fb, fmt.Sprintf("status_%d", resp.StatusCode))
			return
		}
		requestsTotal.WithLabelValues(r.Method, "upstream_error").Inc()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(resp.StatusCode)
		fmt.Fprintf(w, "Upstream returned %d for %s\n", resp.StatusCode, u.String())
		return
	}

	maxBytes := s.cfg.Get().Proxy.MaxRewriteBytes
	contentType := rewrite.NormalizeContentType(u.Path, resp.Header.Get("Content-Type"))

	switch {
	case rewrite.IsHTML(contentType):
		body, err := readDecoded(resp, maxBytes)
		if err != nil {
			requestsTotal.WithLabelValues(r.Method, "error").Inc()
			http.Error(w, "Failed to read upstream response", http.StatusBadGateway)
			return
		}
		rewritten, err := rt.rewriter.HTML(body, u)
		if err != nil {
			slog.Warn("HTML rewrite failed, passing through", "url", u.String(), "error", err)
			rewritten = body
		}
		h := w.Header()
		h.Set("Content-Type", "text/html; charset=utf-8")
		// Rewritten markup must reflect the current domain/session.
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		h.Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(rewritten)

	case rewrite.IsCSS(contentType):
		body, err := readDecoded(resp, maxBytes)
		if err != nil {
			requestsTotal.WithLabelValues(r.Method, "error").Inc()
			http.Error(w, "Failed to read upstream response", http.StatusBadGateway)
			return
		}
		h := w.Header()
		h.Set("Content-Type", "text/css; charset=utf-8")
		h.Set("Cache-Control", "public, max-age=86400")
		h.Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(rt.rewriter.CSS(body, u))

	default:
		// JS stays unmodified; JSON/text gets CORS; everything else is a
		// raw byte pass-through cached aggressively since it is
		// content-addressed by origin URL.
		h := w.Header()
		h.Set("Content-Type", contentType)
		h.Set("Access-Control-Allow-Origin", "*")
		if enc := resp.Header.Get("Content-Encoding"); enc != "" {
			h.Set("Content-Encoding", enc)
		}
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			h.Set("Content-Length", cl)
		}
		if !rewrite.IsTextLike(contentType) {
			h.Set("Cache-Control", "public, max-age=86400")
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			slog.Debug("Streaming upstream body failed", "url", u.String(), "error", err)
		}
	}

	requestsTotal.WithLabelValues(r.Method, "ok").Inc()
}

// readDecoded buffers a bounded upstream body and undoes its
// Content-Encoding so the rewriter sees plain text.
func readDecoded(resp *http.Response, maxBytes int) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxBytes)+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxBytes)
	}
	if enc := resp.Header.Get("Content-Encoding"); enc != "" {
		decoded, err := fetch.DecompressBytes(body, enc, maxBytes)
		if err != nil {
			return nil, err
		}
		return decoded, nil
	}
	return body, nil
}

func (s *Server) handleProxyPost(w http.ResponseWriter, r *http.Request) {
	rt := s.snapshot()

	if !s.authorize(w, r) {
		return
	}

	raw := r.URL.Query().Get("url")
	if raw == "" {
		requestsTotal.WithLabelValues(r.Method, "invalid").Inc()
		http.Error(w, "Missing url parameter", http.StatusBadRequest)
		return
	}

	ip := clientIP(r)
	if res := s.limiter.Allow(r.Context(), "ip:"+ip, rt.limits.IPPost); !res.Allowed {
		s.writeRateLimited(w, r, res, "ip")
		return
	}

	// POST targets must be absolute; the relative-URL heuristics only
	// apply to page asset GETs.
	u, err := rt.resolver.Resolve(raw, "", "")
	if err != nil {
		s.writeResolveError(w, r, err)
		return
	}

	if res := s.limiter.Allow(r.Context(), "url:"+u.String(), rt.limits.URLPost); !res.Allowed {
		s.writeRateLimited(w, r, res, "url")
		return
	}

	hostname := target.SplitHost(u.Host)
	if d := s.detector.Check(hostname); !d.Allowed {
		s.writeDomainRejected(w, r, hostname, d.Reason, d.Blocked, d.BlockedUntil)
		return
	}

	if err := rt.resolver.Validate(u); err != nil {
		s.writeResolveError(w, r, err)
		return
	}

	body := io.LimitReader(r.Body, maxPostBodyBytes)
	resp, cancel, err := s.fetcher.Do(r.Context(), http.MethodPost, u, body, r.Header.Get("Content-Type"))
	if err != nil {
		if fb, ok := fallback.ForNetworkError(err); ok {
			s.writeFallback(w, r, fb, "network")
			return
		}
		requestsTotal.WithLabelValues(r.Method, "error").Inc()
		http.Error(w, "Upstream request failed", http.StatusBadGateway)
		return
	}
	defer cancel()
	defer resp.Body.Close()

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		h.Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.StatusCode != http.StatusNoContent {
		if _, err := io.Copy(w, resp.Body); err != nil {
			slog.Debug("Streaming upstream POST body failed", "url", u.String(), "error", err)
		}
	}
	requestsTotal.WithLabelValues(r.Method, "ok").Inc()
}

// handleProxyHead validates URL syntax only; no outbound fetch.
func (s *Server) handleProxyHead(w http.ResponseWriter, r *http.Request) {
	rt := s.snapshot()

	raw := r.URL.Query().Get("url")
	if raw == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	u, err := rt.resolver.Resolve(raw, "", "")
	if err == nil {
		err = rt.resolver.Validate(u)
	}
	if err != nil {
		var fe *target.ForbiddenError
		if errors.As(err, &fe) {
			w.WriteHeader(http.StatusForbidden)
		} else {
			w.WriteHeader(http.StatusBadRequest)
		}
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handlePreflight(w http.ResponseWriter, _ *http.Request) {
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	h.Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusNoContent)
}

// handleCheck is the lightweight safety pre-check the browser shell calls
// before navigating.
func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	rt := s.snapshot()

	type result struct {
		Safe   bool   `json:"safe"`
		Reason string `json:"reason,omitempty"`
	}

	raw := r.URL.Query().Get("url")
	res := result{Safe: true}

	u, err := rt.resolver.Resolve(raw, r.Header.Get("Referer"), r.Header.Get("User-Agent"))
	if err == nil {
		err = rt.resolver.Validate(u)
	}
	if err != nil {
		res.Safe = false
		var fe *target.ForbiddenError
		if errors.As(err, &fe) {
			res.Reason = fe.Reason
		} else {
			res.Reason = "invalid url"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(res)
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	if s.gate == nil {
		return true
	}
	if err := s.gate(r); err != nil {
		requestsTotal.WithLabelValues(r.Method, "unauthorized").Inc()
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) writeResolveError(w http.ResponseWriter, r *http.Request, err error) {
	var fe *target.ForbiddenError
	if errors.As(err, &fe) {
		rejectionsTotal.WithLabelValues("forbidden").Inc()
		requestsTotal.WithLabelValues(r.Method, "forbidden").Inc()
		http.Error(w, fe.Reason, http.StatusForbidden)
		return
	}
	rejectionsTotal.WithLabelValues("invalid_url").Inc()
	requestsTotal.WithLabelValues(r.Method, "invalid").Inc()
	http.Error(w, "Invalid URL", http.StatusBadRequest)
}

func (s *Server) writeRateLimited(w http.ResponseWriter, r *http.Request, res limiter.Result, scope string) {
	rejectionsTotal.WithLabelValues("rate_limit_" + scope).Inc()
	requestsTotal.WithLabelValues(r.Method, "rate_limited").Inc()

	h := w.Header()
	h.Set("Retry-After", "60")
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	http.Error(w, "Rate limit exceeded. Try again later.", http.StatusTooManyRequests)
}

func (s *Server) writeDomainRejected(w http.ResponseWriter, r *http.Request, domain, reason string, blocked bool, until time.Time) {
	rejectionsTotal.WithLabelValues("domain_abuse").Inc()
	requestsTotal.WithLabelValues(r.Method, "rate_limited").Inc()

	h := w.Header()
	if blocked {
		h.Set("X-Blocked-Domain", domain)
		h.Set("X-Block-Reason", reason)
		retry := int(time.Until(until).Seconds())
		if retry < 1 {
			retry = 60
		}
		h.Set("Retry-After", strconv.Itoa(retry))
	} else {
		h.Set("Retry-After", "60")
	}
	http.Error(w, reason, http.StatusTooManyRequests)
}

// writeTrackerStub answers denylisted analytics hosts with an empty body
// so pages depending on those scripts don't visibly break.
func (s *Server) writeTrackerStub(w http.ResponseWriter, r *http.Request, u *url.URL) {
	rejectionsTotal.WithLabelValues("tracker").Inc()
	requestsTotal.WithLabelValues(r.Method, "tracker_stub").Inc()

	if rewrite.ExpectsScript(u.Path) {
		h := w.Header()
		h.Set("Content-Type", "application/javascript")
		h.Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("// Blocked tracker\n"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeFallback(w http.ResponseWriter, r *http.Request, fb *fallback.Response, kind string) {
	fallbacksTotal.WithLabelValues(kind).Inc()
	requestsTotal.WithLabelValues(r.Method, "fallback").Inc()

	h := w.Header()
	h.Set("Content-Type", fb.ContentType)
	h.Set("Access-Control-Allow-Origin", "*")
	if fb.CacheControl != "" {
		h.Set("Cache-Control", fb.CacheControl)
	}
	if fb.ZeroLength {
		h.Set("Content-Length", "0")
	}
	w.WriteHeader(fb.Status)
	if len(fb.Body) > 0 {
		_, _ = w.Write(fb.Body)
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
