// Package target normalizes requested URLs and decides whether the proxy
// is willing to fetch them.
package target

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ErrInvalidURL marks a target that could not be parsed or resolved.
var ErrInvalidURL = errors.New("invalid target url")

// ForbiddenError marks a target the proxy refuses on security grounds.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string { return "forbidden target: " + e.Reason }

// Hint maps request characteristics to a fallback base origin used when a
// relative URL arrives via the proxy's own browser UI and no better base is
// known. This is a narrow compatibility table for sites observed to issue
// baseless asset requests, not general-purpose resolution.
type Hint struct {
	PathContains      string
	UserAgentContains string
	Base              string
}

// Resolver validates and resolves proxy targets.
type Resolver struct {
	proxyDomain string
	proxyRoute  string
	browserPath string
	trackers    []string
	hints       []Hint
	privateNets []netip.Prefix
}

// New creates a resolver. proxyDomain is the domain the proxy itself is
// served from; targets pointing back at it are rejected.
func New(proxyDomain string, trackers []string, hints []Hint) *Resolver {
	return &Resolver{
		proxyDomain: strings.ToLower(strings.TrimSpace(proxyDomain)),
		proxyRoute:  "/api/proxy/web",
		browserPath: "/browser",
		trackers:    trackers,
		hints:       hints,
		privateNets: privatePrefixes(),
	}
}

// privatePrefixes enumerates the ranges the proxy must never fetch from.
// CIDR containment rather than string prefixes, so 172.32.x.x stays
// reachable while 169.254.169.254 does not.
func privatePrefixes() []netip.Prefix {
	raw := []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"100.64.0.0/10",
		"0.0.0.0/32",
		"::1/128",
		"::/128",
		"fe80::/10",
		"fc00::/7",
	}
	out := make([]netip.Prefix, 0, len(raw))
	for _, s := range raw {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			panic(fmt.Sprintf("bad private prefix %q: %v", s, err))
		}
		out = append(out, p)
	}
	return out
}

// Decode percent-decodes leftovers and unescapes the HTML entities a prior
// render pass may have introduced. &amp; is handled last so sequences like
// "&amp;quot;" don't get double-unescaped into corruption.
func Decode(raw string) string {
	raw = strings.TrimSpace(raw)

	// The query layer already percent-decoded once; a second layer shows
	// up when the URL was embedded in rewritten markup.
	if strings.Contains(raw, "%") {
		if dec, err := url.QueryUnescape(raw); err == nil && strings.Contains(dec, "://") {
			raw = dec
		}
	}

	replacements := []struct{ from, to string }{
		{"&quot;", `"`},
		{"&#39;", "'"},
		{"&lt;", "<"},
		{"&gt;", ">"},
		{"&amp;", "&"},
	}
	for _, r := range replacements {
		raw = strings.ReplaceAll(raw, r.from, r.to)
	}
	return raw
}

// Resolve turns the raw url query parameter into an absolute target URL,
// falling back to referrer-based reconstruction for relative references.
// It does not apply the safety gate; callers follow up with Validate.
func (r *Resolver) Resolve(raw, referer, userAgent string) (*url.URL, error) {
	raw = Decode(raw)
	if raw == "" {
		return nil, ErrInvalidURL
	}

	if u, err := url.Parse(raw); err == nil && u.Scheme != "" && u.Host != "" {
		return u, nil
	}

	return r.resolveRelative(raw, referer, userAgent)
}

func (r *Resolver) resolveRelative(raw, referer, userAgent string) (*url.URL, error) {
	if referer == "" {
		return nil, fmt.Errorf("%w: relative reference %q without referrer", ErrInvalidURL, raw)
	}

	ref, err := url.Parse(referer)
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable referrer", ErrInvalidURL)
	}

	// A referrer pointing at the proxy route carries the real page URL in
	// its own url parameter; resolve against that.
	if strings.Contains(ref.Path, r.proxyRoute) {
		if embedded := ref.Query().Get("url"); embedded != "" {
			if base, err := url.Parse(Decode(embedded)); err == nil && base.Host != "" {
				if resolved, err := base.Parse(raw); err == nil {
					return resolved, nil
				}
			}
		}
	}

	// A referrer from the browser shell itself gives no usable base; fall
	// back to the origin-inference table.
	if strings.Contains(ref.Path, r.browserPath) || ref.Host == "" {
		if base := r.inferOrigin(raw, userAgent); base != "" {
			if resolved, err := url.Parse(base + ensureLeadingSlash(raw)); err == nil {
				return resolved, nil
			}
		}
		return nil, fmt.Errorf("%w: cannot resolve relative reference %q", ErrInvalidURL, raw)
	}

	// Any other referrer: reconstruct from its origin.
	resolved, err := ref.Parse(raw)
	if err != nil || resolved.Host == "" {
		return nil, fmt.Errorf("%w: cannot resolve relative reference %q", ErrInvalidURL, raw)
	}
	return resolved, nil
}

func (r *Resolver) inferOrigin(raw, userAgent string) string {
	ua := strings.ToLower(userAgent)
	for _, h := range r.hints {
		if h.PathContains != "" && !strings.Contains(raw, h.PathContains) {
			continue
		}
		if h.UserAgentContains != "" && !strings.Contains(ua, h.UserAgentContains) {
			continue
		}
		return h.Base
	}
	return ""
}

func ensureLeadingSlash(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

// Validate applies the safety gate: protocol allowlist, self-proxy
// rejection, and private-address rejection.
func (r *Resolver) Validate(u *url.URL) error {
	if u == nil {
		return ErrInvalidURL
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return &ForbiddenError{Reason: fmt.Sprintf("protocol %q not allowed", u.Scheme)}
	}

	host := strings.ToLower(u.Host)
	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return ErrInvalidURL
	}

	// Recursive self-proxying.
	if r.proxyDomain != "" && strings.Contains(hostname, r.proxyDomain) {
		return &ForbiddenError{Reason: "cannot proxy the proxy's own domain"}
	}
	if host == "localhost:3000" || host == "127.0.0.1:3000" {
		return &ForbiddenError{Reason: "cannot proxy the proxy's own domain"}
	}

	// SSRF into internal infrastructure.
	if addr, err := netip.ParseAddr(hostname); err == nil {
		for _, p := range r.privateNets {
			if p.Contains(addr.Unmap()) {
				return &ForbiddenError{Reason: "private or loopback address not allowed"}
			}
		}
	} else if hostname == "localhost" || strings.Contains(hostname, "local") {
		return &ForbiddenError{Reason: "private or loopback address not allowed"}
	}

	return nil
}

// IsTracker reports whether the hostname matches the analytics/tracking
// denylist. Tracker targets are answered with an empty stub, not an error,
// so pages depending on those scripts don't visibly break.
func (r *Resolver) IsTracker(hostname string) bool {
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return false
	}
	for _, t := range r.trackers {
		if hostname == t || strings.HasSuffix(hostname, "."+t) || strings.Contains(hostname, t) {
			return true
		}
	}
	return false
}

// SplitHost extracts the hostname for domain-level accounting, tolerating
// host:port and bracketed IPv6 forms.
func SplitHost(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		return strings.ToLower(h)
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return strings.ToLower(host)
}
