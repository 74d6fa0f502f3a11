// Package rewrite post-processes upstream bodies so every URL a page can
// reach for flows back through the proxy.
package rewrite

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Rewriter rewrites HTML and CSS bodies against a proxy route.
type Rewriter struct {
	// proxyPath is the proxy route prefix, e.g. /api/proxy/web.
	proxyPath string
}

func New(proxyPath string) *Rewriter {
	return &Rewriter{proxyPath: proxyPath}
}

// attributes whose values carry URLs
var urlAttrs = map[string]bool{
	"src":        true,
	"href":       true,
	"action":     true,
	"formaction": true,
	"poster":     true,
}

// HTML parses the document, rewrites URL-bearing attributes structurally,
// injects the client runtime script into <head>, and re-serializes.
// Structural rewriting avoids the double-encoding and malformed-attribute
// bugs of pattern matching on markup text.
func (r *Rewriter) HTML(body []byte, base *url.URL) ([]byte, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var head *html.Node
	var root *html.Node

	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Head:
				head = n
			case atom.Html:
				root = n
			case atom.Base:
				// A <base> tag would re-anchor relative URLs away from
				// the proxy; drop its href.
				for i := range n.Attr {
					if strings.EqualFold(n.Attr[i].Key, "href") {
						n.Attr[i].Val = ""
					}
				}
			case atom.Meta:
				r.rewriteMetaRefresh(n, base)
			}

			for i, attr := range n.Attr {
				key := strings.ToLower(attr.Key)
				switch {
				case urlAttrs[key]:
					if out, ok := r.rewriteValue(attr.Val, base); ok {
						n.Attr[i].Val = out
					}
				case key == "srcset":
					n.Attr[i].Val = r.rewriteSrcset(attr.Val, base)
				case key == "integrity":
					// Rewritten sub-resources no longer match their
					// original digests.
					n.Attr[i].Val = ""
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)

	script := &html.Node{
		Type:     html.ElementNode,
		Data:     "script",
		DataAtom: atom.Script,
	}
	script.AppendChild(&html.Node{
		Type: html.TextNode,
		Data: r.clientRuntime(base),
	})

	if head != nil {
		head.AppendChild(script)
	} else if root != nil {
		root.InsertBefore(script, root.FirstChild)
	} else {
		doc.InsertBefore(script, doc.FirstChild)
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// rewriteValue resolves an attribute value against the page base and maps
// it onto the proxy route. The second return is false when the value must
// be left alone: anchors, non-web schemes, and URLs that already point at
// the proxy (so re-rewriting a rewritten page cannot double-encode).
func (r *Rewriter) rewriteValue(val string, base *url.URL) (string, bool) {
	val = strings.TrimSpace(val)
	if val == "" || strings.HasPrefix(val, "#") {
		return "", false
	}

	lower := strings.ToLower(val)
	for _, scheme := range []string{"javascript:", "data:", "blob:", "file:", "ftp:", "mailto:", "tel:", "about:"} {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}
	if strings.HasPrefix(val, r.proxyPath) {
		return "", false
	}

	abs, err := base.Parse(val)
	if err != nil || abs.Host == "" {
		return "", false
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if strings.Contains(abs.Path, r.proxyPath) {
		return "", false
	}

	return r.ProxyURL(abs.String()), true
}

// ProxyURL maps an absolute target URL onto the proxy route.
func (r *Rewriter) ProxyURL(abs string) string {
	return r.proxyPath + "?url=" + url.QueryEscape(abs)
}

// rewriteSrcset handles the comma-separated "url descriptor" list form.
func (r *Rewriter) rewriteSrcset(val string, base *url.URL) string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Fields(part)
		if rewritten, ok := r.rewriteValue(fields[0], base); ok {
			fields[0] = rewritten
		}
		out = append(out, strings.Join(fields, " "))
	}
	return strings.Join(out, ", ")
}

// rewriteMetaRefresh rewrites <meta http-equiv="refresh" content="5;url=...">.
func (r *Rewriter) rewriteMetaRefresh(n *html.Node, base *url.URL) {
	isRefresh := false
	for _, attr := range n.Attr {
		if strings.EqualFold(attr.Key, "http-equiv") && strings.EqualFold(strings.TrimSpace(attr.Val), "refresh") {
			isRefresh = true
			break
		}
	}
	if !isRefresh {
		return
	}

	for i, attr := range n.Attr {
		if !strings.EqualFold(attr.Key, "content") {
			continue
		}
		delay, rest, found := strings.Cut(attr.Val, ";")
		if !found {
			return
		}
		rest = strings.TrimSpace(rest)
		if len(rest) < 4 || !strings.EqualFold(rest[:4], "url=") {
			return
		}
		target := strings.Trim(strings.TrimSpace(rest[4:]), `'"`)
		if rewritten, ok := r.rewriteValue(target, base); ok {
			n.Attr[i].Val = strings.TrimSpace(delay) + ";url=" + rewritten
		}
		return
	}
}
