package rewrite

import (
	"net/url"
	"regexp"
	"strings"
)

var cssURLPattern = regexp.MustCompile(`url\(\s*(["']?)([^"')]+)(["']?)\s*\)`)

// CSS rewrites absolute and root-relative url(...) references onto the
// proxy route. Same-directory relative references are left alone: they
// already resolve through the stylesheet's own proxied URL.
func (r *Rewriter) CSS(body []byte, base *url.URL) []byte {
	text := string(body)

	text = cssURLPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := cssURLPattern.FindStringSubmatch(match)
		if len(sub) < 4 {
			return match
		}
		quote, ref := sub[1], strings.TrimSpace(sub[2])

		if !strings.HasPrefix(ref, "http://") &&
			!strings.HasPrefix(ref, "https://") &&
			!strings.HasPrefix(ref, "//") &&
			!strings.HasPrefix(ref, "/") {
			return match
		}

		rewritten, ok := r.rewriteValue(ref, base)
		if !ok {
			return match
		}
		return "url(" + quote + rewritten + quote + ")"
	})

	return []byte(text)
}
