package fetch

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// AssetClass drives which browser header profile an upstream request gets.
// Servers that inspect Accept/Sec-Fetch-* for bot detection must see a
// plausible profile per asset type.
type AssetClass int

const (
	ClassDocument AssetClass = iota
	ClassScript
	ClassStyle
	ClassFont
	ClassImage
	ClassOther
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// Classify guesses the asset class from the target path.
func Classify(u *url.URL) AssetClass {
	ext := strings.ToLower(path.Ext(u.Path))
	switch ext {
	case ".js", ".mjs":
		return ClassScript
	case ".css":
		return ClassStyle
	case ".woff", ".woff2", ".ttf", ".otf", ".eot":
		return ClassFont
	case ".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".ico", ".avif", ".bmp":
		return ClassImage
	case "", ".html", ".htm", ".php", ".asp", ".aspx":
		return ClassDocument
	default:
		return ClassOther
	}
}

// BrowserHeaders builds the outbound header set mimicking a real browser,
// tuned per asset class.
func BrowserHeaders(u *url.URL, class AssetClass) http.Header {
	h := http.Header{}
	h.Set("User-Agent", userAgent)
	h.Set("Accept-Language", "en-US,en;q=0.9")
	h.Set("Accept-Encoding", "gzip, deflate, br")
	h.Set("DNT", "1")
	h.Set("Referer", u.Scheme+"://"+u.Host+"/")
	h.Set("Sec-Fetch-Site", "same-origin")

	switch class {
	case ClassScript:
		h.Set("Accept", "*/*")
		h.Set("Sec-Fetch-Dest", "script")
		h.Set("Sec-Fetch-Mode", "no-cors")
	case ClassStyle:
		h.Set("Accept", "text/css,*/*;q=0.1")
		h.Set("Sec-Fetch-Dest", "style")
		h.Set("Sec-Fetch-Mode", "no-cors")
	case ClassFont:
		h.Set("Accept", "*/*")
		h.Set("Sec-Fetch-Dest", "font")
		h.Set("Sec-Fetch-Mode", "cors")
	case ClassImage:
		h.Set("Accept", "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8")
		h.Set("Sec-Fetch-Dest", "image")
		h.Set("Sec-Fetch-Mode", "no-cors")
	default:
		h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
		h.Set("Sec-Fetch-Dest", "document")
		h.Set("Sec-Fetch-Mode", "navigate")
		h.Set("Sec-Fetch-Site", "none")
		h.Set("Sec-Fetch-User", "?1")
		h.Set("Upgrade-Insecure-Requests", "1")
	}

	return h
}
