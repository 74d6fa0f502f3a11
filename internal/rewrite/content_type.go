package rewrite

import (
	"mime"
	"path"
	"strings"
)

// NormalizeContentType overrides the upstream Content-Type from the file
// extension, so a mislabeled .js is still treated as JavaScript.
func NormalizeContentType(urlPath, upstream string) string {
	ext := strings.ToLower(path.Ext(urlPath))
	switch ext {
	case ".js", ".mjs":
		return "application/javascript"
	case ".css":
		return "text/css"
	case ".json":
		return "application/json"
	case ".svg":
		return "image/svg+xml"
	case ".png", ".gif", ".webp", ".avif", ".bmp", ".ico":
		return "image/" + strings.TrimPrefix(ext, ".")
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".woff":
		return "font/woff"
	case ".woff2":
		return "font/woff2"
	case ".ttf":
		return "font/ttf"
	case ".otf":
		return "font/otf"
	}

	if mt, _, err := mime.ParseMediaType(upstream); err == nil && mt != "" {
		return mt
	}
	if upstream != "" {
		return upstream
	}
	return "application/octet-stream"
}

// IsHTML reports whether the normalized content type is an HTML document.
func IsHTML(contentType string) bool {
	return strings.Contains(contentType, "text/html") ||
		strings.Contains(contentType, "application/xhtml")
}

// IsCSS reports whether the normalized content type is a stylesheet.
func IsCSS(contentType string) bool {
	return strings.Contains(contentType, "text/css")
}

// IsJS reports whether the normalized content type is JavaScript. Script
// bodies are passed through unmodified; dynamic URL construction inside
// them bypasses the proxy (known gap).
func IsJS(contentType string) bool {
	return strings.Contains(contentType, "javascript") ||
		strings.Contains(contentType, "ecmascript")
}

// IsTextLike reports JSON/plain-text bodies that get permissive CORS but
// no rewriting.
func IsTextLike(contentType string) bool {
	return strings.Contains(contentType, "application/json") ||
		strings.HasPrefix(contentType, "text/")
}

// ExpectsScript guesses whether a blocked request was for a script, which
// decides between a 200 empty-JS stub and a bare 204.
func ExpectsScript(urlPath string) bool {
	ext := strings.ToLower(path.Ext(urlPath))
	return ext == ".js" || ext == ".mjs" || strings.Contains(urlPath, "/js/") ||
		strings.Contains(urlPath, "analytics") || strings.Contains(urlPath, "gtag")
}
