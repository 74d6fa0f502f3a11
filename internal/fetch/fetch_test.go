package fetch

import (
	"net/url"
	"testing"
	"time"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestTimeoutSelection(t *testing.T) {
	f := New(WithTimeouts(30*time.Second, 45*time.Second))

	cases := []struct {
		raw  string
		want time.Duration
	}{
		{"https://example.com/page", 30 * time.Second},
		{"https://news.example.org/article.html", 30 * time.Second},
		{"https://venge.io/", 45 * time.Second},
		{"https://agar.example.com/play", 45 * time.Second},
		{"https://cdn.example.com/game/assets.bin", 45 * time.Second},
	}
	for _, tc := range cases {
		if got := f.Timeout(mustParse(t, tc.raw)); got != tc.want {
			t.Errorf("Timeout(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		path string
		want AssetClass
	}{
		{"/app.js", ClassScript},
		{"/styles/site.css", ClassStyle},
		{"/fonts/lato.woff2", ClassFont},
		{"/img/logo.png", ClassImage},
		{"/", ClassDocument},
		{"/page.html", ClassDocument},
		{"/download.zip", ClassOther},
	}
	for _, tc := range cases {
		u := mustParse(t, "https://example.com"+tc.path)
		if got := Classify(u); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestBrowserHeadersPerClass(t *testing.T) {
	u := mustParse(t, "https://example.com/page")

	doc := BrowserHeaders(u, ClassDocument)
	if doc.Get("Sec-Fetch-Dest") != "document" || doc.Get("Sec-Fetch-Mode") != "navigate" {
		t.Fatalf("document profile wrong: dest=%q mode=%q", doc.Get("Sec-Fetch-Dest"), doc.Get("Sec-Fetch-Mode"))
	}
	if doc.Get("Upgrade-Insecure-Requests") != "1" {
		t.Fatalf("document profile missing Upgrade-Insecure-Requests")
	}

	script := BrowserHeaders(u, ClassScript)
	if script.Get("Sec-Fetch-Dest") != "script" || script.Get("Accept") != "*/*" {
		t.Fatalf("script profile wrong: dest=%q accept=%q", script.Get("Sec-Fetch-Dest"), script.Get("Accept"))
	}

	font := BrowserHeaders(u, ClassFont)
	if font.Get("Sec-Fetch-Mode") != "cors" {
		t.Fatalf("font profile wrong: mode=%q", font.Get("Sec-Fetch-Mode"))
	}
}

func TestBrowserHeadersCommon(t *testing.T) {
	u := mustParse(t, "https://example.com/img/a.png")
	h := BrowserHeaders(u, ClassImage)

	if h.Get("User-Agent") == "" || h.Get("Accept-Language") == "" {
		t.Fatalf("common headers missing: %v", h)
	}
	if h.Get("Referer") != "https://example.com/" {
		t.Fatalf("Referer = %q, want origin root", h.Get("Referer"))
	}
}
