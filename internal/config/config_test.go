package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	m, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer m.Close()

	c := m.Get()
	if c.Server.Listen != defaultConfig.Server.Listen {
		t.Fatalf("listen = %q, want default", c.Server.Listen)
	}
	if c.Limits.IPGet != 100 || c.Limits.URLGet != 10 {
		t.Fatalf("limits = %+v, want defaults", c.Limits)
	}
	if c.Store.Backend != "memory" {
		t.Fatalf("backend = %q, want memory", c.Store.Backend)
	}
}

func TestLoadOverridesAndSanitizes(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: "0.0.0.0:9000"
proxy:
  public_domain: "  MyProxy.Example  "
  tracker_denylist:
    - "  Tracker.Example  "
    - ""
  origin_hints:
    - path_contains: "/img/"
      base: "https://game.example/"
    - base: "https://nomatcher.example"
limits:
  url_get: 3
  ip_get: -5
store:
  backend: "bogus"
`)

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer m.Close()

	c := m.Get()
	if c.Server.Listen != "0.0.0.0:9000" {
		t.Fatalf("listen = %q", c.Server.Listen)
	}
	if c.Proxy.PublicDomain != "myproxy.example" {
		t.Fatalf("public_domain = %q, want lowercased/trimmed", c.Proxy.PublicDomain)
	}
	if len(c.Proxy.TrackerDenylist) != 1 || c.Proxy.TrackerDenylist[0] != "tracker.example" {
		t.Fatalf("tracker_denylist = %v", c.Proxy.TrackerDenylist)
	}
	// The hint without any matcher must be dropped; the base loses its
	// trailing slash.
	if len(c.Proxy.OriginHints) != 1 || c.Proxy.OriginHints[0].Base != "https://game.example" {
		t.Fatalf("origin_hints = %+v", c.Proxy.OriginHints)
	}
	if c.Limits.URLGet != 3 {
		t.Fatalf("url_get = %d, want 3", c.Limits.URLGet)
	}
	if c.Limits.IPGet != 100 {
		t.Fatalf("ip_get = %d, want default for non-positive override", c.Limits.IPGet)
	}
	if c.Store.Backend != "memory" {
		t.Fatalf("backend = %q, want memory fallback", c.Store.Backend)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "server: [not: a: mapping")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestDuration(t *testing.T) {
	if d := Duration("90s", time.Minute); d != 90*time.Second {
		t.Fatalf("Duration(90s) = %v", d)
	}
	if d := Duration("garbage", time.Minute); d != time.Minute {
		t.Fatalf("Duration(garbage) = %v, want fallback", d)
	}
	if d := Duration("-5s", time.Minute); d != time.Minute {
		t.Fatalf("Duration(-5s) = %v, want fallback", d)
	}
	if d := Duration("", time.Minute); d != time.Minute {
		t.Fatalf("Duration(empty) = %v, want fallback", d)
	}
}
