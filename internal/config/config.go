package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Server ServerConfig `yaml:"server"`
	Proxy  ProxyConfig  `yaml:"proxy"`
	Limits LimitsConfig `yaml:"limits"`
	Abuse  AbuseConfig  `yaml:"abuse"`
	Store  StoreConfig  `yaml:"store"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// ProxyConfig holds forwarding proxy settings
type ProxyConfig struct {
	// PublicDomain is the domain this proxy is served from. Targets that
	// resolve back to it are rejected to prevent recursive self-proxying.
	PublicDomain string `yaml:"public_domain"`
	// FetchTimeout / GameFetchTimeout bound the upstream request. Game
	// hosts get the longer budget since their asset loads routinely take
	// longer than ordinary pages.
	FetchTimeout     string `yaml:"fetch_timeout"`
	GameFetchTimeout string `yaml:"game_fetch_timeout"`
	// MaxRewriteBytes caps how much of a text body is buffered for
	// HTML/CSS rewriting.
	MaxRewriteBytes int `yaml:"max_rewrite_bytes"`
	// TrackerDenylist hosts are answered with an empty stub instead of
	// being fetched.
	TrackerDenylist []string `yaml:"tracker_denylist"`
	// OriginHints drive relative-URL base inference for requests whose
	// referrer is the proxy's own browser UI.
	OriginHints []OriginHint `yaml:"origin_hints"`
}

// OriginHint maps request characteristics to a fallback base origin used
// when a relative URL cannot be resolved from its referrer.
type OriginHint struct {
	PathContains      string `yaml:"path_contains"`
	UserAgentContains string `yaml:"user_agent_contains"`
	Base              string `yaml:"base"`
}

// LimitsConfig holds the fixed-window rate limit budgets (requests per window)
type LimitsConfig struct {
	Window        string `yaml:"window"`
	SweepInterval string `yaml:"sweep_interval"`
	IPGet         int    `yaml:"ip_get"`
	IPPost        int    `yaml:"ip_post"`
	URLGet        int    `yaml:"url_get"`
	URLPost       int    `yaml:"url_post"`
}

// AbuseConfig holds the per-domain spam escalation policy
type AbuseConfig struct {
	SpamThreshold       int    `yaml:"spam_threshold"`
	AggressiveThreshold int    `yaml:"aggressive_threshold"`
	MaxViolations       int    `yaml:"max_violations"`
	BlockDuration       string `yaml:"block_duration"`
}

// StoreConfig selects the rate-limit counter backend
type StoreConfig struct {
	// Backend is "memory" (default, single instance) or "redis"
	// (required for horizontally scaled deployments).
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default configuration values
var defaultConfig = Config{
	Server: ServerConfig{
		Listen: "127.0.0.1:8090",
	},
	Proxy: ProxyConfig{
		PublicDomain:     "unishare.app",
		FetchTimeout:     "30s",
		GameFetchTimeout: "45s",
		MaxRewriteBytes:  10 * 1024 * 1024,
		TrackerDenylist: []string{
			"google-analytics.com",
			"googletagmanager.com",
			"doubleclick.net",
			"facebook.net",
			"hotjar.com",
			"segment.io",
			"mixpanel.com",
			"clarity.ms",
		},
		OriginHints: []OriginHint{
			{PathContains: "/img/", UserAgentContains: "", Base: "https://venge.io"},
			{PathContains: "/assets/", UserAgentContains: "venge", Base: "https://venge.io"},
			{PathContains: ".js", UserAgentContains: "venge", Base: "https://venge.io"},
		},
	},
	Limits: LimitsConfig{
		Window:        "60s",
		SweepInterval: "5m",
		IPGet:         100,
		IPPost:        50,
		URLGet:        10,
		URLPost:       5,
	},
	Abuse: AbuseConfig{
		SpamThreshold:       50,
		AggressiveThreshold: 100,
		MaxViolations:       3,
		BlockDuration:       "10m",
	},
	Store: StoreConfig{
		Backend: "memory",
	},
	Log: LogConfig{
		Level: "info",
		File:  "",
	},
}

// Default returns a copy of the built-in defaults.
func Default() Config {
	return defaultConfig
}

// ConfigPath returns the expanded config file path
func ConfigPath() string {
	if cfgPath := os.Getenv("WEBPROXY_CONFIG"); cfgPath != "" {
		return expandPath(cfgPath)
	}
	return filepath.Join(homeDir(), ".webproxy", "config.yaml")
}

func homeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	return os.Getenv("USERPROFILE") // Windows
}

// Load loads configuration from the given file path
func Load(cfgFile string) (*Manager, error) {
	m := NewManager()

	var configPath string
	if cfgFile != "" {
		configPath = expandPath(cfgFile)
	} else {
		configPath = ConfigPath()
	}
	if abs, err := filepath.Abs(configPath); err == nil {
		configPath = abs
	}
	m.configPath = configPath

	if err := m.Load(); err != nil {
		return nil, err
	}
	return m, nil
}

// expandPath expands ~ in path
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	if strings.HasPrefix(path, "~"+string(os.PathSeparator)) {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

// Manager handles config loading and hot-reload
type Manager struct {
	mu         sync.RWMutex
	config     Config
	watcher    *fsnotify.Watcher
	configPath string
}

// NewManager creates a new config manager
func NewManager() *Manager {
	globalPath := ConfigPath()
	if abs, err := filepath.Abs(globalPath); err == nil {
		globalPath = abs
	}
	return &Manager{
		config:     defaultConfig,
		configPath: globalPath,
	}
}

// Load loads configuration from file. A missing config file is not an
// error: defaults apply.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cfg := defaultConfig

	path := m.configPath
	if path == "" {
		path = ConfigPath()
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return err
		}
		slog.Debug("Loaded config", "path", path)
	} else if !os.IsNotExist(err) {
		return err
	}

	sanitizeLoadedConfig(&cfg)

	m.config = cfg
	return nil
}

func sanitizeLoadedConfig(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Server.Listen = strings.TrimSpace(cfg.Server.Listen)
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = defaultConfig.Server.Listen
	}

	cfg.Proxy.PublicDomain = strings.ToLower(strings.TrimSpace(cfg.Proxy.PublicDomain))
	if cfg.Proxy.MaxRewriteBytes <= 0 {
		cfg.Proxy.MaxRewriteBytes = defaultConfig.Proxy.MaxRewriteBytes
	}

	// Tracker hosts: drop blanks, normalize case
	if len(cfg.Proxy.TrackerDenylist) > 0 {
		out := make([]string, 0, len(cfg.Proxy.TrackerDenylist))
		for _, h := range cfg.Proxy.TrackerDenylist {
			h = strings.ToLower(strings.TrimSpace(h))
			if h == "" {
				continue
			}
			out = append(out, h)
		}
		cfg.Proxy.TrackerDenylist = out
	}

	// Origin hints need at least one matcher and a parseable base
	if len(cfg.Proxy.OriginHints) > 0 {
		out := make([]OriginHint, 0, len(cfg.Proxy.OriginHints))
		for _, h := range cfg.Proxy.OriginHints {
			h.PathContains = strings.TrimSpace(h.PathContains)
			h.UserAgentContains = strings.ToLower(strings.TrimSpace(h.UserAgentContains))
			h.Base = strings.TrimRight(strings.TrimSpace(h.Base), "/")
			if h.Base == "" || (h.PathContains == "" && h.UserAgentContains == "") {
				continue
			}
			out = append(out, h)
		}
		cfg.Proxy.OriginHints = out
	}

	if cfg.Limits.IPGet <= 0 {
		cfg.Limits.IPGet = defaultConfig.Limits.IPGet
	}
	if cfg.Limits.IPPost <= 0 {
		cfg.Limits.IPPost = defaultConfig.Limits.IPPost
	}
	if cfg.Limits.URLGet <= 0 {
		cfg.Limits.URLGet = defaultConfig.Limits.URLGet
	}
	if cfg.Limits.URLPost <= 0 {
		cfg.Limits.URLPost = defaultConfig.Limits.URLPost
	}
	if cfg.Abuse.SpamThreshold <= 0 {
		cfg.Abuse.SpamThreshold = defaultConfig.Abuse.SpamThreshold
	}
	if cfg.Abuse.AggressiveThreshold <= 0 {
		cfg.Abuse.AggressiveThreshold = defaultConfig.Abuse.AggressiveThreshold
	}
	if cfg.Abuse.MaxViolations <= 0 {
		cfg.Abuse.MaxViolations = defaultConfig.Abuse.MaxViolations
	}

	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	switch cfg.Store.Backend {
	case "memory", "redis":
	default:
		if cfg.Store.Backend != "" {
			slog.Warn("Invalid store backend, defaulting to memory", "backend", cfg.Store.Backend)
		}
		cfg.Store.Backend = "memory"
	}
}

// Get returns the current configuration
func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// Duration parses a config duration string, falling back to def on error.
func Duration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Watch starts watching for config file changes
func (m *Manager) Watch(onChange func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watcher != nil {
		return nil // Already watching
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	cfgPath := m.configPath
	if cfgPath == "" {
		cfgPath = ConfigPath()
	}
	cfgPath = filepath.Clean(cfgPath)
	if err := watcher.Add(filepath.Dir(cfgPath)); err != nil {
		return err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) == cfgPath {
					slog.Info("Config file changed, reloading...")
					if err := m.Load(); err != nil {
						slog.Error("Failed to reload config", "error", err)
					} else if onChange != nil {
						onChange()
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watcher error", "error", err)
			}
		}
	}()

	return nil
}

// Close stops the config watcher
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
