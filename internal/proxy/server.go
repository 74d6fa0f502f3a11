// Package proxy wires the request pipeline (rate limiting, abuse
// detection, resolution, fetching, rewriting, fallbacks) onto the HTTP
// surface.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gauravyad12/unishare-webproxy/internal/abuse"
	"github.com/gauravyad12/unishare-webproxy/internal/config"
	"github.com/gauravyad12/unishare-webproxy/internal/fallback"
	"github.com/gauravyad12/unishare-webproxy/internal/fetch"
	"github.com/gauravyad12/unishare-webproxy/internal/limiter"
	"github.com/gauravyad12/unishare-webproxy/internal/rewrite"
	"github.com/gauravyad12/unishare-webproxy/internal/target"
)

// ProxyRoute is the path of the forwarding proxy endpoint.
const ProxyRoute = "/api/proxy/web"

// Gate is the pluggable access hook standing in for the external
// authentication/subscription collaborators. A nil Gate allows everything.
type Gate func(r *http.Request) error

type runtimeState struct {
	resolver *target.Resolver
	rewriter *rewrite.Rewriter
	limits   config.LimitsConfig
}

// Server is the proxy service.
type Server struct {
	cfg      *config.Manager
	store    limiter.Store
	limiter  *limiter.Limiter
	detector *abuse.Detector
	fetcher  *fetch.Fetcher
	fallback *fallback.Engine
	gate     Gate
	runtime  atomic.Value // runtimeState
	httpSrv  *http.Server
}

// NewServer builds the full pipeline from config.
func NewServer(cfg *config.Manager, gate Gate) (*Server, error) {
	c := cfg.Get()

	store, err := newStore(c.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit store: %w", err)
	}

	window := config.Duration(c.Limits.Window, time.Minute)
	sweep := config.Duration(c.Limits.SweepInterval, 5*time.Minute)

	fetcher := fetch.New(fetch.WithTimeouts(
		config.Duration(c.Proxy.FetchTimeout, 30*time.Second),
		config.Duration(c.Proxy.GameFetchTimeout, 45*time.Second),
	))

	s := &Server{
		cfg:     cfg,
		store:   store,
		limiter: limiter.New(store, window, sweep),
		detector: abuse.New(abuse.Policy{
			SpamThreshold:       c.Abuse.SpamThreshold,
			AggressiveThreshold: c.Abuse.AggressiveThreshold,
			MaxViolations:       c.Abuse.MaxViolations,
			BlockDuration:       config.Duration(c.Abuse.BlockDuration, 10*time.Minute),
			Window:              window,
		}, sweep),
		fetcher: fetcher,
		gate:    gate,
	}
	s.fallback = fallback.New(fetcher.Client())
	s.applyConfig(c)

	s.httpSrv = &http.Server{
		Addr:              c.Server.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

func newStore(c config.StoreConfig) (limiter.Store, error) {
	if c.Backend == "redis" {
		return limiter.NewRedisStore(limiter.RedisConfig{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		})
	}
	return limiter.NewMemoryStore(), nil
}

func (s *Server) applyConfig(c config.Config) {
	hints := make([]target.Hint, 0, len(c.Proxy.OriginHints))
	for _, h := range c.Proxy.OriginHints {
		hints = append(hints, target.Hint{
			PathContains:      h.PathContains,
			UserAgentContains: h.UserAgentContains,
			Base:              h.Base,
		})
	}

	s.runtime.Store(runtimeState{
		resolver: target.New(c.Proxy.PublicDomain, c.Proxy.TrackerDenylist, hints),
		rewriter: rewrite.New(ProxyRoute),
		limits:   c.Limits,
	})
}

func (s *Server) snapshot() runtimeState {
	return s.runtime.Load().(runtimeState)
}

// ReloadFromConfig re-applies hot-reloadable settings (limits, denylist,
// origin hints). The listen address and store backend need a restart.
func (s *Server) ReloadFromConfig() {
	c := s.cfg.Get()
	s.applyConfig(c)
	slog.Info("Config reloaded",
		"trackers", len(c.Proxy.TrackerDenylist),
		"origin_hints", len(c.Proxy.OriginHints),
	)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Use(requestLogger)

	r.Get(ProxyRoute, s.handleProxyGet)
	r.Post(ProxyRoute, s.handleProxyPost)
	r.Head(ProxyRoute, s.handleProxyHead)
	r.Options(ProxyRoute, s.handlePreflight)

	r.Get("/api/proxy/check", s.handleCheck)
	r.Get("/browser", s.handleBrowser)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Handler exposes the routed handler (for tests).
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start blocks serving HTTP until the server is shut down.
func (s *Server) Start() error {
	slog.Info("Starting web proxy", "address", s.httpSrv.Addr, "route", ProxyRoute)
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop shuts down the HTTP server and the background sweepers.
func (s *Server) Stop(ctx context.Context) {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		slog.Warn("HTTP server shutdown failed", "error", err)
	}
	s.limiter.Close()
	s.detector.Close()
	if err := s.store.Close(); err != nil {
		slog.Warn("Rate limit store close failed", "error", err)
	}
	slog.Info("Web proxy stopped")
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Panic in request handler", "panic", rec, "path", r.URL.Path)
				requestsTotal.WithLabelValues(r.Method, "panic").Inc()
				// Generic message only; no internal detail leaks.
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}
