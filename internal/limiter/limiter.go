package limiter

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Result reports one limiting decision along with the metadata callers need
// for X-RateLimit-* response headers.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter applies fixed-window counting on arbitrary string keys. A fresh
// or expired window starts at count=1; a full window rejects without
// incrementing.
type Limiter struct {
	store    Store
	window   time.Duration
	mu       sync.Mutex // serializes read-modify-write against the store
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a limiter and starts its sweep loop. Close stops it.
func New(store Store, window, sweepInterval time.Duration) *Limiter {
	l := &Limiter{
		store:    store,
		window:   window,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	go l.sweepLoop(sweepInterval)
	return l
}

// Allow records one request against key and reports whether it fits within
// max requests per window. Store failures fail open: a broken counter
// backend must not take the proxy down with it.
func (l *Limiter) Allow(ctx context.Context, key string, max int) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	e, ok, err := l.store.Get(ctx, key)
	if err != nil {
		slog.Warn("Rate limit store read failed; allowing request", "key", key, "error", err)
		return Result{Allowed: true, Limit: max, Remaining: max - 1, ResetAt: now.Add(l.window)}
	}

	if !ok || now.After(e.ResetAt) {
		e = Entry{Count: 1, ResetAt: now.Add(l.window)}
		if err := l.store.Set(ctx, key, e); err != nil {
			slog.Warn("Rate limit store write failed", "key", key, "error", err)
		}
		return Result{Allowed: true, Limit: max, Remaining: max - 1, ResetAt: e.ResetAt}
	}

	if e.Count >= max {
		return Result{Allowed: false, Limit: max, Remaining: 0, ResetAt: e.ResetAt}
	}

	e.Count++
	if err := l.store.Set(ctx, key, e); err != nil {
		slog.Warn("Rate limit store write failed", "key", key, "error", err)
	}

	remaining := max - e.Count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: max, Remaining: remaining, ResetAt: e.ResetAt}
}

// Close stops the sweep loop. The store is closed by the owner.
func (l *Limiter) Close() {
	l.stopOnce.Do(func() { close(l.stopChan) })
}

func (l *Limiter) sweepLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			purged, err := l.store.Sweep(context.Background(), l.now())
			if err != nil {
				slog.Warn("Rate limit sweep failed", "error", err)
			} else if purged > 0 {
				slog.Debug("Swept expired rate limit entries", "count", purged)
			}
		case <-l.stopChan:
			return
		}
	}
}
