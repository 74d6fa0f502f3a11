// Package limiter implements the fixed-window rate limiting applied to
// every proxied request, once per client IP and once per target URL.
package limiter

import (
	"context"
	"time"
)

// Entry is one fixed-window counter.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// Store abstracts where counters live so the in-memory map can be swapped
// for a shared store when the proxy is scaled horizontally.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, e Entry) error
	Delete(ctx context.Context, key string) error
	// Sweep removes entries whose window ended before now and reports how
	// many were purged. Backends with native expiry may make this a no-op.
	Sweep(ctx context.Context, now time.Time) (int, error)
	Close() error
}
