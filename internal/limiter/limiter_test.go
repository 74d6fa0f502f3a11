package limiter

import (
	"context"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, window time.Duration) (*Limiter, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	l := New(store, window, time.Hour)
	t.Cleanup(func() {
		l.Close()
		_ = store.Close()
	})
	return l, store
}

func TestAllowUpToLimitThenReject(t *testing.T) {
	l, _ := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res := l.Allow(ctx, "url:https://example.com/", 10)
		if !res.Allowed {
			t.Fatalf("request %d: expected allowed", i+1)
		}
		if res.Remaining != 10-(i+1) {
			t.Fatalf("request %d: remaining=%d, want %d", i+1, res.Remaining, 10-(i+1))
		}
	}

	res := l.Allow(ctx, "url:https://example.com/", 10)
	if res.Allowed {
		t.Fatalf("request 11: expected rejected")
	}
	if res.Remaining != 0 {
		t.Fatalf("request 11: remaining=%d, want 0", res.Remaining)
	}
	if res.ResetAt.IsZero() {
		t.Fatalf("request 11: expected ResetAt to be set")
	}
}

func TestRejectionDoesNotExtendWindow(t *testing.T) {
	l, store := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Allow(ctx, "k", 2)
	}

	e, ok, err := store.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if e.Count != 2 {
		t.Fatalf("count=%d after rejection, want 2 (reject must not increment)", e.Count)
	}
}

func TestWindowExpiryResetsCount(t *testing.T) {
	l, _ := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	base := time.Now()
	l.now = func() time.Time { return base }

	for i := 0; i < 5; i++ {
		l.Allow(ctx, "k", 5)
	}
	if res := l.Allow(ctx, "k", 5); res.Allowed {
		t.Fatalf("expected rejection at limit")
	}

	l.now = func() time.Time { return base.Add(61 * time.Second) }
	res := l.Allow(ctx, "k", 5)
	if !res.Allowed {
		t.Fatalf("expected fresh window after expiry")
	}
	if res.Remaining != 4 {
		t.Fatalf("remaining=%d after reset, want 4", res.Remaining)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		l.Allow(ctx, "ip:1.2.3.4", 3)
	}
	if res := l.Allow(ctx, "ip:1.2.3.4", 3); res.Allowed {
		t.Fatalf("expected first key exhausted")
	}
	if res := l.Allow(ctx, "ip:5.6.7.8", 3); !res.Allowed {
		t.Fatalf("expected second key unaffected")
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	_ = store.Set(ctx, "old", Entry{Count: 3, ResetAt: now.Add(-time.Minute)})
	_ = store.Set(ctx, "live", Entry{Count: 1, ResetAt: now.Add(time.Minute)})

	purged, err := store.Sweep(ctx, now)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged=%d, want 1", purged)
	}
	if store.Len() != 1 {
		t.Fatalf("len=%d after sweep, want 1", store.Len())
	}
	if _, ok, _ := store.Get(ctx, "live"); !ok {
		t.Fatalf("live entry must survive sweep")
	}
}
