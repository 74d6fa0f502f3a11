// Package abuse tracks per-hostname request volume and escalates from soft
// throttling to timed blocks when a domain is hammered through the proxy.
// The typical offender is a game or ad asset domain issuing dozens of
// polling requests per second; normal browsing bursts stay well under the
// thresholds.
package abuse

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Policy holds the escalation thresholds, all per 60s window.
type Policy struct {
	// SpamThreshold triggers a soft "slow down" rejection and counts a
	// violation.
	SpamThreshold int
	// AggressiveThreshold triggers an immediate block.
	AggressiveThreshold int
	// MaxViolations is how many spam-threshold breaches are tolerated
	// before a block.
	MaxViolations int
	// BlockDuration is how long a blocked domain stays blocked.
	BlockDuration time.Duration
	// Window is the counting window.
	Window time.Duration
}

// DefaultPolicy mirrors the production thresholds.
func DefaultPolicy() Policy {
	return Policy{
		SpamThreshold:       50,
		AggressiveThreshold: 100,
		MaxViolations:       3,
		BlockDuration:       10 * time.Minute,
		Window:              time.Minute,
	}
}

// Decision is the outcome of one domain check.
type Decision struct {
	Allowed      bool
	Reason       string
	Blocked      bool
	BlockedUntil time.Time
}

type counter struct {
	count      int
	resetAt    time.Time
	violations int
}

type block struct {
	until  time.Time
	reason string
}

// Detector owns the per-domain counters and block list.
type Detector struct {
	mu       sync.Mutex
	policy   Policy
	counters map[string]*counter
	blocks   map[string]block
	now      func() time.Time
	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a detector and starts its sweep loop. Close stops it.
func New(policy Policy, sweepInterval time.Duration) *Detector {
	if policy.Window <= 0 {
		policy.Window = time.Minute
	}
	if policy.BlockDuration <= 0 {
		policy.BlockDuration = 10 * time.Minute
	}
	d := &Detector{
		policy:   policy,
		counters: make(map[string]*counter),
		blocks:   make(map[string]block),
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	go d.sweepLoop(sweepInterval)
	return d
}

// Check records one request for domain and decides whether it may proceed.
func (d *Detector) Check(domain string) Decision {
	domain = strings.ToLower(strings.TrimSpace(domain))

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()

	// An active block short-circuits everything, counters included.
	if b, ok := d.blocks[domain]; ok {
		if now.Before(b.until) {
			remaining := b.until.Sub(now).Round(time.Second)
			return Decision{
				Allowed:      false,
				Reason:       fmt.Sprintf("domain blocked (%s): try again in %s", b.reason, remaining),
				Blocked:      true,
				BlockedUntil: b.until,
			}
		}
		// Unblocking forgives accumulated violations along with the block.
		delete(d.blocks, domain)
		delete(d.counters, domain)
	}

	c, ok := d.counters[domain]
	if !ok || now.After(c.resetAt) {
		violations := 0
		if ok {
			// Violations persist across window resets until the domain
			// is unblocked.
			violations = c.violations
		}
		d.counters[domain] = &counter{count: 1, resetAt: now.Add(d.policy.Window), violations: violations}
		return Decision{Allowed: true}
	}

	c.count++

	if c.count >= d.policy.AggressiveThreshold {
		until := now.Add(d.policy.BlockDuration)
		d.blocks[domain] = block{until: until, reason: "aggressive spam"}
		slog.Warn("Domain blocked for aggressive spam", "domain", domain, "count", c.count, "until", until)
		return Decision{
			Allowed:      false,
			Reason:       "aggressive spam",
			Blocked:      true,
			BlockedUntil: until,
		}
	}

	if c.count >= d.policy.SpamThreshold {
		// One violation per window, charged at the crossing point; the
		// soft rejections past it don't stack further.
		if c.count == d.policy.SpamThreshold {
			c.violations++
		}
		if c.violations >= d.policy.MaxViolations {
			until := now.Add(d.policy.BlockDuration)
			d.blocks[domain] = block{until: until, reason: "multiple spam violations"}
			slog.Warn("Domain blocked after repeated spam violations", "domain", domain, "violations", c.violations, "until", until)
			return Decision{
				Allowed:      false,
				Reason:       "multiple spam violations",
				Blocked:      true,
				BlockedUntil: until,
			}
		}
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("too many requests for %s: slow down", domain),
		}
	}

	return Decision{Allowed: true}
}

// Close stops the sweep loop.
func (d *Detector) Close() {
	d.stopOnce.Do(func() { close(d.stopChan) })
}

func (d *Detector) sweepLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.sweep()
		case <-d.stopChan:
			return
		}
	}
}

func (d *Detector) sweep() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	purged := 0
	for domain, c := range d.counters {
		if now.After(c.resetAt) {
			delete(d.counters, domain)
			purged++
		}
	}
	for domain, b := range d.blocks {
		if now.After(b.until) {
			delete(d.blocks, domain)
			purged++
		}
	}
	if purged > 0 {
		slog.Debug("Swept expired domain counters and blocks", "count", purged)
	}
}
