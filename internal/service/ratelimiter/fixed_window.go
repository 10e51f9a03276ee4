// Package ratelimiter provides a bounded fixed-window attempt limiter.
//
// Each key gets a window measured strictly from its first insertion;
// reads and further attempts never extend it. A global live-key cap
// bounds memory during bursts. Expired entries are swept lazily on the
// insert path.
package ratelimiter

import (
	"log/slog"
	"sync"
	"time"
)

// Defaults per the pipeline contract.
const (
	DefaultTTL        = 60 * time.Second
	DefaultMax        = 250
	DefaultMaxAttempt = 3
)

// Options configures a Limiter. Zero values fall back to defaults.
type Options struct {
	// TTL is the per-key fixed window.
	TTL time.Duration
	// Max is the global live-key ceiling.
	Max int
	// MaxAttempt is the per-key attempt ceiling within one window.
	MaxAttempt int
}

type entry struct {
	count     int
	expiresAt time.Time
}

// Limiter is a bounded set of per-key attempt counters.
type Limiter struct {
	mu         sync.Mutex
	ttl        time.Duration
	max        int
	maxAttempt int
	entries    map[string]entry
	now        func() time.Time
}

// New constructs a Limiter.
func New(opts Options) *Limiter {
	l := &Limiter{
		ttl:        opts.TTL,
		max:        opts.Max,
		maxAttempt: opts.MaxAttempt,
		entries:    make(map[string]entry),
		now:        time.Now,
	}
	if l.ttl <= 0 {
		l.ttl = DefaultTTL
	}
	if l.max <= 0 {
		l.max = DefaultMax
	}
	if l.maxAttempt <= 0 {
		l.maxAttempt = DefaultMaxAttempt
	}
	return l
}

// WithClock overrides the time source (tests).
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Attempt records one attempt for key and reports whether it is
// admitted. refID correlates the decision in logs.
func (l *Limiter) Attempt(key, refID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()

	if e, ok := l.entries[key]; ok && e.expiresAt.After(now) {
		if e.count >= l.maxAttempt {
			slog.Debug("rate limit reject", slog.String("key", key), slog.String("ref_id", refID), slog.Int("count", e.count))
			return false
		}
		// Count goes up; the window expiry stays put.
		e.count++
		l.entries[key] = e
		return true
	}

	l.sweep(now)
	if len(l.entries) >= l.max {
		slog.Warn("rate limiter live-key cap hit", slog.String("key", key), slog.String("ref_id", refID), slog.Int("max", l.max))
		return false
	}
	l.entries[key] = entry{count: 1, expiresAt: now.Add(l.ttl)}
	return true
}

// SetMaxAttempt updates the per-key attempt ceiling. Non-positive
// values reset it to the default.
func (l *Limiter) SetMaxAttempt(n int, refID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 {
		n = DefaultMaxAttempt
	}
	if n != l.maxAttempt {
		slog.Info("rate limiter max attempt updated", slog.Int("max_attempt", n), slog.String("ref_id", refID))
	}
	l.maxAttempt = n
}

// Live returns the current number of unexpired keys.
func (l *Limiter) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	now := l.now()
	for _, e := range l.entries {
		if e.expiresAt.After(now) {
			n++
		}
	}
	return n
}

func (l *Limiter) sweep(now time.Time) {
	for k, e := range l.entries {
		if !e.expiresAt.After(now) {
			delete(l.entries, k)
		}
	}
}
