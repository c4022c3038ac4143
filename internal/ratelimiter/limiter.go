// Package ratelimiter implements the fixed-window limiter that guards the
// worker's own diagnostic logging, keyed by (error_module, error_class[,
// errno]) so a sustained failure mode doesn't spam the host's log sink.
//
// The original Python implementation reaches for the external `limits`
// package (FixedWindowRateLimiter over a string key, returning "remaining
// in window"). This package keeps a map-of-buckets-behind-a-mutex shape
// but implements a fixed window counter directly, matching that
// remaining-in-window signal rather than a token-bucket's smoothed rate.
package ratelimiter

import (
	"sync"
	"time"
)

type window struct {
	start time.Time
	count int
}

// Limiter is a fixed-window rate limiter over string keys. A nil *Limiter is
// valid and always allows (mirrors the source's ERROR_LOG_RATE_LIMIT=None
// disabling rate limiting entirely).
type Limiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*window
}

// New creates a limiter allowing up to limit hits per window duration, per
// key. Pass a nil *Limiter (not this constructor) to disable rate limiting.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*window),
	}
}

// Hit records one occurrence of key and returns how many occurrences, this
// one included, the current window still allows before suppression kicks in
// (the source's get_window_stats + hit combined into one call, since nothing
// here inspects the remaining count without also recording the hit).
//
// Semantics follow a three-way policy:
//   - remaining <= 0: caller should suppress the message entirely.
//   - remaining == 1: caller should annotate the message as rate-limiting.
//   - remaining > 1: caller should emit normally.
func (l *Limiter) Hit(key string) int {
	if l == nil {
		return 2 // unlimited: any value > 1 means "allowed, no annotation"
	}

	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.buckets[key]
	if !ok || now.Sub(w.start) >= l.window {
		w = &window{start: now, count: 0}
		l.buckets[key] = w
	}

	// remaining reflects the count *before* this hit is recorded, matching
	// the source's get_window_stats()-then-hit() two-step.
	remaining := l.limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	w.count++
	return remaining
}
