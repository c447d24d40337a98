// Package guardrail holds the two mutation gates: a sliding-window rate
// limiter and a consecutive-failure circuit breaker. Both are plain structs
// owned by the engine coordinator, which serializes access; neither keeps
// module-level state. Counters are process-local and reset on restart.
package guardrail

import (
	"errors"
	"fmt"
	"time"
)

// ErrRateLimited is wrapped by rate-limit rejections.
var ErrRateLimited = errors.New("rate limit exceeded")

type rateEntry struct {
	at        time.Time
	fileCount int
}

// RateLimiter bounds the sum of mutated files inside a sliding wall-clock
// window. Entries older than the window are evicted lazily on each check.
type RateLimiter struct {
	window  time.Duration
	maxOps  int
	entries []rateEntry
	now     func() time.Time
}

// NewRateLimiter builds a limiter. now may be nil (wall clock).
func NewRateLimiter(window time.Duration, maxOps int, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{window: window, maxOps: maxOps, now: now}
}

func (r *RateLimiter) evict() {
	cutoff := r.now().Add(-r.window)
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	r.entries = kept
}

// Used returns the file count currently consumed inside the window.
func (r *RateLimiter) Used() int {
	r.evict()
	sum := 0
	for _, e := range r.entries {
		sum += e.fileCount
	}
	return sum
}

// Remaining returns the quota left in the window.
func (r *RateLimiter) Remaining() int {
	left := r.maxOps - r.Used()
	if left < 0 {
		return 0
	}
	return left
}

// Check evicts stale entries and tests whether n more files would exceed the
// ceiling. It does not consume quota.
func (r *RateLimiter) Check(n int) error {
	used := r.Used()
	if used+n > r.maxOps {
		return fmt.Errorf("%w: %d files in the last %s plus %d requested exceeds the %d file ceiling",
			ErrRateLimited, used, r.window, n, r.maxOps)
	}
	return nil
}

// Record consumes quota for n files. Callers record only after a passed
// check, when the batch is actually applied or staged.
func (r *RateLimiter) Record(n int) {
	r.entries = append(r.entries, rateEntry{at: r.now(), fileCount: n})
}
