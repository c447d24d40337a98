// internal/guardrail/breaker.go
package guardrail

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrBreakerOpen is wrapped by circuit-breaker rejections.
var ErrBreakerOpen = errors.New("circuit breaker tripped")

// BreakerStatus is the observable breaker state.
type BreakerStatus struct {
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Open                bool          `json:"open"`
	LockedUntil         time.Time     `json:"locked_until,omitempty"`
	RemainingCooldown   time.Duration `json:"remaining_cooldown,omitempty"`
}

// CircuitBreaker locks out mutation after a run of consecutive failures.
// Two states: armed and tripped. armed -> tripped on threshold breach,
// tripped -> armed on cooldown expiry or manual reset.
type CircuitBreaker struct {
	threshold int
	cooldown  time.Duration

	consecutiveFailures int
	lockedUntil         time.Time

	now func() time.Time
	log *zap.Logger
}

// NewCircuitBreaker builds a breaker. now may be nil (wall clock).
func NewCircuitBreaker(threshold int, cooldown time.Duration, now func() time.Time, log *zap.Logger) *CircuitBreaker {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, now: now, log: log}
}

// Check rejects while the cooldown is running. An expired cooldown re-arms
// the breaker in place.
func (b *CircuitBreaker) Check() error {
	if b.lockedUntil.IsZero() {
		return nil
	}
	now := b.now()
	if now.Before(b.lockedUntil) {
		remaining := b.lockedUntil.Sub(now)
		return fmt.Errorf("%w: locked for another %.0f minutes after %d consecutive failures",
			ErrBreakerOpen, remaining.Minutes(), b.consecutiveFailures)
	}
	// Cooldown elapsed.
	b.lockedUntil = time.Time{}
	b.consecutiveFailures = 0
	return nil
}

// RecordFailure increments the counter and trips the breaker at the
// threshold. Returns true when this failure tripped it.
func (b *CircuitBreaker) RecordFailure() bool {
	b.consecutiveFailures++
	if b.consecutiveFailures >= b.threshold && b.lockedUntil.IsZero() {
		b.lockedUntil = b.now().Add(b.cooldown)
		b.log.Error("circuit breaker tripped",
			zap.Int("consecutive_failures", b.consecutiveFailures),
			zap.Time("locked_until", b.lockedUntil))
		return true
	}
	return false
}

// RecordSuccess zeroes the failure counter.
func (b *CircuitBreaker) RecordSuccess() {
	b.consecutiveFailures = 0
}

// Reset is the explicit manual override: re-arms immediately.
func (b *CircuitBreaker) Reset() {
	b.consecutiveFailures = 0
	b.lockedUntil = time.Time{}
	b.log.Info("circuit breaker manually reset")
}

// Status exposes counter and lock state for observability.
func (b *CircuitBreaker) Status() BreakerStatus {
	st := BreakerStatus{ConsecutiveFailures: b.consecutiveFailures}
	if !b.lockedUntil.IsZero() && b.now().Before(b.lockedUntil) {
		st.Open = true
		st.LockedUntil = b.lockedUntil
		st.RemainingCooldown = b.lockedUntil.Sub(b.now())
	}
	return st
}
