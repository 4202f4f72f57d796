// Package ratelimit implements the global UDP admission-control primitive.
//
// TokenBucket is hand-rolled rather than built on golang.org/x/time/rate
// because its contract requires an exact dropped-request counter that can be
// snapshotted and reset atomically (snapshot_dropped_and_reset), something
// x/time/rate does not expose. x/time/rate is still used elsewhere, as a
// secondary per-source-IP limiter in the ingress package — see
// internal/ingress.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket is a continuous-refill token bucket. Acquire and
// SnapshotDroppedAndReset both take the bucket's mutex, so either may be
// called from any goroutine; in this daemon the ingress loop is the single
// caller of Acquire and SnapshotDroppedAndReset runs from a separate
// reporting goroutine.
type TokenBucket struct {
	mu sync.Mutex

	capacity   float64
	refillRate float64 // tokens per second; rate <= 0 disables the bucket entirely
	tokens     float64
	lastRefill time.Time

	dropped uint64
}

// New creates a TokenBucket with the given capacity (also the initial token
// count) and refill rate in tokens/second. A refillRate of 0 or less disables
// rate limiting: Acquire always succeeds and nothing is ever counted as
// dropped.
func New(capacity float64, refillRate float64) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		refillRate: refillRate,
		tokens:     capacity,
		lastRefill: time.Now(),
	}
}

// Acquire attempts to withdraw one token. It reports whether the withdrawal
// succeeded; a false result also increments the internal dropped counter.
// When the bucket is disabled (refillRate <= 0), Acquire always returns true.
func (b *TokenBucket) Acquire() bool {
	if b.refillRate <= 0 {
		return true
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.tokens < 1 {
		b.dropped++
		return false
	}
	b.tokens--
	return true
}

// refillLocked adds tokens for the elapsed time since the last refill,
// capped at capacity. Callers must hold b.mu.
func (b *TokenBucket) refillLocked() {
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// SnapshotDroppedAndReset returns the number of Acquire calls that have
// failed since the last call to SnapshotDroppedAndReset (or since
// construction), then resets the counter to zero. Intended for the ~30s
// rate-limited-drop reporter.
func (b *TokenBucket) SnapshotDroppedAndReset() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.dropped
	b.dropped = 0
	return n
}

// Enabled reports whether this bucket actually enforces a rate, i.e. whether
// it was constructed with a positive refill rate.
func (b *TokenBucket) Enabled() bool {
	return b.refillRate > 0
}
