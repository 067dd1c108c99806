// ratelimit.go implements token-bucket rate limiting for the CLOB API.
//
// Write operations (order placement, cancels) must clear two buckets before
// the HTTP request goes out: a burst bucket that smooths spikes inside a
// second and a sustained bucket that bounds the long-run rate. Both must
// yield; when only one does its token is put back so a blocked caller never
// leaks capacity. Book reads use a single bucket.
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// refillLocked advances the token count to now. Caller holds mu.
func (tb *TokenBucket) refillLocked(now time.Time) {
	elapsed := now.Sub(tb.lastTime).Seconds()
	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastTime = now
}

// TryTake takes one token without blocking. Returns false when the bucket
// is empty.
func (tb *TokenBucket) TryTake() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked(time.Now())
	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Give returns one token, capped at capacity. Used to undo a TryTake when
// a paired bucket refused.
func (tb *TokenBucket) Give() {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.tokens++
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}

// NextWait returns how long until one token is available. Zero when a token
// is available now.
func (tb *TokenBucket) NextWait() time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.refillLocked(time.Now())
	if tb.tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		tb.refillLocked(time.Now())
		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// DualLimiter pairs a burst bucket with a sustained bucket. Acquire succeeds
// only when both yield a token in the same attempt; a token taken from one
// while the other refuses is restored immediately.
type DualLimiter struct {
	burst     *TokenBucket
	sustained *TokenBucket
}

// NewDualLimiter builds a write limiter. Burst capacity equals the burst
// rate (a full second of headroom); sustained capacity equals the sustained
// rate.
func NewDualLimiter(burstPerSec, sustainedPerSec float64) *DualLimiter {
	return &DualLimiter{
		burst:     NewTokenBucket(burstPerSec, burstPerSec),
		sustained: NewTokenBucket(sustainedPerSec, sustainedPerSec),
	}
}

// Acquire blocks until both buckets yield a token or ctx is cancelled.
func (d *DualLimiter) Acquire(ctx context.Context) error {
	for {
		okBurst := d.burst.TryTake()
		okSust := d.sustained.TryTake()
		if okBurst && okSust {
			return nil
		}
		if okBurst {
			d.burst.Give()
		}
		if okSust {
			d.sustained.Give()
		}

		// Sleep until the emptier bucket's next token; retry the joint take
		// then. A zero wait means that bucket already has tokens, so the
		// other one is the blocker.
		waitB := d.burst.NextWait()
		waitS := d.sustained.NextWait()
		wait := waitB
		if wait == 0 || (waitS > 0 && waitS < wait) {
			wait = waitS
		}
		if wait <= 0 {
			wait = time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups limiters by API operation class. Every order or cancel
// acquires Write; every book read waits on Book.
type RateLimiter struct {
	Write *DualLimiter // POST /order, DELETE /order(s), /cancel-all
	Book  *TokenBucket // GET /book — order book reads
}

// NewRateLimiter creates the operation limiters. Book reads get a fixed
// smooth allowance matching the venue's published 1500-per-10s read limit.
func NewRateLimiter(burstPerSec, sustainedPerSec float64) *RateLimiter {
	return &RateLimiter{
		Write: NewDualLimiter(burstPerSec, sustainedPerSec),
		Book:  NewTokenBucket(150, 15), // 1500 per 10s window
	}
}
