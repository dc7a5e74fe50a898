// Package ratelimit throttles how often a single peer may open connections.
package ratelimit

import (
	"sync"
	"time"
)

// TokenBucket implements a token bucket rate limiter
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	rate       float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a new token bucket with the given rate and capacity
func NewTokenBucket(rate, capacity int) *TokenBucket {
	return newTokenBucket(rate, capacity, time.Now)
}

func newTokenBucket(rate, capacity int, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		rate:       float64(rate),
		lastRefill: now(),
		now:        now,
	}
}

// Allow consumes a token if one is available.
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	if elapsed := now.Sub(tb.lastRefill); elapsed > 0 {
		tb.tokens += elapsed.Seconds() * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastRefill = now
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

type peerBucket struct {
	bucket   *TokenBucket
	lastSeen time.Time
}

// AcceptLimiter keeps one bucket per peer host. A zero rate disables it.
type AcceptLimiter struct {
	mu      sync.Mutex
	rate    int
	burst   int
	buckets map[string]*peerBucket
	now     func() time.Time
}

// NewAcceptLimiter returns a limiter allowing rate accepts per second per
// peer with the given burst. Burst defaults to rate when not positive.
func NewAcceptLimiter(rate, burst int) *AcceptLimiter {
	if burst <= 0 {
		burst = rate
	}
	return &AcceptLimiter{rate: rate, burst: burst, buckets: make(map[string]*peerBucket), now: time.Now}
}

// Enabled reports whether the limiter ever denies.
func (l *AcceptLimiter) Enabled() bool { return l != nil && l.rate > 0 }

// Allow reports whether peer may open another connection now.
func (l *AcceptLimiter) Allow(peer string) bool {
	if !l.Enabled() {
		return true
	}
	l.mu.Lock()
	pb, ok := l.buckets[peer]
	if !ok {
		pb = &peerBucket{bucket: newTokenBucket(l.rate, l.burst, l.now)}
		l.buckets[peer] = pb
	}
	pb.lastSeen = l.now()
	l.mu.Unlock()
	return pb.bucket.Allow()
}

// Sweep drops buckets for peers not seen within idle and returns how many remain.
func (l *AcceptLimiter) Sweep(idle time.Duration) int {
	if !l.Enabled() {
		return 0
	}
	cutoff := l.now().Add(-idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	for peer, pb := range l.buckets {
		if pb.lastSeen.Before(cutoff) {
			delete(l.buckets, peer)
		}
	}
	return len(l.buckets)
}
