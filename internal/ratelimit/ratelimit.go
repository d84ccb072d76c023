// Package ratelimit implements per-token request and cache-action rate
// limiting with lazy-refill token buckets.
package ratelimit

import (
	"sync"
	"time"
)

// Limits holds the effective per-minute limits for a token.
// A value of 0 means unlimited.
type Limits struct {
	RPM     int64 // authenticated API requests
	Actions int64 // cache mutations (create, refresh, delete, flush)
}

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed           bool
	Limit             int64
	Remaining         int64
	RetryAfterSeconds float64
}

// Bucket is a token bucket with lazy refill (no background goroutine).
type Bucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastFill time.Time
}

func newBucket(limit int64) *Bucket {
	return &Bucket{
		tokens:   float64(limit),
		max:      float64(limit),
		rate:     float64(limit) / 60.0, // per-minute limit -> per-second rate
		lastFill: time.Now(),
	}
}

func (b *Bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.max, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

func (b *Bucket) tryConsume(n float64, now time.Time) (remaining int64, allowed bool) {
	b.refill(now)
	if b.tokens >= n {
		b.tokens -= n
		return int64(b.tokens), true
	}
	return 0, false
}

// retryAfter returns seconds until n tokens are available.
func (b *Bucket) retryAfter(n float64) float64 {
	if b.tokens >= n {
		return 0
	}
	return (n - b.tokens) / b.rate
}

// Limiter holds the request and action buckets of a single token.
type Limiter struct {
	mu       sync.Mutex
	rpm      *Bucket // nil if unlimited
	actions  *Bucket // nil if unlimited
	limits   Limits
	lastUsed time.Time
}

func newLimiter(limits Limits) *Limiter {
	l := &Limiter{limits: limits, lastUsed: time.Now()}
	if limits.RPM > 0 {
		l.rpm = newBucket(limits.RPM)
	}
	if limits.Actions > 0 {
		l.actions = newBucket(limits.Actions)
	}
	return l
}

// AllowRPM consumes one request token.
func (l *Limiter) AllowRPM() Result {
	return l.consume(func() (*Bucket, int64) { return l.rpm, l.limits.RPM }, 1)
}

// AllowAction consumes weight action tokens. Weights above the bucket
// capacity are clamped to it.
func (l *Limiter) AllowAction(weight int64) Result {
	return l.consume(func() (*Bucket, int64) { return l.actions, l.limits.Actions }, weight)
}

func (l *Limiter) consume(pick func() (*Bucket, int64), n int64) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.lastUsed = now

	b, limit := pick()
	if b == nil {
		return Result{Allowed: true}
	}
	cost := float64(min(max(n, 1), limit))
	if remaining, ok := b.tryConsume(cost, now); ok {
		return Result{Allowed: true, Limit: limit, Remaining: remaining}
	}
	return Result{
		Allowed:           false,
		Limit:             limit,
		Remaining:         0,
		RetryAfterSeconds: b.retryAfter(cost),
	}
}

// Registry manages per-token Limiters.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry creates a new rate limiter registry.
func NewRegistry() *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
	}
}

// GetOrCreate returns the limiter for tokenID, creating one if needed.
// If the token's limits have changed, a new limiter is created.
func (r *Registry) GetOrCreate(tokenID string, limits Limits) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[tokenID]
	r.mu.RUnlock()
	if ok && l.limits == limits {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Double-check after acquiring write lock.
	if l, ok := r.limiters[tokenID]; ok && l.limits == limits {
		return l
	}
	l = newLimiter(limits)
	r.limiters[tokenID] = l
	return l
}

// Len returns the number of tracked limiters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

// EvictStale removes limiters not used since cutoff.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for k, l := range r.limiters {
		l.mu.Lock()
		stale := l.lastUsed.Before(cutoff)
		l.mu.Unlock()
		if stale {
			delete(r.limiters, k)
			evicted++
		}
	}
	return evicted
}
