// Package ratelimit bounds how fast a single user can open chat and voice
// sessions. Each user draws from an independent token bucket, so one caller
// hammering the API cannot starve everyone else's streams. Buckets refill
// lazily on access; there are no background goroutines to manage.
package ratelimit

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when the user's bucket is empty.
var ErrRateLimited = errors.New("rate limit exceeded")

// Config configures per-user session quotas.
type Config struct {
	RequestsPerMinute int // Sustained refill rate. 0 disables limiting entirely.
	BurstSize         int // Bucket capacity. 0 = same as RequestsPerMinute.
}

// Limiter tracks one token bucket per user ID.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	rate    float64 // tokens per second
	burst   float64 // bucket capacity
}

// tokenBucket is one user's quota state. The level is fractional: a user who
// waited half a refill interval has earned half a token.
type tokenBucket struct {
	level      float64
	refilledAt time.Time
}

// refill credits tokens for the time elapsed since the last access, capped
// at the bucket capacity.
func (b *tokenBucket) refill(now time.Time, rate, burst float64) {
	b.level += now.Sub(b.refilledAt).Seconds() * rate
	if b.level > burst {
		b.level = burst
	}
	b.refilledAt = now
}

// NewLimiter creates a limiter from the given quota configuration.
// A zero RequestsPerMinute means Allow always succeeds.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	if burst <= 0 {
		burst = 1 // safety floor
	}
	return &Limiter{
		buckets: make(map[string]*tokenBucket),
		rate:    float64(cfg.RequestsPerMinute) / 60.0,
		burst:   float64(burst),
	}
}

// Allow consumes one token from the user's bucket. A user's first request
// starts from a full bucket, so short bursts up to BurstSize pass before
// the sustained rate applies. Returns ErrRateLimited when the bucket is dry.
func (l *Limiter) Allow(userID string) error {
	if l.rate <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[userID]
	if !ok {
		b = &tokenBucket{level: l.burst, refilledAt: now}
		l.buckets[userID] = b
	}
	b.refill(now, l.rate, l.burst)

	if b.level < 1 {
		return ErrRateLimited
	}
	b.level--
	return nil
}
