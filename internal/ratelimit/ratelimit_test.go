package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestAllow_Unlimited(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 100; i++ {
		if err := l.Allow("alice"); err != nil {
			t.Fatalf("unlimited limiter rejected request %d: %v", i, err)
		}
	}
}

func TestAllow_BurstExhaustion(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("alice"); err != nil {
			t.Fatalf("request %d rejected: %v", i, err)
		}
	}
	if err := l.Allow("alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestAllow_PerUserIsolation(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("alice"); err != nil {
		t.Fatalf("alice rejected: %v", err)
	}
	if err := l.Allow("alice"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected alice rate limited, got %v", err)
	}
	if err := l.Allow("bob"); err != nil {
		t.Fatalf("bob should have an independent bucket: %v", err)
	}
}

func TestAllow_Refills(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 6000, BurstSize: 1})

	if err := l.Allow("alice"); err != nil {
		t.Fatalf("first request rejected: %v", err)
	}

	// Simulate elapsed time by rolling the bucket's clock back.
	l.mu.Lock()
	b := l.buckets["alice"]
	b.refilledAt = b.refilledAt.Add(-time.Second)
	l.mu.Unlock()

	if err := l.Allow("alice"); err != nil {
		t.Fatalf("expected refill after elapsed time, got %v", err)
	}
}

func TestRefill_CapsAtBurst(t *testing.T) {
	b := &tokenBucket{level: 2, refilledAt: time.Now().Add(-time.Hour)}
	b.refill(time.Now(), 1.0, 3)
	if b.level != 3 {
		t.Errorf("level = %v, want capped at burst 3", b.level)
	}
}
