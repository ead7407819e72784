package middleware

import (
	"testing"
	"time"

	"github.com/company-assistant-go/internal/config"
	"github.com/company-assistant-go/pkg/logger"
)

func TestRateLimiterDisabledAllowsEverything(t *testing.T) {
	rl := NewRateLimiter(&config.RateLimitConfig{Enabled: false}, logger.Discard())
	for i := 0; i < 100; i++ {
		if !rl.Allow("conv") {
			t.Fatalf("disabled limiter rejected call %d", i)
		}
	}
}

func TestRateLimiterBurstPerKey(t *testing.T) {
	rl := NewRateLimiter(&config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 2}, logger.Discard())

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatalf("expected burst of 2 to be allowed")
	}
	if rl.Allow("a") {
		t.Fatalf("expected third call to be limited")
	}
	if !rl.Allow("b") {
		t.Fatalf("keys must not share a bucket")
	}

	rl.Reset("a")
	if !rl.Allow("a") {
		t.Fatalf("expected reset bucket to allow again")
	}
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(&config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1}, logger.Discard())
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("old")
	now = now.Add(2 * time.Hour)
	rl.Allow("new")

	rl.mu.Lock()
	_, stillThere := rl.limiters["old"]
	rl.mu.Unlock()
	if stillThere {
		t.Fatalf("expected idle key to be evicted")
	}
}
