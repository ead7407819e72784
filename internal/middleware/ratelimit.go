package middleware

import (
	"sync"
	"time"

	"github.com/company-assistant-go/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Allow(key string) bool
	Reset(key string)
}

// KeyRateLimiter keeps one token bucket per key (the conversation id for
// ask calls)
type KeyRateLimiter struct {
	enabled  bool
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	rpm      int
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
	logger   *logrus.Logger
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.RateLimitConfig, logger *logrus.Logger) *KeyRateLimiter {
	if !cfg.Enabled || cfg.RequestsPerMinute <= 0 {
		return &KeyRateLimiter{enabled: false}
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &KeyRateLimiter{
		enabled:  true,
		limiters: make(map[string]*limiterEntry),
		rpm:      cfg.RequestsPerMinute,
		burst:    burst,
		idleTTL:  time.Hour,
		now:      time.Now,
		logger:   logger,
	}
}

// Allow checks whether a call for key may proceed
func (r *KeyRateLimiter) Allow(key string) bool {
	if !r.enabled {
		return true
	}

	allowed := r.getLimiter(key).Allow()
	if !allowed {
		r.logger.WithField("key", key).Warn("Rate limit exceeded")
	}
	return allowed
}

// Reset forgets the bucket of key
func (r *KeyRateLimiter) Reset(key string) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	delete(r.limiters, key)
	r.mu.Unlock()
}

func (r *KeyRateLimiter) getLimiter(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if entry, exists := r.limiters[key]; exists {
		entry.lastSeen = now
		return entry.limiter
	}

	r.evictIdleLocked(now)

	// Rate per second = RPM / 60
	rps := float64(r.rpm) / 60.0
	limiter := rate.NewLimiter(rate.Limit(rps), r.burst)
	r.limiters[key] = &limiterEntry{limiter: limiter, lastSeen: now}
	return limiter
}

func (r *KeyRateLimiter) evictIdleLocked(now time.Time) {
	for key, entry := range r.limiters {
		if now.Sub(entry.lastSeen) > r.idleTTL {
			delete(r.limiters, key)
		}
	}
}
