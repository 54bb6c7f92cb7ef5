package resilience

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LimiterConfig configures one provider's token bucket.
type LimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// RateLimiter is a keyed collection of token buckets, one per
// (provider, identifier) pair.
type RateLimiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	defaults LimiterConfig
}

// NewRateLimiter builds a limiter using defaults for any key not
// individually configured via Configure.
func NewRateLimiter(defaults LimiterConfig) *RateLimiter {
	return &RateLimiter{
		buckets:  make(map[string]*rate.Limiter),
		defaults: defaults,
	}
}

func key(provider, identifier string) string {
	if identifier == "" {
		return provider
	}
	return provider + "|" + identifier
}

// Configure sets a non-default bucket for a specific key. Keys that are
// never configured get a default bucket, created lazily on first use.
func (rl *RateLimiter) Configure(provider, identifier string, cfg LimiterConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.buckets[key(provider, identifier)] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
}

func (rl *RateLimiter) bucket(provider, identifier string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	k := key(provider, identifier)
	b, ok := rl.buckets[k]
	if !ok {
		b = rate.NewLimiter(rate.Limit(rl.defaults.RequestsPerSecond), rl.defaults.Burst)
		rl.buckets[k] = b
	}
	return b
}

// Allow reports whether a call for (provider, identifier) may proceed now,
// and if not, how long the caller should wait.
func (rl *RateLimiter) Allow(provider, identifier string) (allowed bool, wait time.Duration) {
	b := rl.bucket(provider, identifier)
	reservation := b.Reserve()
	if !reservation.OK() {
		return false, 0
	}
	delay := reservation.Delay()
	if delay <= 0 {
		return true, 0
	}
	reservation.Cancel()
	return false, delay
}
