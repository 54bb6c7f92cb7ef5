package resilience

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Call is a small fluent builder that makes the composition order
// explicit at the call site: rate-limit -> logging -> circuit -> retry ->
// call.
type Call struct {
	name     string
	limiter  *RateLimiter
	provider string
	identity string
	breaker  *Breaker
	retry    RetryConfig
	useRetry bool
}

// NewCall starts a builder for an operation named name (used in log lines
// and metrics labels).
func NewCall(name string) *Call {
	return &Call{name: name, retry: DefaultRetryConfig()}
}

// WithRateLimit attaches a token-bucket check keyed by (provider, identity).
func (c *Call) WithRateLimit(limiter *RateLimiter, provider, identity string) *Call {
	c.limiter = limiter
	c.provider = provider
	c.identity = identity
	return c
}

// WithCircuitBreaker attaches a circuit breaker guarding the call.
func (c *Call) WithCircuitBreaker(b *Breaker) *Call {
	c.breaker = b
	return c
}

// WithRetry overrides the retry configuration (defaults to
// DefaultRetryConfig).
func (c *Call) WithRetry(cfg RetryConfig) *Call {
	c.retry = cfg
	c.useRetry = true
	return c
}

// Do executes fn through the configured chain: rate-limit wait, a debug
// log line, the circuit breaker, then the retry decorator around fn
// inside the breaker, so the breaker sees one outcome per retried call.
func (c *Call) Do(ctx context.Context, fn func(context.Context) error) error {
	if c.limiter != nil {
		allowed, wait := c.limiter.Allow(c.provider, c.identity)
		if !allowed {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	log.Debug().Str("call", c.name).Msg("resilient call starting")

	if c.breaker == nil {
		return Retry(ctx, c.retry, fn)
	}
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, Retry(ctx, c.retry, fn)
	})
	return err
}
