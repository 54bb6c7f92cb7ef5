package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig holds the retry decorator's parameters.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

// DefaultRetryConfig returns sane retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		InitialDelay:  500 * time.Millisecond,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
	}
}

// Retry runs fn, retrying errors classified retryable by IsRetryable, up to
// MaxRetries+1 total attempts, backing off exponentially and honouring a
// RateLimit error's RetryAfter hint by clamping the next delay to it.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialDelay
	b.Multiplier = cfg.BackoffFactor
	b.MaxInterval = cfg.MaxDelay

	op := func() (struct{}, error) {
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if !IsRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		if ce, ok := asCoreError(err); ok && ce.RetryAfter > 0 {
			wait := ce.RetryAfter
			if wait > cfg.MaxDelay {
				wait = cfg.MaxDelay
			}
			b.MaxInterval = wait
		}
		return struct{}{}, err
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(cfg.MaxRetries+1)),
	)
	if err != nil {
		return fmt.Errorf("retry exhausted: %w", err)
	}
	return nil
}

func asCoreError(err error) (*CoreError, bool) {
	ce, ok := err.(*CoreError)
	if ok {
		return ce, true
	}
	type unwrapper interface{ Unwrap() error }
	if u, ok := err.(unwrapper); ok {
		return asCoreError(u.Unwrap())
	}
	return nil, false
}
