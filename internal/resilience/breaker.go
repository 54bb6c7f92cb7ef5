package resilience

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig holds circuit-breaker parameters.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	RecoveryTimeout  time.Duration
}

// DefaultBreakerConfig returns sane circuit-breaker defaults.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// Breaker wraps gobreaker.CircuitBreaker with the core's three named states
// and logs every CLOSED/OPEN/HALF_OPEN transition.
type Breaker struct {
	cb *gobreaker.CircuitBreaker[any]
}

// NewBreaker builds a breaker that trips once FailureThreshold consecutive
// failures occur and allows one trial call after RecoveryTimeout.
func NewBreaker(cfg BreakerConfig) *Breaker {
	settings := gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// Execute runs fn through the breaker. When OPEN, it fails fast with a
// ServiceUnavailable CoreError without invoking fn.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, NewError(KindServiceUnavail, err)
		}
		return nil, err
	}
	return result, nil
}

// State reports the breaker's current state as an ErrorKind-neutral string,
// used only for metrics/status reporting.
func (b *Breaker) State() string {
	return b.cb.State().String()
}
