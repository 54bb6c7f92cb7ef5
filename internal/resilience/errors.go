// Package resilience composes the processing core's retry decorator,
// circuit breaker, and rate limiter into a single fluent call builder.
package resilience

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failure for retry/circuit-breaker purposes:
// kinds, not concrete Go types, drive retry/no-retry decisions.
type ErrorKind string

const (
	KindConfiguration  ErrorKind = "configuration"
	KindDatabase       ErrorKind = "database"
	KindAuthentication ErrorKind = "authentication"
	KindRateLimit      ErrorKind = "rate_limit"
	KindServiceUnavail ErrorKind = "service_unavailable"
	KindAPI            ErrorKind = "api"
	KindTranscription  ErrorKind = "transcription"
	KindInput          ErrorKind = "input"
)

// retryableKinds are retried by the decorator; everything else surfaces
// immediately.
var retryableKinds = map[ErrorKind]bool{
	KindRateLimit:      true,
	KindServiceUnavail: true,
	KindAPI:            true,
}

// CoreError is the single wrapped-error type the core raises, carrying a
// Kind for dispatch and an optional RetryAfter hint (set only for
// KindRateLimit, mirroring a 429's Retry-After header).
type CoreError struct {
	Kind       ErrorKind
	Err        error
	RetryAfter time.Duration
}

func (e *CoreError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CoreError) Unwrap() error { return e.Err }

// NewError wraps err with a kind.
func NewError(kind ErrorKind, err error) *CoreError {
	return &CoreError{Kind: kind, Err: err}
}

// NewRateLimitError wraps err with a retry-after hint.
func NewRateLimitError(err error, retryAfter time.Duration) *CoreError {
	return &CoreError{Kind: KindRateLimit, Err: err, RetryAfter: retryAfter}
}

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *CoreError, otherwise reports KindServiceUnavail — an unclassified
// error is treated as transient so a single unexpected wrap doesn't turn
// a retryable failure into a silent surface.
func KindOf(err error) ErrorKind {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindServiceUnavail
}

// IsRetryable reports whether an error's kind should be retried.
func IsRetryable(err error) bool {
	return retryableKinds[KindOf(err)]
}
