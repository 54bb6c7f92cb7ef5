package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, BackoffFactor: 2, MaxDelay: 10 * time.Millisecond}
	attempts := 0

	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return NewError(KindServiceUnavail, errors.New("unavailable"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryDoesNotRetryNonRetryableKind(t *testing.T) {
	cfg := DefaultRetryConfig()
	attempts := 0

	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return NewError(KindAuthentication, errors.New("bad key"))
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetryExhaustsAfterMaxRetries(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, InitialDelay: time.Millisecond, BackoffFactor: 1, MaxDelay: time.Millisecond}
	attempts := 0

	err := Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		return NewError(KindServiceUnavail, errors.New("down"))
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts) // initial + 2 retries
}
