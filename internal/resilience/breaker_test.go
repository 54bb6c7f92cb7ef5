package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterThresholdAndFastFails(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test", FailureThreshold: 3, RecoveryTimeout: 50 * time.Millisecond})

	failing := func() (any, error) { return nil, errors.New("boom") }

	for i := 0; i < 3; i++ {
		_, err := b.Execute(failing)
		require.Error(t, err)
	}

	calls := 0
	_, err := b.Execute(func() (any, error) {
		calls++
		return nil, nil
	})

	require.Error(t, err)
	assert.Equal(t, 0, calls, "breaker must fail fast without invoking the wrapped call")

	var ce *CoreError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, KindServiceUnavail, ce.Kind)
}

func TestBreakerRecoversAfterTimeout(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test-recover", FailureThreshold: 1, RecoveryTimeout: 10 * time.Millisecond})

	_, _ = b.Execute(func() (any, error) { return nil, errors.New("boom") })
	time.Sleep(20 * time.Millisecond)

	calls := 0
	_, err := b.Execute(func() (any, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
