package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Delay(t *testing.T) {
	policy := RetryPolicy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2,
	}

	tests := []struct {
		retry int
		want  time.Duration
	}{
		{0, 0},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{50, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, policy.Delay(tt.retry), "retry %d", tt.retry)
	}
}

func TestRetryPolicy_DelayWithoutBackoff(t *testing.T) {
	assert.Zero(t, RetryPolicy{Multiplier: 2}.Delay(3))

	// A multiplier below 1 keeps the initial delay.
	flat := RetryPolicy{InitialBackoff: 50 * time.Millisecond, Multiplier: 0.5}
	assert.Equal(t, 50*time.Millisecond, flat.Delay(4))
}

func TestRetryPolicy_Jitter(t *testing.T) {
	policy := RetryPolicy{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2,
		Jitter:         true,
	}

	for i := 0; i < 100; i++ {
		d := policy.Delay(3)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 400*time.Millisecond)
	}
}

func TestRetryPolicy_Attempts(t *testing.T) {
	assert.Equal(t, 1, RetryPolicy{}.attempts())
	assert.Equal(t, 4, RetryPolicy{MaxAttempts: 4}.attempts())
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleepContext(ctx, 0), context.Canceled)
}
