package pipeline

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy controls how often a failed storage write is attempted again.
type RetryPolicy struct {
	// MaxAttempts includes the first attempt. Values below 1 mean one attempt.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	// Jitter randomizes each delay within [d/2, d].
	Jitter bool
}

// Delay returns the wait before retry n (1-based): InitialBackoff grown by
// Multiplier per retry and capped at MaxBackoff.
func (r RetryPolicy) Delay(n int) time.Duration {
	if r.InitialBackoff <= 0 || n < 1 {
		return 0
	}

	multiplier := r.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}

	d := float64(r.InitialBackoff)
	for i := 1; i < n; i++ {
		d *= multiplier
		if r.MaxBackoff > 0 && d >= float64(r.MaxBackoff) {
			break
		}
	}

	delay := time.Duration(d)
	if r.MaxBackoff > 0 && delay > r.MaxBackoff {
		delay = r.MaxBackoff
	}

	if r.Jitter && delay > 1 {
		half := delay / 2
		delay = half + time.Duration(rand.Int64N(int64(delay-half)+1))
	}
	return delay
}

func (r RetryPolicy) attempts() int {
	if r.MaxAttempts < 1 {
		return 1
	}
	return r.MaxAttempts
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
