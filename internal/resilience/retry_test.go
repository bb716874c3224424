package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	calls := 0
	outcome := Do(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		return nil
	})

	assert.True(t, outcome.Success)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	calls := 0
	outcome := Do(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		if calls < 3 {
			return New(CodeNetwork, "fetch", errors.New("transient"))
		}
		return nil
	})

	assert.True(t, outcome.Success)
	assert.Equal(t, 3, outcome.Attempts)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	cause := New(CodeDatabaseQuery, "persist", errors.New("still down"))
	calls := 0
	outcome := Do(context.Background(), fastRetry(3), func(context.Context) error {
		calls++
		return cause
	})

	assert.False(t, outcome.Success)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, calls)
	typed, ok := AsTyped(outcome.Err)
	require.True(t, ok)
	assert.Equal(t, CodeDatabaseQuery, typed.Code)
}

// A non-retryable error never earns a second attempt.
func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	calls := 0
	outcome := Do(context.Background(), fastRetry(5), func(context.Context) error {
		calls++
		return New(CodeDataValidation, "validate", errors.New("bad candle"))
	})

	assert.False(t, outcome.Success)
	assert.Equal(t, 1, outcome.Attempts)
	assert.Equal(t, 1, calls)
}

// RetryAfter on a rate-limit error is honored: the retry waits at least
// that long before the second attempt.
func TestDo_RateLimitHonorsRetryAfter(t *testing.T) {
	limit := New(CodeRateLimit, "fetch", errors.New("429"))
	limit.RetryAfter = 100 * time.Millisecond

	calls := 0
	start := time.Now()
	outcome := Do(context.Background(), fastRetry(2), func(context.Context) error {
		calls++
		if calls == 1 {
			return limit
		}
		return nil
	})

	assert.True(t, outcome.Success)
	assert.Equal(t, 2, outcome.Attempts)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestDo_ContextCancelledBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	outcome := Do(ctx, RetryConfig{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond}, func(context.Context) error {
		calls++
		cancel()
		return New(CodeNetwork, "fetch", errors.New("transient"))
	})

	assert.False(t, outcome.Success)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, outcome.Err, context.Canceled)
}

func TestBackoffDelay(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, MaxDelay: 350 * time.Millisecond, Multiplier: 2.0}

	assert.Equal(t, 100*time.Millisecond, backoffDelay(cfg, 1))
	assert.Equal(t, 200*time.Millisecond, backoffDelay(cfg, 2))
	// Capped
	assert.Equal(t, 350*time.Millisecond, backoffDelay(cfg, 3))
	assert.Equal(t, 350*time.Millisecond, backoffDelay(cfg, 10))
}

func TestBackoffDelay_Jitter(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 100 * time.Millisecond, Multiplier: 2.0, JitterRange: 0.5}

	for i := 0; i < 50; i++ {
		d := backoffDelay(cfg, 1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
