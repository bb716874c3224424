package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryConfig controls the retry primitive.
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first
	BaseDelay   time.Duration // first backoff delay
	MaxDelay    time.Duration // backoff cap
	Multiplier  float64       // exponential backoff multiplier
	JitterRange float64       // 0..1, fraction of the delay randomized
}

// DefaultRetryConfig is the generic fallback policy: base 2s, cap 15s,
// two attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 2,
		BaseDelay:   2 * time.Second,
		MaxDelay:    15 * time.Second,
		Multiplier:  2.0,
		JitterRange: 0.1,
	}
}

// Outcome reports how a retried operation concluded.
type Outcome struct {
	Success   bool
	Err       error // the final error when Success is false
	Attempts  int
	TotalTime time.Duration
}

// Do runs fn up to cfg.MaxAttempts times, sleeping an exponentially
// increasing, optionally jittered delay between attempts. A non-retryable
// typed error stops immediately with Attempts == 1 on the first try. A
// RATE_LIMIT error with a RetryAfter hint sleeps that long instead of the
// backoff delay. Context cancellation stops the loop between attempts.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) Outcome {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2.0
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Outcome{Err: err, Attempts: attempt - 1, TotalTime: time.Since(start)}
		}

		err := fn(ctx)
		if err == nil {
			return Outcome{Success: true, Attempts: attempt, TotalTime: time.Since(start)}
		}
		lastErr = err

		typed := Classify(err)
		if !typed.Retryable {
			return Outcome{Err: err, Attempts: attempt, TotalTime: time.Since(start)}
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempt)
		if typed.Code == CodeRateLimit && typed.RetryAfter > 0 {
			// Server-instructed wait escalates with each repeat.
			delay = typed.RetryAfter * time.Duration(attempt)
		}

		select {
		case <-ctx.Done():
			return Outcome{Err: ctx.Err(), Attempts: attempt, TotalTime: time.Since(start)}
		case <-time.After(delay):
		}
	}

	return Outcome{Err: lastErr, Attempts: cfg.MaxAttempts, TotalTime: time.Since(start)}
}

// backoffDelay computes the delay before attempt+1:
// baseDelay * multiplier^(attempt-1), capped at MaxDelay, with jitter.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.JitterRange > 0 {
		jitter := rand.Float64() * cfg.JitterRange * delay
		if rand.Float64() < 0.5 {
			delay -= jitter
		} else {
			delay += jitter
		}
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
