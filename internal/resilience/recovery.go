package resilience

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"token-feature-lab/internal/domain"
)

// timeoutExtendFactor multiplies the exceeded deadline on a timeout retry.
const timeoutExtendFactor = 1.5

// Op is a recoverable operation.
type Op func(ctx context.Context) error

// RecoveryContext is the ephemeral state of one recovery call. It is owned
// exclusively by the Execute invocation that created it and discarded when
// that call returns.
type RecoveryContext struct {
	Operation   string
	TokenID     string
	Timeframe   domain.Timeframe
	Attempt     int
	MaxAttempts int
	Err         *Error
}

// Strategy pairs a predicate with the retry policy applied when it matches.
// Strategies are evaluated top-down, most specific first.
type Strategy struct {
	Name          string
	Match         func(*Error) bool
	Retry         RetryConfig
	ExtendTimeout bool // multiply the exceeded deadline by timeoutExtendFactor on retry
}

// Manager selects and applies a recovery strategy for failed operations.
// The ordered strategy list is built once at startup and shared by
// reference; Manager itself is immutable after construction.
type Manager struct {
	strategies []Strategy
	logger     *logrus.Logger
}

// NewManager creates a Manager with the default ordered strategies.
func NewManager(logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{
		logger: logger,
		strategies: []Strategy{
			{
				Name:  "rate-limit-wait",
				Match: func(e *Error) bool { return e.Code == CodeRateLimit },
				// RetryAfter takes precedence inside the retry primitive;
				// this backoff is the fallback when the hint is absent.
				Retry: RetryConfig{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2.0},
			},
			{
				Name:          "timeout-extend",
				Match:         func(e *Error) bool { return e.Code == CodeTimeout },
				Retry:         RetryConfig{MaxAttempts: 2},
				ExtendTimeout: true,
			},
			{
				Name:  "db-reconnect-backoff",
				Match: func(e *Error) bool { return e.Code == CodeDatabaseConnection },
				Retry: RetryConfig{MaxAttempts: 5, BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second, Multiplier: 2.0, JitterRange: 0.1},
			},
			{
				Name:  "db-query-backoff",
				Match: func(e *Error) bool { return e.Code == CodeDatabaseQuery },
				Retry: RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 1.5},
			},
			{
				Name: "insufficient-data-once",
				// Non-retryable in general, but data may have arrived since:
				// one immediate retry, then terminal.
				Match: func(e *Error) bool { return e.Code == CodeInsufficientData },
				Retry: RetryConfig{MaxAttempts: 2},
			},
			{
				Name:  "generic-retry",
				Match: func(e *Error) bool { return e.Retryable },
				Retry: DefaultRetryConfig(),
			},
		},
	}
}

// WithStrategies replaces the strategy list, for tests.
func (m *Manager) WithStrategies(strategies []Strategy) *Manager {
	m.strategies = strategies
	return m
}

// selectStrategy returns the first strategy matching the error, or nil when
// the error is terminal.
func (m *Manager) selectStrategy(e *Error) *Strategy {
	if e.Code == CodeInsufficientData {
		// Checked before the generic retryable gate below.
		for i := range m.strategies {
			if m.strategies[i].Match(e) {
				return &m.strategies[i]
			}
		}
	}
	if !e.Retryable {
		return nil
	}
	for i := range m.strategies {
		if m.strategies[i].Match(e) {
			return &m.strategies[i]
		}
	}
	return nil
}

// Execute runs the operation once and, on failure, applies the first
// matching recovery strategy. Non-retryable errors (validation,
// configuration) terminate immediately with Attempts == 1. The returned
// Outcome always carries the typed final error on failure.
func (m *Manager) Execute(ctx context.Context, operation, tokenID string, timeframe domain.Timeframe, fn Op) Outcome {
	start := time.Now()

	err := fn(ctx)
	if err == nil {
		return Outcome{Success: true, Attempts: 1, TotalTime: time.Since(start)}
	}

	typed := Classify(err)
	if typed.TokenID == "" {
		typed.WithTask(tokenID, timeframe)
	}

	strategy := m.selectStrategy(typed)
	if strategy == nil {
		m.logger.WithFields(logrus.Fields{
			"operation": operation,
			"token_id":  tokenID,
			"timeframe": timeframe,
			"code":      typed.Code,
		}).Warn("non-retryable error, not recovering")
		return Outcome{Err: typed, Attempts: 1, TotalTime: time.Since(start)}
	}

	rc := RecoveryContext{
		Operation:   operation,
		TokenID:     tokenID,
		Timeframe:   timeframe,
		Attempt:     1,
		MaxAttempts: strategy.Retry.MaxAttempts,
		Err:         typed,
	}
	m.logger.WithFields(logrus.Fields{
		"operation": rc.Operation,
		"token_id":  rc.TokenID,
		"timeframe": rc.Timeframe,
		"code":      typed.Code,
		"strategy":  strategy.Name,
	}).Warn("recovering from failure")

	retryFn := fn
	if strategy.ExtendTimeout && typed.Timeout > 0 {
		extended := time.Duration(float64(typed.Timeout) * timeoutExtendFactor)
		retryFn = func(ctx context.Context) error {
			tctx, cancel := context.WithTimeout(ctx, extended)
			defer cancel()
			return fn(tctx)
		}
	}

	// Wait out the first failure before retrying. Rate limits honor the
	// server-instructed wait; other classes use the strategy's backoff.
	delay := backoffDelay(strategy.Retry, 1)
	if typed.Code == CodeRateLimit && typed.RetryAfter > 0 {
		delay = typed.RetryAfter
	}
	if delay > 0 {
		select {
		case <-ctx.Done():
			return Outcome{Err: typed, Attempts: 1, TotalTime: time.Since(start)}
		case <-time.After(delay):
		}
	}

	// The first attempt is already spent; the retry primitive runs the rest.
	remaining := strategy.Retry
	remaining.MaxAttempts = strategy.Retry.MaxAttempts - 1
	outcome := Do(ctx, remaining, retryFn)

	outcome.Attempts++
	outcome.TotalTime = time.Since(start)
	if !outcome.Success {
		// Re-classify: the last failure may differ from the first.
		final := Classify(outcome.Err)
		if final.TokenID == "" {
			final.WithTask(tokenID, timeframe)
		}
		outcome.Err = final
	}
	return outcome
}
