package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrBreakerOpen is returned without invoking the wrapped operation while
// the breaker is open.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	Name             string        // dependency name, used in logs
	FailureThreshold int           // consecutive failures before opening
	ResetTimeout     time.Duration // OPEN → HALF_OPEN delay
	MonitorWindow    time.Duration // window for the cumulative failure history

	// OnStateChange is invoked after each state transition, while the
	// breaker's lock is held; it must not call back into the breaker.
	// Optional.
	OnStateChange func(name string, from, to BreakerState)
}

// CircuitBreaker protects one downstream dependency. It is the single
// shared mutable resource across concurrent callers of that dependency;
// all state transitions happen under its lock and only through Execute.
type CircuitBreaker struct {
	config BreakerConfig
	logger *logrus.Logger
	now    func() time.Time

	mu              sync.Mutex
	state           BreakerState
	failureCount    int // consecutive failures
	lastFailureTime time.Time
	openedAt        time.Time
	probing         bool        // one probe in flight while half-open
	history         []time.Time // failure timestamps within MonitorWindow
}

// NewCircuitBreaker creates a breaker in the CLOSED state.
func NewCircuitBreaker(config BreakerConfig, logger *logrus.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 60 * time.Second
	}
	if config.MonitorWindow <= 0 {
		config.MonitorWindow = 10 * time.Minute
	}
	if config.Name == "" {
		config.Name = "breaker"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CircuitBreaker{
		config: config,
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
}

// WithClock injects a clock, for deterministic tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Execute runs fn under breaker protection. While OPEN it fails fast with
// ErrBreakerOpen and never invokes fn. The first call after ResetTimeout
// elapses is let through as a HALF_OPEN probe.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.afterCall(err)
	return err
}

// beforeCall decides whether the call may proceed.
func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.ResetTimeout {
			return ErrBreakerOpen
		}
		cb.setState(StateHalfOpen)
		cb.probing = true
		return nil
	case StateHalfOpen:
		if cb.probing {
			// A probe is already in flight; keep failing fast.
			return ErrBreakerOpen
		}
		cb.probing = true
		return nil
	default:
		return ErrBreakerOpen
	}
}

// afterCall records the result and transitions state.
func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		now := cb.now()
		cb.failureCount++
		cb.lastFailureTime = now
		cb.history = append(cb.history, now)
		cb.pruneHistory(now)

		switch cb.state {
		case StateClosed:
			if cb.failureCount >= cb.config.FailureThreshold {
				cb.openedAt = now
				cb.setState(StateOpen)
			}
		case StateHalfOpen:
			cb.probing = false
			cb.openedAt = now
			cb.setState(StateOpen)
		}
		return
	}

	// Success. In CLOSED the consecutive counter resets but the windowed
	// history is kept; a successful probe closes the breaker fully.
	switch cb.state {
	case StateClosed:
		cb.failureCount = 0
		cb.pruneHistory(cb.now())
	case StateHalfOpen:
		cb.probing = false
		cb.failureCount = 0
		cb.history = nil
		cb.setState(StateClosed)
	}
}

// pruneHistory drops failure timestamps older than the monitoring window.
// Caller must hold mu.
func (cb *CircuitBreaker) pruneHistory(now time.Time) {
	cutoff := now.Add(-cb.config.MonitorWindow)
	i := 0
	for i < len(cb.history) && cb.history[i].Before(cutoff) {
		i++
	}
	cb.history = cb.history[i:]
}

// setState logs the transition. Caller must hold mu.
func (cb *CircuitBreaker) setState(state BreakerState) {
	if cb.state == state {
		return
	}
	old := cb.state
	cb.state = state
	cb.logger.WithFields(logrus.Fields{
		"breaker": cb.config.Name,
		"from":    old.String(),
		"to":      state.String(),
	}).Info("circuit breaker state changed")
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, old, state)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailuresInWindow returns the number of failures recorded within the
// monitoring window.
func (cb *CircuitBreaker) FailuresInWindow() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.pruneHistory(cb.now())
	return len(cb.history)
}
