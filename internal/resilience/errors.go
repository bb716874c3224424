// Package resilience provides the error taxonomy, retry primitive, recovery
// strategy registry and circuit breaker that make the pipeline tolerate
// partial failure.
package resilience

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"token-feature-lab/internal/domain"
)

// Code identifies an error class in the taxonomy.
type Code string

const (
	CodeDatabaseConnection Code = "DATABASE_CONNECTION"
	CodeDatabaseQuery      Code = "DATABASE_QUERY"
	CodeDataValidation     Code = "DATA_VALIDATION"
	CodeComputation        Code = "COMPUTATION"
	CodeNetwork            Code = "NETWORK"
	CodeConfiguration      Code = "CONFIGURATION"
	CodeWorker             Code = "WORKER"
	CodeRateLimit          Code = "RATE_LIMIT"
	CodeInsufficientData   Code = "INSUFFICIENT_DATA"
	CodeTimeout            Code = "TIMEOUT"
	CodeUnknown            Code = "UNKNOWN"
)

// Error is a typed, retry-annotated failure. It is safe to pass across
// worker boundaries by value of its fields; the wrapped cause is only used
// for unwrapping on the orchestrator side.
type Error struct {
	Code      Code
	Severity  domain.Severity
	Retryable bool
	Op        string // operation that failed, e.g. "fetch candles"
	TokenID   string
	Timeframe domain.Timeframe

	// RetryAfter is the server-instructed wait for RATE_LIMIT errors.
	RetryAfter time.Duration
	// Timeout is the deadline that was exceeded for TIMEOUT errors.
	Timeout time.Duration

	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.TokenID != "" {
		fmt.Fprintf(&b, " (%s/%s)", e.TokenID, e.Timeframe)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// severityFor maps each error class to its implicit severity.
func severityFor(code Code) domain.Severity {
	switch code {
	case CodeDatabaseConnection:
		return domain.SeverityHigh
	case CodeConfiguration:
		return domain.SeverityCritical
	case CodeInsufficientData:
		return domain.SeverityLow
	default:
		return domain.SeverityMedium
	}
}

// retryableFor maps each error class to its retry policy.
func retryableFor(code Code) bool {
	switch code {
	case CodeDataValidation, CodeConfiguration, CodeInsufficientData:
		return false
	default:
		return true
	}
}

// New creates a typed error for the given class with its implicit severity
// and retryability.
func New(code Code, op string, err error) *Error {
	return &Error{
		Code:      code,
		Severity:  severityFor(code),
		Retryable: retryableFor(code),
		Op:        op,
		Err:       err,
	}
}

// WithTask annotates the error with the owning task identity.
func (e *Error) WithTask(tokenID string, timeframe domain.Timeframe) *Error {
	e.TokenID = tokenID
	e.Timeframe = timeframe
	return e
}

// AsTyped extracts a *Error from an error chain. The second return is false
// when the chain carries no typed error.
func AsTyped(err error) (*Error, bool) {
	var te *Error
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// Classify maps an opaque failure into a typed error. Call sites should
// wrap errors explicitly at the boundary where the class is known; this
// message-content heuristic exists only as a last resort for errors that
// reach the recovery manager untyped.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if te, ok := AsTyped(err); ok {
		return te
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection"):
		return New(CodeDatabaseConnection, "", err)
	case strings.Contains(msg, "query"), strings.Contains(msg, "sql"):
		return New(CodeDatabaseQuery, "", err)
	case strings.Contains(msg, "timeout"):
		return New(CodeTimeout, "", err)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"):
		return New(CodeRateLimit, "", err)
	default:
		return New(CodeUnknown, "", err)
	}
}
