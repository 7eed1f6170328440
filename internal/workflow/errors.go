package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

var (
	// ErrAlreadyStarted is returned with the existing handle when a workflow id is already active
	ErrAlreadyStarted = errors.New("workflow already started")
	// ErrUnknownWorkflow is returned when no function is registered under the name
	ErrUnknownWorkflow = errors.New("unknown workflow")
	// ErrDraining is returned once the engine has begun shutting down
	ErrDraining = errors.New("workflow engine is shutting down")
)

// ErrorCategory classifies errors for retry decisions
type ErrorCategory int

const (
	// ErrorCategoryUnknown - unclassified error, default to not retryable
	ErrorCategoryUnknown ErrorCategory = iota

	// ErrorCategoryTransient - temporary failures that may succeed on retry
	// Examples: timeout, connection refused, backend unavailable
	ErrorCategoryTransient

	// ErrorCategoryPermanent - errors that will not succeed on retry
	// Examples: bad arguments, missing signal, unknown workflow
	ErrorCategoryPermanent
)

// String returns a human-readable category name
func (c ErrorCategory) String() string {
	switch c {
	case ErrorCategoryTransient:
		return "transient"
	case ErrorCategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// EngineError wraps errors with classification for retry logic
type EngineError struct {
	Category ErrorCategory
	Message  string
	Cause    error
}

func (e *EngineError) Error() string {
	return e.Message
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsRetryable determines if an error should be retried
func (e *EngineError) IsRetryable() bool {
	return e.Category == ErrorCategoryTransient
}

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{Category: ErrorCategoryPermanent, Message: err.Error(), Cause: err}
}

// Transient marks err as worth retrying
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{Category: ErrorCategoryTransient, Message: err.Error(), Cause: err}
}

// ClassifyError classifies a general error
func ClassifyError(err error) *EngineError {
	if err == nil {
		return nil
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &EngineError{Category: ErrorCategoryTransient, Message: "Request timed out", Cause: err}
	}

	errStr := err.Error()

	// Network errors - connection issues
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network is unreachable") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "EOF") {
		return &EngineError{
			Category: ErrorCategoryTransient,
			Message:  fmt.Sprintf("Network error: %s", truncateString(errStr, 100)),
			Cause:    err,
		}
	}

	// Default: unknown, not retryable
	return &EngineError{
		Category: ErrorCategoryUnknown,
		Message:  truncateString(errStr, 200),
		Cause:    err,
	}
}

// BackoffCalculator computes retry delays with exponential backoff and jitter
type BackoffCalculator struct {
	initialDelay  time.Duration
	maxDelay      time.Duration
	multiplier    float64
	jitterPercent int
}

// NewBackoffCalculator creates a calculator with specified parameters
func NewBackoffCalculator(initialDelay, maxDelay time.Duration, multiplier float64, jitterPercent int) *BackoffCalculator {
	if initialDelay <= 0 {
		initialDelay = time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	if multiplier <= 0 {
		multiplier = 2.0
	}
	if jitterPercent < 0 {
		jitterPercent = 20
	}

	return &BackoffCalculator{
		initialDelay:  initialDelay,
		maxDelay:      maxDelay,
		multiplier:    multiplier,
		jitterPercent: jitterPercent,
	}
}

// NextDelay calculates the delay for the given attempt number (0-indexed)
func (b *BackoffCalculator) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(b.initialDelay) * math.Pow(b.multiplier, float64(attempt))
	if delay > float64(b.maxDelay) {
		delay = float64(b.maxDelay)
	}

	// Jitter spreads retries of runs that failed together
	if b.jitterPercent > 0 {
		jitterRange := delay * float64(b.jitterPercent) / 100.0
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay < 0 {
		delay = float64(b.initialDelay)
	}

	return time.Duration(delay)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
