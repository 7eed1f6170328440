package services

import (
	"errors"
	"fmt"
)

// ErrSignalAlreadyProcessed is returned when a signal has been (or is being)
// processed by someone else
var ErrSignalAlreadyProcessed = errors.New("signal already processed")

// ValidationError reports a bad request. Never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// EngineUnavailableError wraps a workflow engine failure. The orchestrator
// recovers from it by processing synchronously.
type EngineUnavailableError struct {
	Cause error
}

func (e *EngineUnavailableError) Error() string {
	return fmt.Sprintf("workflow engine unavailable: %v", e.Cause)
}

func (e *EngineUnavailableError) Unwrap() error { return e.Cause }

// ReasoningError wraps a failed reasoning call
type ReasoningError struct {
	PromptID string
	Cause    error
}

func (e *ReasoningError) Error() string {
	return fmt.Sprintf("reasoning %s failed: %v", e.PromptID, e.Cause)
}

func (e *ReasoningError) Unwrap() error { return e.Cause }

// LearningError wraps a failure in the learning pass. It is logged, never
// returned to the caller of RecordOutcome.
type LearningError struct {
	Stage string
	Cause error
}

func (e *LearningError) Error() string {
	return fmt.Sprintf("learning failed at %s: %v", e.Stage, e.Cause)
}

func (e *LearningError) Unwrap() error { return e.Cause }
