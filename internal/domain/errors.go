package domain

import (
	"errors"
	"fmt"
)

// Errors surfaced by an evaluation. Callers match them with errors.Is.
var (
	// ErrCircuitOpen means the circuit breaker is rejecting work after
	// repeated failures.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrLoadShedding means the host is over its CPU or memory threshold and
	// new work is refused.
	ErrLoadShedding = errors.New("system overloaded: load shedding")

	// ErrUnknownScoringFunction means the requested scoring function is not
	// registered.
	ErrUnknownScoringFunction = errors.New("unknown scoring function")

	// ErrSchedulerClosed means a batch submission raced with shutdown.
	ErrSchedulerClosed = errors.New("batch scheduler closed")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// ValidationError represents an error that occurred during validation.
// It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}

// ScoringFunctionError names the scoring function a lookup failed for.
type ScoringFunctionError struct {
	Name string
}

// Error implements the error interface.
func (e *ScoringFunctionError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnknownScoringFunction, e.Name)
}

// Is makes errors.Is(err, ErrUnknownScoringFunction) match.
func (e *ScoringFunctionError) Is(target error) bool { return target == ErrUnknownScoringFunction }

// UpstreamError is returned once every attempt against the model endpoint
// has failed. The scoring path normally absorbs it as an uncertain verdict.
type UpstreamError struct {
	// Model is the model identifier the request targeted.
	Model string
	// Attempts is how many requests were made.
	Attempts int
	// Err is the failure from the last attempt.
	Err error
}

// Error implements the error interface.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("model %s failed after %d attempts: %v", e.Model, e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *UpstreamError) Unwrap() error { return e.Err }

// ScorerError wraps a failure inside a scoring function with its name.
type ScorerError struct {
	Function string
	Err      error
}

// Error implements the error interface.
func (e *ScorerError) Error() string {
	return fmt.Sprintf("scoring function %s: %v", e.Function, e.Err)
}

// Unwrap returns the underlying error.
func (e *ScorerError) Unwrap() error { return e.Err }
