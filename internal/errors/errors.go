package apperrors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Application exit codes define the standard exit statuses for the application.
// These codes are used to signal the outcome of the program execution to the OS.
const (
	ExitSuccess        = 0   // Indicates successful execution.
	ExitErrorGeneric   = 1   // Indicates a generic error.
	ExitErrorTimeout   = 2   // Indicates the operation timed out.
	ExitErrorJobFailed = 3   // Indicates a job reached the FAILURE state.
	ExitErrorConfig    = 4   // Indicates a configuration error.
	ExitErrorCanceled  = 130 // Indicates the operation was canceled (e.g., SIGINT).
)

// ConfigError represents a user configuration error, such as invalid flags or
// values. It indicates that the application cannot proceed due to incorrect user input.
type ConfigError struct {
	// Message explains the specific configuration error.
	Message string
}

// Error returns the error message for a ConfigError.
func (e ConfigError) Error() string { return e.Message }

// NewConfigError creates a new ConfigError with a formatted message.
func NewConfigError(format string, a ...any) error {
	return ConfigError{Message: fmt.Sprintf(format, a...)}
}

// ValidationError represents an input validation failure. It identifies which
// field failed validation and provides a human-readable explanation.
// Validation errors are always reported before a job is created.
type ValidationError struct {
	// Field is the name of the field that failed validation.
	Field string
	// Message explains the validation failure.
	Message string
}

// Error returns a formatted message describing the validation failure.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for %q: %s", e.Field, e.Message)
}

// ComputationError reports that counting primes over one chunk failed.
// It is retried by the broker up to the configured budget.
type ComputationError struct {
	// JobID identifies the job the chunk belongs to.
	JobID string
	// Chunk is the zero-based index of the failing chunk.
	Chunk int
	// Cause is the underlying error.
	Cause error
}

// Error returns a message naming the job and chunk.
func (e ComputationError) Error() string {
	return fmt.Sprintf("job %s chunk %d: computation failed: %v", e.JobID, e.Chunk, e.Cause)
}

// Unwrap returns the original cause.
func (e ComputationError) Unwrap() error { return e.Cause }

// AggregationError reports that the fan-in step of a job failed. It is
// terminal: the job moves to FAILURE and the callback is never retried.
type AggregationError struct {
	JobID string
	Cause error
}

// Error returns a message naming the job.
func (e AggregationError) Error() string {
	return fmt.Sprintf("job %s: aggregation failed: %v", e.JobID, e.Cause)
}

// Unwrap returns the original cause.
func (e AggregationError) Unwrap() error { return e.Cause }

// InfrastructureError wraps a failure of the shared store or the task queue.
// Fatal at submission time, retried when raised inside a worker.
type InfrastructureError struct {
	// Op is the store or queue operation that failed (e.g. "incr", "enqueue").
	Op    string
	Cause error
}

// Error returns a message naming the failed operation.
func (e InfrastructureError) Error() string {
	return fmt.Sprintf("infrastructure error during %s: %v", e.Op, e.Cause)
}

// Unwrap returns the original cause.
func (e InfrastructureError) Unwrap() error { return e.Cause }

// NewInfrastructureError wraps cause, returning nil when cause is nil.
func NewInfrastructureError(op string, cause error) error {
	if cause == nil {
		return nil
	}
	return InfrastructureError{Op: op, Cause: cause}
}

// TimeoutError represents a task exceeding its hard time limit. It captures the
// operation name and the duration limit that was exceeded.
type TimeoutError struct {
	// Operation is the name of the operation that timed out.
	Operation string
	// Limit is the duration after which the operation was considered timed out.
	Limit time.Duration
}

// Error returns a formatted message describing the timeout.
func (e TimeoutError) Error() string {
	return fmt.Sprintf("operation %q timed out after %s", e.Operation, e.Limit)
}

// WrapError wraps an error with additional context using fmt.Errorf and %w.
// This allows the wrapped error to be unwrapped with errors.Unwrap() and
// checked with errors.Is() and errors.As().
//
// Returns nil if err is nil.
func WrapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// IsContextError checks if the error is a context cancellation or deadline exceeded error.
func IsContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsRetryable reports whether a failed task should be handed back to the
// queue. Validation and aggregation failures are terminal; computation,
// infrastructure and timeout failures are retried. Errors outside the
// taxonomy are treated as retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var (
		validationErr  ValidationError
		aggregationErr AggregationError
	)
	if errors.As(err, &validationErr) || errors.As(err, &aggregationErr) {
		return false
	}
	return true
}
