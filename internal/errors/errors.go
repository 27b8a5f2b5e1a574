package errors

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EngineError is the structured error type for compoundmcp.
// It carries the stable code surfaced to tool callers plus context for
// logging and handling policy.
type EngineError struct {
	// Code is the stable error code (e.g., "PROJECT_NOT_ACTIVATED").
	Code string

	// Message is the human-readable error message. It must not contain
	// document content, credentials, or query vectors.
	Message string

	// Category is the handling category derived from the code.
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs
	// (circuit_state, retry_after_seconds, failed fields, ...).
	Details map[string]any

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable remediation hint.
	Suggestion string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so errors.Is works across wrap layers.
func (e *EngineError) Is(target error) bool {
	if t, ok := target.(*EngineError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail. Returns the error for chaining.
func (e *EngineError) WithDetail(key string, value any) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion sets an actionable remediation hint. Returns the error for chaining.
func (e *EngineError) WithSuggestion(suggestion string) *EngineError {
	e.Suggestion = suggestion
	return e
}

// Detail returns the named detail value, or nil when absent.
func (e *EngineError) Detail(key string) any {
	if e.Details == nil {
		return nil
	}
	return e.Details[key]
}

// New creates an EngineError with the given code and message.
// Category, severity, and the retryable flag are derived from the code.
// INTERNAL errors always receive a correlation id.
func New(code string, message string) *EngineError {
	e := &EngineError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Retryable: isRetryableCode(code),
	}
	if code == CodeInternal {
		e.WithDetail("correlation_id", uuid.NewString())
	}
	return e
}

// Newf creates an EngineError with a formatted message.
func Newf(code string, format string, args ...any) *EngineError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap creates an EngineError around an existing error.
// Returns nil when err is nil.
func Wrap(code string, message string, err error) *EngineError {
	if err == nil {
		return nil
	}
	e := New(code, message)
	e.Cause = err
	return e
}

// Internal wraps an arbitrary error as the INTERNAL catch-all.
func Internal(err error) *EngineError {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}
	return Wrap(CodeInternal, err.Error(), err)
}

// CodeOf returns the code of the outermost EngineError in err's chain,
// or CodeInternal when there is none.
func CodeOf(err error) string {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return CodeInternal
}

// AsEngineError returns the outermost EngineError in err's chain, or nil.
func AsEngineError(err error) *EngineError {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee
	}
	return nil
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code string) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors abort startup.
func IsFatal(err error) bool {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Severity == SeverityFatal
	}
	return false
}
