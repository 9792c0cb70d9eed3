package errors

import (
	"fmt"
	"time"
)

// MnemoError is the structured error type for Mnemo.
// It provides rich context for error handling, logging, and user presentation.
type MnemoError struct {
	// Code is the unique error code (e.g., "ERR_301_BACKEND_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Store, Backend, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// RetryAfter is the backend-advised wait before retrying, if known.
	// Zero means no advice was given.
	RetryAfter time.Duration

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *MnemoError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *MnemoError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with MnemoError.
func (e *MnemoError) Is(target error) bool {
	if t, ok := target.(*MnemoError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *MnemoError) WithDetail(key, value string) *MnemoError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *MnemoError) WithSuggestion(suggestion string) *MnemoError {
	e.Suggestion = suggestion
	return e
}

// WithRetryAfter records the backend-advised retry delay.
// Returns the error for method chaining.
func (e *MnemoError) WithRetryAfter(d time.Duration) *MnemoError {
	e.RetryAfter = d
	return e
}

// New creates a new MnemoError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *MnemoError {
	return &MnemoError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a MnemoError from an existing error.
// The error's message becomes the MnemoError message.
func Wrap(code string, err error) *MnemoError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *MnemoError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StoreError creates a store or index error.
func StoreError(message string, cause error) *MnemoError {
	return New(ErrCodeStoreUnavailable, message, cause)
}

// TimeoutError creates a backend timeout error. Retryable.
func TimeoutError(message string, cause error) *MnemoError {
	return New(ErrCodeBackendTimeout, message, cause)
}

// BackendError creates a transient backend error. Retryable.
func BackendError(message string, cause error) *MnemoError {
	return New(ErrCodeBackendUnavailable, message, cause)
}

// RateLimitError creates a rate-limited backend error carrying the advised
// retry delay. Retryable after the delay.
func RateLimitError(message string, retryAfter time.Duration) *MnemoError {
	return New(ErrCodeRateLimited, message, nil).WithRetryAfter(retryAfter)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *MnemoError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *MnemoError {
	return New(ErrCodeInternal, message, cause)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a MnemoError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if me, ok := err.(*MnemoError); ok {
		return me.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if me, ok := err.(*MnemoError); ok {
		return me.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a MnemoError.
// Returns empty string if not a MnemoError.
func GetCode(err error) string {
	if me, ok := err.(*MnemoError); ok {
		return me.Code
	}
	return ""
}

// GetCategory extracts the category from a MnemoError.
// Returns empty string if not a MnemoError.
func GetCategory(err error) Category {
	if me, ok := err.(*MnemoError); ok {
		return me.Category
	}
	return ""
}

// GetRetryAfter extracts the advised retry delay, or zero when absent.
func GetRetryAfter(err error) time.Duration {
	if me, ok := err.(*MnemoError); ok {
		return me.RetryAfter
	}
	return 0
}
