package errors

import (
	"errors"
	"fmt"
)

// LodeError is the structured error type for Lodestone.
// It provides rich context for error handling, logging, and user presentation.
type LodeError struct {
	// Code is the unique error code (e.g., "ERR_301_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Backend, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *LodeError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *LodeError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with LodeError.
func (e *LodeError) Is(target error) bool {
	if t, ok := target.(*LodeError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *LodeError) WithDetail(key, value string) *LodeError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *LodeError) WithSuggestion(suggestion string) *LodeError {
	e.Suggestion = suggestion
	return e
}

// New creates a new LodeError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *LodeError {
	return &LodeError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates a new LodeError with a formatted message.
func Newf(code string, format string, args ...any) *LodeError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap wraps an existing error with a code and message.
// Returns nil if err is nil.
func Wrap(err error, code string, message string) *LodeError {
	if err == nil {
		return nil
	}
	return New(code, message, err)
}

// CodeOf extracts the error code from an error chain.
// Returns ErrCodeInternal if the chain contains no LodeError.
func CodeOf(err error) string {
	var le *LodeError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether the error chain contains a retryable LodeError.
func IsRetryable(err error) bool {
	var le *LodeError
	if errors.As(err, &le) {
		return le.Retryable
	}
	return false
}

// IsTimeout reports whether the error chain contains a timeout error.
func IsTimeout(err error) bool {
	var le *LodeError
	if errors.As(err, &le) {
		return le.Code == ErrCodeTimeout
	}
	return false
}
