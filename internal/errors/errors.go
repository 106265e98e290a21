// Package errors provides a lightweight structured error type (PreviewdError)
// for category-based classification and retry semantics across the queue,
// sandbox, and sanitizer layers.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCategory represents the category of a previewd error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"

	// Queue and persistence errors
	CategoryQueue   ErrorCategory = "queue"
	CategoryStorage ErrorCategory = "storage"

	// Sandbox and helper errors
	CategorySandbox ErrorCategory = "sandbox"
	CategoryHelper  ErrorCategory = "helper"
	CategoryTimeout ErrorCategory = "timeout"

	// Trusted-boundary errors
	CategorySanitize ErrorCategory = "sanitize"

	// Runtime and infrastructure errors
	CategoryRuntime  ErrorCategory = "runtime"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
)

// PreviewdError is a structured error with category, retryability, and context
type PreviewdError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for PreviewdError
type ContextFields map[string]any

// Error implements the error interface
func (e *PreviewdError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *PreviewdError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *PreviewdError) WithContext(key string, value any) *PreviewdError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new PreviewdError
func New(category ErrorCategory, severity ErrorSeverity, message string) *PreviewdError {
	return &PreviewdError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new PreviewdError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *PreviewdError {
	return &PreviewdError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// Retryable creates a new retryable PreviewdError
func Retryable(category ErrorCategory, severity ErrorSeverity, message string) *PreviewdError {
	return &PreviewdError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: true,
	}
}

// WrapRetryable creates a new retryable PreviewdError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *PreviewdError {
	return &PreviewdError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category, unwrapping as
// needed.
func IsCategory(err error, category ErrorCategory) bool {
	var pe *PreviewdError
	if stderrors.As(err, &pe) {
		return pe.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable, unwrapping as needed.
func IsRetryable(err error) bool {
	var pe *PreviewdError
	if stderrors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}
