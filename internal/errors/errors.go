// Package errors provides a structured error type (BuildError) for
// category-based classification and retry semantics across the build
// pipeline, webhook dispatch, and HTTP adapters.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory represents the category of a build error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig    ErrorCategory = "config"
	CategoryBuildUser ErrorCategory = "build_user"
	CategoryWebhook   ErrorCategory = "webhook"

	// External system integration errors
	CategoryRepository ErrorCategory = "repository"
	CategoryNetwork    ErrorCategory = "network"

	// Build and processing errors
	CategoryEnvironment ErrorCategory = "environment"
	CategoryLocked      ErrorCategory = "locked"
	CategoryArtifact    ErrorCategory = "artifact"

	// Runtime and infrastructure errors
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops the build
	SeverityError   ErrorSeverity = "error"   // Error, but siblings may continue
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
)

// ContextFields carries structured context for BuildError
type ContextFields map[string]any

// BuildError is a structured error with category, retryability, and context
type BuildError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// Error implements the error interface
func (e *BuildError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *BuildError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *BuildError) WithContext(key string, value any) *BuildError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new BuildError
func New(category ErrorCategory, severity ErrorSeverity, message string) *BuildError {
	return &BuildError{
		Category: category,
		Severity: severity,
		Message:  message,
	}
}

// Wrap creates a new BuildError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *BuildError {
	return &BuildError{
		Category: category,
		Severity: severity,
		Message:  message,
		Cause:    err,
	}
}

// Retryable creates a new retryable BuildError
func Retryable(category ErrorCategory, severity ErrorSeverity, message string) *BuildError {
	return &BuildError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns
// CategoryInternal if not a BuildError
func GetCategory(err error) ErrorCategory {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Category
	}
	return CategoryInternal
}

// UserMessage returns the message that may be shown to project maintainers.
// Internal errors collapse to a generic message; raw stack traces and
// wrapped causes of internal errors are never surfaced.
func UserMessage(err error) string {
	var be *BuildError
	if !errors.As(err, &be) {
		return "There was a problem with the build environment. Our team has been notified."
	}
	switch be.Category {
	case CategoryInternal:
		return "There was a problem with the build environment. Our team has been notified."
	default:
		if be.Cause != nil && be.Category == CategoryConfig {
			return fmt.Sprintf("%s: %v", be.Message, be.Cause)
		}
		return be.Message
	}
}
