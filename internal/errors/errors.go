// Package errors provides the structured error taxonomy shared by the
// partition synchronizer and the alarm forwarder. Every error carries a
// category, code, message and retryable flag so callers can decide between
// recording a failure and aborting a run.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by how they propagate.
type ErrorCategory string

const (
	// ErrCategoryTransient covers network failures and timeouts; retried by re-invocation.
	ErrCategoryTransient ErrorCategory = "TRANSIENT"
	// ErrCategoryPermission is fatal to a run and never retried.
	ErrCategoryPermission ErrorCategory = "PERMISSION"
	// ErrCategoryCatalog is scoped to one partition key or table and collected into the report.
	ErrCategoryCatalog ErrorCategory = "CATALOG"
	// ErrCategoryPublish is scoped to one alarm message.
	ErrCategoryPublish ErrorCategory = "PUBLISH"
	// ErrCategoryConfig is fatal at startup.
	ErrCategoryConfig ErrorCategory = "CONFIG"
	// ErrCategoryInternal marks programming errors.
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Transient codes
	CodeTimeout     = "TIMEOUT"
	CodeThrottled   = "THROTTLED"
	CodeUnavailable = "UNAVAILABLE"
	CodeCanceled    = "CANCELED"

	// Permission codes
	CodeAccessDenied = "ACCESS_DENIED"

	// Catalog codes
	CodeInvalidPartition   = "INVALID_PARTITION"
	CodeDatabaseFailed     = "DATABASE_FAILED"
	CodeTableNotFound      = "TABLE_NOT_FOUND"
	CodeTableFailed        = "TABLE_FAILED"
	CodeRegistrationFailed = "REGISTRATION_FAILED"
	CodeQueryFailed        = "QUERY_FAILED"
	CodeViewFailed         = "VIEW_FAILED"

	// Publish codes
	CodePublishFailed = "PUBLISH_FAILED"

	// Config codes
	CodeInvalidConfig  = "INVALID_CONFIG"
	CodePlaceholder    = "PLACEHOLDER"
	CodeRegionMismatch = "REGION_MISMATCH"
	CodeLayoutMismatch = "LAYOUT_MISMATCH"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// Error is the structured error type used throughout the system.
type Error struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
// A target with an empty code matches any error of the same category.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		if t.Code == "" {
			return e.Category == t.Category
		}
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new Error.
func New(category ErrorCategory, code, message string) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *Error {
	return &Error{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// Sentinels for errors.Is checks against a whole category.
var (
	ErrTransient  = &Error{Category: ErrCategoryTransient}
	ErrPermission = &Error{Category: ErrCategoryPermission}
	ErrCatalog    = &Error{Category: ErrCategoryCatalog}
	ErrPublish    = &Error{Category: ErrCategoryPublish}
	ErrConfig     = &Error{Category: ErrCategoryConfig}
)

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsFatal reports whether an error must abort a whole run.
func IsFatal(err error) bool {
	switch GetCategory(err) {
	case ErrCategoryPermission, ErrCategoryConfig, ErrCategoryInternal:
		return true
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not an *Error.
func GetCategory(err error) ErrorCategory {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not an *Error.
func GetCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func isRetryable(category ErrorCategory) bool {
	switch category {
	case ErrCategoryTransient, ErrCategoryPublish:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewTransientError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryTransient, code, message, cause)
}

func NewPermissionError(message string, cause error) *Error {
	return Wrap(ErrCategoryPermission, CodeAccessDenied, message, cause)
}

func NewCatalogError(code, message string, cause error) *Error {
	return Wrap(ErrCategoryCatalog, code, message, cause)
}

func NewPublishError(message string, cause error) *Error {
	return Wrap(ErrCategoryPublish, CodePublishFailed, message, cause)
}

func NewConfigError(code, message string) *Error {
	return New(ErrCategoryConfig, code, message)
}

func NewInternalError(message string, cause error) *Error {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
