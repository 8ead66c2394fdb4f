// Package errors provides structured error types for the minipdb registry.
// All errors include a category, code, message, and an optional cause so the
// CLI can decide between a fatal stop and a per-model report.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by the kind of failure.
type ErrorCategory string

const (
	ErrCategoryValidation  ErrorCategory = "VALIDATION"
	ErrCategoryConsistency ErrorCategory = "CONSISTENCY"
	ErrCategoryConflict    ErrorCategory = "CONFLICT"
	ErrCategoryNotFound    ErrorCategory = "NOT_FOUND"
	ErrCategoryEngine      ErrorCategory = "ENGINE"
	ErrCategoryStorage     ErrorCategory = "STORAGE"
	ErrCategoryInternal    ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeMissingField  = "MISSING_FIELD"
	CodeInvalidType   = "INVALID_TYPE"
	CodeOutOfBounds   = "OUT_OF_BOUNDS"
	CodeInvalidName   = "INVALID_NAME"
	CodeFileNotFound  = "FILE_NOT_FOUND"
	CodeInvalidConfig = "INVALID_CONFIG"

	// Consistency codes
	CodePartialRegistration = "PARTIAL_REGISTRATION"

	// Conflict codes
	CodeDuplicateModel   = "DUPLICATE_MODEL"
	CodeDuplicateProgram = "DUPLICATE_PROGRAM"

	// Not found codes
	CodeModelNotFound = "MODEL_NOT_FOUND"
	CodeTableNotFound = "TABLE_NOT_FOUND"

	// Engine codes
	CodeCompileFailed  = "COMPILE_FAILED"
	CodeSamplingFailed = "SAMPLING_FAILED"
	CodeOutputInvalid  = "OUTPUT_INVALID"

	// Storage codes
	CodeWriteFailed    = "WRITE_FAILED"
	CodeReadFailed     = "READ_FAILED"
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// RegistryError is the structured error type used throughout the system.
type RegistryError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Details  map[string]interface{}
	Cause    error
}

// Error returns a formatted error string.
func (e *RegistryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *RegistryError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
// A target with an empty code matches any error of the same category.
func (e *RegistryError) Is(target error) bool {
	var t *RegistryError
	if errors.As(target, &t) {
		if t.Code == "" {
			return e.Category == t.Category
		}
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new RegistryError.
func New(category ErrorCategory, code, message string) *RegistryError {
	return &RegistryError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Wrap creates a new RegistryError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *RegistryError {
	return &RegistryError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *RegistryError) WithDetails(details map[string]interface{}) *RegistryError {
	cp := *e
	cp.Details = details
	return &cp
}

// Category sentinels for errors.Is checks against a whole category.
var (
	ErrValidation  = &RegistryError{Category: ErrCategoryValidation}
	ErrConsistency = &RegistryError{Category: ErrCategoryConsistency}
	ErrConflict    = &RegistryError{Category: ErrCategoryConflict}
	ErrNotFound    = &RegistryError{Category: ErrCategoryNotFound}
	ErrEngine      = &RegistryError{Category: ErrCategoryEngine}
	ErrStorage     = &RegistryError{Category: ErrCategoryStorage}
)

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a RegistryError.
func GetCategory(err error) ErrorCategory {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a RegistryError.
func GetCode(err error) string {
	var re *RegistryError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsCategory reports whether err carries the given category.
func IsCategory(err error, category ErrorCategory) bool { return GetCategory(err) == category }

func IsNotFound(err error) bool    { return GetCategory(err) == ErrCategoryNotFound }
func IsConflict(err error) bool    { return GetCategory(err) == ErrCategoryConflict }
func IsConsistency(err error) bool { return GetCategory(err) == ErrCategoryConsistency }
func IsValidation(err error) bool  { return GetCategory(err) == ErrCategoryValidation }

// Convenience constructors for common errors.

func NewValidationError(code, message string) *RegistryError {
	return New(ErrCategoryValidation, code, message)
}

func NewConsistencyError(message string) *RegistryError {
	return New(ErrCategoryConsistency, CodePartialRegistration, message)
}

func NewConflictError(code, message string, cause error) *RegistryError {
	return Wrap(ErrCategoryConflict, code, message, cause)
}

func NewNotFoundError(code, message string) *RegistryError {
	return New(ErrCategoryNotFound, code, message)
}

func NewEngineError(code, message string, cause error) *RegistryError {
	return Wrap(ErrCategoryEngine, code, message, cause)
}

func NewStorageError(code, message string, cause error) *RegistryError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewInternalError(message string, cause error) *RegistryError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}
