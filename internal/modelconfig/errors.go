package modelconfig

import (
	"fmt"

	regerrors "github.com/minipdb/minipdb/internal/errors"
)

// ConfigError reports a configuration field that is missing, mistyped or out
// of bounds. Missing required fields are a fatal, user-facing stop.
type ConfigError struct {
	Field   string
	Source  string
	Code    string
	Message string
	Missing bool
}

// Error returns a message naming the field, the source and the constraint.
func (e *ConfigError) Error() string {
	if e.Missing {
		return fmt.Sprintf("No %s specified, please specify %s in %s and add again.", e.Field, e.Field, e.Source)
	}
	return fmt.Sprintf("Variable %s in %s must %s", e.Field, e.Source, e.Message)
}

// Unwrap exposes the structured validation error so category checks work.
func (e *ConfigError) Unwrap() error {
	return regerrors.NewValidationError(e.Code, e.Field)
}

func missing(field, source string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Source:  source,
		Code:    regerrors.CodeMissingField,
		Missing: true,
	}
}

func invalid(field, source, code, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Source:  source,
		Code:    code,
		Message: message,
	}
}
