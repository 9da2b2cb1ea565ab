package models

import (
	"errors"
	"fmt"
)

// ValidationError reports input rejected at the admin boundary. It is never
// persisted and never reaches the dispatch path.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Invalid builds a ValidationError for checks made outside this package.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
