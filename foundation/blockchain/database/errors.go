package database

import (
	"errors"
	"fmt"
)

// ValidationError is used to report a malformed or invalid transaction or
// block. These errors are rejected locally and never stop the node.
type ValidationError struct {
	msg string
}

// NewValidationError constructs a validation error from the format and args.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{
		msg: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	return ve.msg
}

// IsValidationError checks if an error of type ValidationError exists in
// the error chain.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
