package services

import "errors"

var (
	ErrForbidden = errors.New("forbidden")
	ErrNotMember = errors.New("not a member of the group")
)

// ValidationError rejects a request because of one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
