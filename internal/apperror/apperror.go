// Package apperror defines the domain error taxonomy shared by the service,
// storage and HTTP layers.
//
// Every error the service layer returns is either one of the typed errors
// below (wrapping a sentinel so errors.Is works through fmt.Errorf chains)
// or an untyped infrastructure error. The HTTP layer maps the sentinels to
// status codes; anything untyped becomes a generic 500.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrUnauthorized = errors.New("unauthorized")
)

type AppError struct {
	Err      error    // sentinel
	Message  string   // human-readable error message
	Field    string   // optional: field causing the error
	Messages []string // optional: every violation, in check order
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound is also returned when the caller does not own the resource, so
// that existence is not leaked to non-owners.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:      ErrValidation,
		Message:  message,
		Field:    field,
		Messages: []string{message},
	}
}

// Invalid wraps a non-empty list of validation messages. The first message
// doubles as the error string.
func Invalid(messages []string) *AppError {
	msg := "validation failed"
	if len(messages) > 0 {
		msg = messages[0]
	}
	return &AppError{
		Err:      ErrValidation,
		Message:  msg,
		Messages: messages,
	}
}

// Unauthorized means no authenticated session accompanied the request.
func Unauthorized() *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: "valid authentication required",
	}
}
