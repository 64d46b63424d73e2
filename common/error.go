package common

import "fmt"

type APIError struct {
	Status  int            `json:"-"`
	Message string         `json:"error"`
	Fields  map[string]any `json:"fields,omitempty"`
	// Cause is the underlying error, kept for errors.Is checks.
	Cause error `json:"-"`
}

func (e APIError) Error() string {
	return e.Message
}

func (e APIError) Unwrap() error {
	return e.Cause
}

func Errf(status int, format string, args ...any) APIError {
	return APIError{Status: status, Message: fmt.Sprintf(format, args...)}
}

// NewAPIError creates an APIError with status, message, and optional fields
func NewAPIError(status int, message string, fields map[string]any) APIError {
	return APIError{
		Status:  status,
		Message: message,
		Fields:  fields,
	}
}

// Wrap attaches cause to an APIError built from status and message.
func Wrap(status int, cause error, format string, args ...any) APIError {
	e := Errf(status, format, args...)
	e.Cause = cause
	return e
}
