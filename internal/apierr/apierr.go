package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeValidation    = "validation_error"
	CodeConflict      = "conflict"
	CodeUnauthorized  = "unauthorized"
	CodeNotFound      = "not_found"
	CodeConfiguration = "configuration_error"
	CodeProvider      = "provider_error"
	CodeInternal      = "internal_error"
)

// Error is an error that knows how it should be reported over HTTP.
// Message is shown to the client; Err is kept for logs only.
type Error struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		if e.Message != "" {
			return e.Message + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return fmt.Sprintf("api error (%d)", e.Status)
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code, message string, err error) *Error {
	return &Error{Status: status, Code: code, Message: message, Err: err}
}

func Validation(message string) *Error {
	return New(http.StatusBadRequest, CodeValidation, message, nil)
}

func Conflict(message string) *Error {
	return New(http.StatusConflict, CodeConflict, message, nil)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, message, nil)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, CodeNotFound, message, nil)
}

// Configuration reports a provider that cannot be used because a credential
// or setting is missing.
func Configuration(message string) *Error {
	return New(http.StatusServiceUnavailable, CodeConfiguration, message, nil)
}

// Provider wraps a failed call to an external embedding or vector service.
func Provider(message string, err error) *Error {
	e := New(http.StatusServiceUnavailable, CodeProvider, message, err)
	e.Retryable = true
	return e
}

// As returns the *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr, true
	}
	return nil, false
}

// IsCode reports whether err carries an *Error with the given code.
func IsCode(err error, code string) bool {
	apiErr, ok := As(err)
	return ok && apiErr.Code == code
}
