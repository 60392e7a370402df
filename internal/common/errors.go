package common

import (
	"errors"
	"net/http"
)

// AppError is an error that knows how it should be rendered at the HTTP edge:
// a stable machine code, a client-facing message and a status. Err carries the
// cause for logs and errors.Is; it is never written to the client.
type AppError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
	Details    any
}

func (e *AppError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Err == nil:
		return e.Message
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewAppError wraps err under code and status.
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func BadRequest(code, message string, details any) *AppError {
	e := NewAppError(code, message, http.StatusBadRequest, nil)
	e.Details = details
	return e
}

func NotFound(code, message string) *AppError {
	return NewAppError(code, message, http.StatusNotFound, nil)
}

// AsAppError finds the first AppError in err's chain.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return nil, false
	}
	return appErr, true
}
