package service

import (
	"errors"
	"net/http"
)

type Kind int

const (
	KindAuth Kind = iota + 1
	KindForbidden
	KindValidation
	KindNotFound
	KindConflict
	KindGateway
	KindPersistence
)

// Error is what services return to handlers. Message is safe to show to the
// caller; Err carries the cause for logs.
type Error struct {
	Kind      Kind
	Message   string
	Err       error
	Retryable bool
	// Config marks a gateway failure caused by our own credentials.
	Config bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode maps the error kind to an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of err, or 0 if it is not a service error.
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return 0
}

var errUnauthenticated = newError(KindAuth, "Unauthorized", nil)
