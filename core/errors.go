package core

import "fmt"

// ErrorKind is one of the seven error kinds the gateway ever raises. Each kind
// carries a fixed HTTP-equivalent status code, so the service pipeline never has
// to guess a status from an error's text.
type ErrorKind string

// The error kinds of the request->SQL pipeline.
const (
	KindBadRequest   ErrorKind = "bad_request"
	KindUnauthorized ErrorKind = "unauthorized"
	KindForbidden    ErrorKind = "forbidden"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	KindSpecError    ErrorKind = "spec_error"
	KindInternal     ErrorKind = "internal_error"
)

// StatusCode returns the HTTP-equivalent status code for k.
func (k ErrorKind) StatusCode() int {
	switch k {
	case KindBadRequest:
		return 400
	case KindUnauthorized:
		return 401
	case KindForbidden:
		return 403
	case KindNotFound:
		return 404
	case KindConflict:
		return 409
	case KindSpecError, KindInternal:
		return 500
	default:
		return 500
	}
}

// ApplicationError is the tagged error type every layer of the gateway raises
// instead of a bare error. The service pipeline converts it directly into a
// response envelope (spec §7); any other error reaching the pipeline is
// reported as KindInternal with a generic message, with the real cause logged
// but not surfaced.
type ApplicationError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ApplicationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (e *ApplicationError) Unwrap() error {
	return e.Cause
}

// StatusCode returns the HTTP-equivalent status code for this error.
func (e *ApplicationError) StatusCode() int {
	return e.Kind.StatusCode()
}

// NewError constructs an ApplicationError with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *ApplicationError {
	return &ApplicationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError constructs an ApplicationError that carries an underlying cause. The
// cause is logged by the caller; its text is not included in Message so that
// driver internals never leak into a client-facing response.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *ApplicationError {
	return &ApplicationError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// AsApplicationError unwraps err into an *ApplicationError if possible, or
// synthesizes a KindInternal error with a generic message (spec §7: "uncaught
// generic exceptions become InternalError with a generic message").
func AsApplicationError(err error) *ApplicationError {
	if err == nil {
		return nil
	}
	if appErr, ok := err.(*ApplicationError); ok {
		return appErr
	}
	return &ApplicationError{Kind: KindInternal, Message: "internal error", Cause: err}
}
