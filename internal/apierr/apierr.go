// Package apierr defines the error-kind taxonomy used at the HTTP boundary.
// Internal packages return plain wrapped errors; only the transport layer
// classifies a failure into one of these kinds and renders it as JSON.
package apierr

import (
	"errors"
	"net/http"
)

// Kind is one of the error classes the gateway recognizes.
type Kind int

const (
	// KindInternal is the zero value so an unclassified error defaults safely.
	KindInternal Kind = iota
	KindInputInvalid
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindTooManyRequests
	KindUpstreamUnavailable
	KindServiceUnavailable
)

// Status returns the HTTP status code for a Kind.
func (k Kind) Status() int {
	switch k {
	case KindInputInvalid:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindTooManyRequests:
		return http.StatusTooManyRequests
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error carrying an HTTP-facing message.
type Error struct {
	kind Kind
	msg string
	err error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the classification this Error was built with.
func (e *Error) Kind() Kind { return e.kind }

func newErr(k Kind, msg string, wrap error) *Error {
	return &Error{kind: k, msg: msg, err: wrap}
}

func InputInvalid(msg string) *Error { return newErr(KindInputInvalid, msg, nil) }
func Unauthorized(msg string) *Error { return newErr(KindUnauthorized, msg, nil) }
func Forbidden(msg string) *Error { return newErr(KindForbidden, msg, nil) }
func NotFound(msg string) *Error { return newErr(KindNotFound, msg, nil) }
func Conflict(msg string) *Error { return newErr(KindConflict, msg, nil) }
func TooManyRequests(msg string) *Error { return newErr(KindTooManyRequests, msg, nil) }
func UpstreamUnavailable(msg string, err error) *Error {
	return newErr(KindUpstreamUnavailable, msg, err)
}
func ServiceUnavailable(msg string) *Error { return newErr(KindServiceUnavailable, msg, nil) }
func Internal(msg string, err error) *Error { return newErr(KindInternal, msg, err) }

// Classify extracts the Kind and a safe message for an arbitrary error,
// defaulting to Internal for anything not already an *Error.
func Classify(err error) (Kind, string) {
	var e *Error
	if errors.As(err, &e) {
		return e.kind, e.msg
	}
	return KindInternal, "internal error"
}
