// Package apperr defines the error kinds shared across the assppweb
// server and maps them onto HTTP status codes at the API boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an application error independent of its message.
type Kind string

const (
	KindUnauthorized  Kind = "UNAUTHORIZED"
	KindBadRequest    Kind = "BAD_REQUEST"
	KindConflict      Kind = "CONFLICT"
	KindNotFound      Kind = "NOT_FOUND"
	KindUpstreamError Kind = "UPSTREAM_ERROR"
	KindTooLarge      Kind = "TOO_LARGE"
	KindFormatError   Kind = "FORMAT_ERROR"
	KindCancelled     Kind = "CANCELLED"
	KindInternal      Kind = "INTERNAL"
)

// Error is the application's typed error envelope. It is grounded on the
// teacher's StorageError shape: a code, a human message, optional
// metadata, and a wrapped cause.
type Error struct {
	Kind     Kind                   `json:"kind"`
	Message  string                 `json:"message"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Cause    error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithMetadata attaches diagnostic metadata and returns the same error.
func (e *Error) WithMetadata(key string, value interface{}) *Error {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func Unauthorized(format string, args ...interface{}) *Error {
	return New(KindUnauthorized, fmt.Sprintf(format, args...))
}

func BadRequest(format string, args ...interface{}) *Error {
	return New(KindBadRequest, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...interface{}) *Error {
	return New(KindConflict, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

func UpstreamError(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindUpstreamError, fmt.Sprintf(format, args...), cause)
}

func TooLarge(format string, args ...interface{}) *Error {
	return New(KindTooLarge, fmt.Sprintf(format, args...))
}

func FormatError(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindFormatError, fmt.Sprintf(format, args...), cause)
}

func Cancelled(format string, args ...interface{}) *Error {
	return New(KindCancelled, fmt.Sprintf(format, args...))
}

func Internal(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindInternal, fmt.Sprintf(format, args...), cause)
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise returns KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// HTTPStatus maps a Kind onto the HTTP status code the API surface
// should respond with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindBadRequest, KindFormatError:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindCancelled:
		return 499 // client closed request, matches nginx convention
	case KindUpstreamError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// StatusFor returns the HTTP status an arbitrary error should be
// reported with, defaulting to 500 for untyped errors.
func StatusFor(err error) int {
	return HTTPStatus(KindOf(err))
}
