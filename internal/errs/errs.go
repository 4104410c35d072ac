// Package errs classifies errors into three kinds: Info (operator-facing,
// fatal at startup), Notify (operational, surfaced to the messaging channel
// after a run) and Request (a per-request HTTP status).
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInfo Kind = iota
	KindNotify
	KindRequest
)

// Error wraps an underlying cause with a Kind and, for KindRequest, an HTTP
// status code.
type Error struct {
	Kind   Kind
	Status int
	Msg    string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Info builds a fatal, operator-facing config/parse error that should abort
// startup.
func Info(format string, args ...any) error {
	return &Error{Kind: KindInfo, Msg: fmt.Sprintf(format, args...)}
}

// Notify wraps err as an operational error to be batched and surfaced to
// the messaging channel after a run, without aborting the target.
func Notify(err error, format string, args ...any) error {
	return &Error{Kind: KindNotify, Msg: fmt.Sprintf(format, args...), Cause: err}
}

// Request builds a per-request error carrying the HTTP status to respond
// with (400/403/404/502/503).
func Request(status int, format string, args ...any) error {
	return &Error{Kind: KindRequest, Status: status, Msg: fmt.Sprintf(format, args...)}
}

func BadRequest(format string, args ...any) error  { return Request(http.StatusBadRequest, format, args...) }
func Forbidden(format string, args ...any) error   { return Request(http.StatusForbidden, format, args...) }
func NotFound(format string, args ...any) error    { return Request(http.StatusNotFound, format, args...) }
func BadGateway(format string, args ...any) error  { return Request(http.StatusBadGateway, format, args...) }
func Unavailable(format string, args ...any) error { return Request(http.StatusServiceUnavailable, format, args...) }

// StatusCode extracts the HTTP status for a Request-kind error, defaulting
// to 500 for anything else.
func StatusCode(err error) int {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRequest && e.Status != 0 {
		return e.Status
	}
	return http.StatusInternalServerError
}

func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}
