// Package apierr carries an HTTP status and a machine-readable code alongside
// an error, so the HTTP layer can render failures without knowing where they
// came from.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable codes rendered in error envelopes.
const (
	CodeNotFound          = "not_found"
	CodeInvalidRequest    = "invalid_request"
	CodeIntegrity         = "integrity_violation"
	CodePersonUnavailable = "person_unavailable"
	CodeInternal          = "internal_error"
)

// Error is an error classified for the HTTP layer.
type Error struct {
	Status int
	Code   string
	// Message, when set, replaces Err's text in client responses.
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

// Public reports whether the wrapped message may be shown to a client.
// Server-side faults are rendered with a generic message.
func (e *Error) Public() bool { return e != nil && e.Status < http.StatusInternalServerError }

// ClientMessage is the text a client may see for e.
func (e *Error) ClientMessage() string {
	switch {
	case !e.Public():
		return "internal server error"
	case e.Message != "":
		return e.Message
	default:
		return e.Error()
	}
}

// New classifies err with an HTTP status and code.
func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

// NotFound marks a missing order.
func NotFound(err error) *Error { return New(http.StatusNotFound, CodeNotFound, err) }

// BadRequest marks malformed or invalid client input.
func BadRequest(err error) *Error { return New(http.StatusBadRequest, CodeInvalidRequest, err) }

// Integrity marks an order referencing a missing person snapshot.
func Integrity(err error) *Error {
	return New(http.StatusInternalServerError, CodeIntegrity, err)
}

// Upstream marks a failed person directory fetch. Order writes report it as a
// bad request because the referenced person could not be resolved. The
// underlying error names directory hosts, so clients only get a fixed message.
func Upstream(err error) *Error {
	e := New(http.StatusBadRequest, CodePersonUnavailable, err)
	e.Message = "referenced person could not be fetched"
	return e
}

// From returns err as an *Error, treating anything unclassified as an
// internal failure.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return New(http.StatusInternalServerError, CodeInternal, err)
}
