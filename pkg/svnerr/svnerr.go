// Package svnerr defines the typed error-kind taxonomy used across the
// repository engine and the protocol layer that translates it to HTTP.
package svnerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure so the protocol layer can map it to the right
// HTTP status without inspecting message text.
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindMethodNotAllowed   Kind = "method_not_allowed"
	KindBadRequest         Kind = "bad_request"
	KindConflict           Kind = "conflict"
	KindLocked             Kind = "locked"
	KindPreconditionFailed Kind = "precondition_failed"
	KindCorrupt            Kind = "corrupt"
	KindInternal           Kind = "internal"
)

// HTTPStatus returns the status code a given Kind maps to.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindLocked:
		return http.StatusLocked
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindCorrupt, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed, wrappable error carrying a Kind plus path/revision
// context for logging and client-facing messages.
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "get_file", "commit"
	Path string // repository path, if relevant
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a typed Error with no wrapped cause.
func New(kind Kind, op, path string) *Error {
	return &Error{Kind: kind, Op: op, Path: path}
}

// Wrap builds a typed Error wrapping an existing cause.
func Wrap(kind Kind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// Kindof unwraps err looking for an *Error and returns its Kind, defaulting
// to KindInternal for anything that isn't one of ours.
func Kindof(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindInternal
}

// NotFound is a convenience constructor for the most common case.
func NotFound(op, path string) *Error { return New(KindNotFound, op, path) }

// Conflict is a convenience constructor for the second most common case.
func Conflict(op, path string) *Error { return New(KindConflict, op, path) }
