// Package wasmerr provides the category taxonomy used across the host so the
// control plane can map failures to negative acknowledgements without
// string-sniffing error messages.
package wasmerr

import (
	"errors"
	"fmt"
)

// Kind is a coarse error category shared by every package in the host.
type Kind string

const (
	Validation      Kind = "validation"
	NotFound        Kind = "not_found"
	Conflict        Kind = "conflict"
	Unauthenticated Kind = "unauthenticated"
	Unauthorized    Kind = "unauthorized"
	Unavailable     Kind = "unavailable"
	Timeout         Kind = "timeout"
	Protocol        Kind = "protocol"
	Internal        Kind = "internal"
)

// Error is a typed wrapper carrying a Kind alongside the usual wrapped error.
type Error struct {
	kind    Kind
	message string
	err     error
}

// Wrap builds a new *Error of the given kind wrapping err with a message.
// err may be nil, in which case Error behaves like a plain message.
func Wrap(kind Kind, err error, message string) *Error {
	return &Error{kind: kind, message: message, err: err}
}

// Wrapf is Wrap with fmt.Sprintf-style formatting of the message.
func Wrapf(kind Kind, err error, format string, args ...any) *Error {
	return Wrap(kind, err, fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.message, e.err)
	}
	return e.message
}

// Unwrap lets errors.Is/errors.As traverse past Error to the wrapped cause.
func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the error's category.
func (e *Error) Kind() Kind {
	return e.kind
}

// Is reports whether err is a *wasmerr.Error of the given kind.
func Is(err error, kind Kind) bool {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.kind == kind
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) a *wasmerr.Error,
// or Internal if err carries no category of its own.
func KindOf(err error) Kind {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.kind
	}
	if err == nil {
		return ""
	}
	return Internal
}
