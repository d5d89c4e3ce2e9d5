// Package sysconfigerr defines the typed error kinds shared across the
// sysconfig service and provisioning pipeline.
package sysconfigerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error so callers can branch on failure mode without
// string matching.
type Kind string

const (
	InvalidArgument Kind = "invalid_argument"
	NotFound        Kind = "not_found"
	LockConflict    Kind = "lock_conflict"
	Transport       Kind = "transport"
	Integrity       Kind = "integrity"
	PluginError     Kind = "plugin_error"
	Validation      Kind = "validation"
	Internal        Kind = "internal"
)

// Error is the single error type used throughout the module. Path and
// Plugin are optional context carried for lock-conflict and not-found
// cases so callers don't need to parse the message.
type Error struct {
	Kind    Kind
	Message string
	Path    string
	Plugin  string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Path != "" && e.Kind == LockConflict:
		return fmt.Sprintf("%s: path %q is locked by another plugin", e.Message, e.Path)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Message, e.Path)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NotFoundPath(path string) *Error {
	return &Error{Kind: NotFound, Message: "path not found", Path: path}
}

func LockConflictPath(path string) *Error {
	return &Error{Kind: LockConflict, Message: "state is locked", Path: path}
}

// Is reports whether err (or something it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to Internal for errors
// that did not originate from this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
