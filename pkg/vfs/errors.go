package vfs

import (
	"errors"
	"fmt"

	"github.com/staffdrive/staffdrive/pkg/backend"
)

// Code categorizes an Error.
type Code int

const (
	// NotFound: a path segment, parent folder or node id does not resolve.
	NotFound Code = iota + 1

	// BackingStoreFailure: the backing store rejected or failed a call.
	BackingStoreFailure

	// NotInitialized: an operation ran before Initialize succeeded.
	NotInitialized

	// InvalidInput: a required field is empty or malformed. Raised before any
	// backing store call.
	InvalidInput
)

func (c Code) String() string {
	switch c {
	case NotFound:
		return "not_found"
	case BackingStoreFailure:
		return "backing_store_failure"
	case NotInitialized:
		return "not_initialized"
	case InvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

// Error is returned by every FS operation. Op and Path record what was being
// attempted when the failure happened.
type Error struct {
	Code    Code
	Op      string
	Path    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg += fmt.Sprintf(" %q", e.Path)
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, op, path, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Path: path, Message: fmt.Sprintf(format, args...)}
}

// fromBackend translates a backend failure into an Error. Context errors pass
// through wrapped as BackingStoreFailure so callers can still match them with
// errors.Is.
func fromBackend(op, path string, err error) *Error {
	var ve *Error
	if errors.As(err, &ve) {
		return ve
	}

	code := BackingStoreFailure
	msg := "backing store failure"
	if c, ok := backend.CodeOf(err); ok {
		switch c {
		case backend.ErrNotFound:
			code, msg = NotFound, "not found"
		case backend.ErrNotDirectory:
			code, msg = NotFound, "not a directory"
		case backend.ErrInvalidArgument, backend.ErrIsDirectory:
			code, msg = InvalidInput, "rejected by backing store"
		case backend.ErrNotOpen:
			code, msg = NotInitialized, "backing store session is not open"
		}
	}
	return &Error{Code: code, Op: op, Path: path, Message: msg, Err: err}
}

// CodeOf returns the Code carried by err, or 0 if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

func IsNotFound(err error) bool       { return CodeOf(err) == NotFound }
func IsInvalidInput(err error) bool   { return CodeOf(err) == InvalidInput }
func IsNotInitialized(err error) bool { return CodeOf(err) == NotInitialized }
func IsBackingStore(err error) bool   { return CodeOf(err) == BackingStoreFailure }
