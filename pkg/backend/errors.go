package backend

import (
	"errors"
	"fmt"
)

// StoreError is returned by backends for failures the caller can act on.
//
// Transport and I/O failures that carry no further meaning are wrapped with
// ErrIOError so that callers can still tell a missing node from a broken
// connection.
type StoreError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable description
	Message string

	// Err is the underlying error, if any
	Err error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ErrorCode is the category of a StoreError.
type ErrorCode int

const (
	// ErrNotFound indicates the node does not exist
	ErrNotFound ErrorCode = iota

	// ErrNotDirectory indicates a directory was expected
	ErrNotDirectory

	// ErrIsDirectory indicates a file was expected
	ErrIsDirectory

	// ErrInvalidArgument indicates bad parameters (empty name, negative size)
	ErrInvalidArgument

	// ErrNotOpen indicates the backend has no session
	ErrNotOpen

	// ErrIOError indicates the store or its transport failed
	ErrIOError
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "not found"
	case ErrNotDirectory:
		return "not a directory"
	case ErrIsDirectory:
		return "is a directory"
	case ErrInvalidArgument:
		return "invalid argument"
	case ErrNotOpen:
		return "not open"
	case ErrIOError:
		return "i/o error"
	default:
		return "unknown"
	}
}

// NewError builds a StoreError.
func NewError(code ErrorCode, format string, args ...any) *StoreError {
	return &StoreError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a StoreError around err.
func WrapError(code ErrorCode, err error, format string, args ...any) *StoreError {
	return &StoreError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the ErrorCode from err. ok is false when err carries no
// StoreError.
func CodeOf(err error) (code ErrorCode, ok bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Code, true
	}
	return 0, false
}

// IsNotFound reports whether err is a StoreError with ErrNotFound.
func IsNotFound(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrNotFound
}
