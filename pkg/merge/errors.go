package merge

import (
	"errors"
	"fmt"
)

// ErrorCode classifies executor failures for callers deciding on retry
type ErrorCode string

const (
	// CodeValidationFailed means the job shape is bad. Fatal, caller error.
	CodeValidationFailed ErrorCode = "validation_failed"
	// CodePrimaryGone means the primary no longer exists. Fatal as given;
	// the caller must pick a new primary.
	CodePrimaryGone ErrorCode = "primary_gone"
	// CodeLocked means an overlapping job holds one of the entity locks.
	// Retryable after backoff.
	CodeLocked ErrorCode = "locked"
	// CodeStorageFailure means the backing store failed. Retryable; no
	// partial state is visible.
	CodeStorageFailure ErrorCode = "storage_failure"
)

// Error is the executor's typed error
type Error struct {
	Code  ErrorCode
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a typed executor error
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WrapError wraps a cause with a typed executor error
func WrapError(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf extracts the error code, or empty string for untyped errors
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Retryable reports whether the caller may retry the same job after backoff
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeLocked, CodeStorageFailure:
		return true
	}
	return false
}
