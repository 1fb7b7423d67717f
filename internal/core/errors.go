package core

import "fmt"

// Error represents a structured error with code and optional cause.
type Error struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is matching by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WrapError creates a new error with the same code but with a cause.
func WrapError(base *Error, cause error) *Error {
	return &Error{
		Code:    base.Code,
		Message: base.Message,
		Cause:   cause,
	}
}

// Errorf wraps a formatted cause under the base error's code.
func Errorf(base *Error, format string, args ...any) *Error {
	return WrapError(base, fmt.Errorf(format, args...))
}

// Predefined errors
var (
	// Run errors
	ErrConfigInvalid   = &Error{Code: "CONFIG_INVALID", Message: "configuration invalid"}
	ErrConfigMissing   = &Error{Code: "CONFIG_MISSING", Message: "required configuration missing"}
	ErrDataUnavailable = &Error{Code: "DATA_UNAVAILABLE", Message: "no predictions available for the requested range"}
	ErrInternal        = &Error{Code: "INTERNAL", Message: "internal simulation error"}
	ErrCanceled        = &Error{Code: "CANCELED", Message: "run canceled"}

	// Feed and storage errors
	ErrFeedFailed    = &Error{Code: "FEED_FAILED", Message: "data feed failed"}
	ErrStorageFailed = &Error{Code: "STORAGE_FAILED", Message: "storage operation failed"}
	ErrNotFound      = &Error{Code: "NOT_FOUND", Message: "not found"}
)
