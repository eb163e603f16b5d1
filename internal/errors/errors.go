package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an auto-save error code.
type ErrorCode string

const (
	ErrInvalidInput   ErrorCode = "INVALID_INPUT"   // 400
	ErrUnsafePath     ErrorCode = "UNSAFE_PATH"     // 403
	ErrSizeExceeded   ErrorCode = "SIZE_EXCEEDED"   // 413
	ErrDecodeFailure  ErrorCode = "DECODE_FAILURE"  // 422
	ErrIOFailure      ErrorCode = "IO_FAILURE"      // 500
	ErrUnknown        ErrorCode = "UNKNOWN"         // 500
	ErrNetworkFailure ErrorCode = "NETWORK_FAILURE" // 502
)

// SaveError represents a structured error with code, status, and details.
type SaveError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any

	// Cause is the underlying error, if any. Not rendered by Error().
	Cause error

	// Transient marks network failures worth another attempt.
	Transient bool
}

// Error implements the error interface.
func (e *SaveError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *SaveError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the operation that produced e may be attempted again.
// Only transient network failures qualify.
func (e *SaveError) Retryable() bool {
	return e.Code == ErrNetworkFailure && e.Transient
}

// NewInvalidInput creates a 400 error for malformed or empty input.
func NewInvalidInput(msg string) *SaveError {
	return &SaveError{
		Code:    ErrInvalidInput,
		Status:  400,
		Message: msg,
	}
}

// NewUnsafePath creates a 403 error for a destination outside the sandbox root.
func NewUnsafePath(path, base string) *SaveError {
	return &SaveError{
		Code:    ErrUnsafePath,
		Status:  403,
		Message: fmt.Sprintf("path escapes base directory: %s", path),
		Details: map[string]any{"path": path, "base_dir": base},
	}
}

// NewTransientNetworkFailure creates a retryable 502 error (timeouts, resets, 5xx).
func NewTransientNetworkFailure(url string, cause error) *SaveError {
	e := NewNetworkFailure(url, 0, cause)
	e.Transient = true
	return e
}

// NewNetworkFailure creates a 502 error. attempts is recorded when > 0.
func NewNetworkFailure(url string, attempts int, cause error) *SaveError {
	msg := "download failed"
	if cause != nil {
		msg = fmt.Sprintf("download failed: %v", cause)
	}
	details := map[string]any{"url": url}
	if attempts > 0 {
		msg = fmt.Sprintf("%s (after %d attempts)", msg, attempts)
		details["attempts"] = attempts
	}
	return &SaveError{
		Code:    ErrNetworkFailure,
		Status:  502,
		Message: msg,
		Details: details,
		Cause:   cause,
	}
}

// NewSizeExceeded creates a 413 error when a body is larger than the configured ceiling.
// actual may be -1 when the stream was cut off before its full size was known.
func NewSizeExceeded(max, actual int64) *SaveError {
	msg := fmt.Sprintf("file exceeds maximum size of %d bytes", max)
	if actual >= 0 {
		msg = fmt.Sprintf("file exceeds maximum size: %d bytes (max %d)", actual, max)
	}
	return &SaveError{
		Code:    ErrSizeExceeded,
		Status:  413,
		Message: msg,
		Details: map[string]any{"max_bytes": max, "actual_bytes": actual},
	}
}

// NewDecodeFailure creates a 422 error for malformed base64 payloads.
func NewDecodeFailure(cause error) *SaveError {
	return &SaveError{
		Code:    ErrDecodeFailure,
		Status:  422,
		Message: fmt.Sprintf("base64 decode failed: %v", cause),
		Cause:   cause,
	}
}

// NewIOFailure creates a 500 error for filesystem failures.
func NewIOFailure(op, path string, cause error) *SaveError {
	return &SaveError{
		Code:    ErrIOFailure,
		Status:  500,
		Message: fmt.Sprintf("%s %s: %v", op, path, cause),
		Details: map[string]any{"op": op, "path": path},
		Cause:   cause,
	}
}

// NewUnknown wraps an unexpected error so it can cross an item boundary.
func NewUnknown(err error) *SaveError {
	msg := "unknown error"
	if err != nil {
		msg = fmt.Sprintf("unknown error: %v", err)
	}
	return &SaveError{
		Code:    ErrUnknown,
		Status:  500,
		Message: msg,
		Cause:   err,
	}
}

// As returns err as a *SaveError, wrapping foreign errors with NewUnknown.
// Returns nil for a nil error.
func As(err error) *SaveError {
	if err == nil {
		return nil
	}
	var sErr *SaveError
	if stderrors.As(err, &sErr) {
		return sErr
	}
	return NewUnknown(err)
}

// CodeOf returns the error code of err, or ErrUnknown for foreign errors.
func CodeOf(err error) ErrorCode {
	var sErr *SaveError
	if stderrors.As(err, &sErr) {
		return sErr.Code
	}
	return ErrUnknown
}

// Is checks if an error is a SaveError with the given code.
// Wrapped errors are unwrapped.
func Is(err error, code ErrorCode) bool {
	var sErr *SaveError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}
