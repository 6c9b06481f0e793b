// Package errors provides coded errors for the capture ingestion pipeline.
// Codes are stable strings so they survive the FFI and HTTP boundaries.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code that can be bridged to the UI layer.
type ErrorCode string

const (
	// General errors
	ErrInternal      ErrorCode = "INTERNAL_ERROR"
	ErrInvalid       ErrorCode = "INVALID_INPUT"
	ErrNotFound      ErrorCode = "NOT_FOUND"
	ErrConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Request errors
	ErrUnsupportedMediaType ErrorCode = "UNSUPPORTED_MEDIA_TYPE"

	// Capture access errors
	ErrFileAccess ErrorCode = "FILE_ACCESS_ERROR"

	// Video resolution aborts
	ErrResolutionFailed ErrorCode = "RESOLUTION_FAILED"
	ErrNoValidSource    ErrorCode = "NO_VALID_SOURCE"
	ErrInvalidPayload   ErrorCode = "INVALID_PAYLOAD"

	// Metadata errors (always recovered by the caller)
	ErrMetadataExtraction ErrorCode = "METADATA_EXTRACTION_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is reports whether any error in err's chain is an AppError with code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first AppError in err's chain,
// or ErrInternal when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsVideoAbort reports whether err is one of the video resolution aborts.
func IsVideoAbort(err error) bool {
	switch CodeOf(err) {
	case ErrResolutionFailed, ErrNoValidSource, ErrInvalidPayload:
		return true
	}
	return false
}
