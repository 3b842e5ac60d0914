package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeConflict indicates a conflict with existing data (e.g., duplicate job id or stale write).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"

	// ErrCodeInvalidRequest indicates a generation request was rejected before a job was created.
	ErrCodeInvalidRequest ErrorCode = "invalid_request"
	// ErrCodeSourceUnavailable indicates a referenced source repository could not be reached or read.
	ErrCodeSourceUnavailable ErrorCode = "source_unavailable"
	// ErrCodeGenerationFailed indicates the generator reported a substantive failure.
	ErrCodeGenerationFailed ErrorCode = "generation_failed"
	// ErrCodeBuildFailed indicates the builder reported a substantive failure.
	ErrCodeBuildFailed ErrorCode = "build_failed"
	// ErrCodeNotReady indicates a job has not reached a successful terminal state yet.
	ErrCodeNotReady ErrorCode = "not_ready"
	// ErrCodeInterrupted indicates a job lost its executor before finishing.
	ErrCodeInterrupted ErrorCode = "interrupted"
)

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for validation errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

func newf(code ErrorCode, format string, args ...any) *AppError {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &AppError{Code: code, Message: msg}
}

// NotFoundf reports a missing job or artifact.
func NotFoundf(format string, args ...any) *AppError {
	return newf(ErrCodeNotFound, format, args...)
}

// Conflictf reports a write against a stale or duplicate Job Record.
func Conflictf(format string, args ...any) *AppError {
	return newf(ErrCodeConflict, format, args...)
}

// ValidationField reports a stored value that failed a constraint.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: ErrCodeValidation, Message: message, Field: field}
}

// InvalidRequest creates a new InvalidRequest error for the given field.
func InvalidRequest(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Field:   field,
	}
}

// SourceUnavailable creates a new SourceUnavailable error wrapping the cause.
func SourceUnavailable(message string, cause error) *AppError {
	return &AppError{
		Code:    ErrCodeSourceUnavailable,
		Message: message,
		Cause:   cause,
	}
}

// GenerationFailed creates a new GenerationFailed error carrying the generator's detail.
func GenerationFailed(detail string) *AppError {
	return &AppError{
		Code:    ErrCodeGenerationFailed,
		Message: detail,
	}
}

// BuildFailed creates a new BuildFailed error carrying the builder's detail.
func BuildFailed(detail string) *AppError {
	return &AppError{
		Code:    ErrCodeBuildFailed,
		Message: detail,
	}
}

// NotReadyf reports a job that has no downloadable artifact yet.
func NotReadyf(format string, args ...any) *AppError {
	return newf(ErrCodeNotReady, format, args...)
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// Is reports whether err carries an AppError with code.
func Is(err error, code ErrorCode) bool {
	return isCode(err, code)
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsInvalidRequest checks if an error is an InvalidRequest error.
func IsInvalidRequest(err error) bool {
	return isCode(err, ErrCodeInvalidRequest)
}

// IsSourceUnavailable checks if an error is a SourceUnavailable error.
func IsSourceUnavailable(err error) bool {
	return isCode(err, ErrCodeSourceUnavailable)
}

// IsNotReady checks if an error is a NotReady error.
func IsNotReady(err error) bool {
	return isCode(err, ErrCodeNotReady)
}

// IsGenerationFailed checks if an error is a GenerationFailed error.
func IsGenerationFailed(err error) bool {
	return isCode(err, ErrCodeGenerationFailed)
}

// IsBuildFailed checks if an error is a BuildFailed error.
func IsBuildFailed(err error) bool {
	return isCode(err, ErrCodeBuildFailed)
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetMessage returns the AppError message without its cause chain, falling back to err.Error().
func GetMessage(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
