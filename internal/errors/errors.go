// Package errors provides the error taxonomy shared by the store, the
// identification engine and the replication protocol.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique, stable error code that can be surfaced to UI collaborators.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"

	// Local store errors
	ErrStorage   ErrorCode = "STORAGE_ERROR"
	ErrNotFound  ErrorCode = "NOT_FOUND"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Sync errors
	ErrConfiguration   ErrorCode = "CONFIGURATION_ERROR"
	ErrNetwork         ErrorCode = "NETWORK_ERROR"
	ErrRemoteRejection ErrorCode = "REMOTE_REJECTION"

	// Identification errors
	ErrValidation ErrorCode = "VALIDATION_ERROR"

	// Export errors
	ErrExportFailed ErrorCode = "EXPORT_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error

	// StatusCode is the HTTP status returned by the remote store; set only for ErrRemoteRejection.
	StatusCode int
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

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is checks if an error, or any error it wraps, carries a specific code.
func Is(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost AppError in the chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// =====================================================
// Taxonomy constructors
// =====================================================

// NotFound reports a missing entity by id.
func NotFound(entity, id string) *AppError {
	return Newf(ErrNotFound, "%s not found: %s", entity, id)
}

// Storage wraps a transaction or IO failure in the local store.
func Storage(op string, err error) *AppError {
	return Wrap(ErrStorage, op, err)
}

// Configuration reports a missing sync endpoint or credential.
func Configuration(message string) *AppError {
	return New(ErrConfiguration, message)
}

// Network wraps a transport failure or timeout.
func Network(message string, err error) *AppError {
	return Wrap(ErrNetwork, message, err)
}

// RemoteRejection reports a non-2xx (or malformed 2xx) response from the remote store.
func RemoteRejection(statusCode int, detail string) *AppError {
	return &AppError{
		Code:       ErrRemoteRejection,
		Message:    fmt.Sprintf("sync failed (%d): %s", statusCode, detail),
		StatusCode: statusCode,
	}
}

// Validation reports a malformed identification query or capture input.
func Validation(message string) *AppError {
	return New(ErrValidation, message)
}

// Message returns the text of err without the "[CODE]" prefix of an AppError.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		if appErr.Err != nil {
			return appErr.Message + ": " + appErr.Err.Error()
		}
		return appErr.Message
	}
	return err.Error()
}
