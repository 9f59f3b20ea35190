// Package errors provides typed errors for execwatch components.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes as constants
const (
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"

	// ErrCodeResolution marks a delta whose target entity could not be resolved.
	ErrCodeResolution = "RESOLUTION_ERROR"
	// ErrCodeInvocation marks a failed, timed out or unconfigured tool invocation.
	ErrCodeInvocation = "INVOCATION_ERROR"
	// ErrCodeResume marks a failed workflow resume or denial notice.
	ErrCodeResume = "RESUME_ERROR"
	// ErrCodeSnapshot marks a failed or malformed snapshot fetch.
	ErrCodeSnapshot = "SNAPSHOT_ERROR"
	// ErrCodePersistence marks a failed durable write.
	ErrCodePersistence = "PERSISTENCE_ERROR"
)

// AppError represents an application-specific error with additional context.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Code:       ErrCodeNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// BadRequest creates a new bad request error.
func BadRequest(message string) *AppError {
	return &AppError{
		Code:       ErrCodeBadRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Conflict creates a new conflict error.
func Conflict(message string) *AppError {
	return &AppError{
		Code:       ErrCodeConflict,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// InternalError creates a new internal error with a wrapped underlying error.
func InternalError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ResolutionError reports a delta whose target is not in the loaded subtree.
func ResolutionError(kind, ref string) *AppError {
	return &AppError{
		Code:       ErrCodeResolution,
		Message:    fmt.Sprintf("could not resolve %s '%s'", kind, ref),
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// InvocationError reports a tool invocation failure.
func InvocationError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeInvocation,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// ResumeError reports that the remote workflow could not be resumed.
func ResumeError(threadID string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeResume,
		Message:    fmt.Sprintf("failed to resume workflow thread '%s'", threadID),
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// SnapshotError reports a snapshot that could not be fetched or was malformed.
func SnapshotError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeSnapshot,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// PersistenceError reports a failed durable write.
func PersistenceError(message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodePersistence,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its code and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	return &AppError{
		Code:       ErrCodeInternalError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool { return HasCode(err, ErrCodeNotFound) }

// IsConflict checks if the error is a conflict error.
func IsConflict(err error) bool { return HasCode(err, ErrCodeConflict) }

// IsResumeError checks if the error is a resume error.
func IsResumeError(err error) bool { return HasCode(err, ErrCodeResume) }

// IsSnapshotError checks if the error is a snapshot error.
func IsSnapshotError(err error) bool { return HasCode(err, ErrCodeSnapshot) }

// HTTPStatus returns the HTTP status carried by err, or 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.HTTPStatus != 0 {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
