package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Pairing
	ErrCodeInvalidPairCode ErrorCode = "INVALID_PAIR_CODE"
	ErrCodePairCodeExpired ErrorCode = "PAIR_CODE_EXPIRED"
	ErrCodeRoleConflict    ErrorCode = "ROLE_CONFLICT"
	ErrCodeNotInRoom       ErrorCode = "NOT_IN_ROOM"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeConflict ErrorCode = "CONFLICT"

	// Sessions (desktop side)
	ErrCodeSessionBusy     ErrorCode = "SESSION_BUSY"
	ErrCodeSessionCap      ErrorCode = "SESSION_CAP_REACHED"
	ErrCodeNoActiveSession ErrorCode = "NO_ACTIVE_SESSION"
	ErrCodeDirNotAllowed   ErrorCode = "DIR_NOT_ALLOWED"
	ErrCodeDirMissing      ErrorCode = "DIR_MISSING"
	ErrCodeWorkerStopped   ErrorCode = "WORKER_STOPPED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func InvalidPairCode() *AppError {
	return New(ErrCodeInvalidPairCode, "Invalid pair code")
}

func PairCodeExpired() *AppError {
	return New(ErrCodePairCodeExpired, "Pair code expired")
}

func RoleConflict() *AppError {
	return New(ErrCodeRoleConflict, "Cannot pair same device types")
}

func NotInRoom() *AppError {
	return New(ErrCodeNotInRoom, "Device not in room")
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func SessionBusy() *AppError {
	return New(ErrCodeSessionBusy, "Session is busy")
}

func SessionCapReached(cap int) *AppError {
	return New(ErrCodeSessionCap, fmt.Sprintf("Maximum sessions (%d) reached", cap))
}

func NoActiveSession() *AppError {
	return New(ErrCodeNoActiveSession, "No active session")
}

func DirNotAllowed(path string) *AppError {
	return New(ErrCodeDirNotAllowed, fmt.Sprintf("Directory not allowed: %s", path))
}

func DirMissing(path string) *AppError {
	return New(ErrCodeDirMissing, fmt.Sprintf("Directory does not exist: %s", path))
}

func WorkerStopped() *AppError {
	return New(ErrCodeWorkerStopped, "Session worker is not running")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}
