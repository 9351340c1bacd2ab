package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"

	"github.com/aws/smithy-go"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeTransient covers network failures, throttling and 5xx answers
	// from collaborators. The stream producer is expected to replay.
	ErrorTypeTransient ErrorType = "TRANSIENT"

	// ErrorTypeDataIntegrity covers unexpected key shapes, missing attributes
	// and failed conditional writes. The operation is skipped.
	ErrorTypeDataIntegrity ErrorType = "DATA_INTEGRITY"

	// ErrorTypeProgrammer covers unregistered transitions and broken
	// invariants. These fail the batch.
	ErrorTypeProgrammer ErrorType = "PROGRAMMER"

	// ErrorTypeValidation is used by the ops surface for bad requests.
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeUnauthorized is used by the ops surface.
	ErrorTypeUnauthorized ErrorType = "UNAUTHORIZED"
)

// Sentinel causes shared across the stream processor.
var (
	ErrCounterFloor     = errors.New("counter is already at zero")
	ErrConditionFailed  = errors.New("conditional write precondition failed")
	ErrItemNotFound     = errors.New("item not found")
	ErrUnrecognizedKey  = errors.New("unrecognized key shape")
	ErrCascadeTooDeep   = errors.New("cascade depth exceeded")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrInvariantBroken  = errors.New("invariant violated")
	ErrNoTransitionRule = errors.New("no rule for transition")
)

// AppError represents an application-specific error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	StackTrace string                 `json:"-"`
	HTTPStatus int                    `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithDetails adds error details
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

// WithCause wraps an underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Cause = err
	return e
}

// captureStackTrace captures the current stack trace
func captureStackTrace() string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])

	stack := ""
	for {
		frame, more := frames.Next()
		stack += fmt.Sprintf("%s:%d %s\n", frame.File, frame.Line, frame.Function)
		if !more {
			break
		}
	}
	return stack
}

// NewTransientError creates an error for a failed call to a collaborator
func NewTransientError(operation string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeTransient,
		Message:    fmt.Sprintf("operation '%s' failed", operation),
		Cause:      err,
		HTTPStatus: http.StatusBadGateway,
	}
}

// NewDataIntegrityError creates an error for data that does not match expectations
func NewDataIntegrityError(message string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeDataIntegrity,
		Message:    message,
		Cause:      err,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewProgrammerError creates an error for a broken invariant. The stack is
// captured because these are always surfaced.
func NewProgrammerError(message string, err error) *AppError {
	return &AppError{
		Type:       ErrorTypeProgrammer,
		Message:    message,
		Cause:      err,
		HTTPStatus: http.StatusInternalServerError,
		StackTrace: captureStackTrace(),
	}
}

// NewValidationError creates a validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewUnauthorizedError creates an unauthorized error
func NewUnauthorizedError(message string) *AppError {
	if message == "" {
		message = "unauthorized"
	}
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from an error chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	return Classify(err) == errType
}

// IsTransient reports whether the error should be replayed by the producer
func IsTransient(err error) bool {
	return IsType(err, ErrorTypeTransient)
}

// IsDataIntegrity reports whether the failing operation should be skipped
func IsDataIntegrity(err error) bool {
	return IsType(err, ErrorTypeDataIntegrity)
}

// IsProgrammer reports whether the error must fail the batch
func IsProgrammer(err error) bool {
	return IsType(err, ErrorTypeProgrammer)
}

// Classify maps any error onto one of the three stream error kinds.
// Unknown errors are treated as transient.
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}

	if appErr := GetAppError(err); appErr != nil {
		return appErr.Type
	}

	switch {
	case errors.Is(err, ErrCounterFloor),
		errors.Is(err, ErrConditionFailed),
		errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrUnrecognizedKey),
		errors.Is(err, ErrCascadeTooDeep):
		return ErrorTypeDataIntegrity
	case errors.Is(err, ErrInvariantBroken), errors.Is(err, ErrNoTransitionRule):
		return ErrorTypeProgrammer
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorTypeTransient
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() == "ValidationException" {
		return ErrorTypeDataIntegrity
	}

	return ErrorTypeTransient
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	if appErr := GetAppError(err); appErr != nil {
		return &AppError{
			Type:       appErr.Type,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			Code:       appErr.Code,
			Details:    appErr.Details,
			Cause:      appErr.Cause,
			StackTrace: appErr.StackTrace,
			HTTPStatus: appErr.HTTPStatus,
		}
	}

	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}
