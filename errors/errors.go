// Package errors defines the coded errors shared by the grid packages and
// the HTTP layer. Every failure a client can cause is an *AppError whose
// Code selects the response status; anything else is treated as internal.
package errors

import (
	"errors"
	"fmt"
)

// Error codes.
const (
	CodeInternal     = "INTERNAL_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeBadRequest   = "BAD_REQUEST"
	CodeValidation   = "VALIDATION_ERROR"
	CodeTimeout      = "TIMEOUT"
	CodeRateLimited  = "RATE_LIMITED"
	CodeUnavailable  = "UNAVAILABLE"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"

	CodeInvalidLevel     = "INVALID_LEVEL"
	CodeOutOfRange       = "OUT_OF_RANGE"
	CodeTypeMismatch     = "TYPE_MISMATCH"
	CodePrecisionLoss    = "PRECISION_LOSS"
	CodeResourceExceeded = "RESOURCE_EXCEEDED"
	CodeGeometryRejected = "GEOMETRY_REJECTED"
)

// AppError is a coded error. Message is shown to clients, Err is not.
type AppError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

func (e *AppError) Error() string {
	msg := e.Code + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any *AppError with the same code, so errors.Is(err,
// New(CodeNotFound, "")) works as a code test.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && e.Code == t.Code
}

// WithDetails sets the details map and returns e.
func (e *AppError) WithDetails(details map[string]string) *AppError {
	e.Details = details
	return e
}

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches a code and client message to err.
func Wrap(err error, code, message string) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

func Internal(message string) *AppError { return New(CodeInternal, message) }

func BadRequest(message string) *AppError { return New(CodeBadRequest, message) }

func Validation(message string) *AppError { return New(CodeValidation, message) }

func Timeout(message string) *AppError { return New(CodeTimeout, message) }

func Forbidden(message string) *AppError { return New(CodeForbidden, message) }

// Unavailable reports a backend the service was started without.
func Unavailable(message string) *AppError { return New(CodeUnavailable, message) }

// NotFound formats "<resource> not found".
func NotFound(resource string) *AppError {
	return New(CodeNotFound, resource+" not found")
}

// ValidationWithDetails carries per-field messages in Details.
func ValidationWithDetails(message string, fields map[string]string) *AppError {
	return Validation(message).WithDetails(fields)
}

// Unauthorized defaults the message to "authentication required".
func Unauthorized(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return New(CodeUnauthorized, message)
}

// InvalidLevel reports a level outside [0,max].
func InvalidLevel(level, max int) *AppError {
	return New(CodeInvalidLevel, fmt.Sprintf("level %d outside [0,%d]", level, max)).
		WithDetails(map[string]string{"level": fmt.Sprint(level)})
}

// OutOfRange reports a coordinate outside the domain of axis.
func OutOfRange(axis string, value float64) *AppError {
	return New(CodeOutOfRange, fmt.Sprintf("%s %v out of range", axis, value)).
		WithDetails(map[string]string{"axis": axis})
}

// TypeMismatch reports an operation mixing 2D and 3D codes.
func TypeMismatch(message string) *AppError { return New(CodeTypeMismatch, message) }

// PrecisionLoss reports a request to refine a code past its stored level.
func PrecisionLoss(from, to int) *AppError {
	return New(CodePrecisionLoss, fmt.Sprintf("cannot refine code from level %d to %d", from, to))
}

// ResourceExceeded reports an exhausted depth, size or time budget.
func ResourceExceeded(message string) *AppError { return New(CodeResourceExceeded, message) }

// GeometryRejected wraps a failure of the geometry engine on client input.
func GeometryRejected(err error, message string) *AppError {
	return Wrap(err, CodeGeometryRejected, message)
}

// Code returns the code of the first *AppError in err's chain, or "".
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether err's chain holds an *AppError with code.
func HasCode(err error, code string) bool {
	return code != "" && Code(err) == code
}

func IsNotFound(err error) bool         { return HasCode(err, CodeNotFound) }
func IsValidation(err error) bool       { return HasCode(err, CodeValidation) }
func IsInvalidLevel(err error) bool     { return HasCode(err, CodeInvalidLevel) }
func IsOutOfRange(err error) bool       { return HasCode(err, CodeOutOfRange) }
func IsTypeMismatch(err error) bool     { return HasCode(err, CodeTypeMismatch) }
func IsPrecisionLoss(err error) bool    { return HasCode(err, CodePrecisionLoss) }
func IsResourceExceeded(err error) bool { return HasCode(err, CodeResourceExceeded) }
func IsGeometryRejected(err error) bool { return HasCode(err, CodeGeometryRejected) }
