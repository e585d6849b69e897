package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// internalMessage replaces the message of errors that carry no code so
// that driver and network text never reaches clients.
const internalMessage = "An internal error occurred"

// Envelope is the JSON body of every error response.
type Envelope struct {
	Error   Problem `json:"error"`
	TraceID string  `json:"trace_id,omitempty"`
}

// Problem is the client-visible part of an AppError.
type Problem struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// StatusOf returns the status code err is served with. Errors without a
// code, and codes this package does not define, are 500s.
func StatusOf(err error) int {
	switch Code(err) {
	case CodeBadRequest, CodeValidation, CodeInvalidLevel, CodeOutOfRange, CodeTypeMismatch:
		return http.StatusBadRequest
	case CodePrecisionLoss, CodeResourceExceeded, CodeGeometryRejected:
		return http.StatusUnprocessableEntity
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// ProblemOf extracts the client-visible fields of err.
func ProblemOf(err error) Problem {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return Problem{Code: CodeInternal, Message: internalMessage}
	}
	return Problem{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
}

// WriteError writes err as an Envelope with its status code.
func WriteError(w http.ResponseWriter, err error, traceID string) {
	writeEnvelope(w, StatusOf(err), Envelope{Error: ProblemOf(err), TraceID: traceID})
}

// WriteErrorWithStatus writes an Envelope for failures that happen before
// any AppError exists, such as a rejected content type.
func WriteErrorWithStatus(w http.ResponseWriter, status int, code, message string) {
	writeEnvelope(w, status, Envelope{Error: Problem{Code: code, Message: message}})
}

func writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}
