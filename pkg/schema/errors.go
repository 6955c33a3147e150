package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeNetwork           = "NETWORK_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeHTTP              = "HTTP_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeStore             = "STORE_ERROR"
)

// Error is the structured error type for all operon operations.
// Status carries the HTTP status of a failed call: 0 for a pure network
// failure, 408 when the client-side deadline fired, otherwise the
// server-provided status.
type Error struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"status,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("[%s] %d: %s", e.Code, e.Status, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewNetworkError creates the error for a transport failure that produced no response.
func NewNetworkError(message string) *Error {
	return &Error{Code: ErrCodeNetwork, Message: message, Status: 0}
}

// NewTimeoutError creates the error for a call that exceeded its deadline or was aborted.
func NewTimeoutError(message string) *Error {
	return &Error{Code: ErrCodeTimeout, Message: message, Status: 408}
}

// NewHTTPError creates the error for a response with a non-success status.
func NewHTTPError(status int, message string) *Error {
	return &Error{Code: ErrCodeHTTP, Message: message, Status: status}
}

// WithStatus attaches an HTTP status to the error.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// WithCause attaches an underlying cause.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}
