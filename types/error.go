package types

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the runtime.
type ErrorCode string

// Validation and lookup error codes
const (
	ErrValidation       ErrorCode = "VALIDATION"
	ErrMissingParameter ErrorCode = "MISSING_PARAMETER"
	ErrTypeMismatch     ErrorCode = "TYPE_MISMATCH"
	ErrEnumViolation    ErrorCode = "ENUM_VIOLATION"
	ErrUnknownFunction  ErrorCode = "UNKNOWN_FUNCTION"
	ErrNotFound         ErrorCode = "NOT_FOUND"
)

// State and lifecycle error codes
const (
	ErrState          ErrorCode = "STATE"
	ErrAgentStopped   ErrorCode = "AGENT_STOPPED"
	ErrAlreadyRunning ErrorCode = "ALREADY_RUNNING"
	ErrQueueFull      ErrorCode = "QUEUE_FULL"
	ErrResultPending  ErrorCode = "RESULT_PENDING"
)

// Dependency and runtime error codes
const (
	ErrDependency ErrorCode = "DEPENDENCY"
	ErrTimeout    ErrorCode = "TIMEOUT"
	ErrInternal   ErrorCode = "INTERNAL"
)

// Error is a structured error with a code, message, and metadata. It is the
// single error currency crossing component boundaries; HTTP handlers map it to
// the wire envelope.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Component  string    `json:"component,omitempty"`
	AgentID    string    `json:"agent_id,omitempty"`
	JobID      string    `json:"job_id,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorf creates a new Error with a formatted message.
func NewErrorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithComponent sets the component that produced the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// WithAgentID attaches the agent id the error relates to.
func (e *Error) WithAgentID(id string) *Error {
	e.AgentID = id
	return e
}

// WithJobID attaches the job id the error relates to.
func (e *Error) WithJobID(id string) *Error {
	e.JobID = id
	return e
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// HTTPStatusFor maps an error code to an HTTP status. Errors that carry an
// explicit HTTPStatus bypass this table.
func HTTPStatusFor(code ErrorCode) int {
	switch code {
	case ErrValidation, ErrMissingParameter, ErrTypeMismatch, ErrEnumViolation, ErrUnknownFunction:
		return http.StatusBadRequest
	case ErrNotFound:
		return http.StatusNotFound
	case ErrState, ErrAgentStopped, ErrAlreadyRunning, ErrResultPending:
		return http.StatusConflict
	case ErrQueueFull:
		return http.StatusTooManyRequests
	case ErrDependency:
		return http.StatusBadGateway
	case ErrTimeout:
		return http.StatusGatewayTimeout
	case ErrInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
