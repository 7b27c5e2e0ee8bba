package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Every AppError wraps one of these, so callers branch with errors.Is and
// only the HTTP edge looks at codes and statuses.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrRejected       = errors.New("rejected by upstream")
	ErrServiceUnavail = errors.New("service unavailable")
)

// AppError is an error with a client-facing code and message and the HTTP
// status it renders as.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return e.Code + ": " + e.Message + ": " + e.Err.Error()
}

func (e *AppError) Unwrap() error { return e.Err }

// WithCause chains cause behind the kind sentinel. errors.Is matches both.
func (e *AppError) WithCause(cause error) *AppError {
	if cause != nil {
		e.Err = fmt.Errorf("%w: %w", e.Err, cause)
	}
	return e
}

type kind struct {
	sentinel error
	status   int
	code     string
	message  string // empty: the error text is shown as is
}

var kinds = []kind{
	{ErrNotFound, http.StatusNotFound, "NOT_FOUND", "resource not found"},
	{ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT", ""},
	{ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized"},
	{ErrRejected, http.StatusBadGateway, "UPSTREAM_REJECTED", "an upstream service rejected the request"},
	{ErrServiceUnavail, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "a dependency is temporarily unavailable"},
}

func build(sentinel error, message string) *AppError {
	for _, k := range kinds {
		if k.sentinel == sentinel {
			return &AppError{Code: k.code, Message: message, Status: k.status, Err: sentinel}
		}
	}
	panic("errors: unknown kind " + sentinel.Error())
}

// NotFound reports a missing resource, e.g. NotFound("cart line", "p-1").
func NotFound(resource, id string) *AppError {
	return build(ErrNotFound, fmt.Sprintf("%s %q not found", resource, id))
}

// InvalidInput reports a request the caller must fix.
func InvalidInput(message string) *AppError {
	return build(ErrInvalidInput, message)
}

// Unauthorized reports a missing or unusable identity.
func Unauthorized(message string) *AppError {
	return build(ErrUnauthorized, message)
}

// Rejected reports a 4xx answer from a downstream service that the caller
// cannot fix by changing its own request.
func Rejected(message string) *AppError {
	return build(ErrRejected, message)
}

// ServiceUnavailable reports a dependency that cannot be reached.
func ServiceUnavailable(message string) *AppError {
	return build(ErrServiceUnavail, message)
}

// Resolve returns the AppError that err renders as. A bare sentinel gets its
// kind's generic message and anything unrecognised becomes a masked 500.
func Resolve(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			msg := k.message
			if msg == "" {
				msg = err.Error()
			}
			return &AppError{Code: k.code, Message: msg, Status: k.status, Err: err}
		}
	}
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "an internal error occurred",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}
