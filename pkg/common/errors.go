package common

import (
	"errors"
	"fmt"
	"time"
)

// Configuration sentinels. They are wrapped in a ConfigurationError.
var (
	ErrForWithoutUse      = errors.New("for called without a preceding use")
	ErrExcludeWithoutFor  = errors.New("exclude called without a preceding for")
	ErrUseWithoutFor      = errors.New("use declared without any for target")
	ErrNoDescriptors      = errors.New("use called without middleware")
	ErrNilDescriptor      = errors.New("nil middleware descriptor")
	ErrInvalidTarget      = errors.New("target must set exactly one of controller or prefix")
	ErrRegistryFrozen     = errors.New("registry is frozen")
	ErrNoLookup           = errors.New("controller target requires a route lookup")
	ErrDependencyNotFound = errors.New("dependency not found")
)

// ErrNextCalledTwice is returned by a continuation that was already invoked.
var ErrNextCalledTwice = errors.New("next called more than once")

// ConfigurationError reports a malformed middleware declaration.
// It is fatal at startup: a kernel that fails to configure never serves.
type ConfigurationError struct {
	Op     string // builder or registry operation, e.g. "for", "exclude", "register"
	Reason string // human readable detail, may be empty
	Err    error  // one of the Err* sentinels or an underlying error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	msg := "middleware configuration: " + e.Op
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NewConfigurationError creates a ConfigurationError.
func NewConfigurationError(op string, err error, reason string) *ConfigurationError {
	return &ConfigurationError{Op: op, Err: err, Reason: reason}
}

// IsConfigurationError reports whether err contains a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// HTTPError represents an HTTP error with a status code and message.
// Middleware and handlers return it to control the response the error filter writes.
type HTTPError struct {
	StatusCode int    // HTTP status code (e.g., 400, 404, 500)
	Message    string // Error message to be sent in the response body
}

// Error implements the error interface.
// It returns a string representation of the HTTP error in the format "status: message".
func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// NewHTTPError creates a new HTTPError with the specified status code and message.
func NewHTTPError(statusCode int, message string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
	}
}

// StallError reports a chain that stopped advancing without raising an error.
// Timeout is zero when the middleware returned without calling next and without
// writing a response; otherwise it is the stall timeout that elapsed while the
// middleware was still running.
type StallError struct {
	Middleware string
	Timeout    time.Duration
}

// Error implements the error interface.
func (e *StallError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("chain stalled at middleware %q: no progress after %s", e.Middleware, e.Timeout)
	}
	return fmt.Sprintf("chain stalled at middleware %q: returned without calling next or writing a response", e.Middleware)
}

// PanicError wraps a value recovered from a panicking middleware or handler.
type PanicError struct {
	Middleware string // empty when the final handler panicked
	Value      any
	Stack      []byte
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	where := "handler"
	if e.Middleware != "" {
		where = fmt.Sprintf("middleware %q", e.Middleware)
	}
	return fmt.Sprintf("panic in %s: %v", where, e.Value)
}

// AbandonedError reports a chain abandoned because the request context ended
// (client disconnect or cancellation) before the named stage could run.
type AbandonedError struct {
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *AbandonedError) Error() string {
	return fmt.Sprintf("chain abandoned before %q: %v", e.Stage, e.Err)
}

// Unwrap returns the context error.
func (e *AbandonedError) Unwrap() error {
	return e.Err
}
