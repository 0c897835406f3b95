package chain

import (
	"context"
	"errors"
	"net/http"

	"github.com/Suhaibinator/SKernel/pkg/common"
	"go.uber.org/zap"
)

// ErrorFilter receives the error that halted a chain.
// It is called at most once per request, after the chain has unwound.
type ErrorFilter interface {
	Catch(err error, w http.ResponseWriter, r *http.Request)
}

// ErrorFilterFunc adapts a function to the ErrorFilter interface.
type ErrorFilterFunc func(err error, w http.ResponseWriter, r *http.Request)

// Catch calls f(err, w, r).
func (f ErrorFilterFunc) Catch(err error, w http.ResponseWriter, r *http.Request) {
	f(err, w, r)
}

// StatusFor maps a chain error to a response status and message.
func StatusFor(err error) (int, string) {
	var httpErr *common.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, httpErr.Message
	}
	var stall *common.StallError
	if errors.As(err, &stall) {
		if stall.Timeout > 0 {
			return http.StatusRequestTimeout, "Request Timeout"
		}
		return http.StatusInternalServerError, "Internal Server Error"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusRequestTimeout, "Request Timeout"
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "Request Entity Too Large"
	}
	return http.StatusInternalServerError, "Internal Server Error"
}

// DefaultErrorFilter logs err and writes a plain text response with the status from StatusFor.
// Nothing is written if the response has already started.
func DefaultErrorFilter(logger *zap.Logger) ErrorFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return ErrorFilterFunc(func(err error, w http.ResponseWriter, r *http.Request) {
		status, message := StatusFor(err)
		fields := []zap.Field{
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
		}

		var panicErr *common.PanicError
		switch {
		case errors.As(err, &panicErr):
			fields = append(fields, zap.String("stack", string(panicErr.Stack)))
			logger.Error("Panic recovered", fields...)
		case status >= 500:
			logger.Error("Server error", fields...)
		default:
			logger.Warn("Client error", fields...)
		}

		if ResponseStarted(w) {
			return
		}
		http.Error(w, message, status)
	})
}
