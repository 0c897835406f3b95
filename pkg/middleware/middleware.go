// Package middleware provides stock middleware for the SKernel engine.
// Every constructor returns a *common.Descriptor ready to be listed as global
// middleware or used in a route rule.
package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Suhaibinator/SKernel/pkg/chain"
	"github.com/Suhaibinator/SKernel/pkg/common"
	"go.uber.org/zap"
)

// SlowRequestThreshold is the duration above which Logging reports a request as slow.
const SlowRequestThreshold = time.Second

// Logging logs every request once the rest of the chain has returned.
// Server errors are logged at Error level, client errors and slow requests at Warn,
// and everything else at Debug to avoid log spam.
// When the chain raised an error and nothing was written yet, the logged status is
// the one the error filter will respond with.
func Logging(logger *zap.Logger) *common.Descriptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return common.Func("logging", func(w http.ResponseWriter, r *http.Request, next common.Next) error {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

		err := next(rw, r)

		duration := time.Since(start)
		status, ok := rw.result(err)
		if !ok {
			logger.Debug("Request abandoned",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("duration", duration),
			)
			return err
		}

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", duration),
		}
		if traceID := GetTraceID(r); traceID != "" {
			fields = append(fields, zap.String("trace_id", traceID))
		}

		switch {
		case status >= 500:
			logger.Error("Server error", append(fields, zap.String("remote_addr", r.RemoteAddr))...)
		case status >= 400:
			logger.Warn("Client error", fields...)
		case duration > SlowRequestThreshold:
			logger.Warn("Slow request", fields...)
		default:
			logger.Debug("Request", fields...)
		}
		return err
	})
}

// MaxBodySize limits the size of the request body. Reading past the limit fails with
// *http.MaxBytesError, which the default error filter maps to 413.
func MaxBodySize(maxSize int64) *common.Descriptor {
	return common.Func("max_body_size", func(w http.ResponseWriter, r *http.Request, next common.Next) error {
		if maxSize > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxSize)
		}
		return next(w, r)
	})
}

// Timeout sets a deadline on the request context. Downstream code observes the
// deadline through the context; once it has expired and nothing was written,
// the chain ends with a 408 error.
// Use the kernel's stall timeout to bound stages that ignore their context.
func Timeout(timeout time.Duration) *common.Descriptor {
	return common.Func("timeout", func(w http.ResponseWriter, r *http.Request, next common.Next) error {
		if timeout <= 0 {
			return next(w, r)
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		rw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		err := next(rw, r.WithContext(ctx))

		// The parent context ending means the client went away, not a timeout.
		if r.Context().Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !rw.written {
			return common.NewHTTPError(http.StatusRequestTimeout, "Request Timeout")
		}
		return err
	})
}

// CORSOptions configures the CORS middleware.
type CORSOptions struct {
	Origins          []string      // Allowed origins; "*" allows any
	Methods          []string      // Allowed methods for preflight requests
	Headers          []string      // Allowed request headers for preflight requests
	ExposeHeaders    []string      // Response headers visible to the browser
	AllowCredentials bool          // Sets Access-Control-Allow-Credentials
	MaxAge           time.Duration // How long a preflight response may be cached; 0 omits the header
}

// CORS adds CORS headers to the response. Preflight requests are answered with
// 200 and never reach the rest of the chain.
func CORS(opts CORSOptions) *common.Descriptor {
	allowAny := false
	for _, o := range opts.Origins {
		if o == "*" {
			allowAny = true
		}
	}

	return common.Func("cors", func(w http.ResponseWriter, r *http.Request, next common.Next) error {
		h := w.Header()
		origin := r.Header.Get("Origin")
		switch {
		case allowAny && !opts.AllowCredentials:
			h.Set("Access-Control-Allow-Origin", "*")
		case origin != "" && (allowAny || containsFold(opts.Origins, origin)):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		if opts.AllowCredentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if len(opts.ExposeHeaders) > 0 {
			h.Set("Access-Control-Expose-Headers", strings.Join(opts.ExposeHeaders, ", "))
		}

		if r.Method != http.MethodOptions {
			return next(w, r)
		}

		// Preflight
		if len(opts.Methods) > 0 {
			h.Set("Access-Control-Allow-Methods", strings.Join(opts.Methods, ", "))
		}
		if len(opts.Headers) > 0 {
			h.Set("Access-Control-Allow-Headers", strings.Join(opts.Headers, ", "))
		}
		if opts.MaxAge > 0 {
			h.Set("Access-Control-Max-Age", strconv.Itoa(int(opts.MaxAge.Seconds())))
		}
		w.WriteHeader(http.StatusOK)
		return nil
	})
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// statusWriter is a wrapper around http.ResponseWriter that captures the status code
// and the number of bytes written.
type statusWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	written      bool
}

// WriteHeader captures the status code and calls the underlying ResponseWriter.WriteHeader
func (rw *statusWriter) WriteHeader(statusCode int) {
	if !rw.written {
		rw.statusCode = statusCode
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Write captures the number of bytes written and calls the underlying ResponseWriter.Write
func (rw *statusWriter) Write(b []byte) (int, error) {
	rw.written = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush calls the underlying ResponseWriter.Flush if it implements http.Flusher
func (rw *statusWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		rw.written = true
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (rw *statusWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// result returns the status the client receives once err, the error returned by next,
// has gone through the error filter. It reports false for an abandoned chain.
func (rw *statusWriter) result(err error) (int, bool) {
	if err == nil || rw.written {
		return rw.statusCode, true
	}
	var abandoned *common.AbandonedError
	if errors.As(err, &abandoned) {
		return 0, false
	}
	status, _ := chain.StatusFor(err)
	return status, true
}

// Written reports whether the response has started.
func (rw *statusWriter) Written() bool {
	return rw.written || chain.ResponseStarted(rw.ResponseWriter)
}
