package middleware

import (
	"context"
	"net/http"

	"github.com/Suhaibinator/SKernel/pkg/common"
	"github.com/google/uuid"
)

// TraceIDHeader carries the trace ID on requests and responses.
const TraceIDHeader = "X-Trace-ID"

// traceIDKey is the key used to store the trace ID in the request context
type traceIDKey struct{}

// TraceIDKey is the context key of the trace ID.
var TraceIDKey = traceIDKey{}

// Trace assigns a trace ID to each request, stores it in the request context and
// echoes it in the X-Trace-ID response header. An incoming X-Trace-ID is kept when
// it is a valid UUID, so a trace can span several services.
func Trace() *common.Descriptor {
	return common.Func("trace", func(w http.ResponseWriter, r *http.Request, next common.Next) error {
		traceID := ""
		if incoming := r.Header.Get(TraceIDHeader); incoming != "" {
			if id, err := uuid.Parse(incoming); err == nil {
				traceID = id.String()
			}
		}
		if traceID == "" {
			traceID = uuid.New().String()
		}

		w.Header().Set(TraceIDHeader, traceID)
		return next(w, r.WithContext(WithTraceID(r.Context(), traceID)))
	})
}

// WithTraceID returns a copy of ctx carrying traceID.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID extracts the trace ID from the request context.
// Returns an empty string if no trace ID is found.
func GetTraceID(r *http.Request) string {
	return GetTraceIDFromContext(r.Context())
}

// GetTraceIDFromContext extracts the trace ID from a context.
// Returns an empty string if no trace ID is found.
func GetTraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}
