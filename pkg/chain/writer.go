package chain

import (
	"net/http"
	"sync"
	"sync/atomic"
)

// responseWriter tracks whether a response has started. With a stall timeout it also
// serializes writes and isolates the header map, so that once the chain times out the
// stalled stage can no longer touch the real response.
type responseWriter struct {
	w  http.ResponseWriter
	mu sync.Mutex

	header   http.Header // own header map when isolated, nil otherwise
	status   int
	written  bool
	timedOut bool
}

func newResponseWriter(w http.ResponseWriter, isolate bool) *responseWriter {
	rw := &responseWriter{w: w}
	if isolate {
		rw.header = make(http.Header)
	}
	return rw
}

// Header returns the header map stages write to.
func (rw *responseWriter) Header() http.Header {
	if rw.header != nil {
		return rw.header
	}
	return rw.w.Header()
}

// WriteHeader records the status and forwards it unless the chain timed out.
func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.timedOut || rw.written {
		return
	}
	rw.writeHeaderLocked(statusCode)
}

func (rw *responseWriter) writeHeaderLocked(statusCode int) {
	if rw.header != nil {
		dst := rw.w.Header()
		for k, v := range rw.header {
			dst[k] = v
		}
	}
	rw.status = statusCode
	rw.written = true
	rw.w.WriteHeader(statusCode)
}

// Write forwards b, returning http.ErrHandlerTimeout after a stall timeout.
func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.timedOut {
		return 0, http.ErrHandlerTimeout
	}
	if !rw.written {
		rw.writeHeaderLocked(http.StatusOK)
	}
	return rw.w.Write(b)
}

// Flush calls the underlying ResponseWriter.Flush if it implements http.Flusher.
func (rw *responseWriter) Flush() {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.timedOut {
		return
	}
	if !rw.written {
		rw.writeHeaderLocked(http.StatusOK)
	}
	if f, ok := rw.w.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying writer for http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.w
}

// Written reports whether the response status has been sent.
func (rw *responseWriter) Written() bool {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.written
}

// Status returns the status sent, or 0.
func (rw *responseWriter) Status() int {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	return rw.status
}

// detach marks the writer as timed out and returns a writer over the real response
// for the error filter. Writes through rw fail from here on.
func (rw *responseWriter) detach() *responseWriter {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	rw.timedOut = true
	return &responseWriter{w: rw.w, status: rw.status, written: rw.written}
}

// stageWriter records whether a stage wrote to the writer it was handed, whatever
// that writer is backed by.
type stageWriter struct {
	http.ResponseWriter
	wrote atomic.Bool
}

func (sw *stageWriter) WriteHeader(statusCode int) {
	sw.wrote.Store(true)
	sw.ResponseWriter.WriteHeader(statusCode)
}

func (sw *stageWriter) Write(b []byte) (int, error) {
	sw.wrote.Store(true)
	return sw.ResponseWriter.Write(b)
}

func (sw *stageWriter) Flush() {
	sw.wrote.Store(true)
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sw *stageWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

// ResponseStarted reports whether w, or a writer it wraps, has already sent a status.
// Writers that cannot tell are assumed not to have started.
func ResponseStarted(w http.ResponseWriter) bool {
	for w != nil {
		if s, ok := w.(interface{ Written() bool }); ok {
			return s.Written()
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return false
		}
		w = u.Unwrap()
	}
	return false
}
