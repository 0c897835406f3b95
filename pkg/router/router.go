package router

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/Suhaibinator/SKernel/pkg/common"
	"github.com/Suhaibinator/SKernel/pkg/kernel"
	"github.com/Suhaibinator/SKernel/pkg/middleware"
	"github.com/Suhaibinator/SKernel/pkg/route"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

// Router is the main router struct that implements http.Handler.
// Every request, including unmatched paths and wrong methods, runs through the
// kernel's middleware chain. The router is also the kernel's route.Lookup.
type Router struct {
	config            RouterConfig
	router            *httprouter.Router
	kernel            *kernel.Kernel
	table             *route.Table
	logger            *zap.Logger
	wg                sync.WaitGroup
	shutdown          bool
	shutdownMu        sync.RWMutex
	metricsWriterPool sync.Pool // Pool for reusing metricsResponseWriter objects
}

// contextKey is a type for context keys.
type contextKey string

const (
	// ParamsKey is the key used to store httprouter.Params in the request context.
	ParamsKey contextKey = "params"
)

// NewRouter creates a new Router with the given configuration and registers the
// configured controllers. If the kernel has controller targets and no route lookup,
// the router becomes its lookup.
func NewRouter(config RouterConfig) (*Router, error) {
	logger := config.Logger
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
	}

	k := config.Kernel
	if k == nil {
		var err error
		k, err = kernel.New(&kernel.Config{Logger: logger})
		if err != nil {
			return nil, err
		}
	}

	r := &Router{
		config: config,
		router: httprouter.New(),
		kernel: k,
		table:  route.NewTable(),
		logger: logger,
		metricsWriterPool: sync.Pool{
			New: func() interface{} {
				return &metricsResponseWriter{}
			},
		},
	}

	// Unmatched requests still run the global and prefix middleware.
	r.router.NotFound = r.kernel.Handler(func(w http.ResponseWriter, req *http.Request) error {
		http.Error(w, "404 page not found", http.StatusNotFound)
		return nil
	})
	r.router.MethodNotAllowed = r.kernel.Handler(func(w http.ResponseWriter, req *http.Request) error {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return nil
	})

	if k.Registry().NeedsLookup() {
		if err := k.SetLookup(r); err != nil {
			return nil, err
		}
	}

	for _, c := range config.Controllers {
		if err := r.RegisterController(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Kernel returns the middleware engine requests run through.
func (r *Router) Kernel() *kernel.Kernel {
	return r.kernel
}

// RegisterController registers every route of a controller under its path prefix.
func (r *Router) RegisterController(c ControllerConfig) error {
	for _, rc := range c.Routes {
		rc.Path = c.PathPrefix + rc.Path
		if rc.Timeout <= 0 {
			rc.Timeout = c.TimeoutOverride
		}
		if rc.MaxBodySize <= 0 {
			rc.MaxBodySize = c.MaxBodySizeOverride
		}
		if err := r.RegisterRoute(c.Name, rc); err != nil {
			return err
		}
	}
	return nil
}

// RegisterRoute registers a route of the named controller. controller may be empty
// for routes that belong to no controller. A path that conflicts with an already
// registered route is an error.
func (r *Router) RegisterRoute(controller string, rc RouteConfig) error {
	if rc.Handler == nil {
		return fmt.Errorf("route %s: nil handler", rc.Path)
	}
	if len(rc.Methods) == 0 {
		return fmt.Errorf("route %s: no methods", rc.Path)
	}

	timeout := r.getEffectiveTimeout(rc.Timeout)
	maxBodySize := r.getEffectiveMaxBodySize(rc.MaxBodySize)
	for _, method := range rc.Methods {
		info := route.RouteInfo{Method: strings.ToUpper(method), Pattern: rc.Path, Controller: controller}
		if err := r.handle(info, r.convertToHTTPRouterHandle(info, rc.Handler, timeout, maxBodySize)); err != nil {
			return err
		}
	}
	return nil
}

// RegisterGenericRoute registers a route with generic request and response types.
// This is a standalone function rather than a method because Go methods cannot have type parameters.
// A request that fails to decode ends the chain with 400, except an oversized body,
// which ends it with 413. Handler errors go to the error filter as returned.
func RegisterGenericRoute[Req any, Resp any](r *Router, controller string, rc GenericRouteConfig[Req, Resp]) error {
	if rc.Codec == nil || rc.Handler == nil {
		return fmt.Errorf("route %s: codec and handler are required", rc.Path)
	}
	handler := func(w http.ResponseWriter, req *http.Request) error {
		data, err := rc.Codec.Decode(req)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return err
			}
			r.logger.Warn("Failed to decode request",
				zap.Error(err),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
			)
			return common.NewHTTPError(http.StatusBadRequest, "Bad Request")
		}

		resp, err := rc.Handler(req, data)
		if err != nil {
			return err
		}

		if err := rc.Codec.Encode(w, resp); err != nil {
			return fmt.Errorf("encode response: %w", err)
		}
		return nil
	}

	return r.RegisterRoute(controller, RouteConfig{
		Path:        rc.Path,
		Methods:     rc.Methods,
		Timeout:     rc.Timeout,
		MaxBodySize: rc.MaxBodySize,
		Handler:     handler,
	})
}

// handle registers h with httprouter and records the route for lookups.
// httprouter reports conflicting paths by panicking; that is returned as an error.
func (r *Router) handle(info route.RouteInfo, h httprouter.Handle) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("route %s %s: %v", info.Method, info.Pattern, rec)
		}
	}()
	r.router.Handle(info.Method, info.Pattern, h)
	if err := r.table.Add(info); err != nil {
		return fmt.Errorf("route %s %s: %w", info.Method, info.Pattern, err)
	}
	r.logger.Debug("Route registered",
		zap.String("method", info.Method),
		zap.String("path", info.Pattern),
		zap.String("controller", info.Controller),
	)
	return nil
}

// convertToHTTPRouterHandle converts a route handler to an httprouter.Handle.
// It stores the route parameters and the matched route in the request context,
// applies the route's deadline and body limit, and runs the kernel chain.
func (r *Router) convertToHTTPRouterHandle(info route.RouteInfo, handler common.HandlerFunc, timeout time.Duration, maxBodySize int64) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(req.Context(), ParamsKey, ps)
		ctx = route.WithInfo(ctx, info)
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		req = req.WithContext(ctx)

		if maxBodySize > 0 && req.Body != nil {
			req.Body = http.MaxBytesReader(w, req.Body, maxBodySize)
		}

		_ = r.kernel.Serve(w, req, handler)
	}
}

// Lookup implements route.Lookup over the registered routes.
func (r *Router) Lookup(method, path string) (route.RouteInfo, bool) {
	return r.table.Lookup(method, path)
}

// Routes returns the registered routes in registration order.
func (r *Router) Routes() []route.RouteInfo {
	return r.table.Routes()
}

// ServeHTTP implements the http.Handler interface.
// It rejects requests once the router is shutting down, logs metrics and traces
// if enabled, and then delegates to the underlying httprouter.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	// First add to the wait group before checking shutdown status
	r.wg.Add(1)
	defer r.wg.Done()

	r.shutdownMu.RLock()
	isShutdown := r.shutdown
	r.shutdownMu.RUnlock()
	if isShutdown {
		w.Header().Set("Connection", "close")
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
		return
	}

	if !r.config.EnableMetrics && !r.config.EnableTracing {
		r.router.ServeHTTP(w, req)
		return
	}

	mrw := r.metricsWriterPool.Get().(*metricsResponseWriter)
	mrw.ResponseWriter = w
	mrw.statusCode = http.StatusOK
	mrw.bytesWritten = 0
	mrw.written = false
	start := time.Now()

	defer func() {
		r.logRequest(req, mrw, time.Since(start))

		// Reset fields that might hold references to prevent memory leaks
		mrw.ResponseWriter = nil
		r.metricsWriterPool.Put(mrw)
	}()

	r.router.ServeHTTP(mrw, req)
}

// logRequest writes the request metrics and trace logs.
func (r *Router) logRequest(req *http.Request, mrw *metricsResponseWriter, duration time.Duration) {
	fields := []zap.Field{
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", mrw.statusCode),
		zap.Duration("duration", duration),
	}
	if r.config.EnableTraceID {
		traceID := middleware.GetTraceID(req)
		if traceID == "" {
			traceID = mrw.Header().Get(middleware.TraceIDHeader)
		}
		if traceID != "" {
			fields = append([]zap.Field{zap.String("trace_id", traceID)}, fields...)
		}
	}

	if r.config.EnableMetrics {
		// Use Debug level for metrics to avoid log spam
		r.logger.Debug("Request metrics", append(fields, zap.Int64("bytes", mrw.bytesWritten))...)

		if duration > middleware.SlowRequestThreshold {
			r.logger.Warn("Slow request", fields...)
		}
		if mrw.statusCode >= 500 {
			r.logger.Error("Server error", fields...)
		} else if mrw.statusCode >= 400 {
			r.logger.Warn("Client error", fields...)
		}
	}

	if r.config.EnableTracing {
		r.logger.Debug("Request trace", append(fields,
			zap.String("remote_addr", req.RemoteAddr),
			zap.String("user_agent", req.UserAgent()),
		)...)
	}
}

// metricsResponseWriter is a wrapper around http.ResponseWriter that captures metrics.
// It tracks the status code and bytes written for each response.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	written      bool
}

// WriteHeader captures the status code and calls the underlying ResponseWriter.WriteHeader.
func (rw *metricsResponseWriter) WriteHeader(statusCode int) {
	if !rw.written {
		rw.statusCode = statusCode
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Write captures the number of bytes written and calls the underlying ResponseWriter.Write.
func (rw *metricsResponseWriter) Write(b []byte) (int, error) {
	rw.written = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Flush calls the underlying ResponseWriter.Flush if it implements http.Flusher.
func (rw *metricsResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		rw.written = true
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter for http.ResponseController.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Shutdown gracefully shuts down the router.
// It stops accepting new requests and waits for existing requests to complete.
// If the context is canceled before all requests complete, it returns the context's error.
func (r *Router) Shutdown(ctx context.Context) error {
	r.shutdownMu.Lock()
	r.shutdown = true
	r.shutdownMu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetParams retrieves the httprouter.Params from the request context.
func GetParams(r *http.Request) httprouter.Params {
	params, _ := r.Context().Value(ParamsKey).(httprouter.Params)
	return params
}

// GetParam retrieves a specific parameter from the request context.
func GetParam(r *http.Request, name string) string {
	return GetParams(r).ByName(name)
}

// getEffectiveTimeout returns the route timeout, or the global one.
func (r *Router) getEffectiveTimeout(routeTimeout time.Duration) time.Duration {
	if routeTimeout > 0 {
		return routeTimeout
	}
	return r.config.GlobalTimeout
}

// getEffectiveMaxBodySize returns the route body limit, or the global one.
func (r *Router) getEffectiveMaxBodySize(routeMaxBodySize int64) int64 {
	if routeMaxBodySize > 0 {
		return routeMaxBodySize
	}
	return r.config.GlobalMaxBodySize
}
