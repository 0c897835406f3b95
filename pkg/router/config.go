// Package router is an HTTP router built on httprouter that runs every request
// through the SKernel middleware engine.
// Routes are grouped in named controllers, which is what controller targets of
// middleware rules refer to.
package router

import (
	"net/http"
	"time"

	"github.com/Suhaibinator/SKernel/pkg/common"
	"github.com/Suhaibinator/SKernel/pkg/kernel"
	"go.uber.org/zap"
)

// RouterConfig defines the global configuration for the router.
type RouterConfig struct {
	Logger            *zap.Logger        // Logger for all router operations
	Kernel            *kernel.Kernel     // Middleware engine; nil uses a kernel without middleware
	GlobalTimeout     time.Duration      // Default request deadline for all routes
	GlobalMaxBodySize int64              // Default maximum request body size in bytes
	EnableMetrics     bool               // Log per request metrics, slow requests and errors
	EnableTracing     bool               // Log a debug trace line for every request
	EnableTraceID     bool               // Add the trace ID to request logs
	Controllers       []ControllerConfig // Controllers registered by NewRouter
}

// ControllerConfig defines a named group of routes with a common path prefix.
// The name is what route.Controller targets match.
type ControllerConfig struct {
	Name                string        // Controller name
	PathPrefix          string        // Common path prefix for all routes in this controller
	TimeoutOverride     time.Duration // Override global timeout for all routes in this controller
	MaxBodySizeOverride int64         // Override global max body size for all routes in this controller
	Routes              []RouteConfig // Routes in this controller
}

// RouteConfig defines a route.
type RouteConfig struct {
	Path        string             // Route path, prefixed with the controller's path prefix
	Methods     []string           // HTTP methods this route handles
	Timeout     time.Duration      // Override timeout for this specific route
	MaxBodySize int64              // Override max body size for this specific route
	Handler     common.HandlerFunc // Route handler; a returned error goes to the kernel's error filter
}

// GenericRouteConfig defines a route with typed request and response data.
type GenericRouteConfig[T any, U any] struct {
	Path        string               // Route path, prefixed with the controller's path prefix
	Methods     []string             // HTTP methods this route handles
	Timeout     time.Duration        // Override timeout for this specific route
	MaxBodySize int64                // Override max body size for this specific route
	Codec       Codec[T, U]          // Codec for decoding the request and encoding the response
	Handler     GenericHandler[T, U] // Generic handler function
}

// GenericHandler defines a handler function with generic request and response types.
// When used with RegisterGenericRoute, the router decodes the request and encodes
// the response with the route's Codec.
type GenericHandler[T any, U any] func(r *http.Request, data T) (U, error)

// Codec defines an interface for decoding request data and encoding response data.
// The codec package includes JSON and Protocol Buffers implementations.
type Codec[T any, U any] interface {
	// Decode reads the request body into a value of type T.
	Decode(r *http.Request) (T, error)

	// Encode writes resp to the response and sets the Content-Type header.
	Encode(w http.ResponseWriter, resp U) error
}
