// Package common provides shared types and utilities used across the SKernel framework.
package common

import (
	"net/http"
)

// Next is the continuation handed to every middleware.
// Calling it runs the remaining stages of the chain (and finally the route handler)
// with the given writer and request. A middleware that never calls Next halts the chain.
// The returned error is the error raised further down the chain, if any.
type Next func(w http.ResponseWriter, r *http.Request) error

// Middleware is the capability every middleware implements.
// Any type with a Use method qualifies; there is no base type to embed.
// Use may inspect or replace the request and response, call next to continue,
// write a response and return without calling next to short-circuit,
// or return an error to hand the request to the error filter.
type Middleware interface {
	Use(w http.ResponseWriter, r *http.Request, next Next) error
}

// MiddlewareFunc adapts an ordinary function to the Middleware interface.
type MiddlewareFunc func(w http.ResponseWriter, r *http.Request, next Next) error

// Use calls f(w, r, next).
func (f MiddlewareFunc) Use(w http.ResponseWriter, r *http.Request, next Next) error {
	return f(w, r, next)
}

// HandlerFunc is the final handler of a chain, normally the route handler.
// Returning an error hands it to the error filter, like a middleware error.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// HTTPMiddleware is the classic net/http middleware shape: a function that wraps an http.Handler.
type HTTPMiddleware func(http.Handler) http.Handler

// Adapt converts a plain http.HandlerFunc into a HandlerFunc that never fails.
func Adapt(h http.HandlerFunc) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		h(w, r)
		return nil
	}
}

// httpMiddleware runs an HTTPMiddleware as a Middleware.
// Invoking the wrapped handler's ServeHTTP is the continuation call.
type httpMiddleware struct {
	wrap HTTPMiddleware
}

// Use implements Middleware.
func (m httpMiddleware) Use(w http.ResponseWriter, r *http.Request, next Next) error {
	var nextErr error
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		nextErr = next(w, r)
	})
	m.wrap(inner).ServeHTTP(w, r)
	return nextErr
}
