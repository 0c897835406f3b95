package common

import (
	"fmt"
	"net/http"
	"sync"
)

// Lifetime defines how often a descriptor's factory runs.
type Lifetime int

const (
	// Singleton middleware are created once, when the kernel starts, and shared by all requests.
	Singleton Lifetime = iota

	// PerRequest middleware are created for every chain execution.
	PerRequest
)

// String returns the lifetime name.
func (l Lifetime) String() string {
	switch l {
	case Singleton:
		return "singleton"
	case PerRequest:
		return "per_request"
	default:
		return fmt.Sprintf("lifetime(%d)", int(l))
	}
}

// Factory builds a middleware instance, pulling its dependencies from the resolver.
type Factory func(deps Resolver) (Middleware, error)

// Descriptor identifies a middleware implementation.
// The name is its identity in logs, metrics and diagnostics; the factory
// creates instances according to the lifetime.
type Descriptor struct {
	name     string
	lifetime Lifetime
	factory  Factory

	once     sync.Once
	instance Middleware
	err      error
}

// Provide creates a descriptor whose instances are built by factory.
func Provide(name string, lifetime Lifetime, factory Factory) *Descriptor {
	return &Descriptor{
		name:     name,
		lifetime: lifetime,
		factory:  factory,
	}
}

// Use creates a singleton descriptor for an existing middleware value.
func Use(name string, mw Middleware) *Descriptor {
	return Provide(name, Singleton, func(Resolver) (Middleware, error) {
		return mw, nil
	})
}

// Func creates a singleton descriptor for a middleware function.
func Func(name string, fn func(w http.ResponseWriter, r *http.Request, next Next) error) *Descriptor {
	return Use(name, MiddlewareFunc(fn))
}

// FromHTTP creates a singleton descriptor for a classic func(http.Handler) http.Handler middleware.
func FromHTTP(name string, mw HTTPMiddleware) *Descriptor {
	return Use(name, httpMiddleware{wrap: mw})
}

// Name returns the descriptor name.
func (d *Descriptor) Name() string {
	return d.name
}

// Lifetime returns the descriptor lifetime.
func (d *Descriptor) Lifetime() Lifetime {
	return d.lifetime
}

// Instance returns a middleware instance.
// Singletons are built on the first call and cached, including a failed build.
// PerRequest descriptors build a fresh instance on every call.
func (d *Descriptor) Instance(deps Resolver) (Middleware, error) {
	if deps == nil {
		deps = emptyResolver{}
	}
	if d.lifetime == PerRequest {
		return d.build(deps)
	}
	d.once.Do(func() {
		d.instance, d.err = d.build(deps)
	})
	return d.instance, d.err
}

func (d *Descriptor) build(deps Resolver) (Middleware, error) {
	if d.factory == nil {
		return nil, fmt.Errorf("middleware %q: no factory", d.name)
	}
	mw, err := d.factory(deps)
	if err != nil {
		return nil, fmt.Errorf("middleware %q: %w", d.name, err)
	}
	if mw == nil {
		return nil, fmt.Errorf("middleware %q: factory returned nil", d.name)
	}
	return mw, nil
}

// String returns the descriptor name.
func (d *Descriptor) String() string {
	return d.name
}
