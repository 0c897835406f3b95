package common

import (
	"fmt"
	"sync"
)

// Resolver hands dependencies to middleware factories.
// Keys are free-form strings chosen by the application.
type Resolver interface {
	Resolve(key string) (any, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(key string) (any, error)

// Resolve calls f(key).
func (f ResolverFunc) Resolve(key string) (any, error) {
	return f(key)
}

// ResolveAs resolves key and asserts the result to T.
func ResolveAs[T any](r Resolver, key string) (T, error) {
	var zero T
	if r == nil {
		return zero, fmt.Errorf("%w: %s", ErrDependencyNotFound, key)
	}
	v, err := r.Resolve(key)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("dependency %q has type %T, want %T", key, v, zero)
	}
	return t, nil
}

type emptyResolver struct{}

func (emptyResolver) Resolve(key string) (any, error) {
	return nil, fmt.Errorf("%w: %s", ErrDependencyNotFound, key)
}

// Dependencies is a small keyed container implementing Resolver.
// It is safe for concurrent use. Lazy providers run at most once.
type Dependencies struct {
	mu       sync.RWMutex
	values   map[string]any
	provider map[string]*lazyValue
}

type lazyValue struct {
	once  sync.Once
	fn    func(Resolver) (any, error)
	value any
	err   error
}

// NewDependencies creates an empty container.
func NewDependencies() *Dependencies {
	return &Dependencies{
		values:   make(map[string]any),
		provider: make(map[string]*lazyValue),
	}
}

// Provide registers a ready value under key, replacing any previous registration.
func (d *Dependencies) Provide(key string, value any) *Dependencies {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.provider, key)
	d.values[key] = value
	return d
}

// ProvideFunc registers a lazily built value. fn receives the container itself,
// so providers can depend on other keys.
func (d *Dependencies) ProvideFunc(key string, fn func(Resolver) (any, error)) *Dependencies {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.values, key)
	d.provider[key] = &lazyValue{fn: fn}
	return d
}

// Resolve implements Resolver.
func (d *Dependencies) Resolve(key string) (any, error) {
	d.mu.RLock()
	v, ok := d.values[key]
	lazy := d.provider[key]
	d.mu.RUnlock()

	if ok {
		return v, nil
	}
	if lazy == nil {
		return nil, fmt.Errorf("%w: %s", ErrDependencyNotFound, key)
	}
	lazy.once.Do(func() {
		lazy.value, lazy.err = lazy.fn(d)
	})
	return lazy.value, lazy.err
}
