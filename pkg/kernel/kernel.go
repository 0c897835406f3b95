// Package kernel is the startup entry point of the middleware engine.
//
// An application describes its middleware with a Module: an ordered global list and a
// Configure method declaring route-scoped rules through a Configurator. New commits the
// declarations into a Registry, freezes it and returns a Kernel that resolves and runs
// the middleware chain for each request.
package kernel

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/Suhaibinator/SKernel/pkg/chain"
	"github.com/Suhaibinator/SKernel/pkg/common"
	"github.com/Suhaibinator/SKernel/pkg/metrics"
	"github.com/Suhaibinator/SKernel/pkg/route"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Module declares an application's middleware.
type Module interface {
	// Middlewares returns the global middleware, applied to every request in this order.
	Middlewares() []*common.Descriptor
	// Configure declares route-scoped rules. The rules are committed when it returns.
	Configure(c *Configurator)
}

// Declarations is a Module built from values.
type Declarations struct {
	Global []*common.Descriptor
	Routes func(c *Configurator)
}

// Middlewares implements Module.
func (d Declarations) Middlewares() []*common.Descriptor {
	return d.Global
}

// Configure implements Module.
func (d Declarations) Configure(c *Configurator) {
	if d.Routes != nil {
		d.Routes(c)
	}
}

// Config defines the kernel configuration.
type Config struct {
	Module       Module            // Middleware declarations
	Logger       *zap.Logger       // Logger for configuration and chain execution; defaults to a no-op logger
	Lookup       route.Lookup      // Router collaborator for controller targets; may be set later with SetLookup
	Dependencies common.Resolver   // Dependencies for middleware factories
	ErrorFilter  chain.ErrorFilter // Receives raised errors; defaults to chain.DefaultErrorFilter
	StallTimeout time.Duration     // Per stage stall timeout; 0 disables
	Recorder     metrics.Recorder  // Chain instrumentation; defaults to metrics.NopRecorder
}

// Kernel resolves and executes the middleware chain for each request.
// It is immutable once created and safe for concurrent use.
type Kernel struct {
	registry *Registry
	logger   *zap.Logger
	options  chain.Options
	serving  atomic.Bool
}

// New commits cfg's declarations, freezes the registry and builds every singleton middleware.
// Any error is a *common.ConfigurationError, or several combined with multierr;
// a kernel that fails to configure must not serve.
func New(cfg *Config) (*Kernel, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	filter := cfg.ErrorFilter
	if filter == nil {
		filter = chain.DefaultErrorFilter(logger)
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = metrics.NopRecorder{}
	}

	registry := NewRegistry(cfg.Lookup, logger)
	if cfg.Module != nil {
		if err := registry.RegisterGlobal(cfg.Module.Middlewares()...); err != nil {
			return nil, err
		}
		c := newConfigurator()
		cfg.Module.Configure(c)
		if err := c.commit(registry); err != nil {
			return nil, err
		}
	}
	registry.Freeze()

	if err := instantiate(registry, cfg.Dependencies); err != nil {
		return nil, err
	}
	if registry.NeedsLookup() {
		logger.Warn("Controller targets declared without a route lookup; call SetLookup before serving")
	}

	return &Kernel{
		registry: registry,
		logger:   logger,
		options: chain.Options{
			Resolver:     cfg.Dependencies,
			ErrorFilter:  filter,
			Logger:       logger,
			StallTimeout: cfg.StallTimeout,
			Recorder:     recorder,
		},
	}, nil
}

// instantiate builds every singleton once so factory failures abort startup.
func instantiate(registry *Registry, deps common.Resolver) error {
	var err error
	seen := make(map[*common.Descriptor]struct{})
	build := func(d *common.Descriptor) {
		if _, ok := seen[d]; ok || d.Lifetime() != common.Singleton {
			return
		}
		seen[d] = struct{}{}
		if _, buildErr := d.Instance(deps); buildErr != nil {
			err = multierr.Append(err, common.NewConfigurationError("instantiate", buildErr, d.Name()))
		}
	}
	for _, d := range registry.Globals() {
		build(d)
	}
	for _, rule := range registry.Rules() {
		build(rule.Descriptor)
	}
	return err
}

// Registry returns the frozen registry.
func (k *Kernel) Registry() *Registry {
	return k.registry
}

// SetLookup provides the router collaborator after construction, for routers built
// around an existing kernel. It fails once the kernel has served a request.
func (k *Kernel) SetLookup(lookup route.Lookup) error {
	if k.serving.Load() {
		return common.NewConfigurationError("set lookup", common.ErrRegistryFrozen, "kernel is serving")
	}
	k.registry.SetLookup(lookup)
	return nil
}

// Resolve returns the middleware that apply to path and method.
func (k *Kernel) Resolve(path, method string) []*common.Descriptor {
	return k.registry.Resolve(path, method)
}

// Explain reports how every rule evaluates for path and method.
func (k *Kernel) Explain(path, method string) []Decision {
	return k.registry.Explain(path, method)
}

// Chain builds the chain for path and method.
func (k *Kernel) Chain(path, method string) *chain.Chain {
	return chain.Build(k.Resolve(path, method), k.options)
}

// ErrorFilter returns the filter raised errors are delivered to.
func (k *Kernel) ErrorFilter() chain.ErrorFilter {
	return k.options.ErrorFilter
}

// Serve resolves the chain for r and runs it in front of final. The terminal error
// is delivered to the error filter and returned. If the router already stored the
// matched route in the request context, it is used instead of a lookup.
func (k *Kernel) Serve(w http.ResponseWriter, r *http.Request, final common.HandlerFunc) error {
	k.serving.Store(true)
	if k.registry.NeedsLookup() {
		err := common.NewConfigurationError("resolve", common.ErrNoLookup, "")
		k.options.ErrorFilter.Catch(err, w, r)
		return err
	}

	var descriptors []*common.Descriptor
	if info, ok := route.InfoFrom(r.Context()); ok {
		descriptors = k.registry.ResolveRoute(r.URL.Path, r.Method, info)
	} else {
		descriptors = k.registry.Resolve(r.URL.Path, r.Method)
	}

	if ce := k.logger.Check(zap.DebugLevel, "Middleware resolved"); ce != nil {
		names := make([]string, len(descriptors))
		for i, d := range descriptors {
			names[i] = d.Name()
		}
		ce.Write(
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Strings("middleware", names),
		)
	}
	return chain.Build(descriptors, k.options).Serve(w, r, final)
}

// Handler returns a handler that runs the resolved chain in front of final.
func (k *Kernel) Handler(final common.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = k.Serve(w, r, final)
	})
}

// Wrap runs the resolved chain in front of next.
func (k *Kernel) Wrap(next http.Handler) http.Handler {
	return k.Handler(common.Adapt(next.ServeHTTP))
}
