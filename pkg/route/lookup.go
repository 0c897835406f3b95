package route

import (
	"context"
	"strings"
	"sync"
)

// RouteInfo describes the route a request resolved to.
type RouteInfo struct {
	Method     string
	Pattern    string
	Controller string
}

// Lookup is implemented by the router. It maps a request to its declared route,
// which is how controller targets are matched.
type Lookup interface {
	Lookup(method, path string) (RouteInfo, bool)
}

// LookupFunc adapts a function to the Lookup interface.
type LookupFunc func(method, path string) (RouteInfo, bool)

// Lookup calls f(method, path).
func (f LookupFunc) Lookup(method, path string) (RouteInfo, bool) {
	return f(method, path)
}

type routeInfoKey struct{}

// WithInfo stores the matched route in ctx.
func WithInfo(ctx context.Context, info RouteInfo) context.Context {
	return context.WithValue(ctx, routeInfoKey{}, info)
}

// InfoFrom returns the matched route stored in ctx, if any.
func InfoFrom(ctx context.Context) (RouteInfo, bool) {
	info, ok := ctx.Value(routeInfoKey{}).(RouteInfo)
	return info, ok
}

type tableEntry struct {
	info    RouteInfo
	pattern Pattern
}

// Table is a Lookup over a list of declared routes.
// Static segments beat parameters, which beat wildcards; the method must match exactly.
// It is safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	entries []tableEntry
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{}
}

// Add declares a route. The pattern uses the Compile grammar.
func (t *Table) Add(info RouteInfo) error {
	p, err := Compile(info.Pattern)
	if err != nil {
		return err
	}
	info.Method = strings.ToUpper(info.Method)
	t.mu.Lock()
	t.entries = append(t.entries, tableEntry{info: info, pattern: p})
	t.mu.Unlock()
	return nil
}

// Routes returns the declared routes in declaration order.
func (t *Table) Routes() []RouteInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]RouteInfo, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.info
	}
	return out
}

// Lookup implements Lookup.
func (t *Table) Lookup(method, path string) (RouteInfo, bool) {
	method = strings.ToUpper(method)
	t.mu.RLock()
	defer t.mu.RUnlock()

	var best *tableEntry
	for i := range t.entries {
		e := &t.entries[i]
		if e.info.Method != method {
			continue
		}
		if _, ok := e.pattern.Match(path); !ok {
			continue
		}
		if best == nil || moreSpecific(e.pattern, best.pattern) {
			best = e
		}
	}
	if best == nil {
		return RouteInfo{}, false
	}
	return best.info, true
}
