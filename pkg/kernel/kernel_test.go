package kernel

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/Suhaibinator/SKernel/pkg/chain"
	"github.com/Suhaibinator/SKernel/pkg/common"
	"github.com/Suhaibinator/SKernel/pkg/route"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// TestHandlerRunsResolvedChain tests end to end dispatch through the kernel
func TestHandlerRunsResolvedChain(t *testing.T) {
	var order []string
	record := func(name string) *common.Descriptor {
		return common.Func(name, func(w http.ResponseWriter, r *http.Request, next common.Next) error {
			order = append(order, name)
			return next(w, r)
		})
	}

	k := mustKernel(t, &Config{Module: Declarations{
		Global: []*common.Descriptor{record("global")},
		Routes: func(c *Configurator) {
			c.Use(record("users")).For(route.Prefix("/users"))
		},
	}})

	h := k.Handler(func(w http.ResponseWriter, r *http.Request) error {
		order = append(order, "handler")
		_, _ = w.Write([]byte("OK"))
		return nil
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/users/1", nil))
	if got := strings.Join(order, ","); got != "global,users,handler" {
		t.Errorf("Expected global,users,handler, got %s", got)
	}

	order = nil
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))
	if got := strings.Join(order, ","); got != "global,handler" {
		t.Errorf("Expected global,handler, got %s", got)
	}
}

// TestFirstStageHaltsSecond tests that a stage that never continues prevents later stages and the handler
func TestFirstStageHaltsSecond(t *testing.T) {
	secondCalled, handlerCalled := false, false
	gate := common.Func("gate", func(w http.ResponseWriter, r *http.Request, next common.Next) error {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return nil
	})
	second := common.Func("second", func(w http.ResponseWriter, r *http.Request, next common.Next) error {
		secondCalled = true
		return next(w, r)
	})

	k := mustKernel(t, &Config{Module: Declarations{Global: []*common.Descriptor{gate, second}}})
	rr := httptest.NewRecorder()
	k.Handler(func(w http.ResponseWriter, r *http.Request) error {
		handlerCalled = true
		return nil
	}).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if secondCalled || handlerCalled {
		t.Errorf("Expected second and handler not to run, got second=%v handler=%v", secondCalled, handlerCalled)
	}
	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status code %d, got %d", http.StatusForbidden, rr.Code)
	}
}

// TestApplicationErrorDeliveredOnce tests the hand-off to a custom error filter
func TestApplicationErrorDeliveredOnce(t *testing.T) {
	var caught int32
	filter := chain.ErrorFilterFunc(func(err error, w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&caught, 1)
		status, msg := chain.StatusFor(err)
		http.Error(w, msg, status)
	})

	laterCalled := false
	k := mustKernel(t, &Config{
		ErrorFilter: filter,
		Module: Declarations{Global: []*common.Descriptor{
			common.Func("auth", func(w http.ResponseWriter, r *http.Request, next common.Next) error {
				return common.NewHTTPError(http.StatusUnauthorized, "Unauthorized")
			}),
			common.Func("later", func(w http.ResponseWriter, r *http.Request, next common.Next) error {
				laterCalled = true
				return next(w, r)
			}),
		}},
	})

	rr := httptest.NewRecorder()
	k.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be called")
	})).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

	if laterCalled {
		t.Error("Expected later middleware not to run")
	}
	if caught != 1 {
		t.Errorf("Expected 1 delivery, got %d", caught)
	}
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("Expected status code %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

// TestSingletonFactoryFailureAbortsStartup tests that singleton errors surface from New
func TestSingletonFactoryFailureAbortsStartup(t *testing.T) {
	broken := common.Provide("broken", common.Singleton, func(common.Resolver) (common.Middleware, error) {
		return nil, errors.New("missing secret")
	})
	_, err := New(&Config{Module: Declarations{Global: []*common.Descriptor{broken}}})
	if !common.IsConfigurationError(err) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "missing secret") {
		t.Errorf("Expected the factory error in the message, got %q", err.Error())
	}
}

// TestFactoriesReceiveDependencies tests resolver injection for singleton and per-request middleware
func TestFactoriesReceiveDependencies(t *testing.T) {
	deps := common.NewDependencies().Provide("greeting", "hello")
	var singletonBuilds, scopedBuilds int32

	header := func(name string, lifetime common.Lifetime, counter *int32) *common.Descriptor {
		return common.Provide(name, lifetime, func(r common.Resolver) (common.Middleware, error) {
			atomic.AddInt32(counter, 1)
			greeting, err := common.ResolveAs[string](r, "greeting")
			if err != nil {
				return nil, err
			}
			return common.MiddlewareFunc(func(w http.ResponseWriter, req *http.Request, next common.Next) error {
				w.Header().Add("X-"+name, greeting)
				return next(w, req)
			}), nil
		})
	}

	k := mustKernel(t, &Config{
		Dependencies: deps,
		Module: Declarations{Global: []*common.Descriptor{
			header("Singleton", common.Singleton, &singletonBuilds),
			header("Scoped", common.PerRequest, &scopedBuilds),
		}},
	})
	if singletonBuilds != 1 || scopedBuilds != 0 {
		t.Errorf("Expected eager singleton only, got %d and %d builds", singletonBuilds, scopedBuilds)
	}

	h := k.Handler(func(w http.ResponseWriter, r *http.Request) error { return nil })
	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		// The handler writes nothing; the empty 200 comes from the recorder default.
		h.ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
		if rr.Header().Get("X-Singleton") != "hello" || rr.Header().Get("X-Scoped") != "hello" {
			t.Errorf("Expected injected headers, got %v", rr.Header())
		}
	}
	if singletonBuilds != 1 || scopedBuilds != 2 {
		t.Errorf("Expected 1 singleton and 2 scoped builds, got %d and %d", singletonBuilds, scopedBuilds)
	}
}

// TestControllerTargetWithoutLookup tests that an unset lookup is reported instead of silently skipped
func TestControllerTargetWithoutLookup(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	k := mustKernel(t, &Config{Logger: zap.New(core), Module: Declarations{Routes: func(c *Configurator) {
		c.Use(passthrough("auth")).For(route.Controller("users"))
	}}})
	if logs.FilterMessageSnippet("SetLookup").Len() != 1 {
		t.Error("Expected a warning about the missing lookup")
	}

	rr := httptest.NewRecorder()
	err := k.Serve(rr, httptest.NewRequest("GET", "/users/1", nil), nil)
	if !errors.Is(err, common.ErrNoLookup) {
		t.Errorf("Expected ErrNoLookup, got %v", err)
	}
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected status code %d, got %d", http.StatusInternalServerError, rr.Code)
	}
}

// TestSetLookup tests providing the lookup after construction and the lock once serving
func TestSetLookup(t *testing.T) {
	k := mustKernel(t, &Config{Module: Declarations{Routes: func(c *Configurator) {
		c.Use(passthrough("auth")).For(route.Controller("users"))
	}}})

	table := route.NewTable()
	if err := table.Add(route.RouteInfo{Method: "GET", Pattern: "/users/:id", Controller: "users"}); err != nil {
		t.Fatalf("Failed to add route: %v", err)
	}
	if err := k.SetLookup(table); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := names(k.Resolve("/users/9", "GET")); got != "auth" {
		t.Errorf("Expected auth, got %q", got)
	}

	_ = k.Serve(httptest.NewRecorder(), httptest.NewRequest("GET", "/users/9", nil), nil)
	if err := k.SetLookup(table); !errors.Is(err, common.ErrRegistryFrozen) {
		t.Errorf("Expected SetLookup to fail once serving, got %v", err)
	}
}

// TestServeUsesRouteFromContext tests that a route stored by the router skips the lookup
func TestServeUsesRouteFromContext(t *testing.T) {
	lookups := 0
	lookup := route.LookupFunc(func(method, path string) (route.RouteInfo, bool) {
		lookups++
		return route.RouteInfo{}, false
	})
	k := mustKernel(t, &Config{Lookup: lookup, Module: Declarations{Routes: func(c *Configurator) {
		c.Use(common.Func("auth", func(w http.ResponseWriter, r *http.Request, next common.Next) error {
			w.Header().Set("X-Auth", "1")
			return next(w, r)
		})).For(route.Controller("users"))
	}}})

	req := httptest.NewRequest("GET", "/users/1", nil)
	req = req.WithContext(route.WithInfo(req.Context(), route.RouteInfo{Method: "GET", Pattern: "/users/:id", Controller: "users"}))
	rr := httptest.NewRecorder()
	_ = k.Serve(rr, req, func(w http.ResponseWriter, r *http.Request) error { return nil })

	if lookups != 0 {
		t.Errorf("Expected no lookups, got %d", lookups)
	}
	if rr.Header().Get("X-Auth") != "1" {
		t.Error("Expected controller middleware to run")
	}
}

// TestChainForPath tests building an explicit chain
func TestChainForPath(t *testing.T) {
	k := mustKernel(t, &Config{Module: Declarations{
		Global: []*common.Descriptor{passthrough("g")},
		Routes: func(c *Configurator) {
			c.Use(passthrough("admin")).For(route.Prefix("/admin"))
		},
	}})
	c := k.Chain("/admin/users", "GET")
	if c.Len() != 2 || strings.Join(c.Names(), ",") != "g,admin" {
		t.Errorf("Expected chain g,admin, got %v", c.Names())
	}
}

// TestNewWithoutModule tests that an empty configuration yields a pass-through kernel
func TestNewWithoutModule(t *testing.T) {
	k, err := New(nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	rr := httptest.NewRecorder()
	k.Handler(func(w http.ResponseWriter, r *http.Request) error {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))
	if rr.Code != http.StatusNoContent {
		t.Errorf("Expected status code %d, got %d", http.StatusNoContent, rr.Code)
	}
}
