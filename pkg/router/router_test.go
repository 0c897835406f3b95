package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Suhaibinator/SKernel/pkg/codec"
	"github.com/Suhaibinator/SKernel/pkg/common"
	"github.com/Suhaibinator/SKernel/pkg/kernel"
	"github.com/Suhaibinator/SKernel/pkg/route"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// header returns middleware that appends name to the X-Chain response header.
func header(name string) *common.Descriptor {
	return common.Func(name, func(w http.ResponseWriter, r *http.Request, next common.Next) error {
		w.Header().Add("X-Chain", name)
		return next(w, r)
	})
}

func mustKernel(t *testing.T, module kernel.Module) *kernel.Kernel {
	t.Helper()
	k, err := kernel.New(&kernel.Config{Module: module})
	if err != nil {
		t.Fatalf("Failed to create kernel: %v", err)
	}
	return k
}

func mustRouter(t *testing.T, config RouterConfig) *Router {
	t.Helper()
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	r, err := NewRouter(config)
	if err != nil {
		t.Fatalf("Failed to create router: %v", err)
	}
	return r
}

func usersController() ControllerConfig {
	return ControllerConfig{
		Name:       "users",
		PathPrefix: "/users",
		Routes: []RouteConfig{
			{
				Path:    "/:id",
				Methods: []string{"GET", "DELETE"},
				Handler: func(w http.ResponseWriter, r *http.Request) error {
					_, _ = w.Write([]byte("user " + GetParam(r, "id")))
					return nil
				},
			},
		},
	}
}

// TestControllerMiddleware tests global and controller middleware on a matched route
func TestControllerMiddleware(t *testing.T) {
	k := mustKernel(t, kernel.Declarations{
		Global: []*common.Descriptor{header("global")},
		Routes: func(c *kernel.Configurator) {
			c.Use(header("auth")).For(route.Controller("users")).Exclude(route.ExceptMethod("GET", "/users/:id"))
		},
	})
	r := mustRouter(t, RouterConfig{Kernel: k, Controllers: []ControllerConfig{usersController()}})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("DELETE", "/users/7", nil))
	if got := strings.Join(rr.Header().Values("X-Chain"), ","); got != "global,auth" {
		t.Errorf("Expected global,auth, got %q", got)
	}
	if rr.Body.String() != "user 7" {
		t.Errorf("Expected body %q, got %q", "user 7", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/users/7", nil))
	if got := strings.Join(rr.Header().Values("X-Chain"), ","); got != "global" {
		t.Errorf("Expected the exclusion to skip auth for GET, got %q", got)
	}
}

// TestNotFoundRunsGlobalMiddleware tests that 404 and 405 responses go through the kernel
func TestNotFoundRunsGlobalMiddleware(t *testing.T) {
	k := mustKernel(t, kernel.Declarations{
		Global: []*common.Descriptor{header("global")},
		Routes: func(c *kernel.Configurator) {
			c.Use(header("users")).For(route.Controller("users"))
			c.Use(header("api")).For(route.Prefix("/api"))
		},
	})
	r := mustRouter(t, RouterConfig{Kernel: k, Controllers: []ControllerConfig{usersController()}})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/api/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status code %d, got %d", http.StatusNotFound, rr.Code)
	}
	if got := strings.Join(rr.Header().Values("X-Chain"), ","); got != "global,api" {
		t.Errorf("Expected global,api, got %q", got)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("POST", "/users/7", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status code %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
	if rr.Header().Get("Allow") == "" {
		t.Error("Expected an Allow header")
	}
	if got := strings.Join(rr.Header().Values("X-Chain"), ","); got != "global" {
		t.Errorf("Expected only global middleware for a wrong method, got %q", got)
	}
}

// TestRouterBecomesLookup tests that a kernel without a lookup gets the router
func TestRouterBecomesLookup(t *testing.T) {
	k := mustKernel(t, kernel.Declarations{Routes: func(c *kernel.Configurator) {
		c.Use(header("users")).For(route.Controller("users"))
	}})
	if !k.Registry().NeedsLookup() {
		t.Fatal("Expected the kernel to need a lookup")
	}
	r := mustRouter(t, RouterConfig{Kernel: k, Controllers: []ControllerConfig{usersController()}})
	if k.Registry().NeedsLookup() {
		t.Error("Expected the router to be set as lookup")
	}
	if got := k.Resolve("/users/1", "GET"); len(got) != 1 || got[0].Name() != "users" {
		t.Errorf("Expected users middleware from Resolve, got %v", got)
	}

	info, ok := r.Lookup("GET", "/users/1")
	if !ok || info.Controller != "users" || info.Pattern != "/users/:id" {
		t.Errorf("Expected users route, got %+v, %v", info, ok)
	}
	if len(r.Routes()) != 2 {
		t.Errorf("Expected 2 routes, got %d", len(r.Routes()))
	}
}

// TestRouteConflict tests that conflicting paths are reported as errors
func TestRouteConflict(t *testing.T) {
	r := mustRouter(t, RouterConfig{Controllers: []ControllerConfig{usersController()}})
	err := r.RegisterRoute("other", RouteConfig{
		Path:    "/users/:name",
		Methods: []string{"GET"},
		Handler: func(w http.ResponseWriter, r *http.Request) error { return nil },
	})
	if err == nil {
		t.Error("Expected a conflict error")
	}
	if err := r.RegisterRoute("", RouteConfig{Path: "/x", Methods: []string{"GET"}}); err == nil {
		t.Error("Expected an error for a nil handler")
	}
}

// TestHandlerError tests that handler errors go to the kernel's error filter
func TestHandlerError(t *testing.T) {
	r := mustRouter(t, RouterConfig{})
	_ = r.RegisterRoute("", RouteConfig{
		Path:    "/teapot",
		Methods: []string{"GET"},
		Handler: func(w http.ResponseWriter, r *http.Request) error {
			return common.NewHTTPError(http.StatusTeapot, "I'm a teapot")
		},
	})
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/teapot", nil))
	if rr.Code != http.StatusTeapot {
		t.Errorf("Expected status code %d, got %d", http.StatusTeapot, rr.Code)
	}
}

// TestRouteTimeout tests the route deadline and the controller override
func TestRouteTimeout(t *testing.T) {
	r := mustRouter(t, RouterConfig{GlobalTimeout: time.Hour, Controllers: []ControllerConfig{{
		Name:            "slow",
		TimeoutOverride: 10 * time.Millisecond,
		Routes: []RouteConfig{{
			Path:    "/slow",
			Methods: []string{"GET"},
			Handler: func(w http.ResponseWriter, r *http.Request) error {
				<-r.Context().Done()
				return r.Context().Err()
			},
		}},
	}}})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/slow", nil))
	if rr.Code != http.StatusRequestTimeout {
		t.Errorf("Expected status code %d, got %d", http.StatusRequestTimeout, rr.Code)
	}
}

type createUserRequest struct {
	Name string `json:"name"`
}

type createUserResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TestGenericRoute tests decoding, encoding and the error mapping of generic routes
func TestGenericRoute(t *testing.T) {
	r := mustRouter(t, RouterConfig{})
	err := RegisterGenericRoute(r, "users", GenericRouteConfig[createUserRequest, createUserResponse]{
		Path:        "/users",
		Methods:     []string{"POST"},
		MaxBodySize: 64,
		Codec:       codec.NewJSONCodec[createUserRequest, createUserResponse](),
		Handler: func(r *http.Request, req createUserRequest) (createUserResponse, error) {
			if req.Name == "" {
				return createUserResponse{}, common.NewHTTPError(http.StatusUnprocessableEntity, "name is required")
			}
			return createUserResponse{ID: "1", Name: req.Name}, nil
		},
	})
	if err != nil {
		t.Fatalf("Failed to register route: %v", err)
	}

	cases := []struct {
		body   string
		status int
	}{
		{`{"name":"alice"}`, http.StatusOK},
		{`{"name":`, http.StatusBadRequest},
		{`{"name":""}`, http.StatusUnprocessableEntity},
		{`{"name":"` + strings.Repeat("a", 100) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest("POST", "/users", strings.NewReader(tc.body)))
		if rr.Code != tc.status {
			t.Errorf("Body %q: expected status code %d, got %d", tc.body, tc.status, rr.Code)
		}
	}

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("POST", "/users", strings.NewReader(`{"name":"alice"}`)))
	if rr.Body.String() != `{"id":"1","name":"alice"}` {
		t.Errorf("Unexpected body %q", rr.Body.String())
	}
	if info, ok := r.Lookup("POST", "/users"); !ok || info.Controller != "users" {
		t.Errorf("Expected the generic route in the users controller, got %+v", info)
	}
}

// TestGenericRouteEncodeError tests that an encoding failure is a server error
func TestGenericRouteEncodeError(t *testing.T) {
	r := mustRouter(t, RouterConfig{})
	_ = RegisterGenericRoute(r, "", GenericRouteConfig[createUserRequest, chan int]{
		Path:    "/broken",
		Methods: []string{"GET"},
		Codec:   codec.NewJSONCodec[createUserRequest, chan int](),
		Handler: func(r *http.Request, req createUserRequest) (chan int, error) {
			return make(chan int), nil
		},
	})
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest("GET", "/broken", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("Expected status code %d, got %d", http.StatusInternalServerError, rr.Code)
	}
}

// TestRequestLogs tests the metrics and trace logs of ServeHTTP
func TestRequestLogs(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	r := mustRouter(t, RouterConfig{
		Logger:        zap.New(core),
		EnableMetrics: true,
		EnableTracing: true,
		Controllers:   []ControllerConfig{usersController()},
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/users/1", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nowhere", nil))

	if logs.FilterMessage("Request metrics").Len() != 2 {
		t.Errorf("Expected 2 metrics logs, got %d", logs.FilterMessage("Request metrics").Len())
	}
	if logs.FilterMessage("Request trace").Len() != 2 {
		t.Errorf("Expected 2 trace logs, got %d", logs.FilterMessage("Request trace").Len())
	}
	entries := logs.FilterMessage("Client error").All()
	if len(entries) != 1 || entries[0].ContextMap()["status"] != int64(http.StatusNotFound) {
		t.Errorf("Expected one client error log for the 404, got %v", entries)
	}
}

// TestShutdown tests that in-flight requests finish and new ones are rejected
func TestShutdown(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	r := mustRouter(t, RouterConfig{})
	_ = r.RegisterRoute("", RouteConfig{
		Path:    "/work",
		Methods: []string{"GET"},
		Handler: func(w http.ResponseWriter, r *http.Request) error {
			close(started)
			<-release
			_, _ = w.Write([]byte("done"))
			return nil
		},
	})

	var wg sync.WaitGroup
	inFlight := httptest.NewRecorder()
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.ServeHTTP(inFlight, httptest.NewRequest("GET", "/work", nil))
	}()
	<-started

	shutdownErr := make(chan error, 1)
	go func() {
		shutdownErr <- r.Shutdown(context.Background())
	}()

	// Wait for the shutdown flag before sending the rejected request.
	for {
		r.shutdownMu.RLock()
		down := r.shutdown
		r.shutdownMu.RUnlock()
		if down {
			break
		}
		time.Sleep(time.Millisecond)
	}

	rejected := httptest.NewRecorder()
	r.ServeHTTP(rejected, httptest.NewRequest("GET", "/work", nil))
	if rejected.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status code %d, got %d", http.StatusServiceUnavailable, rejected.Code)
	}

	close(release)
	wg.Wait()
	if err := <-shutdownErr; err != nil {
		t.Errorf("Unexpected shutdown error: %v", err)
	}
	if inFlight.Body.String() != "done" {
		t.Errorf("Expected the in-flight request to complete, got %q", inFlight.Body.String())
	}
}

// TestShutdownTimeout tests the context error when requests do not finish
func TestShutdownTimeout(t *testing.T) {
	r := mustRouter(t, RouterConfig{})
	r.wg.Add(1)
	defer r.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := r.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
}
