package config

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Suhaibinator/SKernel/pkg/common"
	"github.com/Suhaibinator/SKernel/pkg/kernel"
	"github.com/Suhaibinator/SKernel/pkg/middleware"
	"github.com/Suhaibinator/SKernel/pkg/route"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const rules = `
stall_timeout: 5s
global: [trace, record_global]
rules:
  - use: [record_auth]
    for: [{controller: users}, {prefix: /admin}]
    exclude: [{path: /users/:id, method: GET}]
  - use: [record_post]
    for: [{prefix: /api, method: post}]
`

// record returns middleware that appends name to the X-Chain response header.
func record(name string) *common.Descriptor {
	return common.Func(name, func(w http.ResponseWriter, r *http.Request, next common.Next) error {
		w.Header().Add("X-Chain", name)
		return next(w, r)
	})
}

func testCatalog() *Catalog {
	return BuiltinCatalog(zap.NewNop(), BuiltinOptions{}).
		Add(record("record_global"), record("record_auth"), record("record_post"))
}

// TestParse tests decoding a valid file
func TestParse(t *testing.T) {
	f, err := Parse([]byte(rules))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if f.StallTimeout != 5*time.Second {
		t.Errorf("Expected stall timeout 5s, got %v", f.StallTimeout)
	}
	if strings.Join(f.Global, ",") != "trace,record_global" {
		t.Errorf("Unexpected global list %v", f.Global)
	}
	if len(f.Rules) != 2 || len(f.Rules[0].For) != 2 || f.Rules[0].Exclude[0].Method != "GET" {
		t.Errorf("Unexpected rules %+v", f.Rules)
	}
}

// TestParseValidation tests that every invalid field is reported
func TestParseValidation(t *testing.T) {
	_, err := Parse([]byte(`
rules:
  - use: []
    for: [{controller: users, prefix: /users}]
  - use: [auth]
    for: [{}]
    exclude: [{path: users}]
`))
	if err == nil {
		t.Fatal("Expected validation errors")
	}
	if !common.IsConfigurationError(err) {
		t.Errorf("Expected configuration errors, got %T", err)
	}
	if errs := multierr.Errors(err); len(errs) != 4 {
		t.Errorf("Expected 4 errors, got %d: %v", len(errs), err)
	}
	if !strings.Contains(err.Error(), "target") {
		t.Errorf("Expected the target rule in %q", err.Error())
	}
}

// TestParseMalformedYAML tests that decode errors are configuration errors
func TestParseMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("global: [trace"))
	if !common.IsConfigurationError(err) {
		t.Errorf("Expected a configuration error, got %v", err)
	}
	_, err = Parse([]byte("stall_timeout: soon"))
	if !common.IsConfigurationError(err) {
		t.Errorf("Expected a configuration error for a bad duration, got %v", err)
	}
}

// TestModuleUnknownMiddleware tests that every unknown name is reported
func TestModuleUnknownMiddleware(t *testing.T) {
	f, err := Parse([]byte(`
global: [trace, missing_one]
rules:
  - use: [missing_two]
    for: [{prefix: /}]
`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	_, err = Module(f, testCatalog())
	if !errors.Is(err, ErrUnknownMiddleware) {
		t.Fatalf("Expected ErrUnknownMiddleware, got %v", err)
	}
	if errs := multierr.Errors(err); len(errs) != 2 {
		t.Errorf("Expected 2 errors, got %v", err)
	}
}

// TestNewKernelFromFile tests a rule file round trip into a working kernel
func TestNewKernelFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "middleware.yaml")
	if err := os.WriteFile(path, []byte(rules), 0o600); err != nil {
		t.Fatalf("Failed to write rule file: %v", err)
	}

	table := route.NewTable()
	_ = table.Add(route.RouteInfo{Method: "GET", Pattern: "/users/:id", Controller: "users"})
	_ = table.Add(route.RouteInfo{Method: "DELETE", Pattern: "/users/:id", Controller: "users"})

	k, err := NewKernel(path, testCatalog(), kernel.Config{Lookup: table})
	if err != nil {
		t.Fatalf("Failed to create kernel: %v", err)
	}
	h := k.Handler(func(w http.ResponseWriter, r *http.Request) error { return nil })

	cases := []struct {
		method string
		path   string
		chain  string
	}{
		{"DELETE", "/users/1", "record_global,record_auth"},
		{"GET", "/users/1", "record_global"},
		{"GET", "/admin/stats", "record_global,record_auth"},
		{"POST", "/api/items", "record_global,record_post"},
		{"GET", "/api/items", "record_global"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(tc.method, tc.path, nil))
		if got := strings.Join(rr.Header().Values("X-Chain"), ","); got != tc.chain {
			t.Errorf("%s %s: expected %q, got %q", tc.method, tc.path, tc.chain, got)
		}
		if rr.Header().Get(middleware.TraceIDHeader) == "" {
			t.Errorf("%s %s: expected the trace middleware to run", tc.method, tc.path)
		}
	}
}

// TestNewKernelMissingFile tests the error for an unreadable path
func TestNewKernelMissingFile(t *testing.T) {
	_, err := NewKernel(filepath.Join(t.TempDir(), "absent.yaml"), testCatalog(), kernel.Config{})
	if !common.IsConfigurationError(err) || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected a configuration error wrapping os.ErrNotExist, got %v", err)
	}
}

// TestBuiltinCatalog tests which stock middleware is registered
func TestBuiltinCatalog(t *testing.T) {
	c := BuiltinCatalog(nil, BuiltinOptions{})
	if got := strings.Join(c.Names(), ","); got != "client_ip,logging,trace" {
		t.Errorf("Expected the option free middleware only, got %s", got)
	}

	c = BuiltinCatalog(nil, BuiltinOptions{
		CORS:        &middleware.CORSOptions{Origins: []string{"*"}},
		MaxBodySize: 1 << 20,
		Timeout:     time.Second,
		Registerer:  prometheus.NewRegistry(),
		RateLimit:   &middleware.RateLimitConfig{BucketName: "api", Limit: 10, Window: time.Minute},
		ThrottleRPS: 100,
	})
	want := "client_ip,cors,logging,max_body_size,metrics,rate_limit:api,throttle,timeout,trace"
	if got := strings.Join(c.Names(), ","); got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
	if _, ok := c.Get("rate_limit:api"); !ok {
		t.Error("Expected the rate limiter under its bucket name")
	}
}
