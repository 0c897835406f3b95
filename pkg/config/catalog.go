package config

import (
	"sort"
	"sync"
	"time"

	"github.com/Suhaibinator/SKernel/pkg/common"
	"github.com/Suhaibinator/SKernel/pkg/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Catalog maps middleware names used in rule files to descriptors.
// Descriptors are registered under their own name.
type Catalog struct {
	mu          sync.RWMutex
	descriptors map[string]*common.Descriptor
}

// NewCatalog creates a catalog holding descriptors.
func NewCatalog(descriptors ...*common.Descriptor) *Catalog {
	c := &Catalog{descriptors: make(map[string]*common.Descriptor)}
	c.Add(descriptors...)
	return c
}

// Add registers descriptors, replacing any with the same name. Nil descriptors are ignored.
func (c *Catalog) Add(descriptors ...*common.Descriptor) *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range descriptors {
		if d != nil {
			c.descriptors[d.Name()] = d
		}
	}
	return c
}

// Get returns the descriptor registered under name.
func (c *Catalog) Get(name string) (*common.Descriptor, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.descriptors[name]
	return d, ok
}

// Names returns the registered names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.descriptors))
	for name := range c.descriptors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuiltinOptions configures the stock middleware registered by BuiltinCatalog.
// Middleware whose options are left zero is not registered, except logging,
// trace and client_ip, which need none.
type BuiltinOptions struct {
	IP          *middleware.IPConfig        // client_ip; nil uses middleware.DefaultIPConfig
	CORS        *middleware.CORSOptions     // cors
	MaxBodySize int64                       // max_body_size
	Timeout     time.Duration               // timeout
	Registerer  prometheus.Registerer       // metrics
	Namespace   string                      // metrics namespace
	RateLimit   *middleware.RateLimitConfig // rate_limit, or rate_limit:<bucket>
	RateLimiter middleware.RateLimiter      // nil uses an in-memory limiter
	ThrottleRPS int                         // throttle
	Burst       int                         // throttle burst
}

// BuiltinCatalog returns a catalog with the stock middleware.
func BuiltinCatalog(logger *zap.Logger, opts BuiltinOptions) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := NewCatalog(
		middleware.Logging(logger),
		middleware.Trace(),
		middleware.ClientIP(opts.IP),
	)
	if opts.CORS != nil {
		c.Add(middleware.CORS(*opts.CORS))
	}
	if opts.MaxBodySize > 0 {
		c.Add(middleware.MaxBodySize(opts.MaxBodySize))
	}
	if opts.Timeout > 0 {
		c.Add(middleware.Timeout(opts.Timeout))
	}
	if opts.Registerer != nil {
		c.Add(middleware.Metrics(opts.Registerer, opts.Namespace))
	}
	if opts.RateLimit != nil {
		c.Add(middleware.RateLimit(*opts.RateLimit, opts.RateLimiter, logger))
	}
	if opts.ThrottleRPS > 0 {
		c.Add(middleware.Throttle(opts.ThrottleRPS, opts.Burst))
	}
	return c
}
