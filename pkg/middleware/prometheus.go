package middleware

import (
	"net/http"
	"time"

	"github.com/Suhaibinator/SKernel/pkg/common"
	"github.com/Suhaibinator/SKernel/pkg/metrics"
	"github.com/Suhaibinator/SKernel/pkg/route"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedRoute labels requests that matched no declared route.
const unmatchedRoute = "unmatched"

// Metrics records request count, latency, response size and errors with Prometheus.
// Requests are labeled with the declared route pattern when the router stored one,
// so label cardinality stays bounded. The collectors are registered when the kernel
// starts; a registration failure aborts startup.
func Metrics(registerer prometheus.Registerer, namespace string) *common.Descriptor {
	return common.Provide("metrics", common.Singleton, func(common.Resolver) (common.Middleware, error) {
		m, err := metrics.NewHTTPMetrics(metrics.PrometheusConfig{
			Registerer: registerer,
			Namespace:  namespace,
		})
		if err != nil {
			return nil, err
		}
		return common.MiddlewareFunc(func(w http.ResponseWriter, r *http.Request, next common.Next) error {
			start := time.Now()
			rw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

			err := next(rw, r)

			status, ok := rw.result(err)
			if !ok {
				return err
			}
			pattern := unmatchedRoute
			if info, ok := route.InfoFrom(r.Context()); ok && info.Pattern != "" {
				pattern = info.Pattern
			}
			m.Observe(r.Method, pattern, status, time.Since(start), rw.bytesWritten)
			return err
		}), nil
	})
}
