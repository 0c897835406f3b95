package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusConfig defines the configuration for Prometheus metrics.
type PrometheusConfig struct {
	Registerer     prometheus.Registerer // Registry to register collectors with; defaults to a new registry
	Namespace      string                // Namespace for metrics
	Subsystem      string                // Subsystem for metrics
	LatencyBuckets []float64             // Buckets for duration histograms; defaults to prometheus.DefBuckets
}

func (c *PrometheusConfig) registerer() prometheus.Registerer {
	if c.Registerer == nil {
		c.Registerer = prometheus.NewRegistry()
	}
	return c.Registerer
}

func (c *PrometheusConfig) buckets() []float64 {
	if len(c.LatencyBuckets) == 0 {
		return prometheus.DefBuckets
	}
	return c.LatencyBuckets
}

// PrometheusRecorder implements Recorder with Prometheus collectors.
type PrometheusRecorder struct {
	chains        prometheus.Counter
	stagesPerReq  prometheus.Histogram
	stageDuration *prometheus.HistogramVec
	halts         *prometheus.CounterVec
	chainDuration prometheus.Histogram
}

// NewPrometheusRecorder creates the collectors and registers them.
// It fails if collectors with the same names are already registered.
func NewPrometheusRecorder(config PrometheusConfig) (*PrometheusRecorder, error) {
	reg := config.registerer()
	r := &PrometheusRecorder{
		chains: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "middleware_chains_total",
			Help:      "Total number of middleware chain executions.",
		}),
		stagesPerReq: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "middleware_chain_length",
			Help:      "Number of middleware resolved for a request.",
			Buckets:   prometheus.LinearBuckets(0, 1, 16),
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "middleware_stage_duration_seconds",
			Help:      "Time spent in a middleware, including downstream stages.",
			Buckets:   config.buckets(),
		}, []string{"middleware"}),
		halts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "middleware_chain_halts_total",
			Help:      "Chains that stopped before the final handler, by reason and middleware.",
		}, []string{"reason", "middleware"}),
		chainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "middleware_chain_duration_seconds",
			Help:      "Total chain execution time.",
			Buckets:   config.buckets(),
		}),
	}

	for _, c := range []prometheus.Collector{r.chains, r.stagesPerReq, r.stageDuration, r.halts, r.chainDuration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ChainStarted implements Recorder.
func (r *PrometheusRecorder) ChainStarted(stages int) {
	r.chains.Inc()
	r.stagesPerReq.Observe(float64(stages))
}

// StageCompleted implements Recorder.
func (r *PrometheusRecorder) StageCompleted(middleware string, duration time.Duration) {
	r.stageDuration.WithLabelValues(middleware).Observe(duration.Seconds())
}

// ChainHalted implements Recorder.
func (r *PrometheusRecorder) ChainHalted(reason HaltReason, middleware string) {
	r.halts.WithLabelValues(string(reason), middleware).Inc()
}

// ChainCompleted implements Recorder.
func (r *PrometheusRecorder) ChainCompleted(duration time.Duration) {
	r.chainDuration.Observe(duration.Seconds())
}

// HTTPMetrics holds per-request HTTP collectors used by the metrics middleware.
type HTTPMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	respBytes *prometheus.HistogramVec
	errors    *prometheus.CounterVec
}

// NewHTTPMetrics creates and registers request collectors labeled by method, route and status.
func NewHTTPMetrics(config PrometheusConfig) (*HTTPMetrics, error) {
	reg := config.registerer()
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   config.buckets(),
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   []float64{100, 1000, 10000, 100000, 1000000},
		}, []string{"method", "route"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Subsystem: config.Subsystem,
			Name:      "http_errors_total",
			Help:      "Total number of HTTP errors",
		}, []string{"method", "route", "status"}),
	}
	for _, c := range []prometheus.Collector{m.requests, m.latency, m.respBytes, m.errors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe records one finished request. route should be the declared pattern, not the raw path,
// to keep label cardinality bounded.
func (m *HTTPMetrics) Observe(method, route string, status int, duration time.Duration, bytes int64) {
	code := strconv.Itoa(status)
	m.requests.WithLabelValues(method, route, code).Inc()
	m.latency.WithLabelValues(method, route).Observe(duration.Seconds())
	m.respBytes.WithLabelValues(method, route).Observe(float64(bytes))
	if status >= 400 {
		m.errors.WithLabelValues(method, route, code).Inc()
	}
}

// Handler returns an HTTP handler exposing the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
