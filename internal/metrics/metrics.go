// Package metrics provides Prometheus instrumentation for the proxy. The
// collectors are package-level so any component can record into them; Init
// registers them once and Handler exposes them for scraping.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal counts inbound requests by route template, method and status.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghproxy_requests_total",
			Help: "Total inbound HTTP requests processed",
		},
		[]string{"route", "method", "status"},
	)

	// RequestDuration observes inbound request latency in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ghproxy_request_duration_seconds",
			Help:    "Inbound request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// InFlightRequests tracks the number of requests being served.
	InFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ghproxy_in_flight_requests",
			Help: "Number of inbound requests currently being processed",
		},
	)

	// UpstreamRequests counts outbound attempts by result: an HTTP status
	// code, or "error" for transport failures.
	UpstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghproxy_upstream_requests_total",
			Help: "Total outbound requests to the upstream API, including retries",
		},
		[]string{"result"},
	)

	// UpstreamRetries counts retried outbound attempts.
	UpstreamRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ghproxy_upstream_retries_total",
			Help: "Total retried outbound requests",
		},
	)

	// UpstreamFailures counts upstream calls that ended in an error after
	// retries, by reason.
	UpstreamFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghproxy_upstream_failures_total",
			Help: "Upstream calls answered with the generic server error",
		},
		[]string{"reason"},
	)

	// RateLimitHits counts rejected requests by route template.
	RateLimitHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghproxy_rate_limit_hits_total",
			Help: "Total rate limit rejections",
		},
		[]string{"route"},
	)
)

var (
	registry = prometheus.NewRegistry()
	initOnce sync.Once
)

// Init registers all collectors, plus the Go runtime and process
// collectors, with the proxy's registry. Later calls are no-ops.
func Init() {
	initOnce.Do(func() {
		registry.MustRegister(
			RequestsTotal,
			RequestDuration,
			InFlightRequests,
			UpstreamRequests,
			UpstreamRetries,
			UpstreamFailures,
			RateLimitHits,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// Handler returns an http.Handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}
