package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "modelrelay"

var (
	// HTTPRequestsTotal counts handled HTTP requests across all planes.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metricNamespace + "_http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration observes wall time spent inside HTTP handlers.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricNamespace + "_http_request_duration_seconds",
		Help:    "HTTP handler latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// APIRequestDuration observes end-to-end data-plane call latency,
	// including provider time.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    metricNamespace + "_api_request_duration_seconds",
		Help:    "Data-plane request latency by alias and outcome.",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"alias", "provider", "status"})

	// APITokensTotal counts billed tokens flowing through the data plane.
	APITokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metricNamespace + "_api_tokens_total",
		Help: "Prompt and completion tokens by alias.",
	}, []string{"alias", "provider", "direction"})

	// UpstreamRetriesTotal counts provider attempts beyond the first.
	UpstreamRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: metricNamespace + "_upstream_retries_total",
		Help: "Provider call retries by alias.",
	}, []string{"alias", "provider"})
)

// ObserveHTTPRequest records one finished HTTP request.
func ObserveHTTPRequest(method, route string, status string, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveAPIRequest records one finished data-plane call.
func ObserveAPIRequest(alias, provider, status string, elapsed time.Duration, promptTokens, completionTokens int32) {
	APIRequestDuration.WithLabelValues(alias, provider, status).Observe(elapsed.Seconds())
	if promptTokens > 0 {
		APITokensTotal.WithLabelValues(alias, provider, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		APITokensTotal.WithLabelValues(alias, provider, "completion").Add(float64(completionTokens))
	}
}
