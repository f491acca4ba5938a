// Package telemetry provides observability primitives for the amp-pool gateway.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the gateway.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	UpstreamErrors   *prometheus.CounterVec
	TokensProcessed  *prometheus.CounterVec
	CostCredits      *prometheus.CounterVec
	KeyPoolSize      prometheus.GaugeFunc
	KeyEvictions     prometheus.Counter
	LogQueueLength   prometheus.GaugeFunc
	StreamsActive    prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
// poolSize and logQueue are sampled at scrape time.
func NewMetrics(reg prometheus.Registerer, poolSize, logQueue func() float64) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amppool",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "amppool",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amppool",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amppool",
			Name:      "upstream_errors_total",
			Help:      "Total upstream provider errors by classification.",
		}, []string{"provider", "error_type"}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amppool",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"provider", "model", "type"}),

		CostCredits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "amppool",
			Name:      "cost_credits_total",
			Help:      "Total upstream credits consumed.",
		}, []string{"provider", "model"}),

		KeyPoolSize: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "amppool",
			Name:      "key_pool_size",
			Help:      "Current number of cached credentials.",
		}, poolSize),

		KeyEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "amppool",
			Name:      "key_evictions_total",
			Help:      "Total credentials evicted from the pool.",
		}),

		LogQueueLength: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "amppool",
			Name:      "log_queue_length",
			Help:      "Current number of queued request log records.",
		}, logQueue),

		StreamsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "amppool",
			Name:      "streams_active",
			Help:      "Number of SSE streams currently open.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamErrors,
		m.TokensProcessed,
		m.CostCredits,
		m.KeyPoolSize,
		m.KeyEvictions,
		m.LogQueueLength,
		m.StreamsActive,
	)

	return m
}
