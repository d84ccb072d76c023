// Package telemetry provides observability primitives for cachemgr.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	RequestsTotal      *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
	ActiveRequests     prometheus.Gauge
	ProviderOpDuration *prometheus.HistogramVec
	ProviderOpResults  *prometheus.CounterVec
	CacheOpsTotal      *prometheus.CounterVec
	RateLimitRejects   *prometheus.CounterVec
	PurgeQueueLength   prometheus.Gauge
	PurgesDropped      prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachemgr",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "cachemgr",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cachemgr",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		ProviderOpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "cachemgr",
			Name:                            "provider_op_duration_seconds",
			Help:                            "Cache provider operation duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"provider", "op"}),

		ProviderOpResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachemgr",
			Name:      "provider_op_results_total",
			Help:      "Cache provider operation results.",
		}, []string{"provider", "op", "result"}),

		CacheOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachemgr",
			Name:      "cache_ops_total",
			Help:      "Coordinated cache operations by action and trigger.",
		}, []string{"action", "trigger", "result"}),

		RateLimitRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cachemgr",
			Name:      "ratelimit_rejects_total",
			Help:      "Total rate limit rejections.",
		}, []string{"type"}),

		PurgeQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cachemgr",
			Name:      "purge_queue_length",
			Help:      "Current number of queued purge audit records.",
		}),

		PurgesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cachemgr",
			Name:      "purge_records_dropped_total",
			Help:      "Purge audit records dropped because the queue was full.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.ProviderOpDuration,
		m.ProviderOpResults,
		m.CacheOpsTotal,
		m.RateLimitRejects,
		m.PurgeQueueLength,
		m.PurgesDropped,
	)

	return m
}
