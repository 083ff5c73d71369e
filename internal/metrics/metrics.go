// Package metrics holds the Prometheus collectors shared across Nitro.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nitro_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nitro_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nitro_llm_requests_total",
			Help: "Model provider calls by outcome",
		},
		[]string{"provider", "model", "outcome"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nitro_llm_request_duration_seconds",
			Help:    "Model provider call latency in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider"},
	)

	RouteOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nitro_route_outcomes_total",
			Help: "Routing results by source tag",
		},
		[]string{"source"},
	)

	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nitro_store_operations_total",
			Help: "Conversation store operations",
		},
		[]string{"op", "backend"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nitro_active_sessions",
			Help: "Number of sessions currently in the store",
		},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nitro_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
