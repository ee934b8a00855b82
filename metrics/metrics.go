package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitsd_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bitsd_http_request_duration_seconds",
			Help:    "Time taken to serve HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	BytesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitsd_bytes_stored_total",
			Help: "Total number of bytes accepted for storage",
		},
		[]string{"resource"},
	)

	StorageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bitsd_storage_errors_total",
			Help: "Total number of unexpected storage errors",
		},
		[]string{"resource", "op"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bitsd_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)
)
