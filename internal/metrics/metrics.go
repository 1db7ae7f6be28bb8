package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printcraft_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "printcraft_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "printcraft_http_requests_in_flight",
			Help: "Requests currently being served. Generations hold a slot for their whole upstream call.",
		},
	)

	ImagesStoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printcraft_images_stored_total",
			Help: "Total number of images written to storage.",
		},
		[]string{"type"},
	)

	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printcraft_generations_total",
			Help: "Total number of generation requests by caller class and outcome.",
		},
		[]string{"caller", "status"},
	)

	GenerationUpstreamDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "printcraft_generation_upstream_duration_seconds",
			Help:    "Latency of calls to the external image generation service.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		},
	)

	RateLimitDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "printcraft_ratelimit_denied_total",
			Help: "Total number of generation requests rejected by the rate limiter.",
		},
		[]string{"category"},
	)

	RetentionDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "printcraft_retention_deleted_total",
			Help: "Total number of expired uploads removed by the retention sweeper.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRequestsInFlight,
		ImagesStoredTotal,
		GenerationsTotal,
		GenerationUpstreamDuration,
		RateLimitDeniedTotal,
		RetentionDeletedTotal,
	)
}
