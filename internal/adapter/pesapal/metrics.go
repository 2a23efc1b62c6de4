package pesapal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pesapal_requests_total",
		Help: "Requests sent to the Pesapal API, by operation and outcome.",
	}, []string{"operation", "outcome"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pesapal_request_duration_seconds",
		Help:    "Latency of Pesapal API calls, including retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
)

// GetRequestsTotal exposes the request counter for tests.
func GetRequestsTotal() *prometheus.CounterVec {
	return requestsTotal
}

// GetRequestDuration exposes the latency histogram for tests.
func GetRequestDuration() *prometheus.HistogramVec {
	return requestDuration
}
