package quote

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	buildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quote_builds_total",
		Help: "Orders built from booking state, by outcome.",
	}, []string{"outcome"})

	quotedAmount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quote_amount",
		Help:    "Amounts of successfully built orders.",
		Buckets: []float64{25, 50, 100, 250, 500, 1000, 2500, 5000},
	})
)

// GetBuildsTotal returns the build counter.
func GetBuildsTotal() *prometheus.CounterVec {
	return buildsTotal
}

// GetQuotedAmount returns the amount histogram.
func GetQuotedAmount() prometheus.Histogram {
	return quotedAmount
}
