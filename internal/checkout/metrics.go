package checkout

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_orders_submitted_total",
		Help: "Checkout submissions, by outcome (ok or the error kind).",
	}, []string{"outcome"})

	paymentsVerified = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_payments_verified_total",
		Help: "Transaction status checks from callbacks and IPN, by resulting payment status.",
	}, []string{"status"})
)
