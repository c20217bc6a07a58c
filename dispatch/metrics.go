package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amebo_gists_delivered_total",
		Help: "Gists accepted by a subscriber (HTTP 200 or 202).",
	})
	rejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "amebo_gists_rejected_total",
		Help: "Delivery attempts rejected by status, timeout, or transport failure.",
	})
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "amebo_dispatch_cycle_seconds",
		Help:    "Wall time of non-empty dispatcher cycles.",
		Buckets: prometheus.DefBuckets,
	})
)
