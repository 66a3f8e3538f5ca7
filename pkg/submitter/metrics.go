package submitter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scai_bridge_submissions_total",
			Help: "Total number of message submissions by outcome",
		}, []string{"target", "result"})
	submitRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scai_bridge_submission_retries_total",
			Help: "Total number of retried submissions",
		}, []string{"target"})
	submitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scai_bridge_submission_duration_seconds",
			Help:    "Time from first attempt to final outcome",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"target"})
)
