package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for settled operations.
const (
	outcomeSucceeded = "succeeded"
	outcomeFailed    = "failed"
	outcomeTimedOut  = "timed_out"
)

var (
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_operations_total",
			Help: "Settled provisioning operations by protocol, verb, and outcome",
		},
		[]string{"protocol", "verb", "outcome"},
	)

	// Remote sessions run tens of seconds, so the default buckets stop far
	// too early. The top bucket sits past the largest watchdog budget.
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provisioning_operation_duration_seconds",
			Help:    "Wall time from dispatch to settle",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		},
		[]string{"protocol", "verb"},
	)

	sweepActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_sweep_actions_total",
			Help: "Expiration scanner actions by type",
		},
		[]string{"action"},
	)
)

func observeOperation(protocol, verb, outcome string, elapsed time.Duration) {
	operationsTotal.WithLabelValues(protocol, verb, outcome).Inc()
	operationDuration.WithLabelValues(protocol, verb).Observe(elapsed.Seconds())
}

func observeSweep(action string, n int) {
	if n > 0 {
		sweepActionsTotal.WithLabelValues(action).Add(float64(n))
	}
}
