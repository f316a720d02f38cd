// Package metrics exposes the Prometheus collectors of the issuance pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "coupon"

var (
	admissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admissions_total",
		Help:      "Admission decisions by outcome.",
	}, []string{"outcome"})

	admissionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "admission_duration_seconds",
		Help:      "Time spent deciding one admission.",
		Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
	})

	issueResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "issue_results_total",
		Help:      "Claim events processed by the issuance worker, by result.",
	}, []string{"result"})

	issueAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "issue_attempts",
		Help:      "Durable write attempts per claim event.",
		Buckets:   prometheus.LinearBuckets(1, 1, 8),
	})

	compensations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "compensations_total",
		Help:      "Reservations returned to stock, by source.",
	}, []string{"source"})

	reconcileCorrections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_corrections_total",
		Help:      "Counter corrections made by reconciliation, by kind.",
	}, []string{"kind"})
)

func ObserveAdmission(outcome string, took time.Duration) {
	admissions.WithLabelValues(outcome).Inc()
	admissionLatency.Observe(took.Seconds())
}

func ObserveIssue(result string, attempts int) {
	issueResults.WithLabelValues(result).Inc()
	issueAttempts.Observe(float64(attempts))
}

func IncCompensation(source string) {
	compensations.WithLabelValues(source).Inc()
}

func AddReconcileCorrection(kind string, n int) {
	if n <= 0 {
		return
	}
	reconcileCorrections.WithLabelValues(kind).Add(float64(n))
}
