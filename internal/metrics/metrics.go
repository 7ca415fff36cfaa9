package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Entitlement decisions by feature and outcome (allowed or a reason code).
	EntitlementChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nourish_entitlement_checks_total",
			Help: "Entitlement decisions by feature and outcome",
		},
		[]string{"feature", "outcome"},
	)

	UsageIncrements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nourish_usage_increments_total",
			Help: "Usage counter increments by usage type",
		},
		[]string{"type"},
	)

	BillingEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nourish_billing_events_total",
			Help: "Billing provider events by provider, kind and outcome",
		},
		[]string{"provider", "kind", "outcome"},
	)

	UpstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nourish_upstream_calls_total",
			Help: "Outbound provider calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nourish_upstream_call_seconds",
			Help:    "Outbound provider call latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 10},
		},
		[]string{"provider"},
	)
)

// Outcome labels a check result: "allowed" or the denial reason.
func Outcome(allowed bool, reason string) string {
	if allowed {
		return "allowed"
	}
	return reason
}
