// Package metrics holds the service's Prometheus collectors. They register
// with the default registry, which echoprometheus serves at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "entitlement"

var (
	// WebhookEventsTotal counts provider webhook events by event type and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Total provider webhook events by event type and outcome.",
	}, []string{"event_type", "outcome"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "webhook",
		Name:      "duration_seconds",
		Help:      "Webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// TransitionsTotal counts committed entitlement transitions.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "transitions_total",
		Help:      "Committed entitlement transitions by trigger and status change.",
	}, []string{"trigger", "from", "to"})

	// ConcurrentRetriesTotal counts Upsert retries after a concurrent modification.
	ConcurrentRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "concurrent_retries_total",
		Help:      "Upsert retries caused by concurrent modification.",
	}, []string{"trigger"})

	// AccessDecisionsTotal counts access gate decisions.
	AccessDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gate",
		Name:      "decisions_total",
		Help:      "Access gate decisions by result and reason.",
	}, []string{"allowed", "reason"})

	// ProviderRequestsTotal counts billing provider calls by operation and result.
	ProviderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "requests_total",
		Help:      "Billing provider requests by operation and result.",
	}, []string{"operation", "result"})

	// ProviderDuration tracks billing provider latency.
	ProviderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "provider",
		Name:      "duration_seconds",
		Help:      "Billing provider request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	// SweeperRunsTotal counts sweeper passes.
	SweeperRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "runs_total",
		Help:      "Sweeper passes by result.",
	}, []string{"result"})

	// SweeperRowsTotal counts rows changed by the sweeper.
	SweeperRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweeper",
		Name:      "rows_total",
		Help:      "Rows handled by the sweeper by action.",
	}, []string{"action"})

	// PublishFailuresTotal counts change feed messages that could not be published.
	PublishFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "publish_failures_total",
		Help:      "EntitlementChanged messages that failed to publish, by trigger.",
	}, []string{"trigger"})
)
