// Package metrics provides Prometheus metrics for approvarr.
// Metrics are registered with the controller-runtime registry and served
// on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	// Namespace for all approvarr metrics
	namespace = "approvarr"
)

var (
	// GrabEventsTotal tracks webhook events by outcome
	GrabEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grab_events_total",
			Help:      "Total number of webhook events by app and outcome",
		},
		[]string{"app", "outcome"},
	)

	// GrabDuration tracks how long the grab pipeline takes, creation delay included
	GrabDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grab_duration_seconds",
			Help:      "Duration of grab handling in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"app"},
	)

	// ClientActionsTotal tracks download client operations
	ClientActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_actions_total",
			Help:      "Total number of download client operations by action and result",
		},
		[]string{"action", "result"},
	)

	// NotificationsTotal tracks notification deliveries
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Total number of notifications by provider, kind and result",
		},
		[]string{"provider", "kind", "result"},
	)

	// DecisionsTotal tracks approve/reject transitions
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Total number of approve/reject decisions by result",
		},
		[]string{"decision", "result"},
	)

	// ErrorPolicyTotal tracks how often each on_error policy was applied
	ErrorPolicyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_policy_total",
			Help:      "Total number of failed grabs handled by each error policy",
		},
		[]string{"policy"},
	)

	// QueueRemovalsTotal tracks *arr queue entries removed or failed
	QueueRemovalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_removals_total",
			Help:      "Total number of *arr queue reconciliations by instance and result",
		},
		[]string{"instance", "result"},
	)
)

func init() {
	// Register all metrics with the global prometheus registry
	metrics.Registry.MustRegister(
		GrabEventsTotal,
		GrabDuration,
		ClientActionsTotal,
		NotificationsTotal,
		DecisionsTotal,
		ErrorPolicyTotal,
		QueueRemovalsTotal,
	)
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordGrab records one handled webhook event
func RecordGrab(app, outcome string, duration float64) {
	GrabEventsTotal.WithLabelValues(app, outcome).Inc()
	GrabDuration.WithLabelValues(app).Observe(duration)
}

// RecordClientAction records a download client operation
func RecordClientAction(action string, err error) {
	ClientActionsTotal.WithLabelValues(action, result(err)).Inc()
}

// RecordNotification records a notification attempt
func RecordNotification(provider, kind string, err error) {
	NotificationsTotal.WithLabelValues(provider, kind, result(err)).Inc()
}

// RecordDecision records an approve or reject
func RecordDecision(decision string, err error) {
	DecisionsTotal.WithLabelValues(decision, result(err)).Inc()
}

// RecordErrorPolicy records that a policy was applied to a failed grab
func RecordErrorPolicy(policy string) {
	ErrorPolicyTotal.WithLabelValues(policy).Inc()
}

// RecordQueueRemoval records one queue entry removal attempt
func RecordQueueRemoval(instance string, err error) {
	QueueRemovalsTotal.WithLabelValues(instance, result(err)).Inc()
}
