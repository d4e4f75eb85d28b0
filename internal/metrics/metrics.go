// Package metrics holds the Prometheus instruments of the pipeline. Values
// are exposed on /metrics through promhttp.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Queue consumer
	QueueMessagesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_queue_messages_received_total",
			Help: "Total number of messages received from the queue",
		},
	)

	QueueMessagesDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_queue_messages_deleted_total",
			Help: "Total number of messages deleted from the queue",
		},
	)

	QueueMessagesDeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_queue_messages_dead_lettered_total",
			Help: "Total number of messages archived as unprocessable, by error kind",
		},
		[]string{"kind"},
	)

	QueueErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_queue_errors_total",
			Help: "Total number of consumer errors by stage",
		},
		[]string{"stage"}, // "receive", "handle", "delete", "dead_letter"
	)

	QueueConsecutiveErrors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_queue_consecutive_errors",
			Help: "Current consecutive error count of the queue consumer",
		},
	)

	QueueHandleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "beacon_queue_handle_duration_seconds",
			Help:    "Time spent routing one queue message",
			Buckets: prometheus.DefBuckets,
		},
	)

	QueueMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_queue_messages_published_total",
			Help: "Total number of envelopes published, by schema",
		},
		[]string{"schema"},
	)

	// Router
	EventsRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_events_routed_total",
			Help: "Total number of envelopes routed, by schema and outcome",
		},
		[]string{"schema", "outcome"},
	)

	// Webhooks
	HooksFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_hooks_fired_total",
			Help: "Total number of webhook callbacks issued, by result",
		},
		[]string{"result"},
	)

	HooksSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_hooks_saved_total",
			Help: "Total number of hook registrations stored",
		},
	)

	// Fan-out
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "beacon_websocket_connections_active",
			Help: "Current number of connected realtime clients",
		},
	)

	WebSocketMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "beacon_websocket_messages_sent_total",
			Help: "Total number of frames queued to clients, by delivery mode",
		},
		[]string{"mode"}, // "broadcast", "emit"
	)

	WebSocketFramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "beacon_websocket_frames_dropped_total",
			Help: "Total number of frames dropped for slow clients",
		},
	)

	// Health
	DependencyUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "beacon_dependency_up",
			Help: "Whether a backing service answered its last health check (1 = up)",
		},
		[]string{"dependency"},
	)
)

// RecordDeadLetter records an archived message.
func RecordDeadLetter(kind string) {
	QueueMessagesDeadLettered.WithLabelValues(kind).Inc()
}

// RecordQueueError records a consumer error at the given stage.
func RecordQueueError(stage string) {
	QueueErrors.WithLabelValues(stage).Inc()
}

// RecordHandle records the routing duration of one message.
func RecordHandle(duration time.Duration) {
	QueueHandleDuration.Observe(duration.Seconds())
}

// RecordRoute records the outcome of routing one envelope.
func RecordRoute(schema string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	EventsRouted.WithLabelValues(schema, outcome).Inc()
}

// RecordHookFired records one webhook callback.
func RecordHookFired(err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	HooksFired.WithLabelValues(result).Inc()
}

// SetDependencyUp records the last health check of a dependency.
func SetDependencyUp(dependency string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	DependencyUp.WithLabelValues(dependency).Set(v)
}
