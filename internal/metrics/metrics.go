// Package metrics provides Prometheus instrumentation for the messenger
// realtime core. It exposes gauges for connection, presence, and call counts,
// counters for delivery throughput, and histograms for call durations.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the current number of distinct online users.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_online_users",
		Help: "Current number of distinct users with at least one live connection",
	})

	// DeliveriesTotal counts message delivery attempts, labeled by path:
	// "live" (delivered over a socket), "push" (fell back to a push job), or
	// "unreachable" (no socket and no device token).
	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_deliveries_total",
		Help: "Total number of per-participant delivery attempts",
	}, []string{"path"}) // path = "live", "push", "unreachable"

	// PushJobsTotal counts push-notification jobs enqueued, labeled by kind:
	// "message" or "call".
	PushJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_push_jobs_total",
		Help: "Total number of push jobs enqueued",
	}, []string{"kind"})

	// ActiveCalls tracks the current number of non-terminal call sessions.
	ActiveCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "messenger_active_calls",
		Help: "Current number of active (ringing or accepted) call sessions",
	})

	// CallsTotal counts finished calls labeled by final status:
	// "ended", "declined", or "missed".
	CallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "messenger_calls_total",
		Help: "Total number of finished calls by final status",
	}, []string{"status"})

	// CallDuration records answered-call durations in seconds.
	CallDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "messenger_call_duration_seconds",
		Help:    "Duration of answered calls in seconds",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	// TypingEventsTotal counts typing notifications fanned out to chats.
	TypingEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "messenger_typing_events_total",
		Help: "Total number of typing-set updates sent to chat participants",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		DeliveriesTotal,
		PushJobsTotal,
		ActiveCalls,
		CallsTotal,
		CallDuration,
		TypingEventsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
