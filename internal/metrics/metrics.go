// Package metrics holds the process-wide Prometheus collectors.
//
// Collectors are registered on the default registry at init through promauto,
// and /metrics serves them with promhttp.Handler. Call the Record helpers
// rather than touching the collectors directly.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelhouse_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reelhouse_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Chat
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelhouse_chat_messages_sent_total",
			Help: "Messages persisted, by message type",
		},
		[]string{"type"},
	)

	ReadReceiptsWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelhouse_chat_read_receipts_total",
			Help: "Per-reader read receipts written",
		},
	)

	// Activity
	ActivitiesLogged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelhouse_activities_logged_total",
			Help: "Watch activities logged, by activity type",
		},
		[]string{"type"},
	)

	StatsRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelhouse_activity_stats_retries_total",
			Help: "Activity stats batches retried after a transient store error",
		},
	)

	// Socket transport
	SocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reelhouse_socket_connections",
			Help: "Currently open WebSocket connections",
		},
	)

	SocketEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelhouse_socket_events_total",
			Help: "Inbound socket events by event name and outcome",
		},
		[]string{"event", "outcome"},
	)

	SocketDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "reelhouse_socket_clients_dropped_total",
			Help: "Clients disconnected because their send buffer was full",
		},
	)

	// TMDB
	TMDBRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reelhouse_tmdb_requests_total",
			Help: "Outbound TMDB requests by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordHTTPRequest records one finished HTTP request.
func RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// RecordMessageSent counts one persisted message.
func RecordMessageSent(msgType string) {
	MessagesSent.WithLabelValues(msgType).Inc()
}

// RecordReadReceipts counts newly written read receipts.
func RecordReadReceipts(n int) {
	if n > 0 {
		ReadReceiptsWritten.Add(float64(n))
	}
}

// RecordActivityLogged counts one logged activity.
func RecordActivityLogged(activityType string) {
	ActivitiesLogged.WithLabelValues(activityType).Inc()
}

// RecordSocketEvent counts one inbound socket event.
func RecordSocketEvent(event string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	SocketEvents.WithLabelValues(event, outcome).Inc()
}

// RecordTMDBRequest counts one TMDB call. outcome is "ok", "not_found",
// "error", "rate_limited" or "circuit_open".
func RecordTMDBRequest(outcome string) {
	TMDBRequests.WithLabelValues(outcome).Inc()
}
