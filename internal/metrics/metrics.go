// Package metrics declares the Prometheus collectors exported by gorooms.
//
// Every room-level collector is labelled with the room name so several rooms
// in one process can be told apart.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Room membership
	RoomConnectionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "room_connections_active",
			Help: "Current number of Active connections in the room registry",
		},
		[]string{"room"},
	)

	RoomConnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "room_connects_total",
			Help: "Total number of connect attempts by result",
		},
		[]string{"room", "result"}, // "accepted", "rejected", "duplicate", "room_closed"
	)

	RoomDisconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "room_disconnects_total",
			Help: "Total number of Active connections finalized",
		},
		[]string{"room"},
	)

	RoomEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "room_evictions_total",
			Help: "Total number of connections evicted after a failed delivery",
		},
		[]string{"room"},
	)

	// Broadcast
	RoomDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "room_deliveries_total",
			Help: "Total number of per-recipient delivery attempts by outcome",
		},
		[]string{"room", "outcome"}, // "delivered", "failed", "aborted"
	)

	RoomPushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "room_push_duration_seconds",
			Help:    "Time taken to fan one payload out to a room snapshot",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"room"},
	)

	// Hooks and inbound traffic
	RoomHookFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "room_hook_failures_total",
			Help: "Total number of failed hook invocations",
		},
		[]string{"room", "event"},
	)

	RoomMessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "room_messages_received_total",
			Help: "Total number of inbound messages read by managed sessions",
		},
		[]string{"room", "encoding"},
	)

	RoomMessagesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "room_messages_dropped_total",
			Help: "Total number of inbound messages dropped before dispatch",
		},
		[]string{"room", "reason"}, // "rate_limited", "unknown_encoding", "decode_error"
	)

	// Transport
	WebSocketUpgrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_upgrades_total",
			Help: "Total number of WebSocket upgrade attempts by result",
		},
		[]string{"endpoint", "result"}, // "success", "error", "forbidden_origin", "method_not_allowed"
	)
)

// ObservePush records the duration of one fan-out.
func ObservePush(room string, started time.Time) {
	RoomPushDuration.WithLabelValues(room).Observe(time.Since(started).Seconds())
}

// RecordDeliveries adds one push's outcome counts.
func RecordDeliveries(room string, delivered, failed, aborted int) {
	if delivered > 0 {
		RoomDeliveries.WithLabelValues(room, "delivered").Add(float64(delivered))
	}
	if failed > 0 {
		RoomDeliveries.WithLabelValues(room, "failed").Add(float64(failed))
	}
	if aborted > 0 {
		RoomDeliveries.WithLabelValues(room, "aborted").Add(float64(aborted))
	}
}
