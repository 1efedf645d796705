package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camsync_relay_active_connections",
		Help: "Number of open WebSocket connections",
	})

	connectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camsync_relay_connections_total",
		Help: "Total number of WebSocket connections accepted",
	})

	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "camsync_relay_active_rooms",
		Help: "Number of rooms with at least one member",
	})

	joinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camsync_relay_joins_total",
		Help: "Total number of accepted room joins",
	}, []string{"role"}) // "laptop" | "mobile"

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camsync_relay_errors_total",
		Help: "Total number of error events sent to clients",
	}, []string{"code"})

	messagesForwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "camsync_relay_messages_forwarded_total",
		Help: "Total number of signaling messages forwarded between members",
	}, []string{"event"})

	roomsReadyTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "camsync_relay_rooms_ready_total",
		Help: "Total number of times a room reached two members",
	})
)
