// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "confab_active_connections",
		Help: "Currently open signaling connections.",
	})

	ConnectsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confab_connects_rejected_total",
		Help: "Connections rejected at handshake, by reason.",
	}, []string{"reason"})

	FramesForwarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "confab_frames_forwarded_total",
		Help: "Signaling frames delivered to peers.",
	})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "confab_frames_dropped_total",
		Help: "Signaling frames skipped because a peer was not writable.",
	})

	ModerationCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confab_moderation_commands_total",
		Help: "Moderation commands, by action and outcome.",
	}, []string{"action", "outcome"})
)

// RegisterRoomGauge exposes the live room count from the registry.
func RegisterRoomGauge(count func() int) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "confab_rooms",
		Help: "Materialized rooms held in memory.",
	}, func() float64 { return float64(count()) })
}
