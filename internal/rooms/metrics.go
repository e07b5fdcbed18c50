package rooms

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flowsync_rooms_active",
		Help: "Number of live room controllers.",
	})
	eventsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowsync_events_ingested_total",
		Help: "Change events accepted into the room pipelines.",
	})
	cursorMoves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowsync_cursor_moves_total",
		Help: "Cursor updates fanned out on the fast lane.",
	})
	broadcastBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowsync_broadcast_batches_total",
		Help: "Debounced broadcast batches fanned out.",
	})
	conflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsync_conflicts_total",
		Help: "Change events rejected by validation.",
	}, []string{"reason"})
	syncsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flowsync_syncs_total",
		Help: "Debounced sync attempts by outcome.",
	}, []string{"result"})
	degradedRooms = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowsync_rooms_degraded_total",
		Help: "Rooms whose finalization exceeded the deadline.",
	})
	roomCrashes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flowsync_room_crashes_total",
		Help: "Room controllers torn down by a panic.",
	})
)
