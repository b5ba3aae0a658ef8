package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arena_queue_depth",
			Help: "Bots waiting per game type",
		},
		[]string{"game_type"},
	)

	CohortsFormed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_cohorts_formed_total",
			Help: "Cohorts pulled from the queue",
		},
		[]string{"game_type", "trigger"}, // enqueue|tick|demo
	)

	MatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_matches_total",
			Help: "Matches by terminal status",
		},
		[]string{"game_type", "status"}, // completed|aborted
	)

	LiveMatches = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arena_live_matches",
			Help: "Matches currently in progress",
		},
		[]string{"game_type"},
	)

	RoundsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_rounds_total",
			Help: "Rounds resolved",
		},
		[]string{"game_type", "kind"}, // decided|replay
	)

	MissingMoves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_missing_moves_total",
			Help: "Moves recorded as missing or invalid",
		},
		[]string{"game_type", "reason"}, // timeout|invalid
	)

	MatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "arena_match_duration_seconds",
			Help:    "Wall time from match start to end",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
		[]string{"game_type"},
	)

	PersistRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_persist_retries_total",
			Help: "Storage writes retried after a failure",
		},
		[]string{"op"},
	)

	BroadcastEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_broadcast_events_total",
			Help: "Events published to subscribers",
		},
		[]string{"type"},
	)

	BroadcastDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arena_broadcast_dropped_total",
			Help: "Events dropped for slow subscribers",
		},
	)

	BroadcastSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "arena_broadcast_subscribers",
			Help: "Open broadcast subscriptions",
		},
	)

	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arena_commands_total",
			Help: "Boundary commands handled",
		},
		[]string{"type", "result"}, // Success|Failure
	)
)

func init() {
	prometheus.MustRegister(
		QueueDepth,
		CohortsFormed,
		MatchesTotal,
		LiveMatches,
		RoundsTotal,
		MissingMoves,
		MatchDuration,
		PersistRetries,
		BroadcastEvents,
		BroadcastDropped,
		BroadcastSubscribers,
		CommandsTotal,
	)
}

func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
