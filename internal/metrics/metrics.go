// Package metrics provides Prometheus instrumentation for the pairing bot.
// Gauges track pool and pairing state, counters track relay throughput and
// moderation outcomes, and histograms track handler latency and wait time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of gateway WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairbot_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// MessagesTotal counts relayed messages by outcome.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairbot_messages_total",
		Help: "Total number of relay attempts by outcome",
	}, []string{"outcome"}) // outcome = "relayed", "failed", "invalid", "rate_limited", "unpaired"

	// EventLatency records the time the bot spends handling one inbound event.
	EventLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pairbot_event_latency_seconds",
		Help:    "Inbound event handling latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// WaitDuration records the time a user spent in the waiting pool before
	// being paired.
	WaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pairbot_wait_duration_seconds",
		Help:    "Time from pool entry to pairing",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})

	// ActivePairs tracks the current number of paired conversations.
	ActivePairs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairbot_active_pairs",
		Help: "Current number of active conversations",
	})

	// PoolSize tracks the current number of users in the waiting pool.
	PoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairbot_pool_size",
		Help: "Current number of users in the waiting pool",
	})

	// RegisteredUsers tracks the number of profiles held in the registry.
	RegisteredUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pairbot_registered_users",
		Help: "Current number of registered profiles",
	})

	// PairsFormed counts pairings committed after both users were notified.
	PairsFormed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairbot_pairs_formed_total",
		Help: "Total number of committed pairings",
	})

	// PairRollbacks counts pairings undone because a notification failed.
	PairRollbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairbot_pair_rollbacks_total",
		Help: "Total number of pairings rolled back after a delivery failure",
	})

	// FeedbackTotal counts submitted feedback by kind.
	FeedbackTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pairbot_feedback_total",
		Help: "Total number of feedback submissions",
	}, []string{"kind"}) // kind = "positive", "negative", "complaint"

	// AutoBlocks counts block records created by the complaint threshold.
	AutoBlocks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pairbot_auto_blocks_total",
		Help: "Total number of automatic blocks",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		MessagesTotal,
		EventLatency,
		WaitDuration,
		ActivePairs,
		PoolSize,
		RegisteredUsers,
		PairsFormed,
		PairRollbacks,
		FeedbackTotal,
		AutoBlocks,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
