// Package metrics holds the Prometheus collectors of the draw bot.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "draw_bot"

// Draw outcomes.
const (
	OutcomeCommitted      = "committed"
	OutcomeOracleNotReady = "oracle_not_ready"
	OutcomeEmptyPool      = "empty_pool"
	OutcomeFailed         = "failed"
	OutcomeLocked         = "locked"
)

// Payout results.
const (
	ResultPaid       = "paid"
	ResultFailed     = "failed"
	ResultRerecorded = "rerecorded"
)

var (
	// Registry holds the application collectors plus Go runtime collectors.
	Registry = prometheus.NewRegistry()

	drawsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draws_total",
			Help:      "Draw cycles by outcome.",
		},
		[]string{"outcome"},
	)

	drawPoolPoints = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "draw_pool_points",
			Help:      "Total points of the pool in the last committed draw.",
		},
	)

	drawDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "draw_cycle_duration_seconds",
			Help:      "Duration of draw cycles that reached selection.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	payoutLegs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payout_legs_total",
			Help:      "Payout leg attempts by kind and result.",
		},
		[]string{"kind", "result"},
	)

	unpaidLegs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "payout_unpaid_legs",
			Help:      "Legs left unpaid after the last settlement pass.",
		},
	)

	botCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_commands_total",
			Help:      "Chat commands handled.",
		},
		[]string{"command"},
	)

	ledgerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_events_total",
			Help:      "Ledger stream events consumed by type and result.",
		},
		[]string{"type", "result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		drawsTotal,
		drawPoolPoints,
		drawDuration,
		payoutLegs,
		unpaidLegs,
		botCommands,
		ledgerEvents,
		httpRequests,
	)
}

// Handler exposes Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func RecordDraw(outcome string) {
	drawsTotal.WithLabelValues(outcome).Inc()
}

// RecordCommittedDraw records a committed draw's pool size and cycle duration.
func RecordCommittedDraw(poolPoints float64, took time.Duration) {
	drawsTotal.WithLabelValues(OutcomeCommitted).Inc()
	drawPoolPoints.Set(poolPoints)
	drawDuration.Observe(took.Seconds())
}

func RecordPayoutLeg(kind, result string) {
	payoutLegs.WithLabelValues(kind, result).Inc()
}

func SetUnpaidLegs(n int) {
	unpaidLegs.Set(float64(n))
}

func RecordBotCommand(command string) {
	botCommands.WithLabelValues(command).Inc()
}

func RecordLedgerEvent(eventType, result string) {
	ledgerEvents.WithLabelValues(eventType, result).Inc()
}

func RecordHTTPRequest(method, route string, status int) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
