package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded label values. Unbounded label values would grow the registry
// without limit, so every vec below takes values only from these sets.
const (
	CycleResultSuccess = "success"
	CycleResultFailed  = "failed"
	CycleResultNoData  = "no_data"

	OrderResultPlaced   = "placed"
	OrderResultRejected = "rejected"
	OrderResultError    = "error"
)

// Cycle metrics
var (
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "perpfunk_cycle_duration_seconds",
		Help:    "End to end trading cycle duration in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 180},
	})

	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpfunk_cycles_total",
		Help: "Trading cycles by result",
	}, []string{"result"})

	CollectionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "perpfunk_market_collection_duration_seconds",
		Help:    "Market data collection duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})
)

// Decision metrics
var (
	DecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpfunk_decisions_total",
		Help: "Agent decisions by persisted status",
	}, []string{"status"})

	DecisionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "perpfunk_decision_latency_seconds",
		Help:    "Per agent decision latency in seconds",
		Buckets: []float64{1, 2.5, 5, 10, 30, 60, 120},
	})

	LLMTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpfunk_llm_tokens_total",
		Help: "LLM tokens consumed by model and kind",
	}, []string{"model", "kind"})
)

// Execution metrics
var (
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perpfunk_orders_total",
		Help: "Exchange order attempts by result",
	}, []string{"result"})

	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perpfunk_open_positions",
		Help: "Open positions across all agents",
	})

	AccountValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "perpfunk_account_value_usd",
		Help: "Marked account value in USD by agent",
	}, []string{"agent"})
)

// Service metrics
var (
	ActiveAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perpfunk_active_agents",
		Help: "Agents with a bound LLM provider",
	})

	FatalStreak = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perpfunk_fatal_cycle_streak",
		Help: "Consecutive cycles ended by a fatal exchange error",
	})
)
