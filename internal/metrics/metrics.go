// Package metrics exposes the engine's Prometheus instrumentation and the
// HTTP server that serves it.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded label values. Metric labels never carry free-form strings.
const (
	// Cycle outcomes
	CycleCompleted = "completed"
	CycleFailed    = "failed"

	// Order results
	OrderSuccess = "success"
	OrderFailure = "failure"

	// Advisor review outcomes
	AdvisorScaled  = "scaled"
	AdvisorSkipped = "skipped"

	// Market data feeds
	FeedKlines       = "klines"
	FeedFunding      = "funding"
	FeedOpenInterest = "open_interest"
	FeedNetflow      = "netflow"

	// Cache lookup results
	CacheHit  = "hit"
	CacheMiss = "miss"

	// Exchange API error categories (bounded set)
	ExchangeErrorTimeout     = "timeout"
	ExchangeErrorRateLimit   = "rate_limit"
	ExchangeErrorAuth        = "authentication"
	ExchangeErrorNetwork     = "network"
	ExchangeErrorInvalidReq  = "invalid_request"
	ExchangeErrorServerError = "server_error"
	ExchangeErrorOther       = "other"
)

// NormalizeExchangeError maps arbitrary exchange error messages to the
// bounded category set.
func NormalizeExchangeError(err error) string {
	if err == nil {
		return ""
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return ExchangeErrorTimeout
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "429") || strings.Contains(errStr, "-1003"):
		return ExchangeErrorRateLimit
	case strings.Contains(errStr, "auth") || strings.Contains(errStr, "401") || strings.Contains(errStr, "403"):
		return ExchangeErrorAuth
	case strings.Contains(errStr, "network") || strings.Contains(errStr, "connection"):
		return ExchangeErrorNetwork
	case strings.Contains(errStr, "400") || strings.Contains(errStr, "invalid"):
		return ExchangeErrorInvalidReq
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") || strings.Contains(errStr, "503"):
		return ExchangeErrorServerError
	default:
		return ExchangeErrorOther
	}
}

// Trading Performance Metrics
var (
	// Total realized P&L over all closed trades
	TotalPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradepilot_total_pnl",
		Help: "Total realized profit and loss in USD",
	})

	// Win rate (0.0 to 1.0)
	WinRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradepilot_win_rate",
		Help: "Win rate over closed trades as a ratio (0.0 to 1.0)",
	})

	// Closed trades
	TradesClosed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradepilot_trades_closed",
		Help: "Number of closed trades on record",
	})

	// Open positions
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradepilot_open_positions",
		Help: "Number of currently open positions",
	})

	// Account equity
	Equity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradepilot_equity",
		Help: "Reconciled account equity in USD",
	})

	PeakEquity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradepilot_peak_equity",
		Help: "Highest reconciled equity seen in USD",
	})

	// Current drawdown from peak
	Drawdown = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradepilot_current_drawdown",
		Help: "Current drawdown as a fraction of peak equity",
	})

	ConsecutiveLosses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradepilot_consecutive_losses",
		Help: "Length of the current losing streak",
	})
)

// Pipeline Metrics
var (
	// Full cycle latency per symbol
	CycleLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradepilot_cycle_latency_ms",
		Help:    "Full decision cycle latency in milliseconds",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"symbol"})

	Cycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepilot_cycles_total",
		Help: "Total decision cycles by outcome",
	}, []string{"symbol", "outcome"})

	// Snapshot assembly latency per symbol
	DataSyncLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradepilot_data_sync_latency_ms",
		Help:    "Market snapshot assembly latency in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"symbol"})

	FetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepilot_fetch_errors_total",
		Help: "Total market data fetch failures by feed",
	}, []string{"feed"})

	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepilot_cache_requests_total",
		Help: "Total kline cache lookups by feed and result",
	}, []string{"feed", "result"})
)

// Decision Metrics
var (
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepilot_decisions_total",
		Help: "Total fused decisions by action",
	}, []string{"symbol", "action"})

	DecisionConfidence = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradepilot_decision_confidence",
		Help: "Confidence of the latest decision (0 to 100)",
	}, []string{"symbol"})

	WeightedScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tradepilot_weighted_score",
		Help: "Weighted vote score of the latest decision (-100 to +100)",
	}, []string{"symbol"})

	AdvisorReviews = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepilot_advisor_reviews_total",
		Help: "Total advisor reviews by outcome",
	}, []string{"outcome"})

	AdvisorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradepilot_advisor_latency_ms",
		Help:    "Advisor review latency in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000, 10000},
	})
)

// Risk Metrics
var (
	RiskBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepilot_risk_blocks_total",
		Help: "Total orders blocked by the risk audit, by reason code",
	}, []string{"symbol", "reason"})
)

// Execution Metrics
var (
	Orders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepilot_orders_total",
		Help: "Total order submissions by result",
	}, []string{"symbol", "side", "result"})

	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradepilot_order_latency_ms",
		Help:    "Order submission latency in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2500, 5000},
	})

	ExchangeAPIErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepilot_exchange_api_errors_total",
		Help: "Total exchange API errors by category",
	}, []string{"category"})
)

// Event Metrics
var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradepilot_events_published_total",
		Help: "Total engine events published by kind",
	}, []string{"kind"})
)

// RecordCycle records one finished decision cycle.
func RecordCycle(symbol, outcome string, durationMs float64) {
	Cycles.WithLabelValues(symbol, outcome).Inc()
	CycleLatency.WithLabelValues(symbol).Observe(durationMs)
}

// RecordDataSync records snapshot assembly latency.
func RecordDataSync(symbol string, durationMs float64) {
	DataSyncLatency.WithLabelValues(symbol).Observe(durationMs)
}

// RecordFetchError counts a failed market data fetch.
func RecordFetchError(feed string) {
	FetchErrors.WithLabelValues(feed).Inc()
}

// RecordCacheLookup counts one cache lookup result.
func RecordCacheLookup(feed, result string) {
	CacheRequests.WithLabelValues(feed, result).Inc()
}

// RecordDecision records a fused decision and its score gauges.
func RecordDecision(symbol, action string, confidence, weightedScore float64) {
	Decisions.WithLabelValues(symbol, action).Inc()
	DecisionConfidence.WithLabelValues(symbol).Set(confidence)
	WeightedScore.WithLabelValues(symbol).Set(weightedScore)
}

// RecordAdvisorReview records an advisor review outcome and latency.
func RecordAdvisorReview(outcome string, durationMs float64) {
	AdvisorReviews.WithLabelValues(outcome).Inc()
	AdvisorLatency.Observe(durationMs)
}

// RecordRiskBlock counts an audit veto by reason code. Reason codes are a
// fixed set, so cardinality stays bounded.
func RecordRiskBlock(symbol, reason string) {
	RiskBlocks.WithLabelValues(symbol, reason).Inc()
}

// RecordOrder records an order submission result. Failures also feed the
// categorized exchange error counter.
func RecordOrder(symbol, side string, err error, durationMs float64) {
	result := OrderSuccess
	if err != nil {
		result = OrderFailure
		ExchangeAPIErrors.WithLabelValues(NormalizeExchangeError(err)).Inc()
	}
	Orders.WithLabelValues(symbol, side, result).Inc()
	OrderLatency.Observe(durationMs)
}

// SetAccountState pushes the reconciled account view to the gauges.
func SetAccountState(equity, peakEquity, drawdown float64, consecutiveLosses int) {
	Equity.Set(equity)
	PeakEquity.Set(peakEquity)
	Drawdown.Set(drawdown)
	ConsecutiveLosses.Set(float64(consecutiveLosses))
}

// RecordEventPublished counts one published engine event.
func RecordEventPublished(kind string) {
	EventsPublished.WithLabelValues(kind).Inc()
}
