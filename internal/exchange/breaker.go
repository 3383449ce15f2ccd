package exchange

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Default trip thresholds for the shared exchange breaker. Market data and
// order placement run through the same breaker: an exchange that cannot
// serve klines should not be receiving orders either.
const (
	BreakerMinRequests     uint32 = 5
	BreakerFailureRatio           = 0.6
	BreakerOpenTimeout            = 30 * time.Second
	BreakerHalfOpenMaxReqs uint32 = 3
	BreakerCountInterval          = 10 * time.Second
)

// BreakerSettings overrides the default trip thresholds.
type BreakerSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

var (
	breakerMetricsOnce sync.Once
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
)

func initBreakerMetrics() {
	breakerMetricsOnce.Do(func() {
		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tradepilot_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
			},
			[]string{"name"},
		)
		breakerTransitions = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradepilot_breaker_transitions_total",
				Help: "Total circuit breaker state transitions",
			},
			[]string{"name", "to"},
		)
	})
}

// NewBreaker creates a circuit breaker with state-change logging and
// Prometheus instrumentation. Nil settings use the defaults above.
func NewBreaker(name string, s *BreakerSettings) *gobreaker.CircuitBreaker {
	initBreakerMetrics()

	if s == nil {
		s = &BreakerSettings{
			MinRequests:     BreakerMinRequests,
			FailureRatio:    BreakerFailureRatio,
			OpenTimeout:     BreakerOpenTimeout,
			HalfOpenMaxReqs: BreakerHalfOpenMaxReqs,
			CountInterval:   BreakerCountInterval,
		}
	}
	settings := *s

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.HalfOpenMaxReqs,
		Interval:    settings.CountInterval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= settings.MinRequests && ratio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			breakerState.WithLabelValues(name).Set(stateValue(to))
			breakerTransitions.WithLabelValues(name, stateLabel(to)).Inc()

			evt := log.Warn()
			if to == gobreaker.StateClosed {
				evt = log.Info()
			}
			evt.Str("breaker", name).
				Str("from", stateLabel(from)).
				Str("to", stateLabel(to)).
				Msg("Circuit breaker state changed")
		},
	})

	breakerState.WithLabelValues(name).Set(stateValue(cb.State()))
	return cb
}

func stateLabel(s gobreaker.State) string {
	switch s {
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
