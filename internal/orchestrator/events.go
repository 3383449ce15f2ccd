package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/config"
	"github.com/ajitpratap0/tradepilot/internal/decision"
	"github.com/ajitpratap0/tradepilot/internal/execution"
	"github.com/ajitpratap0/tradepilot/internal/metrics"
	"github.com/ajitpratap0/tradepilot/internal/risk"
)

// Event kinds, also the middle token of the NATS subject.
const (
	EventKindDecision  = "decision"
	EventKindRisk      = "risk"
	EventKindExecution = "execution"
)

// Event is the envelope for everything the engine publishes. Payload holds
// the stage artifact (vote, risk verdict, or fill) serialized as-is, so
// consumers can correlate subjects back to persisted artifacts by snapshot ID.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Kind       string          `json:"kind"`
	Symbol     string          `json:"symbol"`
	SnapshotID string          `json:"snapshot_id"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// EventBus publishes pipeline events to NATS for external consumers
// (dashboards, journaling, downstream automation). Publishing is one-way and
// best effort: the trading cycle never blocks on a consumer.
//
// A nil *EventBus is valid and discards every publish, which is how the
// engine runs when NATS is disabled.
type EventBus struct {
	nc     *nats.Conn
	prefix string
	logger zerolog.Logger
}

// NewEventBus connects to the NATS server and keeps reconnecting forever;
// events published while disconnected are dropped, not queued.
func NewEventBus(cfg config.NATSConfig) (*EventBus, error) {
	logger := log.With().Str("component", "events").Logger()

	nc, err := nats.Connect(
		cfg.URL,
		nats.Name("tradepilot-engine"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tradepilot."
	}

	logger.Info().
		Str("nats_url", cfg.URL).
		Str("prefix", prefix).
		Msg("Event bus connected")

	return &EventBus{
		nc:     nc,
		prefix: prefix,
		logger: logger,
	}, nil
}

// PublishDecision publishes the fused vote for a symbol.
func (b *EventBus) PublishDecision(vote *decision.VoteResult) error {
	return b.publish(EventKindDecision, vote.Symbol, vote.SnapshotID, vote)
}

// PublishRisk publishes the auditor's verdict, passed or blocked.
func (b *EventBus) PublishRisk(result risk.RiskCheckResult) error {
	return b.publish(EventKindRisk, result.Symbol, result.SnapshotID, result)
}

// PublishExecution publishes a confirmed fill.
func (b *EventBus) PublishExecution(snapshotID string, fill *execution.Fill) error {
	return b.publish(EventKindExecution, fill.Symbol, snapshotID, fill)
}

func (b *EventBus) publish(kind, symbol, snapshotID string, payload interface{}) error {
	if b == nil || b.nc == nil {
		return nil
	}
	if !b.nc.IsConnected() {
		return fmt.Errorf("event bus not connected")
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}

	event := Event{
		ID:         uuid.New(),
		Kind:       kind,
		Symbol:     symbol,
		SnapshotID: snapshotID,
		Payload:    payloadJSON,
		Timestamp:  time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Pattern: tradepilot.{kind}.{symbol}
	subject := fmt.Sprintf("%s%s.%s", b.prefix, kind, symbol)

	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", kind, err)
	}

	metrics.RecordEventPublished(kind)

	b.logger.Debug().
		Str("event_id", event.ID.String()).
		Str("subject", subject).
		Str("snapshot_id", snapshotID).
		Msg("Published event")

	return nil
}

// Flush waits for buffered publishes to reach the server. Called before
// Close on single-cycle runs so nothing is lost on exit.
func (b *EventBus) Flush() error {
	if b == nil || b.nc == nil {
		return nil
	}
	return b.nc.Flush()
}

// Close drains the connection. Safe on a nil bus.
func (b *EventBus) Close() {
	if b == nil || b.nc == nil {
		return
	}
	b.nc.Close()
	b.logger.Info().Msg("Event bus closed")
}
