// Package orchestrator drives the trading engine: per symbol on a fixed
// cadence it pulls one synchronized snapshot, fans it out to the signal
// stages, fuses a vote, audits the resulting order and dispatches what
// survives. Cycles are serial within a symbol and parallel across symbols.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tradepilot/internal/agents"
	"github.com/ajitpratap0/tradepilot/internal/alerts"
	"github.com/ajitpratap0/tradepilot/internal/config"
	"github.com/ajitpratap0/tradepilot/internal/decision"
	"github.com/ajitpratap0/tradepilot/internal/execution"
	"github.com/ajitpratap0/tradepilot/internal/indicators"
	"github.com/ajitpratap0/tradepilot/internal/llm"
	"github.com/ajitpratap0/tradepilot/internal/market"
	"github.com/ajitpratap0/tradepilot/internal/metrics"
	"github.com/ajitpratap0/tradepilot/internal/risk"
	"github.com/ajitpratap0/tradepilot/internal/store"
)

// Config holds the per-run trading knobs the cycle driver reads.
type Config struct {
	Symbols  []string
	Interval time.Duration
	Leverage int
	Paper    bool

	RiskPerTradePct       float64
	ATRStopMultiple       float64
	ATRTakeProfitMultiple float64
	TakerFee              float64
}

// Deps bundles the pipeline stages and IO surfaces the driver wires
// together. Advisor, DB and Events are optional; everything else is
// required.
type Deps struct {
	Sync       *market.DataSyncAgent
	Quant      *agents.QuantAnalystAgent
	Predict    *agents.PredictAgent
	Regime     *agents.RegimeDetector
	Position   *agents.PositionAnalyzer
	Core       *decision.Core
	Advisor    *llm.Advisor
	Auditor    *risk.Auditor
	Reconciler *risk.Reconciler
	Account    execution.AccountReader
	Sink       execution.OrderSink
	Artifacts  *store.ArtifactStore
	DB         *store.DB
	Events     *EventBus
}

func (d Deps) validate() error {
	missing := ""
	switch {
	case d.Sync == nil:
		missing = "data sync agent"
	case d.Quant == nil:
		missing = "quant analyst"
	case d.Predict == nil:
		missing = "predict agent"
	case d.Regime == nil:
		missing = "regime detector"
	case d.Position == nil:
		missing = "position analyzer"
	case d.Core == nil:
		missing = "decision core"
	case d.Auditor == nil:
		missing = "risk auditor"
	case d.Reconciler == nil:
		missing = "risk reconciler"
	case d.Account == nil:
		missing = "account reader"
	case d.Sink == nil:
		missing = "order sink"
	case d.Artifacts == nil:
		missing = "artifact store"
	}
	if missing != "" {
		return fmt.Errorf("orchestrator needs a %s", missing)
	}
	return nil
}

// CycleResult is the per-symbol envelope of one completed cycle. A failed
// cycle carries Err plus whatever stages completed before the failure; one
// symbol's failure never reaches another symbol's envelope.
type CycleResult struct {
	Symbol     string
	SnapshotID string

	Vote *decision.VoteResult
	Risk *risk.RiskCheckResult
	Fill *execution.Fill

	SkipReason string
	Err        error
}

// trackedTrade is the driver's record of a position it opened. The
// protective stops ride exchange-side; the driver only watches for the
// position leaving the book.
type trackedTrade struct {
	plan risk.OrderPlan
	fill execution.Fill
}

// symbolState is owned by exactly one symbol loop, so it needs no lock.
// quarantined holds the plan of a dispatch whose outcome is unknown; while
// set, the symbol trades nothing new.
type symbolState struct {
	open        *trackedTrade
	quarantined *risk.OrderPlan
}

// Orchestrator runs the decision cycle for every configured symbol.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger zerolog.Logger

	states map[string]*symbolState
}

// NewOrchestrator validates the wiring and prepares per-symbol state.
func NewOrchestrator(cfg Config, deps Deps) (*Orchestrator, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("orchestrator needs at least one symbol")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("orchestrator needs a positive cycle interval")
	}
	if cfg.Leverage < 1 {
		return nil, fmt.Errorf("orchestrator needs leverage of at least 1")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	states := make(map[string]*symbolState, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		states[symbol] = &symbolState{}
	}

	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: log.With().Str("component", "orchestrator").Logger(),
		states: states,
	}, nil
}

// Run drives one loop per configured symbol until the context ends.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info().
		Strs("symbols", o.cfg.Symbols).
		Dur("interval", o.cfg.Interval).
		Bool("paper", o.cfg.Paper).
		Msg("Orchestrator started")

	var g errgroup.Group
	for _, symbol := range o.cfg.Symbols {
		g.Go(func() error {
			o.symbolLoop(ctx, symbol)
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Info().Msg("Orchestrator stopped")
	return ctx.Err()
}

// Once runs a single cycle for every configured symbol, in parallel, and
// returns the envelopes in symbol order.
func (o *Orchestrator) Once(ctx context.Context) []*CycleResult {
	results := make([]*CycleResult, len(o.cfg.Symbols))

	var g errgroup.Group
	for i, symbol := range o.cfg.Symbols {
		g.Go(func() error {
			results[i] = o.runCycle(ctx, symbol)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// symbolLoop runs cycles for one symbol on the configured cadence. Cycles
// are strictly serial: a slow dispatch delays the next tick rather than
// overlapping it.
func (o *Orchestrator) symbolLoop(ctx context.Context, symbol string) {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	o.runCycle(ctx, symbol)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info().Str("symbol", symbol).Msg("Symbol loop stopped")
			return
		case <-ticker.C:
			o.runCycle(ctx, symbol)
		}
	}
}

// runCycle executes one cycle and folds the outcome into metrics and the
// per-symbol envelope.
func (o *Orchestrator) runCycle(ctx context.Context, symbol string) *CycleResult {
	started := time.Now()
	result, err := o.Cycle(ctx, symbol)
	elapsed := float64(time.Since(started).Milliseconds())

	if result == nil {
		result = &CycleResult{Symbol: symbol}
	}
	result.Err = err

	if err != nil {
		if ctx.Err() != nil {
			return result // shutdown, not a cycle failure
		}
		metrics.RecordCycle(symbol, metrics.CycleFailed, elapsed)
		o.logger.Error().Err(err).Str("symbol", symbol).Msg("Cycle failed")
		return result
	}
	metrics.RecordCycle(symbol, metrics.CycleCompleted, elapsed)
	return result
}

// Cycle runs one full decision cycle for symbol: snapshot, signal fan-out,
// fused vote, risk audit, dispatch. A non-nil result may accompany an
// error; it carries the stages that completed.
func (o *Orchestrator) Cycle(ctx context.Context, symbol string) (*CycleResult, error) {
	state := o.states[symbol]
	if state == nil {
		return nil, fmt.Errorf("symbol %s not configured", symbol)
	}

	snap, err := o.deps.Sync.Fetch(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("data sync %s: %w", symbol, err)
	}

	logger := config.NewCycleLogger(symbol, snap.SnapshotID)
	result := &CycleResult{Symbol: symbol, SnapshotID: snap.SnapshotID}

	o.saveArtifact(store.AgentDataSync, "snapshot", symbol, "", snap.SnapshotID, summarizeSnapshot(snap))

	balance, balErr := o.deps.Account.Balance(ctx)
	if balErr != nil {
		logger.Warn().Err(balErr).Msg("Balance refresh failed")
	}
	position, posErr := o.deps.Account.Position(ctx, symbol)
	if posErr != nil {
		logger.Warn().Err(posErr).Msg("Position refresh failed")
	}

	o.watchOpenTrade(ctx, logger, state, snap, position, posErr == nil, balance)

	if state.quarantined != nil {
		if !o.reconcileQuarantine(ctx, logger, state, position, posErr == nil) {
			result.SkipReason = "quarantined"
			logger.Warn().Msg("Cycle skipped, symbol quarantined")
			return result, nil
		}
	}

	if !snap.AlignmentOK {
		vote := holdVote(snap, "timeframes misaligned")
		o.recordDecision(ctx, logger, snap, nil, vote)
		result.Vote = vote
		logger.Warn().Strs("warnings", snap.Warnings).Msg("Snapshot misaligned, forced hold")
		return result, nil
	}

	sig, err := o.analyze(ctx, snap)
	if err != nil {
		return result, fmt.Errorf("analysis %s: %w", snap.SnapshotID, err)
	}
	o.saveAnalysisArtifacts(symbol, snap, sig)

	prediction := o.deps.Predict.Analyze(ctx, sig.features, sig.quant.Composite)

	vote, err := o.deps.Core.Decide(decision.Inputs{
		Snapshot:   snap,
		Quant:      sig.quant,
		Prediction: prediction,
		Regime:     sig.regime,
		Position:   sig.position,
	})
	if err != nil {
		return result, fmt.Errorf("decision %s: %w", snap.SnapshotID, err)
	}

	o.review(ctx, logger, vote, sig.features)
	o.recordDecision(ctx, logger, snap, sig.features, vote)
	result.Vote = vote

	return result, o.act(ctx, logger, state, snap, vote, position, balance, balErr == nil, result)
}

// act turns the cycle's vote into an audited order and dispatches what the
// auditor passes. It fills the risk and fill stages of result; only a
// dispatch failure is an error.
func (o *Orchestrator) act(ctx context.Context, logger zerolog.Logger, state *symbolState, snap *market.MarketSnapshot, vote *decision.VoteResult, position risk.PositionState, balance float64, balanceKnown bool, result *CycleResult) error {
	if vote.Action == decision.ActionHold {
		logger.Info().
			Float64("score", vote.WeightedScore).
			Str("reason", vote.Reason).
			Msg("Cycle held")
		return nil
	}

	if state.open != nil || position.Qty != 0 {
		result.SkipReason = "position open"
		logger.Info().Str("action", string(vote.Action)).Msg("Position open, dispatch withheld")
		return nil
	}
	if !balanceKnown {
		result.SkipReason = "balance unavailable"
		return nil
	}

	plan, err := o.buildPlan(snap, vote, balance)
	if err != nil {
		result.SkipReason = err.Error()
		logger.Warn().Err(err).Msg("Order sizing failed, holding")
		return nil
	}

	account := o.deps.Reconciler.State(balance)
	verdict := o.deps.Auditor.Audit(ctx, *plan, position, account)
	result.Risk = &verdict
	o.saveArtifact(store.AgentRisk, "verdict", vote.Symbol, "", snap.SnapshotID, verdict)
	if err := o.deps.Events.PublishRisk(verdict); err != nil {
		logger.Warn().Err(err).Msg("Risk event publish failed")
	}

	if !verdict.Passed {
		o.recordRiskBlock(ctx, logger, verdict, account)
		return nil
	}

	fill, err := o.dispatch(ctx, logger, state, verdict.Order)
	if err != nil {
		quarantined := verdict.Order
		state.quarantined = &quarantined
		alerts.AlertSymbolQuarantined(ctx, vote.Symbol, err)
		logger.Error().Err(err).Msg("Dispatch failed, symbol quarantined")
		return fmt.Errorf("dispatch %s: %w", snap.SnapshotID, err)
	}
	result.Fill = fill
	return nil
}

// analysis is the joined output of the concurrent signal stage.
type analysis struct {
	quant    *agents.QuantAnalysis
	features *market.FeatureSnapshot
	regime   agents.Regime
	position agents.PositionView
}

// analyze fans the snapshot out to the signal stages. The quant composite,
// feature extraction, regime and range position are independent and run
// concurrently; the predictor follows the join because its rule fallback
// consumes the quant composite.
func (o *Orchestrator) analyze(ctx context.Context, snap *market.MarketSnapshot) (*analysis, error) {
	out := &analysis{}
	view5 := snap.View(market.Timeframe5m)
	frame1h := snap.Stable(market.Timeframe1h)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		quant, err := o.deps.Quant.Analyze(gctx, snap)
		if err != nil {
			return fmt.Errorf("quant analysis: %w", err)
		}
		out.quant = quant
		return nil
	})
	g.Go(func() error {
		features, err := indicators.Features(snap.SnapshotID, view5.Stable, view5.Live.Close)
		if err != nil {
			return fmt.Errorf("feature extraction: %w", err)
		}
		out.features = features
		return nil
	})
	g.Go(func() error {
		out.regime = o.deps.Regime.Detect(frame1h)
		return nil
	})
	g.Go(func() error {
		out.position = o.deps.Position.Analyze(frame1h)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// review lets the advisor scale the vote's confidence. Any advisor problem
// leaves the vote untouched.
func (o *Orchestrator) review(ctx context.Context, logger zerolog.Logger, vote *decision.VoteResult, features *market.FeatureSnapshot) {
	if o.deps.Advisor == nil || features == nil {
		return
	}

	started := time.Now()
	advice := o.deps.Advisor.Review(ctx, vote, *features)
	elapsed := float64(time.Since(started).Milliseconds())

	if advice.Skipped {
		metrics.RecordAdvisorReview(metrics.AdvisorSkipped, elapsed)
		return
	}
	metrics.RecordAdvisorReview(metrics.AdvisorScaled, elapsed)
	logger.Info().
		Float64("factor", advice.Factor).
		Float64("confidence", advice.Confidence).
		Str("model_action", string(advice.ModelAction)).
		Msg("Advisor scaled confidence")
	vote.Confidence = advice.Confidence
}

// recordDecision persists, publishes and counts one vote. Features may be
// nil on a forced hold; the decision row then stores a zero vector.
func (o *Orchestrator) recordDecision(ctx context.Context, logger zerolog.Logger, snap *market.MarketSnapshot, features *market.FeatureSnapshot, vote *decision.VoteResult) {
	metrics.RecordDecision(vote.Symbol, string(vote.Action), vote.Confidence, vote.WeightedScore)
	o.saveArtifact(store.AgentDecisions, "vote", vote.Symbol, "", vote.SnapshotID, vote)
	if err := o.deps.Events.PublishDecision(vote); err != nil {
		logger.Warn().Err(err).Msg("Decision event publish failed")
	}

	if o.deps.DB == nil {
		return
	}
	details, err := json.Marshal(vote)
	if err != nil {
		logger.Warn().Err(err).Msg("Vote details marshal failed")
		return
	}
	vector := make([]float64, market.VectorDim)
	if features != nil {
		vector = features.Vector()
	}
	rec := &store.DecisionRecord{
		SnapshotID:    vote.SnapshotID,
		Symbol:        vote.Symbol,
		Action:        string(vote.Action),
		Confidence:    vote.Confidence,
		WeightedScore: vote.WeightedScore,
		Details:       details,
		Features:      vector,
		CreatedAt:     snap.Timestamp,
	}
	if err := o.deps.DB.InsertDecision(ctx, rec); err != nil {
		logger.Warn().Err(err).Msg("Decision persistence failed")
	}
}

func (o *Orchestrator) recordRiskBlock(ctx context.Context, logger zerolog.Logger, verdict risk.RiskCheckResult, account risk.AccountState) {
	metrics.RecordRiskBlock(verdict.Symbol, verdict.BlockedReason)
	switch verdict.BlockedReason {
	case risk.BlockDrawdown, risk.BlockCooldown:
		alerts.AlertDrawdownHalt(ctx, account.Drawdown, account.ConsecutiveLosses)
	default:
		alerts.AlertRiskBlock(ctx, verdict.Symbol, verdict.BlockedReason, strings.Join(verdict.Warnings, "; "))
	}
	logger.Warn().
		Str("reason", verdict.BlockedReason).
		Str("risk_level", string(verdict.RiskLevel)).
		Msg("Risk audit blocked dispatch")
}

// buildPlan sizes the order from the risk budget: the quantity risks
// RiskPerTradePct of balance over the ATR stop distance, with the stop and
// target set at fixed ATR multiples around the entry.
func (o *Orchestrator) buildPlan(snap *market.MarketSnapshot, vote *decision.VoteResult, balance float64) (*risk.OrderPlan, error) {
	view := snap.View(market.Timeframe5m)
	stable := view.Stable

	entry := view.Live.Close
	if entry <= 0 {
		entry = stable.LastClose()
	}

	atr := stable.ATR[stable.LastIndex()]
	if math.IsNaN(atr) || atr <= 0 {
		return nil, fmt.Errorf("no usable ATR for %s", snap.Symbol)
	}

	dir := tradeDirection(vote.Action)
	stop := entry - dir*atr*o.cfg.ATRStopMultiple
	target := entry + dir*atr*o.cfg.ATRTakeProfitMultiple

	stopDistance := math.Abs(entry - stop)
	if stopDistance <= 0 {
		return nil, fmt.Errorf("zero stop distance for %s", snap.Symbol)
	}
	qty := o.cfg.RiskPerTradePct * balance / stopDistance
	if qty <= 0 {
		return nil, fmt.Errorf("no balance to size %s order", snap.Symbol)
	}

	return &risk.OrderPlan{
		SnapshotID: snap.SnapshotID,
		Symbol:     snap.Symbol,
		Side:       vote.Action,
		Entry:      entry,
		StopLoss:   stop,
		TakeProfit: target,
		Qty:        qty,
		Leverage:   o.cfg.Leverage,
	}, nil
}

// dispatch drives the sink: leverage, market entry, protective stops. On
// success the trade is tracked and recorded everywhere. A returned fill
// alongside an error means the entry landed but its stops did not attach;
// the quarantine reconciler re-drives the same plan to heal that.
func (o *Orchestrator) dispatch(ctx context.Context, logger zerolog.Logger, state *symbolState, plan risk.OrderPlan) (*execution.Fill, error) {
	started := time.Now()
	fill, err := o.submit(ctx, plan)
	metrics.RecordOrder(plan.Symbol, string(plan.Side), err, float64(time.Since(started).Milliseconds()))
	if err != nil {
		alerts.AlertOrderFailed(ctx, plan.Symbol, string(plan.Side), plan.Qty, err)
		return fill, err
	}

	state.open = &trackedTrade{plan: plan, fill: *fill}
	o.saveArtifact(store.AgentExecutions, "fill", plan.Symbol, "", plan.SnapshotID, fill)
	if err := o.deps.Events.PublishExecution(plan.SnapshotID, fill); err != nil {
		logger.Warn().Err(err).Msg("Execution event publish failed")
	}
	o.insertTrade(ctx, logger, plan, fill)
	alerts.AlertOrderFilled(ctx, plan.Symbol, string(plan.Side), fill.ExecutedQty, fill.AvgPrice)

	logger.Info().
		Str("side", string(plan.Side)).
		Float64("entry", fill.AvgPrice).
		Float64("qty", fill.ExecutedQty).
		Float64("stop_loss", plan.StopLoss).
		Float64("take_profit", plan.TakeProfit).
		Bool("recovered", fill.Duplicate).
		Msg("Order dispatched")
	return fill, nil
}

func (o *Orchestrator) submit(ctx context.Context, plan risk.OrderPlan) (*execution.Fill, error) {
	if err := o.deps.Sink.SetLeverage(ctx, plan.Symbol, plan.Leverage); err != nil {
		return nil, err
	}
	fill, err := o.deps.Sink.PlaceMarket(ctx, plan)
	if err != nil {
		return nil, err
	}
	if err := o.deps.Sink.AttachStops(ctx, plan); err != nil {
		return fill, err
	}
	return fill, nil
}

func (o *Orchestrator) insertTrade(ctx context.Context, logger zerolog.Logger, plan risk.OrderPlan, fill *execution.Fill) {
	if o.deps.DB == nil {
		return
	}
	rec := &store.TradeRecord{
		SnapshotID:   plan.SnapshotID,
		Symbol:       plan.Symbol,
		Side:         string(plan.Side),
		Qty:          fill.ExecutedQty,
		EntryPrice:   fill.AvgPrice,
		StopLoss:     plan.StopLoss,
		TakeProfit:   plan.TakeProfit,
		Leverage:     plan.Leverage,
		EntryOrderID: fill.OrderID,
		OpenedAt:     fill.FilledAt,
	}
	if err := o.deps.DB.InsertTrade(ctx, rec); err != nil {
		logger.Warn().Err(err).Msg("Trade persistence failed")
	}
}

// watchOpenTrade detects a tracked trade leaving the book. In a live run
// the exchange position going flat means a protective stop fired; in a
// paper run the fresh candle crossing a protective level stands in for the
// exchange.
func (o *Orchestrator) watchOpenTrade(ctx context.Context, logger zerolog.Logger, state *symbolState, snap *market.MarketSnapshot, position risk.PositionState, positionKnown bool, balance float64) {
	if state.open == nil {
		return
	}
	view := snap.View(market.Timeframe5m)
	if view == nil {
		return
	}

	exit, crossed := protectiveExit(state.open.plan, view.Live)
	if o.cfg.Paper {
		if !crossed {
			return
		}
	} else {
		if !positionKnown || position.Qty != 0 {
			return
		}
		if !crossed {
			exit = nearestProtective(state.open.plan, view.Live.Close)
		}
	}

	o.closeTrade(ctx, logger, state, exit, balance, snap.Timestamp)
}

// closeTrade settles a finished trade: realized PnL net of taker fees both
// ways, reconciled into the equity curve and fanned out to records.
func (o *Orchestrator) closeTrade(ctx context.Context, logger zerolog.Logger, state *symbolState, exit, balance float64, closedAt time.Time) {
	t := state.open
	dir := tradeDirection(t.plan.Side)
	gross := (exit - t.fill.AvgPrice) * t.fill.ExecutedQty * dir
	fees := (t.fill.AvgPrice + exit) * t.fill.ExecutedQty * o.cfg.TakerFee

	outcome := risk.TradeOutcome{
		SnapshotID: t.plan.SnapshotID,
		Symbol:     t.plan.Symbol,
		PnL:        gross - fees,
		Fees:       fees,
		ClosedAt:   closedAt,
	}
	o.deps.Reconciler.Apply(outcome)
	state.open = nil

	account := o.deps.Reconciler.State(balance)
	metrics.SetAccountState(account.Equity, account.PeakEquity, account.Drawdown, account.ConsecutiveLosses)
	alerts.AlertTradeClosed(ctx, outcome.Symbol, outcome.PnL, outcome.Fees)

	if o.deps.DB != nil {
		if err := o.deps.DB.CloseTrade(ctx, outcome.SnapshotID, outcome.Symbol, outcome.PnL, outcome.Fees, outcome.ClosedAt); err != nil {
			logger.Warn().Err(err).Msg("Trade close persistence failed")
		}
		point := store.EquityPoint{
			Equity:     account.Equity,
			Balance:    account.Balance,
			Drawdown:   account.Drawdown,
			RecordedAt: outcome.ClosedAt,
		}
		if err := o.deps.DB.AppendEquityPoint(ctx, point); err != nil {
			logger.Warn().Err(err).Msg("Equity point persistence failed")
		}
	}

	logger.Info().
		Float64("exit", exit).
		Float64("pnl", outcome.PnL).
		Float64("fees", outcome.Fees).
		Float64("equity", account.Equity).
		Msg("Trade closed")
}

// reconcileQuarantine resolves a symbol whose last dispatch outcome is
// unknown. The exchange position is the truth: flat means the order never
// landed; open means it did, so the same plan is re-driven under its
// original client order id to recover the fill and attach missing stops.
func (o *Orchestrator) reconcileQuarantine(ctx context.Context, logger zerolog.Logger, state *symbolState, position risk.PositionState, positionKnown bool) bool {
	if !positionKnown {
		logger.Warn().Msg("Quarantine held, position unknown")
		return false
	}

	plan := *state.quarantined
	if position.Qty == 0 {
		state.quarantined = nil
		logger.Info().Str("snapshot_id", plan.SnapshotID).Msg("Quarantine lifted, order never landed")
		return true
	}

	fill, err := o.dispatch(ctx, logger, state, plan)
	if err != nil {
		logger.Warn().Err(err).Msg("Quarantine held, recovery dispatch failed")
		return false
	}
	state.quarantined = nil
	logger.Warn().
		Str("snapshot_id", plan.SnapshotID).
		Bool("recovered", fill.Duplicate).
		Msg("Quarantine resolved, landed order adopted")
	return true
}

func (o *Orchestrator) saveArtifact(agent, kind, symbol, timeframe, snapshotID string, v interface{}) {
	if o.deps.Artifacts == nil {
		return
	}
	if _, err := o.deps.Artifacts.Save(agent, kind, symbol, timeframe, snapshotID, v); err != nil {
		o.logger.Warn().Err(err).
			Str("agent", agent).
			Str("kind", kind).
			Str("snapshot_id", snapshotID).
			Msg("Artifact write failed")
	}
}

func (o *Orchestrator) saveAnalysisArtifacts(symbol string, snap *market.MarketSnapshot, sig *analysis) {
	for _, tf := range market.Timeframes() {
		frame := snap.Stable(tf)
		if frame == nil {
			continue
		}
		o.saveArtifact(store.AgentIndicators, "frame", symbol, string(tf), snap.SnapshotID, tailOf(snap.SnapshotID, frame))
	}
	if sig.features != nil {
		o.saveArtifact(store.AgentFeatures, "vector", symbol, "", snap.SnapshotID, featureArtifact{
			SnapshotID:    snap.SnapshotID,
			Symbol:        symbol,
			SchemaVersion: sig.features.SchemaVersion,
			Vector:        sig.features.Vector(),
		})
	}
	o.saveArtifact(store.AgentQuant, "analysis", symbol, "", snap.SnapshotID, sig.quant)
}

// holdVote is the forced hold recorded when a snapshot cannot be trusted.
func holdVote(snap *market.MarketSnapshot, reason string) *decision.VoteResult {
	return &decision.VoteResult{
		SnapshotID: snap.SnapshotID,
		Symbol:     snap.Symbol,
		Action:     decision.ActionHold,
		Reason:     reason,
	}
}

func tradeDirection(side decision.Action) float64 {
	if side == decision.ActionShort {
		return -1
	}
	return 1
}

// protectiveExit reports which protective level the candle touched, stop
// first: an adverse wick that reaches both levels fills the stop.
func protectiveExit(plan risk.OrderPlan, live market.Candle) (float64, bool) {
	if plan.Side == decision.ActionLong {
		if live.Low <= plan.StopLoss {
			return plan.StopLoss, true
		}
		if plan.TakeProfit > 0 && live.High >= plan.TakeProfit {
			return plan.TakeProfit, true
		}
		return 0, false
	}
	if live.High >= plan.StopLoss {
		return plan.StopLoss, true
	}
	if plan.TakeProfit > 0 && live.Low <= plan.TakeProfit {
		return plan.TakeProfit, true
	}
	return 0, false
}

// nearestProtective picks the level closest to the last traded price, for
// positions the exchange closed between cycles without the latest candle
// showing the touch.
func nearestProtective(plan risk.OrderPlan, lastClose float64) float64 {
	if plan.TakeProfit <= 0 {
		return plan.StopLoss
	}
	if math.Abs(lastClose-plan.TakeProfit) < math.Abs(lastClose-plan.StopLoss) {
		return plan.TakeProfit
	}
	return plan.StopLoss
}

// snapshotArtifact is the data_sync stage record. Full indicator frames
// stay out of artifacts: their warmup rows are NaN, which JSON cannot
// encode; the tail values land in the indicators artifact instead.
type snapshotArtifact struct {
	SnapshotID   string                            `json:"snapshot_id"`
	Symbol       string                            `json:"symbol"`
	Timestamp    time.Time                         `json:"timestamp"`
	AlignmentOK  bool                              `json:"alignment_ok"`
	Warnings     []string                          `json:"warnings,omitempty"`
	FundingRate  *float64                          `json:"funding_rate,omitempty"`
	OpenInterest *market.OpenInterest              `json:"open_interest,omitempty"`
	Netflow1h    *float64                          `json:"institutional_netflow_1h,omitempty"`
	Frames       map[market.Timeframe]frameSummary `json:"frames"`
}

type frameSummary struct {
	Rows          int           `json:"rows"`
	LastClose     float64       `json:"last_close"`
	LastCloseTime time.Time     `json:"last_close_time"`
	Live          market.Candle `json:"live"`
}

func summarizeSnapshot(snap *market.MarketSnapshot) snapshotArtifact {
	frames := make(map[market.Timeframe]frameSummary, len(snap.Views))
	for tf, view := range snap.Views {
		if view == nil || view.Stable == nil {
			continue
		}
		frames[tf] = frameSummary{
			Rows:          view.Stable.Len(),
			LastClose:     view.Stable.LastClose(),
			LastCloseTime: view.Stable.LastCloseTime(),
			Live:          view.Live,
		}
	}
	return snapshotArtifact{
		SnapshotID:   snap.SnapshotID,
		Symbol:       snap.Symbol,
		Timestamp:    snap.Timestamp,
		AlignmentOK:  snap.AlignmentOK,
		Warnings:     snap.Warnings,
		FundingRate:  snap.FundingRate,
		OpenInterest: snap.OpenInterest,
		Netflow1h:    snap.Netflow1h,
		Frames:       frames,
	}
}

// frameTail is the indicators artifact: the last valid row of each column.
type frameTail struct {
	SnapshotID       string           `json:"snapshot_id"`
	Symbol           string           `json:"symbol"`
	Timeframe        market.Timeframe `json:"timeframe"`
	ProcessorVersion string           `json:"processor_version"`
	Rows             int              `json:"rows"`
	CloseTime        time.Time        `json:"close_time"`

	Close       float64 `json:"close"`
	SMA20       float64 `json:"sma_20"`
	SMA50       float64 `json:"sma_50"`
	EMA12       float64 `json:"ema_12"`
	EMA20       float64 `json:"ema_20"`
	EMA26       float64 `json:"ema_26"`
	EMA50       float64 `json:"ema_50"`
	MACD        float64 `json:"macd"`
	MACDSignal  float64 `json:"macd_signal"`
	MACDHist    float64 `json:"macd_hist"`
	RSI         float64 `json:"rsi"`
	ATR         float64 `json:"atr"`
	ADX         float64 `json:"adx"`
	BBUpper     float64 `json:"bb_upper"`
	BBMiddle    float64 `json:"bb_middle"`
	BBLower     float64 `json:"bb_lower"`
	OBV         float64 `json:"obv"`
	VolumeRatio float64 `json:"volume_ratio"`
	VWAP        float64 `json:"vwap"`
}

func tailOf(snapshotID string, frame *market.Frame) frameTail {
	i := frame.LastIndex()
	return frameTail{
		SnapshotID:       snapshotID,
		Symbol:           frame.Symbol,
		Timeframe:        frame.Timeframe,
		ProcessorVersion: frame.ProcessorVersion,
		Rows:             frame.Len(),
		CloseTime:        frame.LastCloseTime(),
		Close:            frame.Close(i),
		SMA20:            frame.SMA20[i],
		SMA50:            frame.SMA50[i],
		EMA12:            frame.EMA12[i],
		EMA20:            frame.EMA20[i],
		EMA26:            frame.EMA26[i],
		EMA50:            frame.EMA50[i],
		MACD:             frame.MACD[i],
		MACDSignal:       frame.MACDSignal[i],
		MACDHist:         frame.MACDHist[i],
		RSI:              frame.RSI[i],
		ATR:              frame.ATR[i],
		ADX:              frame.ADX[i],
		BBUpper:          frame.BBUpper[i],
		BBMiddle:         frame.BBMiddle[i],
		BBLower:          frame.BBLower[i],
		OBV:              frame.OBV[i],
		VolumeRatio:      frame.VolRatio[i],
		VWAP:             frame.VWAP[i],
	}
}

// featureArtifact is the NaN-safe vector form of a feature snapshot.
type featureArtifact struct {
	SnapshotID    string    `json:"snapshot_id"`
	Symbol        string    `json:"symbol"`
	SchemaVersion string    `json:"schema_version"`
	Vector        []float64 `json:"vector"`
}
