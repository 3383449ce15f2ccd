package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tradepilot/internal/agents"
	"github.com/ajitpratap0/tradepilot/internal/config"
	"github.com/ajitpratap0/tradepilot/internal/decision"
	"github.com/ajitpratap0/tradepilot/internal/execution"
	"github.com/ajitpratap0/tradepilot/internal/indicators"
	"github.com/ajitpratap0/tradepilot/internal/market"
	"github.com/ajitpratap0/tradepilot/internal/risk"
	"github.com/ajitpratap0/tradepilot/internal/store"
)

var testClock = time.Date(2025, 6, 1, 12, 7, 30, 0, time.UTC)

// stubSource serves generated candle series and injects per-symbol failures.
type stubSource struct {
	candles map[market.Timeframe][]market.Candle
	failFor map[string]error
}

func (s *stubSource) GetKlines(ctx context.Context, symbol string, tf market.Timeframe, limit int) ([]market.Candle, error) {
	if err := s.failFor[symbol]; err != nil {
		return nil, &market.FetchError{Symbol: symbol, Timeframe: tf, Err: err}
	}
	candles := s.candles[tf]
	if len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	out := make([]market.Candle, len(candles))
	copy(out, candles)
	return out, nil
}

func (s *stubSource) GetFundingRate(ctx context.Context, symbol string) (float64, error) {
	return 0.0001, nil
}

func (s *stubSource) GetOpenInterest(ctx context.Context, symbol string) (market.OpenInterest, error) {
	return market.OpenInterest{Current: 1_000_000, Past24h: 1_000_000}, nil
}

func (s *stubSource) GetInstitutionalNetflow(ctx context.Context, symbol string, window time.Duration) (float64, error) {
	return 0, nil
}

// genCandles produces n flat, well-formed candles whose last row opens at
// the start of the bucket containing end, i.e. the still-forming candle.
func genCandles(tf market.Timeframe, n int, end time.Time) []market.Candle {
	p := tf.Period()
	lastOpen := end.Truncate(p)
	out := make([]market.Candle, n)
	for i := range out {
		open := lastOpen.Add(-time.Duration(n-1-i) * p)
		out[i] = market.Candle{
			OpenTime:  open,
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100.5,
			Volume:    10,
			CloseTime: open.Add(p),
		}
	}
	return out
}

func flatSource(now time.Time) *stubSource {
	return &stubSource{
		candles: map[market.Timeframe][]market.Candle{
			market.Timeframe5m:  genCandles(market.Timeframe5m, 260, now),
			market.Timeframe15m: genCandles(market.Timeframe15m, 260, now),
			market.Timeframe1h:  genCandles(market.Timeframe1h, 260, now),
		},
		failFor: map[string]error{},
	}
}

// countingSink records sink traffic and injects failures per stage.
type countingSink struct {
	mu            sync.Mutex
	leverageCalls int
	placeCalls    int
	stopCalls     int

	placeErr  error
	stopErr   error
	duplicate bool
}

func (s *countingSink) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leverageCalls++
	return nil
}

func (s *countingSink) PlaceMarket(ctx context.Context, order risk.OrderPlan) (*execution.Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placeCalls++
	if s.placeErr != nil {
		return nil, s.placeErr
	}
	return &execution.Fill{
		Symbol:        order.Symbol,
		OrderID:       int64(1000 + s.placeCalls),
		ClientOrderID: execution.EntryClientOrderID(order.SnapshotID, order.Symbol),
		AvgPrice:      order.Entry,
		ExecutedQty:   order.Qty,
		FilledAt:      testClock,
		Duplicate:     s.duplicate,
	}, nil
}

func (s *countingSink) AttachStops(ctx context.Context, order risk.OrderPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCalls++
	return s.stopErr
}

type fakeAccount struct {
	balance  float64
	balErr   error
	position risk.PositionState
	posErr   error
}

func (a *fakeAccount) Balance(ctx context.Context) (float64, error) {
	return a.balance, a.balErr
}

func (a *fakeAccount) Position(ctx context.Context, symbol string) (risk.PositionState, error) {
	if a.posErr != nil {
		return risk.PositionState{}, a.posErr
	}
	return a.position, nil
}

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		MaxLeverage:            10,
		MaxPositionPct:         0.30,
		MaxTotalRiskPct:        0.02,
		MarginBufferPct:        0.95,
		StopLossMinPct:         0.005,
		StopLossMaxPct:         0.05,
		StopTradingDrawdownPct: 0.10,
		MaxConsecutiveLosses:   3,
		RiskPerTradePct:        0.01,
		ATRStopMultiple:        1.5,
		ATRTakeProfitMultiple:  3.0,
	}
}

func testConfig(symbols ...string) Config {
	return Config{
		Symbols:               symbols,
		Interval:              time.Minute,
		Leverage:              3,
		Paper:                 true,
		RiskPerTradePct:       0.01,
		ATRStopMultiple:       1.5,
		ATRTakeProfitMultiple: 3.0,
		TakerFee:              0.0004,
	}
}

type harness struct {
	orch    *Orchestrator
	sink    *countingSink
	account *fakeAccount
	rec     *risk.Reconciler
	root    string
}

func newHarness(t *testing.T, src market.MarketDataSource, symbols ...string) *harness {
	t.Helper()
	if len(symbols) == 0 {
		symbols = []string{"BTCUSDT"}
	}

	sink := &countingSink{}
	account := &fakeAccount{balance: 10_000}
	rec := risk.NewReconciler(10_000)
	root := t.TempDir()

	syncAgent := market.NewDataSyncAgent(market.SyncConfig{
		Source:    src,
		Processor: indicators.NewService(),
		Validator: market.NewValidator(zerolog.Nop()),
		Now:       func() time.Time { return testClock },
		Logger:    zerolog.Nop(),
	})

	orch, err := NewOrchestrator(testConfig(symbols...), Deps{
		Sync:       syncAgent,
		Quant:      agents.NewQuantAnalystAgent(),
		Predict:    agents.NewPredictAgent(nil),
		Regime:     agents.NewRegimeDetector(),
		Position:   agents.NewPositionAnalyzer(),
		Core:       decision.NewCore(),
		Auditor:    risk.NewAuditor(testRiskConfig()),
		Reconciler: rec,
		Account:    account,
		Sink:       sink,
		Artifacts:  store.NewArtifactStore(root),
	})
	require.NoError(t, err)

	return &harness{orch: orch, sink: sink, account: account, rec: rec, root: root}
}

func artifactPaths(t *testing.T, root, agent, pattern string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(root, agent, "*", pattern))
	require.NoError(t, err)
	return matches
}

// planSnapshot is the minimal snapshot the dispatch half reads: a 5m view
// with a known last ATR and live close.
func planSnapshot(symbol string, entry, atr float64) *market.MarketSnapshot {
	p := market.Timeframe5m.Period()
	open := testClock.Truncate(p)
	frame := &market.Frame{
		Symbol:    symbol,
		Timeframe: market.Timeframe5m,
		Candles: []market.Candle{{
			OpenTime:  open.Add(-p),
			Open:      entry,
			High:      entry,
			Low:       entry,
			Close:     entry,
			Volume:    10,
			CloseTime: open,
		}},
		ATR: []float64{atr},
	}
	return &market.MarketSnapshot{
		SnapshotID: market.NewSnapshotID(testClock),
		Symbol:     symbol,
		Timestamp:  testClock,
		Views: map[market.Timeframe]*market.TimeframeView{
			market.Timeframe5m: {
				Stable: frame,
				Live: market.Candle{
					OpenTime:  open,
					Open:      entry,
					High:      entry,
					Low:       entry,
					Close:     entry,
					CloseTime: open.Add(p),
				},
			},
		},
		AlignmentOK: true,
	}
}

func longVote(snap *market.MarketSnapshot) *decision.VoteResult {
	return &decision.VoteResult{
		SnapshotID:    snap.SnapshotID,
		Symbol:        snap.Symbol,
		Action:        decision.ActionLong,
		Confidence:    72,
		WeightedScore: 41,
		Reason:        "majority long",
	}
}

func openLongTrade(entry, stop, target, qty float64) *trackedTrade {
	return &trackedTrade{
		plan: risk.OrderPlan{
			SnapshotID: "snap_1748779200",
			Symbol:     "BTCUSDT",
			Side:       decision.ActionLong,
			Entry:      entry,
			StopLoss:   stop,
			TakeProfit: target,
			Qty:        qty,
			Leverage:   3,
		},
		fill: execution.Fill{
			Symbol:      "BTCUSDT",
			OrderID:     1001,
			AvgPrice:    entry,
			ExecutedQty: qty,
			FilledAt:    testClock.Add(-time.Hour),
		},
	}
}

// TestCycleHoldsOnFlatMarket tests the full pipeline on a signal-free market
func TestCycleHoldsOnFlatMarket(t *testing.T) {
	h := newHarness(t, flatSource(testClock))

	result, err := h.orch.Cycle(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, market.NewSnapshotID(testClock), result.SnapshotID)
	require.NotNil(t, result.Vote)
	assert.Equal(t, decision.ActionHold, result.Vote.Action)
	assert.Nil(t, result.Fill)
	assert.Nil(t, result.Risk)

	// A held cycle never touches the exchange.
	assert.Zero(t, h.sink.leverageCalls)
	assert.Zero(t, h.sink.placeCalls)

	// One artifact per completed stage, keyed by the snapshot id.
	assert.Len(t, artifactPaths(t, h.root, store.AgentDataSync, "snapshot_BTCUSDT_*_"+result.SnapshotID+".json"), 1)
	assert.Len(t, artifactPaths(t, h.root, store.AgentIndicators, "frame_BTCUSDT_*"), 3)
	assert.Len(t, artifactPaths(t, h.root, store.AgentFeatures, "vector_BTCUSDT_*"), 1)
	assert.Len(t, artifactPaths(t, h.root, store.AgentQuant, "analysis_BTCUSDT_*"), 1)
	assert.Len(t, artifactPaths(t, h.root, store.AgentDecisions, "vote_BTCUSDT_*"), 1)
	assert.Empty(t, artifactPaths(t, h.root, store.AgentRisk, "*"))
	assert.Empty(t, artifactPaths(t, h.root, store.AgentExecutions, "*"))
}

// TestCycleForcedHoldOnMisalignment tests that a degraded snapshot skips the
// analyzers and records a hold
func TestCycleForcedHoldOnMisalignment(t *testing.T) {
	src := flatSource(testClock)
	src.candles[market.Timeframe1h] = genCandles(market.Timeframe1h, 260, testClock.Add(-3*time.Hour))
	h := newHarness(t, src)

	result, err := h.orch.Cycle(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	require.NotNil(t, result.Vote)
	assert.Equal(t, decision.ActionHold, result.Vote.Action)
	assert.Equal(t, "timeframes misaligned", result.Vote.Reason)
	assert.Zero(t, result.Vote.Confidence)
	assert.Zero(t, h.sink.placeCalls)

	// The analysis stage never ran, only the snapshot and the vote exist.
	assert.Empty(t, artifactPaths(t, h.root, store.AgentQuant, "*"))
	assert.Empty(t, artifactPaths(t, h.root, store.AgentFeatures, "*"))
	assert.Len(t, artifactPaths(t, h.root, store.AgentDecisions, "vote_BTCUSDT_*"), 1)
}

// TestCycleSyncFailure tests that a dead feed aborts the cycle with the
// typed fetch error
func TestCycleSyncFailure(t *testing.T) {
	src := flatSource(testClock)
	src.failFor["BTCUSDT"] = errors.New("exchange down")
	h := newHarness(t, src)

	result, err := h.orch.Cycle(context.Background(), "BTCUSDT")
	require.Error(t, err)
	assert.Nil(t, result)

	var ferr *market.FetchError
	assert.True(t, errors.As(err, &ferr))
	assert.Zero(t, h.sink.placeCalls)
}

// TestCycleDeterministicReplay tests that a pinned clock and identical data
// reproduce the vote exactly
func TestCycleDeterministicReplay(t *testing.T) {
	h := newHarness(t, flatSource(testClock))

	first, err := h.orch.Cycle(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	second, err := h.orch.Cycle(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, first.SnapshotID, second.SnapshotID)
	assert.Equal(t, first.Vote, second.Vote)
}

// TestCycleUnknownSymbol tests the guard against unconfigured symbols
func TestCycleUnknownSymbol(t *testing.T) {
	h := newHarness(t, flatSource(testClock))

	_, err := h.orch.Cycle(context.Background(), "DOGEUSDT")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

// TestOnceIsolatesSymbolFailures tests the per-symbol error envelopes
func TestOnceIsolatesSymbolFailures(t *testing.T) {
	src := flatSource(testClock)
	src.failFor["ETHUSDT"] = errors.New("exchange down")
	h := newHarness(t, src, "BTCUSDT", "ETHUSDT")

	results := h.orch.Once(context.Background())
	require.Len(t, results, 2)

	assert.Equal(t, "BTCUSDT", results[0].Symbol)
	require.NoError(t, results[0].Err)
	require.NotNil(t, results[0].Vote)

	assert.Equal(t, "ETHUSDT", results[1].Symbol)
	require.Error(t, results[1].Err)
	assert.Nil(t, results[1].Vote)
}

// TestRunStopsOnCancel tests the loop shuts down with the context
func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, flatSource(testClock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.orch.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

// TestActDispatchesApprovedOrder tests the sizing, audit and dispatch of a
// passing long vote
func TestActDispatchesApprovedOrder(t *testing.T) {
	h := newHarness(t, flatSource(testClock))
	snap := planSnapshot("BTCUSDT", 100, 2.5)
	vote := longVote(snap)
	state := h.orch.states["BTCUSDT"]
	result := &CycleResult{Symbol: "BTCUSDT", SnapshotID: snap.SnapshotID}

	err := h.orch.act(context.Background(), zerolog.Nop(), state, snap, vote, risk.PositionState{Symbol: "BTCUSDT"}, 10_000, true, result)
	require.NoError(t, err)

	require.NotNil(t, result.Risk)
	assert.True(t, result.Risk.Passed)
	require.NotNil(t, result.Fill)
	assert.Equal(t, 1, h.sink.leverageCalls)
	assert.Equal(t, 1, h.sink.placeCalls)
	assert.Equal(t, 1, h.sink.stopCalls)

	require.NotNil(t, state.open)
	plan := state.open.plan
	assert.InDelta(t, 100.0, plan.Entry, 1e-9)
	assert.InDelta(t, 100.0-1.5*2.5, plan.StopLoss, 1e-9)
	assert.InDelta(t, 100.0+3.0*2.5, plan.TakeProfit, 1e-9)
	assert.InDelta(t, 0.01*10_000/(1.5*2.5), plan.Qty, 1e-9)
	assert.Equal(t, 3, plan.Leverage)

	assert.Len(t, artifactPaths(t, h.root, store.AgentRisk, "verdict_BTCUSDT_*"), 1)
	assert.Len(t, artifactPaths(t, h.root, store.AgentExecutions, "fill_BTCUSDT_*"), 1)
}

// TestActBlockedOrderNeverReachesSink tests the veto is absolute
func TestActBlockedOrderNeverReachesSink(t *testing.T) {
	h := newHarness(t, flatSource(testClock))

	// Three straight losses arm the cooldown gate.
	for i := 0; i < 3; i++ {
		h.rec.Apply(risk.TradeOutcome{
			SnapshotID: fmt.Sprintf("snap_%d", i),
			Symbol:     "BTCUSDT",
			PnL:        -10,
			ClosedAt:   testClock,
		})
	}

	snap := planSnapshot("BTCUSDT", 100, 2.5)
	vote := longVote(snap)
	state := h.orch.states["BTCUSDT"]
	result := &CycleResult{Symbol: "BTCUSDT", SnapshotID: snap.SnapshotID}

	err := h.orch.act(context.Background(), zerolog.Nop(), state, snap, vote, risk.PositionState{Symbol: "BTCUSDT"}, 10_000, true, result)
	require.NoError(t, err)

	require.NotNil(t, result.Risk)
	assert.False(t, result.Risk.Passed)
	assert.Equal(t, risk.BlockCooldown, result.Risk.BlockedReason)
	assert.Nil(t, result.Fill)
	assert.Nil(t, state.open)

	assert.Zero(t, h.sink.leverageCalls)
	assert.Zero(t, h.sink.placeCalls)
	assert.Zero(t, h.sink.stopCalls)

	// The verdict itself is still recorded.
	assert.Len(t, artifactPaths(t, h.root, store.AgentRisk, "verdict_BTCUSDT_*"), 1)
	assert.Empty(t, artifactPaths(t, h.root, store.AgentExecutions, "*"))
}

// TestActSkipsWhenPositionOpen tests one position per symbol
func TestActSkipsWhenPositionOpen(t *testing.T) {
	h := newHarness(t, flatSource(testClock))
	snap := planSnapshot("BTCUSDT", 100, 2.5)
	vote := longVote(snap)
	state := h.orch.states["BTCUSDT"]
	result := &CycleResult{Symbol: "BTCUSDT", SnapshotID: snap.SnapshotID}

	position := risk.PositionState{Symbol: "BTCUSDT", Qty: 0.5, EntryPrice: 98}
	err := h.orch.act(context.Background(), zerolog.Nop(), state, snap, vote, position, 10_000, true, result)
	require.NoError(t, err)

	assert.Equal(t, "position open", result.SkipReason)
	assert.Nil(t, result.Risk)
	assert.Zero(t, h.sink.placeCalls)
}

// TestActSkipsWithoutBalance tests that an unknown balance blocks sizing
func TestActSkipsWithoutBalance(t *testing.T) {
	h := newHarness(t, flatSource(testClock))
	snap := planSnapshot("BTCUSDT", 100, 2.5)
	vote := longVote(snap)
	state := h.orch.states["BTCUSDT"]
	result := &CycleResult{Symbol: "BTCUSDT", SnapshotID: snap.SnapshotID}

	err := h.orch.act(context.Background(), zerolog.Nop(), state, snap, vote, risk.PositionState{Symbol: "BTCUSDT"}, 0, false, result)
	require.NoError(t, err)

	assert.Equal(t, "balance unavailable", result.SkipReason)
	assert.Zero(t, h.sink.placeCalls)
}

// TestActQuarantinesOnDispatchFailure tests the unknown-outcome protocol
func TestActQuarantinesOnDispatchFailure(t *testing.T) {
	h := newHarness(t, flatSource(testClock))
	h.sink.placeErr = &execution.ExecError{Symbol: "BTCUSDT", Op: "order", Err: errors.New("rate limited")}

	snap := planSnapshot("BTCUSDT", 100, 2.5)
	vote := longVote(snap)
	state := h.orch.states["BTCUSDT"]
	result := &CycleResult{Symbol: "BTCUSDT", SnapshotID: snap.SnapshotID}

	err := h.orch.act(context.Background(), zerolog.Nop(), state, snap, vote, risk.PositionState{Symbol: "BTCUSDT"}, 10_000, true, result)
	require.Error(t, err)

	require.NotNil(t, state.quarantined)
	assert.Equal(t, snap.SnapshotID, state.quarantined.SnapshotID)
	assert.Nil(t, state.open)
	assert.Equal(t, 1, h.sink.placeCalls)
	assert.Zero(t, h.sink.stopCalls)
}

// TestActQuarantinesOnStopAttachFailure tests a landed entry with naked
// stops still quarantines for recovery
func TestActQuarantinesOnStopAttachFailure(t *testing.T) {
	h := newHarness(t, flatSource(testClock))
	h.sink.stopErr = errors.New("timeout")

	snap := planSnapshot("BTCUSDT", 100, 2.5)
	vote := longVote(snap)
	state := h.orch.states["BTCUSDT"]
	result := &CycleResult{Symbol: "BTCUSDT", SnapshotID: snap.SnapshotID}

	err := h.orch.act(context.Background(), zerolog.Nop(), state, snap, vote, risk.PositionState{Symbol: "BTCUSDT"}, 10_000, true, result)
	require.Error(t, err)

	require.NotNil(t, state.quarantined)
	assert.Nil(t, state.open)
	assert.Equal(t, 1, h.sink.placeCalls)
	assert.Equal(t, 1, h.sink.stopCalls)
}

// TestCycleSkipsWhileQuarantined tests that an unresolvable quarantine
// freezes the symbol
func TestCycleSkipsWhileQuarantined(t *testing.T) {
	h := newHarness(t, flatSource(testClock))
	h.account.posErr = errors.New("position endpoint down")

	plan := risk.OrderPlan{
		SnapshotID: "snap_1748779200",
		Symbol:     "BTCUSDT",
		Side:       decision.ActionLong,
		Entry:      100,
		StopLoss:   96.25,
		TakeProfit: 107.5,
		Qty:        26.7,
		Leverage:   3,
	}
	h.orch.states["BTCUSDT"].quarantined = &plan

	result, err := h.orch.Cycle(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Equal(t, "quarantined", result.SkipReason)
	assert.Nil(t, result.Vote)
	assert.Zero(t, h.sink.placeCalls)
	assert.NotNil(t, h.orch.states["BTCUSDT"].quarantined)
}

// TestCycleLiftsQuarantineWhenFlat tests that a flat exchange position
// proves the lost dispatch never landed
func TestCycleLiftsQuarantineWhenFlat(t *testing.T) {
	h := newHarness(t, flatSource(testClock))

	plan := risk.OrderPlan{
		SnapshotID: "snap_1748779200",
		Symbol:     "BTCUSDT",
		Side:       decision.ActionLong,
		Entry:      100,
		StopLoss:   96.25,
		TakeProfit: 107.5,
		Qty:        26.7,
		Leverage:   3,
	}
	h.orch.states["BTCUSDT"].quarantined = &plan

	result, err := h.orch.Cycle(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	assert.Empty(t, result.SkipReason)
	require.NotNil(t, result.Vote)
	assert.Nil(t, h.orch.states["BTCUSDT"].quarantined)
	assert.Zero(t, h.sink.placeCalls)
}

// TestCycleRecoversLandedQuarantinedOrder tests the idempotent re-drive:
// the open exchange position is adopted under the original plan
func TestCycleRecoversLandedQuarantinedOrder(t *testing.T) {
	h := newHarness(t, flatSource(testClock))
	h.sink.duplicate = true
	h.account.position = risk.PositionState{Symbol: "BTCUSDT", Qty: 26.7, EntryPrice: 100}

	plan := risk.OrderPlan{
		SnapshotID: "snap_1748779200",
		Symbol:     "BTCUSDT",
		Side:       decision.ActionLong,
		Entry:      100,
		StopLoss:   96.25,
		TakeProfit: 107.5,
		Qty:        26.7,
		Leverage:   3,
	}
	h.orch.states["BTCUSDT"].quarantined = &plan

	result, err := h.orch.Cycle(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, result.Vote)

	state := h.orch.states["BTCUSDT"]
	assert.Nil(t, state.quarantined)
	require.NotNil(t, state.open)
	assert.True(t, state.open.fill.Duplicate)
	assert.Equal(t, "snap_1748779200", state.open.plan.SnapshotID)
	assert.Equal(t, 1, h.sink.placeCalls)
	assert.Equal(t, 1, h.sink.stopCalls)
	assert.Len(t, artifactPaths(t, h.root, store.AgentExecutions, "fill_BTCUSDT_*"), 1)
}

// TestWatchOpenTradePaperStop tests the paper close on a stop-crossing candle
func TestWatchOpenTradePaperStop(t *testing.T) {
	h := newHarness(t, flatSource(testClock))
	state := h.orch.states["BTCUSDT"]
	state.open = openLongTrade(100, 98.5, 103, 10)

	snap := planSnapshot("BTCUSDT", 100, 1.0)
	snap.Views[market.Timeframe5m].Live.Low = 98.2

	h.orch.watchOpenTrade(context.Background(), zerolog.Nop(), state, snap, risk.PositionState{}, true, 10_000)

	assert.Nil(t, state.open)
	wantEquity := 10_000.0 + (98.5-100)*10 - (100+98.5)*10*0.0004
	assert.InDelta(t, wantEquity, h.rec.Equity(), 1e-9)

	st := h.rec.State(10_000)
	assert.Equal(t, 1, st.Trades)
	assert.Equal(t, 1, st.ConsecutiveLosses)
}

// TestWatchOpenTradePaperTakeProfit tests the winning close
func TestWatchOpenTradePaperTakeProfit(t *testing.T) {
	h := newHarness(t, flatSource(testClock))
	state := h.orch.states["BTCUSDT"]
	state.open = openLongTrade(100, 98.5, 103, 10)

	snap := planSnapshot("BTCUSDT", 102.8, 1.0)
	snap.Views[market.Timeframe5m].Live.High = 103.4

	h.orch.watchOpenTrade(context.Background(), zerolog.Nop(), state, snap, risk.PositionState{}, true, 10_000)

	assert.Nil(t, state.open)
	wantEquity := 10_000.0 + (103.0-100)*10 - (100+103.0)*10*0.0004
	assert.InDelta(t, wantEquity, h.rec.Equity(), 1e-9)

	st := h.rec.State(10_000)
	assert.Equal(t, 1, st.Wins)
	assert.Zero(t, st.ConsecutiveLosses)
}

// TestWatchOpenTradeStopBeatsTakeProfit tests the adverse-wick tie-break
func TestWatchOpenTradeStopBeatsTakeProfit(t *testing.T) {
	h := newHarness(t, flatSource(testClock))
	state := h.orch.states["BTCUSDT"]
	state.open = openLongTrade(100, 98.5, 103, 10)

	snap := planSnapshot("BTCUSDT", 100, 1.0)
	snap.Views[market.Timeframe5m].Live.Low = 98.0
	snap.Views[market.Timeframe5m].Live.High = 104.0

	h.orch.watchOpenTrade(context.Background(), zerolog.Nop(), state, snap, risk.PositionState{}, true, 10_000)

	assert.Nil(t, state.open)
	wantEquity := 10_000.0 + (98.5-100)*10 - (100+98.5)*10*0.0004
	assert.InDelta(t, wantEquity, h.rec.Equity(), 1e-9)
}

// TestWatchOpenTradeHoldsWithoutCross tests an untouched trade stays open
func TestWatchOpenTradeHoldsWithoutCross(t *testing.T) {
	h := newHarness(t, flatSource(testClock))
	state := h.orch.states["BTCUSDT"]
	state.open = openLongTrade(100, 98.5, 103, 10)

	snap := planSnapshot("BTCUSDT", 100.5, 1.0)
	snap.Views[market.Timeframe5m].Live.Low = 99.5
	snap.Views[market.Timeframe5m].Live.High = 101.5

	h.orch.watchOpenTrade(context.Background(), zerolog.Nop(), state, snap, risk.PositionState{}, true, 10_000)

	assert.NotNil(t, state.open)
	assert.InDelta(t, 10_000.0, h.rec.Equity(), 1e-9)
}

// TestWatchOpenTradeLiveFlatSettlesNearest tests live-mode close detection
// when the exchange flattened the position between cycles
func TestWatchOpenTradeLiveFlatSettlesNearest(t *testing.T) {
	h := newHarness(t, flatSource(testClock))
	h.orch.cfg.Paper = false
	state := h.orch.states["BTCUSDT"]
	state.open = openLongTrade(100, 98.5, 103, 10)

	// No touch on the candle; the close sits nearer the stop.
	snap := planSnapshot("BTCUSDT", 99.0, 1.0)

	position := risk.PositionState{Symbol: "BTCUSDT", Qty: 0}
	h.orch.watchOpenTrade(context.Background(), zerolog.Nop(), state, snap, position, true, 10_000)

	assert.Nil(t, state.open)
	wantEquity := 10_000.0 + (98.5-100)*10 - (100+98.5)*10*0.0004
	assert.InDelta(t, wantEquity, h.rec.Equity(), 1e-9)
}

// TestWatchOpenTradeLiveStillOpen tests a live position on the book is left
// alone even when the candle wicked through a level
func TestWatchOpenTradeLiveStillOpen(t *testing.T) {
	h := newHarness(t, flatSource(testClock))
	h.orch.cfg.Paper = false
	state := h.orch.states["BTCUSDT"]
	state.open = openLongTrade(100, 98.5, 103, 10)

	snap := planSnapshot("BTCUSDT", 100, 1.0)
	snap.Views[market.Timeframe5m].Live.Low = 98.0

	position := risk.PositionState{Symbol: "BTCUSDT", Qty: 10, EntryPrice: 100}
	h.orch.watchOpenTrade(context.Background(), zerolog.Nop(), state, snap, position, true, 10_000)

	assert.NotNil(t, state.open)
	assert.InDelta(t, 10_000.0, h.rec.Equity(), 1e-9)
}

// TestCycleClosesPaperTradeBeforeDeciding tests the watch runs inside the
// cycle ahead of the new decision
func TestCycleClosesPaperTradeBeforeDeciding(t *testing.T) {
	h := newHarness(t, flatSource(testClock))
	state := h.orch.states["BTCUSDT"]
	// Flat-source candles wick down to 99, crossing this stop.
	state.open = openLongTrade(100.5, 99.5, 110, 10)

	result, err := h.orch.Cycle(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, result.Vote)

	assert.Nil(t, state.open)
	wantEquity := 10_000.0 + (99.5-100.5)*10 - (100.5+99.5)*10*0.0004
	assert.InDelta(t, wantEquity, h.rec.Equity(), 1e-9)
	assert.Equal(t, 1, h.rec.State(10_000).Trades)
}

// TestProtectiveExit tests the level-touch detection on both sides
func TestProtectiveExit(t *testing.T) {
	long := risk.OrderPlan{Side: decision.ActionLong, Entry: 100, StopLoss: 98.5, TakeProfit: 103}
	short := risk.OrderPlan{Side: decision.ActionShort, Entry: 100, StopLoss: 101.5, TakeProfit: 97}

	tests := []struct {
		name        string
		plan        risk.OrderPlan
		low, high   float64
		wantExit    float64
		wantCrossed bool
	}{
		{"long stop", long, 98.4, 101, 98.5, true},
		{"long take profit", long, 99.5, 103.2, 103, true},
		{"long no touch", long, 99, 102, 0, false},
		{"long both levels fills stop", long, 98, 104, 98.5, true},
		{"short stop", short, 99, 101.6, 101.5, true},
		{"short take profit", short, 96.8, 101, 97, true},
		{"short no touch", short, 98, 101, 0, false},
		{"short both levels fills stop", short, 96, 102, 101.5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exit, crossed := protectiveExit(tt.plan, market.Candle{Low: tt.low, High: tt.high})
			assert.Equal(t, tt.wantCrossed, crossed)
			assert.InDelta(t, tt.wantExit, exit, 1e-9)
		})
	}
}

// TestNearestProtective tests the fallback settle level
func TestNearestProtective(t *testing.T) {
	plan := risk.OrderPlan{Side: decision.ActionLong, Entry: 100, StopLoss: 98.5, TakeProfit: 103}

	assert.InDelta(t, 98.5, nearestProtective(plan, 99.0), 1e-9)
	assert.InDelta(t, 103.0, nearestProtective(plan, 102.0), 1e-9)

	noTarget := risk.OrderPlan{Side: decision.ActionLong, Entry: 100, StopLoss: 98.5}
	assert.InDelta(t, 98.5, nearestProtective(noTarget, 150.0), 1e-9)
}

// TestBuildPlanShortLevels tests the mirrored sizing for shorts
func TestBuildPlanShortLevels(t *testing.T) {
	h := newHarness(t, flatSource(testClock))
	snap := planSnapshot("BTCUSDT", 200, 4)
	vote := longVote(snap)
	vote.Action = decision.ActionShort

	plan, err := h.orch.buildPlan(snap, vote, 10_000)
	require.NoError(t, err)

	assert.Equal(t, decision.ActionShort, plan.Side)
	assert.InDelta(t, 200.0, plan.Entry, 1e-9)
	assert.InDelta(t, 206.0, plan.StopLoss, 1e-9)
	assert.InDelta(t, 188.0, plan.TakeProfit, 1e-9)
	assert.InDelta(t, 0.01*10_000/6.0, plan.Qty, 1e-9)
}

// TestBuildPlanRejectsUnusableATR tests sizing fails closed without
// volatility data
func TestBuildPlanRejectsUnusableATR(t *testing.T) {
	h := newHarness(t, flatSource(testClock))

	_, err := h.orch.buildPlan(planSnapshot("BTCUSDT", 100, math.NaN()), longVote(planSnapshot("BTCUSDT", 100, 1)), 10_000)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable ATR")

	_, err = h.orch.buildPlan(planSnapshot("BTCUSDT", 100, 0), longVote(planSnapshot("BTCUSDT", 100, 1)), 10_000)
	require.Error(t, err)
}

// TestBuildPlanRejectsZeroBalance tests a drained account sizes nothing
func TestBuildPlanRejectsZeroBalance(t *testing.T) {
	h := newHarness(t, flatSource(testClock))
	snap := planSnapshot("BTCUSDT", 100, 2.5)

	_, err := h.orch.buildPlan(snap, longVote(snap), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no balance")
}

// TestNewOrchestratorValidation tests the wiring checks
func TestNewOrchestratorValidation(t *testing.T) {
	newDeps := func(t *testing.T) Deps {
		t.Helper()
		return Deps{
			Sync: market.NewDataSyncAgent(market.SyncConfig{
				Source:    flatSource(testClock),
				Processor: indicators.NewService(),
				Validator: market.NewValidator(zerolog.Nop()),
				Logger:    zerolog.Nop(),
			}),
			Quant:      agents.NewQuantAnalystAgent(),
			Predict:    agents.NewPredictAgent(nil),
			Regime:     agents.NewRegimeDetector(),
			Position:   agents.NewPositionAnalyzer(),
			Core:       decision.NewCore(),
			Auditor:    risk.NewAuditor(testRiskConfig()),
			Reconciler: risk.NewReconciler(10_000),
			Account:    &fakeAccount{balance: 10_000},
			Sink:       &countingSink{},
			Artifacts:  store.NewArtifactStore(t.TempDir()),
		}
	}

	t.Run("valid", func(t *testing.T) {
		orch, err := NewOrchestrator(testConfig("BTCUSDT"), newDeps(t))
		require.NoError(t, err)
		assert.NotNil(t, orch)
	})

	t.Run("no symbols", func(t *testing.T) {
		_, err := NewOrchestrator(testConfig(), newDeps(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "symbol")
	})

	t.Run("zero interval", func(t *testing.T) {
		cfg := testConfig("BTCUSDT")
		cfg.Interval = 0
		_, err := NewOrchestrator(cfg, newDeps(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "interval")
	})

	t.Run("zero leverage", func(t *testing.T) {
		cfg := testConfig("BTCUSDT")
		cfg.Leverage = 0
		_, err := NewOrchestrator(cfg, newDeps(t))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "leverage")
	})

	t.Run("missing sink", func(t *testing.T) {
		deps := newDeps(t)
		deps.Sink = nil
		_, err := NewOrchestrator(testConfig("BTCUSDT"), deps)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "order sink")
	})

	t.Run("missing auditor", func(t *testing.T) {
		deps := newDeps(t)
		deps.Auditor = nil
		_, err := NewOrchestrator(testConfig("BTCUSDT"), deps)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "risk auditor")
	})
}
