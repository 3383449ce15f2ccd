// Package backtest replays the full decision pipeline over deterministic
// fixture markets. The engine wires the same sync, analysis, fusion, audit
// and dispatch stages the live driver runs, swaps the exchange for a
// ReplaySource and a paper sink, and measures what falls out.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradepilot/internal/agents"
	"github.com/ajitpratap0/tradepilot/internal/decision"
	"github.com/ajitpratap0/tradepilot/internal/execution"
	"github.com/ajitpratap0/tradepilot/internal/indicators"
	"github.com/ajitpratap0/tradepilot/internal/market"
	"github.com/ajitpratap0/tradepilot/internal/orchestrator"
	"github.com/ajitpratap0/tradepilot/internal/risk"
	"github.com/ajitpratap0/tradepilot/internal/store"
)

// ClosedTrade is one finished round trip. PnL is net of round-trip taker
// fees, matching what the reconciler applied to equity.
type ClosedTrade struct {
	Symbol     string          `json:"symbol"`
	SnapshotID string          `json:"snapshot_id"`
	Side       decision.Action `json:"side"`
	Qty        float64         `json:"qty"`
	EntryPrice float64         `json:"entry_price"`
	PnL        float64         `json:"pnl"`
	OpenedAt   time.Time       `json:"opened_at"`
	ClosedAt   time.Time       `json:"closed_at"`
}

// EquityPoint samples account equity after one cycle.
type EquityPoint struct {
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
}

// VoteSummary is the fused decision of one cycle, kept so two runs of the
// same scenario can be compared decision by decision.
type VoteSummary struct {
	SnapshotID    string          `json:"snapshot_id"`
	Action        decision.Action `json:"action"`
	Confidence    float64         `json:"confidence"`
	WeightedScore float64         `json:"weighted_score"`
}

// Result is everything one run produced.
type Result struct {
	Scenario string    `json:"scenario"`
	Symbol   string    `json:"symbol"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Seed     int64     `json:"seed"`

	Cycles     int `json:"cycles"`
	Holds      int `json:"holds"`
	Longs      int `json:"longs"`
	Shorts     int `json:"shorts"`
	RiskBlocks int `json:"risk_blocks"`

	Votes  []VoteSummary `json:"votes"`
	Trades []ClosedTrade `json:"trades"`
	Curve  []EquityPoint `json:"curve"`

	Report Report `json:"report"`
}

// Engine steps a replay clock through a scenario one 5m cycle at a time.
type Engine struct {
	scenario Scenario
	replay   *market.ReplaySource
	orch     *orchestrator.Orchestrator
	rec      *risk.Reconciler
	logger   zerolog.Logger
}

// NewEngine generates the scenario's market, loads it into a replay source
// and wires the pipeline around it. Artifacts land under artifactDir.
func NewEngine(sc Scenario, artifactDir string, logger zerolog.Logger) (*Engine, error) {
	sc.ApplyDefaults()
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	candles, err := GenerateMarket(sc.generatorConfig())
	if err != nil {
		return nil, fmt.Errorf("generate market: %w", err)
	}
	return NewEngineWithData(sc, candles, artifactDir, logger)
}

// NewEngineWithData runs a scenario over externally loaded candles instead
// of the generator, for replaying recorded markets. The series must cover
// enough history before From for every timeframe to warm up.
func NewEngineWithData(sc Scenario, candles map[market.Timeframe][]market.Candle, artifactDir string, logger zerolog.Logger) (*Engine, error) {
	sc.ApplyDefaults()
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	replay := market.NewReplaySource()
	for _, tf := range market.Timeframes() {
		series, ok := candles[tf]
		if !ok || len(series) == 0 {
			return nil, fmt.Errorf("no %s candles for %s", tf, sc.Symbol)
		}
		replay.LoadCandles(sc.Symbol, tf, series)
	}
	replay.SetFunding(sc.Symbol, sc.Market.FundingRate)
	replay.SetOpenInterest(sc.Symbol, market.OpenInterest{
		Current: sc.Market.OpenInterest,
		Past24h: sc.Market.OpenInterestPast24h,
	})
	replay.SetNetflow(sc.Symbol, sc.Market.Netflow)

	rec := risk.NewReconciler(sc.InitialCapital)

	sync := market.NewDataSyncAgent(market.SyncConfig{
		Source:    replay,
		Processor: indicators.NewService(),
		Validator: market.NewValidator(logger),
		Now:       replay.Now,
		Logger:    logger,
	})

	orch, err := orchestrator.NewOrchestrator(orchestrator.Config{
		Symbols:               []string{sc.Symbol},
		Interval:              market.Timeframe5m.Period(),
		Leverage:              sc.Leverage,
		Paper:                 true,
		RiskPerTradePct:       sc.Risk.RiskPerTradePct,
		ATRStopMultiple:       sc.Risk.ATRStopMultiple,
		ATRTakeProfitMultiple: sc.Risk.ATRTakeProfitMultiple,
		TakerFee:              TakerFeeRate,
	}, orchestrator.Deps{
		Sync:       sync,
		Quant:      agents.NewQuantAnalystAgent(),
		Predict:    agents.NewPredictAgent(&agents.SeededPredictor{Seed: uint64(sc.Seed)}),
		Regime:     agents.NewRegimeDetector(),
		Position:   agents.NewPositionAnalyzer(),
		Core:       decision.NewCore(),
		Auditor:    risk.NewAuditor(sc.RiskConfig()),
		Reconciler: rec,
		Account:    execution.NewPaperAccount(rec),
		Sink:       execution.NewPaperSink(),
		Artifacts:  store.NewArtifactStore(artifactDir),
	})
	if err != nil {
		return nil, fmt.Errorf("wire pipeline: %w", err)
	}

	return &Engine{
		scenario: sc,
		replay:   replay,
		orch:     orch,
		rec:      rec,
		logger:   logger.With().Str("component", "backtest").Str("scenario", sc.Name).Logger(),
	}, nil
}

// openEntry pairs a dispatched fill with the cycle it happened in, so the
// close can be attributed when the reconciler's equity moves.
type openEntry struct {
	snapshotID string
	side       decision.Action
	qty        float64
	entry      float64
	openedAt   time.Time
}

// Run replays every 5m cycle from the scenario's From through To and
// returns the collected result. A cycle error aborts the run: replay
// fixtures are local, so a failed sync is a broken scenario, not an outage.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	sc := e.scenario
	res := &Result{
		Scenario: sc.Name,
		Symbol:   sc.Symbol,
		From:     sc.From,
		To:       sc.To,
		Seed:     sc.Seed,
	}

	e.logger.Info().
		Str("symbol", sc.Symbol).
		Time("from", sc.From).
		Time("to", sc.To).
		Int64("seed", sc.Seed).
		Float64("initial_capital", sc.InitialCapital).
		Msg("backtest starting")

	step := market.Timeframe5m.Period()
	lastEquity := sc.InitialCapital
	var open *openEntry

	for ts := sc.From; !ts.After(sc.To); ts = ts.Add(step) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		e.replay.Advance(ts)
		cycle, err := e.orch.Cycle(ctx, sc.Symbol)
		if err != nil {
			return nil, fmt.Errorf("cycle at %s: %w", ts.Format(time.RFC3339), err)
		}
		res.Cycles++

		if cycle.Vote != nil {
			res.Votes = append(res.Votes, VoteSummary{
				SnapshotID:    cycle.Vote.SnapshotID,
				Action:        cycle.Vote.Action,
				Confidence:    cycle.Vote.Confidence,
				WeightedScore: cycle.Vote.WeightedScore,
			})
			switch cycle.Vote.Action {
			case decision.ActionLong:
				res.Longs++
			case decision.ActionShort:
				res.Shorts++
			default:
				res.Holds++
			}
		}
		if cycle.Risk != nil && !cycle.Risk.Passed {
			res.RiskBlocks++
		}

		equity := e.rec.Equity()
		if equity != lastEquity {
			if open != nil {
				res.Trades = append(res.Trades, ClosedTrade{
					Symbol:     sc.Symbol,
					SnapshotID: open.snapshotID,
					Side:       open.side,
					Qty:        open.qty,
					EntryPrice: open.entry,
					PnL:        equity - lastEquity,
					OpenedAt:   open.openedAt,
					ClosedAt:   ts,
				})
				open = nil
			}
			lastEquity = equity
		}
		if cycle.Fill != nil && cycle.Risk != nil {
			open = &openEntry{
				snapshotID: cycle.SnapshotID,
				side:       cycle.Risk.Order.Side,
				qty:        cycle.Fill.ExecutedQty,
				entry:      cycle.Fill.AvgPrice,
				openedAt:   ts,
			}
		}
		res.Curve = append(res.Curve, EquityPoint{Time: ts, Equity: equity})

		if res.Cycles%288 == 0 {
			e.logger.Debug().
				Int("cycles", res.Cycles).
				Int("trades", len(res.Trades)).
				Float64("equity", equity).
				Msg("backtest progress")
		}
	}

	res.Report = ComputeReport(sc.InitialCapital, res.Curve, res.Trades)

	e.logger.Info().
		Int("cycles", res.Cycles).
		Int("trades", res.Report.TotalTrades).
		Float64("final_equity", res.Report.FinalEquity).
		Float64("return_pct", res.Report.TotalReturnPct).
		Msg("backtest finished")

	return res, nil
}
