package market

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tradepilot/internal/metrics"
)

// Alignment bounds. T_s is the close time of the last stable 5m candle;
// the slower timeframes may lag it by at most one of their own periods.
const (
	alignmentBound5m  = 10 * time.Minute
	alignmentBound15m = 15 * time.Minute
	alignmentBound1h  = 60 * time.Minute

	// netflowWindow is the lookback for the institutional netflow metric.
	netflowWindow = time.Hour
)

// FrameProcessor turns a validated stable candle series into an indicator
// frame. Implementations must be safe for concurrent use, the sync agent
// processes all three timeframes in parallel.
type FrameProcessor interface {
	Process(symbol string, tf Timeframe, candles []Candle) (*Frame, error)
}

// SyncConfig contains dependencies for a DataSyncAgent.
type SyncConfig struct {
	Source       MarketDataSource
	Processor    FrameProcessor
	Validator    *Validator
	KlineLimit   int
	KlineTimeout time.Duration
	AuxTimeout   time.Duration
	// Now overrides the wall clock, replay runs pin it to the fixture cursor.
	Now    func() time.Time
	Logger zerolog.Logger
}

// DataSyncAgent assembles one synchronized multi-timeframe snapshot per call.
// Kline series are mandatory, aux metrics (funding, open interest, netflow)
// degrade to nil fields with a warning when their fetch fails.
type DataSyncAgent struct {
	source       MarketDataSource
	processor    FrameProcessor
	validator    *Validator
	klineLimit   int
	klineTimeout time.Duration
	auxTimeout   time.Duration
	now          func() time.Time
	log          zerolog.Logger
}

// NewDataSyncAgent creates a snapshot builder from cfg.
func NewDataSyncAgent(cfg SyncConfig) *DataSyncAgent {
	if cfg.KlineLimit <= 0 {
		cfg.KlineLimit = MinSeriesLen + 50
	}
	if cfg.KlineTimeout <= 0 {
		cfg.KlineTimeout = 5 * time.Second
	}
	if cfg.AuxTimeout <= 0 {
		cfg.AuxTimeout = 3 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &DataSyncAgent{
		source:       cfg.Source,
		processor:    cfg.Processor,
		validator:    cfg.Validator,
		klineLimit:   cfg.KlineLimit,
		klineTimeout: cfg.KlineTimeout,
		auxTimeout:   cfg.AuxTimeout,
		now:          cfg.Now,
		log:          cfg.Logger.With().Str("component", "data_sync").Logger(),
	}
}

// tfResult carries one timeframe's processed view out of the fetch group.
type tfResult struct {
	stable   *Frame
	live     Candle
	warnings []string
}

// Fetch builds a synchronized snapshot for symbol. A failed or short kline
// series aborts the fetch; a stale 5m series is an AlignmentError; lagging
// 15m/1h series only clear alignment_ok so consumers force a hold.
func (a *DataSyncAgent) Fetch(ctx context.Context, symbol string) (*MarketSnapshot, error) {
	now := a.now().UTC()
	started := time.Now()

	tfs := Timeframes()
	results := make([]*tfResult, len(tfs))

	var (
		fundingVal float64
		fundingErr error
		oiVal      OpenInterest
		oiErr      error
		netflowVal float64
		netflowErr error
	)

	g, gctx := errgroup.WithContext(ctx)

	for i, tf := range tfs {
		g.Go(func() error {
			kctx, cancel := context.WithTimeout(gctx, a.klineTimeout)
			defer cancel()

			candles, err := a.source.GetKlines(kctx, symbol, tf, a.klineLimit)
			if err != nil {
				metrics.RecordFetchError(metrics.FeedKlines)
				return err
			}

			cleaned, dropped := a.validator.Clean(symbol, tf, candles)
			if err := a.validator.Validate(symbol, tf, cleaned); err != nil {
				return &FetchError{Symbol: symbol, Timeframe: tf, Err: err}
			}
			if len(cleaned) < 2 {
				return &InsufficientDataError{Symbol: symbol, Timeframe: tf, Got: len(cleaned), Want: MinSeriesLen}
			}

			// The exchange's last row is the still-forming candle.
			stableCandles := cleaned[:len(cleaned)-1]
			live := cleaned[len(cleaned)-1]

			frame, err := a.processor.Process(symbol, tf, stableCandles)
			if err != nil {
				return err
			}

			res := &tfResult{stable: frame, live: live}
			if dropped > 0 {
				res.warnings = append(res.warnings, fmt.Sprintf("%s: dropped %d invalid candles", tf, dropped))
			}
			if now.Sub(live.OpenTime) > tf.Period() {
				res.warnings = append(res.warnings, fmt.Sprintf("%s: live candle is stale", tf))
			}
			results[i] = res
			return nil
		})
	}

	// Aux metrics are optional, their goroutines never fail the group.
	g.Go(func() error {
		actx, cancel := context.WithTimeout(gctx, a.auxTimeout)
		defer cancel()
		fundingVal, fundingErr = a.source.GetFundingRate(actx, symbol)
		return nil
	})
	g.Go(func() error {
		actx, cancel := context.WithTimeout(gctx, a.auxTimeout)
		defer cancel()
		oiVal, oiErr = a.source.GetOpenInterest(actx, symbol)
		return nil
	})
	g.Go(func() error {
		actx, cancel := context.WithTimeout(gctx, a.auxTimeout)
		defer cancel()
		netflowVal, netflowErr = a.source.GetInstitutionalNetflow(actx, symbol, netflowWindow)
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	snap := &MarketSnapshot{
		SnapshotID:  NewSnapshotID(now),
		Symbol:      symbol,
		Timestamp:   now,
		Views:       make(map[Timeframe]*TimeframeView, len(tfs)),
		AlignmentOK: true,
	}

	for i, tf := range tfs {
		snap.Views[tf] = &TimeframeView{Stable: results[i].stable, Live: results[i].live}
		snap.Warnings = append(snap.Warnings, results[i].warnings...)
	}

	if fundingErr != nil {
		metrics.RecordFetchError(metrics.FeedFunding)
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("funding unavailable: %v", fundingErr))
	} else {
		snap.FundingRate = &fundingVal
	}
	if oiErr != nil {
		metrics.RecordFetchError(metrics.FeedOpenInterest)
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("open interest unavailable: %v", oiErr))
	} else {
		snap.OpenInterest = &oiVal
	}
	if netflowErr != nil {
		metrics.RecordFetchError(metrics.FeedNetflow)
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("netflow unavailable: %v", netflowErr))
	} else {
		snap.Netflow1h = &netflowVal
	}

	// Cross-timeframe alignment, anchored on the 5m stable close.
	ts := snap.Stable(Timeframe5m).LastCloseTime()
	if ts.Before(now.Add(-alignmentBound5m)) {
		return nil, &AlignmentError{
			Symbol: symbol,
			Detail: fmt.Sprintf("5m stable close %s older than %s bound", ts.Format(time.RFC3339), alignmentBound5m),
		}
	}
	if t15 := snap.Stable(Timeframe15m).LastCloseTime(); t15.Before(ts.Add(-alignmentBound15m)) {
		snap.AlignmentOK = false
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("15m stable close %s lags 5m anchor by more than %s", t15.Format(time.RFC3339), alignmentBound15m))
	}
	if t1h := snap.Stable(Timeframe1h).LastCloseTime(); t1h.Before(ts.Add(-alignmentBound1h)) {
		snap.AlignmentOK = false
		snap.Warnings = append(snap.Warnings, fmt.Sprintf("1h stable close %s lags 5m anchor by more than %s", t1h.Format(time.RFC3339), alignmentBound1h))
	}

	metrics.RecordDataSync(symbol, float64(time.Since(started).Milliseconds()))

	a.log.Info().
		Str("symbol", symbol).
		Str("snapshot_id", snap.SnapshotID).
		Bool("alignment_ok", snap.AlignmentOK).
		Int("warnings", len(snap.Warnings)).
		Dur("took", time.Since(started)).
		Msg("Snapshot assembled")

	return snap, nil
}
