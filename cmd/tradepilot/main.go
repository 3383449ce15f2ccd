// tradepilot runs the autonomous futures trading engine: synchronized
// multi-timeframe snapshots through layered analysis, weighted-vote fusion,
// risk audit and order dispatch, one cycle per interval per symbol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/agents"
	"github.com/ajitpratap0/tradepilot/internal/alerts"
	"github.com/ajitpratap0/tradepilot/internal/config"
	"github.com/ajitpratap0/tradepilot/internal/decision"
	"github.com/ajitpratap0/tradepilot/internal/exchange"
	"github.com/ajitpratap0/tradepilot/internal/execution"
	"github.com/ajitpratap0/tradepilot/internal/indicators"
	"github.com/ajitpratap0/tradepilot/internal/llm"
	"github.com/ajitpratap0/tradepilot/internal/market"
	"github.com/ajitpratap0/tradepilot/internal/metrics"
	"github.com/ajitpratap0/tradepilot/internal/orchestrator"
	"github.com/ajitpratap0/tradepilot/internal/risk"
	"github.com/ajitpratap0/tradepilot/internal/store"
)

const (
	exitOK      = 0
	exitConfig  = 1
	exitRuntime = 2
)

const shutdownGrace = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "path to config file (default ./configs/config.yaml)")
		symbolsCSV = flag.String("symbols", "", "comma-separated symbols, overrides the config")
		once       = flag.Bool("once", false, "run one decision cycle per symbol and exit")
		paper      = flag.Bool("paper", false, "force paper trading regardless of config")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return exitConfig
	}
	if *symbolsCSV != "" {
		cfg.Trading.Symbols = splitSymbols(*symbolsCSV)
	}
	if *paper {
		cfg.Trading.Mode = "paper"
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := config.LoadSecrets(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("Failed to load secrets")
		return exitConfig
	}

	paperMode := strings.EqualFold(cfg.Trading.Mode, "paper")
	log.Info().
		Str("version", config.Version).
		Str("mode", cfg.Trading.Mode).
		Strs("symbols", cfg.Trading.Symbols).
		Dur("interval", cfg.Trading.CycleInterval()).
		Msg("Starting TradePilot engine")

	// Persistent store is optional; without it decisions and trades live
	// only in the artifact trail.
	var db *store.DB
	if cfg.Database.Enabled {
		db, err = store.New(ctx, cfg.Database)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect to Postgres")
			return exitRuntime
		}
		defer db.Close()
	}

	// Exchange plumbing is shared by market data and order flow: one
	// limiter, one breaker, so a dead exchange stops both at once.
	client := exchange.NewFuturesClient(cfg.Exchange)
	limiter := exchange.NewLimiter(cfg.Exchange)
	breaker := exchange.NewBreaker("binance", nil)

	var source market.MarketDataSource = market.NewBinanceSource(market.BinanceSourceConfig{
		Client:  client,
		Limiter: limiter,
		Breaker: breaker,
	})
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		source = market.NewCachedSource(source, redisClient, 0, 0)
		log.Info().Str("addr", cfg.Redis.GetRedisAddr()).Msg("Kline cache enabled")
	}

	syncAgent := market.NewDataSyncAgent(market.SyncConfig{
		Source:       source,
		Processor:    indicators.NewService(),
		Validator:    market.NewValidator(log.Logger),
		KlineLimit:   cfg.Trading.KlineLimit,
		KlineTimeout: cfg.Timeouts.Kline(),
		AuxTimeout:   cfg.Timeouts.Aux(),
		Logger:       log.Logger,
	})

	// Risk state survives restarts when the store is enabled; otherwise the
	// drawdown brake and loss streak start fresh from configured capital.
	var rec *risk.Reconciler
	if db != nil {
		rec, err = risk.Restore(ctx, db, cfg.Trading.InitialCapital)
		if err != nil {
			log.Error().Err(err).Msg("Failed to restore risk state")
			return exitRuntime
		}
	} else {
		rec = risk.NewReconciler(cfg.Trading.InitialCapital)
	}

	var account execution.AccountReader
	var sink execution.OrderSink
	if paperMode {
		account = execution.NewPaperAccount(rec)
		sink = execution.NewPaperSink()
	} else {
		account = execution.NewBinanceAccount(client, limiter)
		binanceSink := execution.NewBinanceSink(client, limiter, breaker, cfg.Timeouts.Order())
		if err := binanceSink.LoadPrecision(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to load symbol precision")
			return exitRuntime
		}
		sink = binanceSink
	}

	var recaller llm.DecisionRecaller
	if db != nil {
		recaller = db
	}
	advisor := llm.NewAdvisor(cfg.LLM, recaller)

	var bus *orchestrator.EventBus
	if cfg.NATS.Enabled {
		bus, err = orchestrator.NewEventBus(cfg.NATS)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect event bus")
			return exitRuntime
		}
		defer bus.Close()
	}

	alerters := []alerts.Alerter{alerts.NewLogAlerter()}
	if cfg.Alerts.TelegramEnabled {
		tg, err := alerts.NewTelegramAlerter(cfg.Alerts.TelegramToken, cfg.Alerts.TelegramChatIDs)
		if err != nil {
			log.Error().Err(err).Msg("Telegram alerter misconfigured")
			return exitConfig
		}
		alerters = append(alerters, tg)
	}
	alerts.SetDefaultManager(alerts.NewManager(alerters...))

	if cfg.Monitoring.EnableMetrics {
		metricsServer := metrics.NewServer(cfg.Monitoring.PrometheusPort)
		if err := metricsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start metrics server")
			return exitRuntime
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()

		if db != nil {
			updater := metrics.NewUpdater(db, time.Minute)
			go updater.Start(ctx)
		}
	}

	orch, err := orchestrator.NewOrchestrator(orchestrator.Config{
		Symbols:               cfg.Trading.Symbols,
		Interval:              cfg.Trading.CycleInterval(),
		Leverage:              cfg.Trading.Leverage,
		Paper:                 paperMode,
		RiskPerTradePct:       cfg.Risk.RiskPerTradePct,
		ATRStopMultiple:       cfg.Risk.ATRStopMultiple,
		ATRTakeProfitMultiple: cfg.Risk.ATRTakeProfitMultiple,
		TakerFee:              cfg.Exchange.Fees.Taker,
	}, orchestrator.Deps{
		Sync:       syncAgent,
		Quant:      agents.NewQuantAnalystAgent(),
		Predict:    agents.NewPredictAgent(nil),
		Regime:     agents.NewRegimeDetector(),
		Position:   agents.NewPositionAnalyzer(),
		Core:       decision.NewCore(),
		Advisor:    advisor,
		Auditor:    risk.NewAuditor(cfg.Risk),
		Reconciler: rec,
		Account:    account,
		Sink:       sink,
		Artifacts:  store.NewArtifactStore(cfg.Store.DataDir),
		DB:         db,
		Events:     bus,
	})
	if err != nil {
		log.Error().Err(err).Msg("Engine wiring rejected")
		return exitConfig
	}

	if *once {
		return runOnce(ctx, orch, bus)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- orch.Run(ctx)
	}()

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
		cancel()
		select {
		case <-errCh:
		case <-time.After(shutdownGrace):
			log.Error().Msg("Shutdown grace period expired")
			return exitRuntime
		}
		log.Info().Msg("Engine stopped")
		return exitOK
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Engine stopped with error")
			return exitRuntime
		}
		return exitOK
	}
}

// runOnce drives a single cycle for every symbol, flushes telemetry and
// reports the worst outcome in the exit code.
func runOnce(ctx context.Context, orch *orchestrator.Orchestrator, bus *orchestrator.EventBus) int {
	results := orch.Once(ctx)
	_ = bus.Flush()

	code := exitOK
	for _, res := range results {
		ev := log.Info()
		if res.Err != nil {
			ev = log.Error().Err(res.Err)
			code = exitRuntime
		}
		ev.Str("symbol", res.Symbol).
			Str("snapshot_id", res.SnapshotID).
			Str("skip_reason", res.SkipReason)
		if res.Vote != nil {
			ev = ev.Str("action", string(res.Vote.Action)).
				Float64("confidence", res.Vote.Confidence)
		}
		ev.Msg("Cycle complete")
	}
	return code
}

func splitSymbols(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, strings.ToUpper(s))
		}
	}
	return out
}
