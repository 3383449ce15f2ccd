package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradepilot/internal/config"
	"github.com/ajitpratap0/tradepilot/internal/llm"
)

// PoolInterface is the slice of pgxpool.Pool the store uses. pgxmock
// implements it, so every query below is testable without a database.
type PoolInterface interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// DB is the Postgres decision/trade/equity store.
type DB struct {
	pool   PoolInterface
	logger zerolog.Logger
}

// New creates a connection pool from the database config and verifies it.
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.PoolSize)
	if poolCfg.MaxConns <= 0 {
		poolCfg.MaxConns = 10
	}
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Str("database", cfg.Database).Msg("Database connection pool created")

	return NewWithPool(pool), nil
}

// NewWithPool wraps an existing pool. Tests hand in a pgxmock pool here.
func NewWithPool(pool PoolInterface) *DB {
	return &DB{
		pool:   pool,
		logger: log.With().Str("component", "store").Logger(),
	}
}

// Close closes the connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// Health checks database connectivity.
func (db *DB) Health(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// DecisionRecord is one fused vote with its advisor review and audit verdict
// folded into Details. Features is the 16-dim vector the similarity search
// queries against.
type DecisionRecord struct {
	SnapshotID    string
	Symbol        string
	Action        string
	Confidence    float64
	WeightedScore float64
	Details       []byte // jsonb
	Features      []float64
	CreatedAt     time.Time
}

// InsertDecision stores one decision. Replaying a cycle is a no-op, the
// (snapshot_id, symbol) pair is unique.
func (db *DB) InsertDecision(ctx context.Context, rec *DecisionRecord) error {
	query := `
		INSERT INTO decisions (
			snapshot_id, symbol, action, confidence, weighted_score,
			details, features, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (snapshot_id, symbol) DO NOTHING
	`

	_, err := db.pool.Exec(ctx, query,
		rec.SnapshotID,
		rec.Symbol,
		rec.Action,
		rec.Confidence,
		rec.WeightedScore,
		rec.Details,
		pgvector.NewVector(vec32(rec.Features)),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}

	return nil
}

// SimilarDecisions returns the stored decisions nearest to the feature
// vector by L2 distance, with the realized trade outcome joined in where
// the trade has closed. It implements the advisor's recall.
func (db *DB) SimilarDecisions(ctx context.Context, vector []float64, limit int) ([]llm.SimilarDecision, error) {
	query := `
		SELECT d.symbol, d.action, d.confidence, COALESCE(t.pnl, 0), d.created_at
		FROM decisions d
		LEFT JOIN trades t
			ON t.snapshot_id = d.snapshot_id AND t.symbol = d.symbol
		ORDER BY d.features <-> $1
		LIMIT $2
	`

	rows, err := db.pool.Query(ctx, query, pgvector.NewVector(vec32(vector)), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar decisions: %w", err)
	}
	defer rows.Close()

	var similar []llm.SimilarDecision
	for rows.Next() {
		var s llm.SimilarDecision
		if err := rows.Scan(&s.Symbol, &s.Action, &s.Confidence, &s.PnL, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan similar decision: %w", err)
		}
		similar = append(similar, s)
	}

	return similar, rows.Err()
}

var _ llm.DecisionRecaller = (*DB)(nil)

// TradeRecord is one executed trade, open until CloseTrade fills in the
// outcome.
type TradeRecord struct {
	SnapshotID   string
	Symbol       string
	Side         string
	Qty          float64
	EntryPrice   float64
	StopLoss     float64
	TakeProfit   float64
	Leverage     int
	EntryOrderID int64
	OpenedAt     time.Time
}

// InsertTrade records a filled entry. Idempotent per (snapshot_id, symbol)
// like the dispatch it mirrors.
func (db *DB) InsertTrade(ctx context.Context, rec *TradeRecord) error {
	query := `
		INSERT INTO trades (
			snapshot_id, symbol, side, qty, entry_price, stop_loss,
			take_profit, leverage, entry_order_id, status, opened_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'open', $10)
		ON CONFLICT (snapshot_id, symbol) DO NOTHING
	`

	_, err := db.pool.Exec(ctx, query,
		rec.SnapshotID,
		rec.Symbol,
		rec.Side,
		rec.Qty,
		rec.EntryPrice,
		rec.StopLoss,
		rec.TakeProfit,
		rec.Leverage,
		rec.EntryOrderID,
		rec.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}

	return nil
}

// CloseTrade marks a trade closed with its realized outcome.
func (db *DB) CloseTrade(ctx context.Context, snapshotID, symbol string, pnl, fees float64, closedAt time.Time) error {
	query := `
		UPDATE trades
		SET status = 'closed', pnl = $3, fees = $4, closed_at = $5
		WHERE snapshot_id = $1 AND symbol = $2 AND status = 'open'
	`

	tag, err := db.pool.Exec(ctx, query, snapshotID, symbol, pnl, fees, closedAt)
	if err != nil {
		return fmt.Errorf("failed to close trade: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no open trade for snapshot %s symbol %s", snapshotID, symbol)
	}

	return nil
}

// OpenTrade is the reconciliation view of a live position.
type OpenTrade struct {
	SnapshotID string
	Symbol     string
	Side       string
	Qty        float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Leverage   int
	OpenedAt   time.Time
}

// OpenTrades lists trades still marked open, optionally filtered by symbol.
func (db *DB) OpenTrades(ctx context.Context, symbol string) ([]OpenTrade, error) {
	query := `
		SELECT snapshot_id, symbol, side, qty, entry_price, stop_loss,
			take_profit, leverage, opened_at
		FROM trades
		WHERE status = 'open'
	`
	args := []interface{}{}
	if symbol != "" {
		query += " AND symbol = $1"
		args = append(args, symbol)
	}
	query += " ORDER BY opened_at ASC"

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query open trades: %w", err)
	}
	defer rows.Close()

	var trades []OpenTrade
	for rows.Next() {
		var t OpenTrade
		if err := rows.Scan(
			&t.SnapshotID,
			&t.Symbol,
			&t.Side,
			&t.Qty,
			&t.EntryPrice,
			&t.StopLoss,
			&t.TakeProfit,
			&t.Leverage,
			&t.OpenedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan open trade: %w", err)
		}
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// TradeStats aggregates the closed-trade history.
type TradeStats struct {
	Closed    int
	Wins      int
	TotalPnL  float64
	TotalFees float64
}

// TradeStats returns win and PnL totals over all closed trades.
func (db *DB) TradeStats(ctx context.Context) (TradeStats, error) {
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE pnl > 0),
			COALESCE(SUM(pnl), 0),
			COALESCE(SUM(fees), 0)
		FROM trades
		WHERE status = 'closed'
	`

	var stats TradeStats
	err := db.pool.QueryRow(ctx, query).Scan(
		&stats.Closed,
		&stats.Wins,
		&stats.TotalPnL,
		&stats.TotalFees,
	)
	if err != nil {
		return TradeStats{}, fmt.Errorf("failed to query trade stats: %w", err)
	}

	return stats, nil
}

// RecentClosedPnLs returns realized PnLs of the most recently closed trades,
// newest first. Used to rebuild the consecutive-loss streak on restart.
func (db *DB) RecentClosedPnLs(ctx context.Context, limit int) ([]float64, error) {
	query := `
		SELECT pnl
		FROM trades
		WHERE status = 'closed'
		ORDER BY closed_at DESC
		LIMIT $1
	`

	rows, err := db.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent pnls: %w", err)
	}
	defer rows.Close()

	var pnls []float64
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return nil, fmt.Errorf("failed to scan pnl: %w", err)
		}
		pnls = append(pnls, pnl)
	}

	return pnls, rows.Err()
}

// EquityPoint is one sample of the account equity curve.
type EquityPoint struct {
	Equity     float64
	Balance    float64
	Drawdown   float64
	RecordedAt time.Time
}

// AppendEquityPoint records one equity sample.
func (db *DB) AppendEquityPoint(ctx context.Context, p EquityPoint) error {
	query := `
		INSERT INTO equity_curve (equity, balance, drawdown, recorded_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := db.pool.Exec(ctx, query, p.Equity, p.Balance, p.Drawdown, p.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to append equity point: %w", err)
	}

	return nil
}

// EquityCurve returns samples recorded at or after since, oldest first.
func (db *DB) EquityCurve(ctx context.Context, since time.Time) ([]EquityPoint, error) {
	query := `
		SELECT equity, balance, drawdown, recorded_at
		FROM equity_curve
		WHERE recorded_at >= $1
		ORDER BY recorded_at ASC
	`

	rows, err := db.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query equity curve: %w", err)
	}
	defer rows.Close()

	var points []EquityPoint
	for rows.Next() {
		var p EquityPoint
		if err := rows.Scan(&p.Equity, &p.Balance, &p.Drawdown, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan equity point: %w", err)
		}
		points = append(points, p)
	}

	return points, rows.Err()
}

// LatestEquity returns the most recent equity sample, or nil when the curve
// is empty.
func (db *DB) LatestEquity(ctx context.Context) (*EquityPoint, error) {
	query := `
		SELECT equity, balance, drawdown, recorded_at
		FROM equity_curve
		ORDER BY recorded_at DESC
		LIMIT 1
	`

	var p EquityPoint
	err := db.pool.QueryRow(ctx, query).Scan(&p.Equity, &p.Balance, &p.Drawdown, &p.RecordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest equity: %w", err)
	}

	return &p, nil
}

// PeakEquity returns the highest equity ever recorded, 0 when the curve is
// empty.
func (db *DB) PeakEquity(ctx context.Context) (float64, error) {
	var peak float64
	err := db.pool.QueryRow(ctx, "SELECT COALESCE(MAX(equity), 0) FROM equity_curve").Scan(&peak)
	if err != nil {
		return 0, fmt.Errorf("failed to query peak equity: %w", err)
	}
	return peak, nil
}

// vec32 narrows a feature vector for pgvector, which stores float32.
func vec32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
