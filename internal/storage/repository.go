package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertObservationSQL = `INSERT INTO price_observations (
        asset,
        observed_at,
        price
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (asset, observed_at) DO NOTHING;`

	listObservationsBetweenSQL = `SELECT
        asset,
        observed_at,
        price
    FROM price_observations
    WHERE asset = $1
      AND observed_at >= $2
      AND observed_at <= $3
    ORDER BY observed_at;`

	deleteObservationsBeforeSQL = `DELETE FROM price_observations
    WHERE asset = $1 AND observed_at < $2;`

	countObservationsSQL = `SELECT COUNT(*) FROM price_observations WHERE asset = $1;`

	upsertSnapshotSQL = `INSERT INTO volatility_snapshots (
        asset,
        computed_at,
        horizons
    ) VALUES (
        $1,$2,$3
    )
    ON CONFLICT (asset) DO UPDATE
    SET computed_at = EXCLUDED.computed_at,
        horizons    = EXCLUDED.horizons;`

	getSnapshotSQL = `SELECT asset, computed_at, horizons
    FROM volatility_snapshots
    WHERE asset = $1;`

	upsertTradeSQL = `INSERT INTO trade_records (
        asset,
        period_key,
        invocation_id,
        ticker,
        side,
        quantity,
        price_cents,
        spot_price,
        strike_price,
        model_prob,
        market_prob,
        edge,
        kelly_fraction,
        action,
        reason,
        order_id,
        request_ts,
        balance_before,
        balance_after,
        status,
        created_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
    )
    ON CONFLICT (asset, period_key) DO UPDATE
    SET invocation_id  = EXCLUDED.invocation_id,
        ticker         = EXCLUDED.ticker,
        side           = EXCLUDED.side,
        quantity       = EXCLUDED.quantity,
        price_cents    = EXCLUDED.price_cents,
        spot_price     = EXCLUDED.spot_price,
        strike_price   = EXCLUDED.strike_price,
        model_prob     = EXCLUDED.model_prob,
        market_prob    = EXCLUDED.market_prob,
        edge           = EXCLUDED.edge,
        kelly_fraction = EXCLUDED.kelly_fraction,
        action         = EXCLUDED.action,
        reason         = EXCLUDED.reason,
        order_id       = EXCLUDED.order_id,
        request_ts     = EXCLUDED.request_ts,
        balance_before = EXCLUDED.balance_before,
        balance_after  = EXCLUDED.balance_after,
        status         = EXCLUDED.status,
        created_at     = EXCLUDED.created_at;`

	tradeExistsSQL = `SELECT EXISTS (
        SELECT 1 FROM trade_records WHERE asset = $1 AND period_key = $2
    );`

	listRecentTradesSQL = `SELECT
        asset,
        period_key,
        invocation_id,
        ticker,
        side,
        quantity,
        price_cents,
        spot_price,
        strike_price,
        model_prob,
        market_prob,
        edge,
        kelly_fraction,
        action,
        reason,
        order_id,
        request_ts,
        balance_before,
        balance_after,
        status,
        created_at
    FROM trade_records
    ORDER BY created_at DESC
    LIMIT $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ObservationStore defines operations for price tick persistence.
type ObservationStore interface {
	InsertObservation(ctx context.Context, row ObservationRow) error
	ListObservationsBetween(ctx context.Context, asset string, from, to time.Time) ([]ObservationRow, error)
	DeleteObservationsBefore(ctx context.Context, asset string, olderThan time.Time) error
	CountObservations(ctx context.Context, asset string) (int64, error)
}

// SnapshotStore defines operations for the latest-volatility view.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, row SnapshotRow) error
	GetSnapshot(ctx context.Context, asset string) (SnapshotRow, error)
}

// TradeStore defines operations for the append-only trade ledger.
type TradeStore interface {
	UpsertTrade(ctx context.Context, row TradeRow) error
	TradeExists(ctx context.Context, asset, periodKey string) (bool, error)
	ListRecentTrades(ctx context.Context, limit int) ([]TradeRow, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to observations, snapshots, and the trade ledger.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertObservation appends one price tick. Duplicate (asset, observed_at)
// pairs are ignored: ingest is append-only and commutative.
func (s *Store) InsertObservation(ctx context.Context, row ObservationRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, insertObservationSQL,
		row.Asset,
		row.ObservedAt,
		row.Price.String(),
	); execErr != nil {
		return fmt.Errorf("insert observation: %w", execErr)
	}
	return nil
}

// ListObservationsBetween range-queries ticks by time, oldest first.
func (s *Store) ListObservationsBetween(ctx context.Context, asset string, from, to time.Time) ([]ObservationRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsBetweenSQL, asset, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations between: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]ObservationRow, 0)
	for rows.Next() {
		var (
			row      ObservationRow
			priceStr string
		)
		if err := rows.Scan(&row.Asset, &row.ObservedAt, &priceStr); err != nil {
			return nil, err
		}
		price, convErr := decimal.NewFromString(priceStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse observation price: %w", convErr)
		}
		row.Price = price
		observations = append(observations, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// DeleteObservationsBefore drops ticks past retention.
func (s *Store) DeleteObservationsBefore(ctx context.Context, asset string, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteObservationsBeforeSQL, asset, olderThan); execErr != nil {
		return fmt.Errorf("delete observations before: %w", execErr)
	}
	return nil
}

// CountObservations counts stored ticks for one asset.
func (s *Store) CountObservations(ctx context.Context, asset string) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL, asset).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

// UpsertSnapshot atomically replaces the latest volatility view for an asset.
func (s *Store) UpsertSnapshot(ctx context.Context, row SnapshotRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, upsertSnapshotSQL,
		row.Asset,
		row.ComputedAt,
		[]byte(row.Horizons),
	); execErr != nil {
		return fmt.Errorf("upsert snapshot: %w", execErr)
	}
	return nil
}

// GetSnapshot reads the latest volatility view. pgx.ErrNoRows when absent.
func (s *Store) GetSnapshot(ctx context.Context, asset string) (SnapshotRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return SnapshotRow{}, err
	}

	var row SnapshotRow
	if scanErr := pool.QueryRow(ctx, getSnapshotSQL, asset).Scan(
		&row.Asset,
		&row.ComputedAt,
		&row.Horizons,
	); scanErr != nil {
		return SnapshotRow{}, fmt.Errorf("get snapshot: %w", scanErr)
	}
	return row, nil
}

// UpsertTrade persists a ledger entry. Re-delivery of the same logical
// decision (same asset and period key) overwrites rather than duplicates.
func (s *Store) UpsertTrade(ctx context.Context, row TradeRow) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var orderID interface{}
	if row.OrderID != nil {
		orderID = *row.OrderID
	}
	var balanceAfter interface{}
	if row.BalanceAfter != nil {
		balanceAfter = row.BalanceAfter.String()
	}

	if _, execErr := pool.Exec(ctx, upsertTradeSQL,
		row.Asset,
		row.PeriodKey,
		row.InvocationID.String(),
		row.Ticker,
		row.Side,
		row.Quantity,
		row.PriceCents,
		row.SpotPrice.String(),
		row.StrikePrice.String(),
		row.ModelProb.String(),
		row.MarketProb.String(),
		row.Edge.String(),
		row.KellyFraction.String(),
		row.Action,
		row.Reason,
		orderID,
		row.RequestTimestamp,
		row.BalanceBefore.String(),
		balanceAfter,
		row.Status,
		row.CreatedAt,
	); execErr != nil {
		return fmt.Errorf("upsert trade record: %w", execErr)
	}
	return nil
}

// TradeExists reports whether a settlement period already has a ledger entry.
func (s *Store) TradeExists(ctx context.Context, asset, periodKey string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	var exists bool
	if scanErr := pool.QueryRow(ctx, tradeExistsSQL, asset, periodKey).Scan(&exists); scanErr != nil {
		return false, fmt.Errorf("trade exists: %w", scanErr)
	}
	return exists, nil
}

// ListRecentTrades lists most recent ledger entries.
func (s *Store) ListRecentTrades(ctx context.Context, limit int) ([]TradeRow, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentTradesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent trades: %w", queryErr)
	}
	defer rows.Close()

	trades := make([]TradeRow, 0, limit)
	for rows.Next() {
		row, scanErr := scanTradeRow(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		trades = append(trades, row)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return trades, nil
}

func scanTradeRow(rows pgx.Rows) (TradeRow, error) {
	var (
		row          TradeRow
		invocation   string
		spotStr      string
		strikeStr    string
		modelStr     string
		marketStr    string
		edgeStr      string
		kellyStr     string
		balBeforeStr string
		orderID      sql.NullString
		balAfter     sql.NullString
	)

	if err := rows.Scan(
		&row.Asset,
		&row.PeriodKey,
		&invocation,
		&row.Ticker,
		&row.Side,
		&row.Quantity,
		&row.PriceCents,
		&spotStr,
		&strikeStr,
		&modelStr,
		&marketStr,
		&edgeStr,
		&kellyStr,
		&row.Action,
		&row.Reason,
		&orderID,
		&row.RequestTimestamp,
		&balBeforeStr,
		&balAfter,
		&row.Status,
		&row.CreatedAt,
	); err != nil {
		return TradeRow{}, err
	}

	if invocation != "" {
		parsed, err := uuid.Parse(invocation)
		if err != nil {
			return TradeRow{}, fmt.Errorf("parse invocation id: %w", err)
		}
		row.InvocationID = parsed
	}

	for _, conv := range []struct {
		dst *decimal.Decimal
		src string
		tag string
	}{
		{&row.SpotPrice, spotStr, "spot price"},
		{&row.StrikePrice, strikeStr, "strike price"},
		{&row.ModelProb, modelStr, "model prob"},
		{&row.MarketProb, marketStr, "market prob"},
		{&row.Edge, edgeStr, "edge"},
		{&row.KellyFraction, kellyStr, "kelly fraction"},
		{&row.BalanceBefore, balBeforeStr, "balance before"},
	} {
		value, err := decimal.NewFromString(conv.src)
		if err != nil {
			return TradeRow{}, fmt.Errorf("parse %s: %w", conv.tag, err)
		}
		*conv.dst = value
	}

	if orderID.Valid {
		value := orderID.String
		row.OrderID = &value
	}
	if balAfter.Valid {
		value, err := decimal.NewFromString(balAfter.String)
		if err != nil {
			return TradeRow{}, fmt.Errorf("parse balance after: %w", err)
		}
		row.BalanceAfter = &value
	}

	return row, nil
}
