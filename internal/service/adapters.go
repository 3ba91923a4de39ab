package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ppgrobot/BTC-Thorp/internal/executor"
	"github.com/ppgrobot/BTC-Thorp/internal/storage"
	"github.com/ppgrobot/BTC-Thorp/internal/volatility"
)

// snapshotSource adapts the snapshot table to the executor's read interface.
type snapshotSource struct {
	store storage.SnapshotStore
}

// NewSnapshotSource exposes stored volatility snapshots to the executor.
func NewSnapshotSource(store storage.SnapshotStore) executor.SnapshotSource {
	return &snapshotSource{store: store}
}

// LatestSnapshot returns the stored snapshot for the asset. An absent row is
// not an error: the executor sees an empty snapshot and skips on insufficient
// data, which is the correct outcome for a cold start.
func (s *snapshotSource) LatestSnapshot(ctx context.Context, asset string) (volatility.Snapshot, error) {
	row, err := s.store.GetSnapshot(ctx, asset)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return volatility.Snapshot{Asset: asset}, nil
		}
		return volatility.Snapshot{}, err
	}

	snap := volatility.Snapshot{Asset: row.Asset, ComputedAt: row.ComputedAt}
	if len(row.Horizons) > 0 {
		if err := json.Unmarshal(row.Horizons, &snap.Horizons); err != nil {
			return volatility.Snapshot{}, fmt.Errorf("decode snapshot horizons: %w", err)
		}
	}
	return snap, nil
}

// tradeLedger adapts the trade table to the executor's ledger interface.
type tradeLedger struct {
	store storage.TradeStore
}

// NewTradeLedger exposes the trade table as the executor's audit ledger.
func NewTradeLedger(store storage.TradeStore) executor.Ledger {
	return &tradeLedger{store: store}
}

func (l *tradeLedger) Append(ctx context.Context, record executor.TradeRecord) error {
	return l.store.UpsertTrade(ctx, tradeRowFromRecord(record))
}

func (l *tradeLedger) Exists(ctx context.Context, asset, periodKey string) (bool, error) {
	return l.store.TradeExists(ctx, asset, periodKey)
}

func tradeRowFromRecord(record executor.TradeRecord) storage.TradeRow {
	d := record.Decision
	return storage.TradeRow{
		Asset:            record.Asset,
		PeriodKey:        record.PeriodKey,
		InvocationID:     d.ID,
		Ticker:           d.Candidate.Ticker,
		Side:             d.Candidate.Side,
		Quantity:         d.Quantity,
		PriceCents:       d.Candidate.MarketPriceCents,
		SpotPrice:        decimalFromFloat(d.SpotPrice),
		StrikePrice:      decimalFromFloat(d.Candidate.StrikePrice),
		ModelProb:        decimalFromFloat(d.ModelProbability),
		MarketProb:       decimalFromFloat(d.MarketProbability),
		Edge:             decimalFromFloat(d.Edge),
		KellyFraction:    decimalFromFloat(d.KellyFraction),
		Action:           string(d.Action),
		Reason:           d.Reason,
		OrderID:          record.OrderID,
		RequestTimestamp: record.RequestTimestamp,
		BalanceBefore:    record.BalanceBefore,
		BalanceAfter:     record.BalanceAfter,
		Status:           record.Status,
		CreatedAt:        record.CreatedAt,
	}
}

func decimalFromFloat(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
