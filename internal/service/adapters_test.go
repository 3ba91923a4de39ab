package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/ppgrobot/BTC-Thorp/internal/executor"
	"github.com/ppgrobot/BTC-Thorp/internal/storage"
	"github.com/ppgrobot/BTC-Thorp/internal/volatility"
)

type fakeSnapshotStore struct {
	row storage.SnapshotRow
	err error
}

func (f *fakeSnapshotStore) UpsertSnapshot(ctx context.Context, row storage.SnapshotRow) error {
	f.row = row
	return nil
}

func (f *fakeSnapshotStore) GetSnapshot(ctx context.Context, asset string) (storage.SnapshotRow, error) {
	return f.row, f.err
}

type fakeTradeStore struct {
	rows   []storage.TradeRow
	exists bool
}

func (f *fakeTradeStore) UpsertTrade(ctx context.Context, row storage.TradeRow) error {
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeTradeStore) TradeExists(ctx context.Context, asset, periodKey string) (bool, error) {
	return f.exists, nil
}

func (f *fakeTradeStore) ListRecentTrades(ctx context.Context, limit int) ([]storage.TradeRow, error) {
	return f.rows, nil
}

func TestSnapshotSourceRoundTrip(t *testing.T) {
	horizons := []volatility.HorizonStats{
		{Horizon: 15 * time.Minute, Samples: 15, StdDevPct: 0.08, RangePct: 0.4, MaxStepPct: 0.1},
		{Horizon: 60 * time.Minute, Samples: 60, StdDevPct: 0.21, RangePct: 1.1, MaxStepPct: 0.3},
	}
	payload, err := json.Marshal(horizons)
	if err != nil {
		t.Fatalf("编码失败: %v", err)
	}

	computed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeSnapshotStore{row: storage.SnapshotRow{Asset: "BTC", ComputedAt: computed, Horizons: payload}}

	snap, err := NewSnapshotSource(store).LatestSnapshot(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("读取快照不应报错: %v", err)
	}
	stats, ok := snap.Horizon(15 * time.Minute)
	if !ok || stats.StdDevPct != 0.08 || stats.Samples != 15 {
		t.Fatalf("15m 视图解码不正确: %+v", stats)
	}
	if !snap.ComputedAt.Equal(computed) {
		t.Fatalf("计算时间不一致: %v", snap.ComputedAt)
	}
}

func TestSnapshotSourceMissingRowIsEmptyNotError(t *testing.T) {
	store := &fakeSnapshotStore{err: pgx.ErrNoRows}

	snap, err := NewSnapshotSource(store).LatestSnapshot(context.Background(), "BTC")
	if err != nil {
		t.Fatalf("冷启动缺行不应报错: %v", err)
	}
	if _, ok := snap.Horizon(15 * time.Minute); ok {
		t.Fatal("空快照不应命中任何 horizon")
	}
}

func TestTradeLedgerAppendMapsAllFields(t *testing.T) {
	store := &fakeTradeStore{}
	ledger := NewTradeLedger(store)

	orderID := "ord-1"
	after := decimal.RequireFromString("95.95")
	record := executor.TradeRecord{
		Asset:     "BTC",
		PeriodKey: "KXBTCD-25DEC1020",
		Decision: executor.Decision{
			ID: uuid.New(),
			Candidate: executor.Candidate{
				Asset:            "BTC",
				Ticker:           "KXBTCD-25DEC1020-T90500",
				StrikePrice:      90500,
				Side:             "no",
				MarketPriceCents: 81,
			},
			SpotPrice:         90255,
			ModelProbability:  0.9996,
			MarketProbability: 0.81,
			Edge:              0.1896,
			KellyFraction:     0.25,
			Quantity:          5,
			Action:            executor.ActionTrade,
		},
		OrderID:          &orderID,
		RequestTimestamp: "1767225600000",
		BalanceBefore:    decimal.NewFromInt(100),
		BalanceAfter:     &after,
		Status:           "executed",
		CreatedAt:        time.Now().UTC(),
	}

	if err := ledger.Append(context.Background(), record); err != nil {
		t.Fatalf("写入账本不应报错: %v", err)
	}
	if len(store.rows) != 1 {
		t.Fatalf("应写入一行, 实际 %d", len(store.rows))
	}

	row := store.rows[0]
	if row.Asset != "BTC" || row.PeriodKey != "KXBTCD-25DEC1020" {
		t.Fatalf("键字段不正确: %+v", row)
	}
	if row.Ticker != "KXBTCD-25DEC1020-T90500" || row.Side != "no" || row.Quantity != 5 || row.PriceCents != 81 {
		t.Fatalf("合约字段不正确: %+v", row)
	}
	if row.OrderID == nil || *row.OrderID != "ord-1" {
		t.Fatal("订单号应被保留")
	}
	if row.BalanceAfter == nil || !row.BalanceAfter.Equal(after) {
		t.Fatal("余额字段应被保留")
	}
	if row.Action != "trade" || row.Status != "executed" {
		t.Fatalf("结果字段不正确: action=%s status=%s", row.Action, row.Status)
	}

	exists, err := ledger.Exists(context.Background(), "BTC", "KXBTCD-25DEC1020")
	if err != nil || exists {
		t.Fatalf("fake 未设置 exists 时应为 false: %v %v", exists, err)
	}
}
