package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ppgrobot/BTC-Thorp/internal/feed"
	"github.com/ppgrobot/BTC-Thorp/internal/kalshi"
	"github.com/ppgrobot/BTC-Thorp/internal/pricing"
	"github.com/ppgrobot/BTC-Thorp/internal/volatility"
)

type fakeExchange struct {
	balance    decimal.Decimal
	balanceErr error
	markets    []kalshi.Market
	marketsErr error
	order      kalshi.Order
	orderErr   error
	created    []kalshi.OrderRequest
}

func (f *fakeExchange) Balance(ctx context.Context) (decimal.Decimal, error) {
	return f.balance, f.balanceErr
}

func (f *fakeExchange) EventMarkets(ctx context.Context, eventTicker string) ([]kalshi.Market, error) {
	return f.markets, f.marketsErr
}

func (f *fakeExchange) CreateOrder(ctx context.Context, req kalshi.OrderRequest) (kalshi.Order, kalshi.Signature, error) {
	f.created = append(f.created, req)
	return f.order, kalshi.Signature{Timestamp: "1767225600000", Value: "sig"}, f.orderErr
}

type fakeSnapshots struct {
	snap volatility.Snapshot
	err  error
}

func (f *fakeSnapshots) LatestSnapshot(ctx context.Context, asset string) (volatility.Snapshot, error) {
	return f.snap, f.err
}

type fakeLedger struct {
	exists    bool
	existsErr error
	appended  []TradeRecord
}

func (f *fakeLedger) Append(ctx context.Context, record TradeRecord) error {
	f.appended = append(f.appended, record)
	return nil
}

func (f *fakeLedger) Exists(ctx context.Context, asset, periodKey string) (bool, error) {
	return f.exists, f.existsErr
}

type stubFeed struct {
	price float64
	err   error
}

func (s stubFeed) FetchSpot(ctx context.Context, pair string) (feed.Spot, error) {
	if s.err != nil {
		return feed.Spot{}, s.err
	}
	return feed.Spot{Price: s.price, AsOf: time.Now().UTC()}, nil
}

func testParams() Params {
	return Params{
		Asset:             "BTC",
		Pair:              "BTC-USD",
		Series:            "KXBTCD",
		BaseHorizon:       15 * time.Minute,
		TradeOffset:       15 * time.Minute,
		MinStrikeBps:      20,
		MinEdge:           0.03,
		PriceFloorCents:   50,
		PriceCeilingCents: 91,
		KellyFractionCap:  0.25,
		MaxContracts:      5,
		MaxCandidates:     1,
		MinBalance:        decimal.NewFromInt(1),
		MaxVolatilityPct:  11,
	}
}

func goodSnapshot(stdDevPct float64) volatility.Snapshot {
	return volatility.Snapshot{
		Asset:      "BTC",
		ComputedAt: time.Now().UTC(),
		Horizons: []volatility.HorizonStats{
			{Horizon: 15 * time.Minute, Samples: 15, StdDevPct: stdDevPct, RangePct: 0.4, MaxStepPct: 0.1},
		},
	}
}

// insideWindow is 19:50 ET on Dec 10 2025: ten minutes before settlement.
var insideWindow = time.Date(2025, 12, 10, 19, 50, 0, 0, time.FixedZone("EST", -5*3600))

// outsideWindow is 19:10 ET: fifty minutes before settlement.
var outsideWindow = time.Date(2025, 12, 10, 19, 10, 0, 0, time.FixedZone("EST", -5*3600))

func newTestExecutor(params Params, exch *fakeExchange, priceFeed feed.Fetcher, snaps *fakeSnapshots, ledger *fakeLedger, at time.Time) *Executor {
	e := New(params, exch, priceFeed, snaps, ledger, zerolog.Nop())
	e.now = func() time.Time { return at }
	return e
}

func TestExecuteIdleOutsideTradingWindow(t *testing.T) {
	exch := &fakeExchange{balance: decimal.NewFromInt(100)}
	ledger := &fakeLedger{}
	e := newTestExecutor(testParams(), exch, stubFeed{price: 90255}, &fakeSnapshots{snap: goodSnapshot(0.08)}, ledger, outsideWindow)

	res := e.Execute(context.Background())
	if res.State != StateIdle || res.Action != ActionIdle {
		t.Fatalf("窗口外应保持 Idle: %+v", res)
	}
	if res.Reason != ReasonOutsideTradingWindow {
		t.Fatalf("原因应为 OutsideTradingWindow, 实际 %s", res.Reason)
	}
	if len(exch.created) != 0 || len(ledger.appended) != 0 {
		t.Fatal("窗口外不应有任何副作用")
	}
}

func TestExecuteIdleWhenPeriodAlreadyDecided(t *testing.T) {
	exch := &fakeExchange{balance: decimal.NewFromInt(100)}
	ledger := &fakeLedger{exists: true}
	e := newTestExecutor(testParams(), exch, stubFeed{price: 90255}, &fakeSnapshots{snap: goodSnapshot(0.08)}, ledger, insideWindow)

	res := e.Execute(context.Background())
	if res.Reason != ReasonAlreadyDecided {
		t.Fatalf("已决策的周期应返回 AlreadyDecided, 实际 %s", res.Reason)
	}
	if len(exch.created) != 0 {
		t.Fatal("同一结算周期绝不能提交第二笔订单")
	}
}

func TestExecuteSkipsOnInsufficientBalance(t *testing.T) {
	params := testParams()
	params.MinBalance = decimal.NewFromInt(10)
	exch := &fakeExchange{balance: decimal.NewFromInt(5)}
	e := newTestExecutor(params, exch, stubFeed{price: 90255}, &fakeSnapshots{snap: goodSnapshot(0.08)}, &fakeLedger{}, insideWindow)

	res := e.Execute(context.Background())
	if res.Action != ActionSkip || res.Reason != ReasonInsufficientBalance {
		t.Fatalf("余额不足应跳过: %+v", res)
	}
	if res.State != StateSkipped {
		t.Fatalf("终态应为 skipped, 实际 %s", res.State)
	}
}

func TestExecuteSkipsOnInsufficientVolatilityData(t *testing.T) {
	snap := volatility.Snapshot{Asset: "BTC", Horizons: []volatility.HorizonStats{
		{Horizon: 15 * time.Minute, Samples: 1},
	}}
	exch := &fakeExchange{balance: decimal.NewFromInt(100)}
	e := newTestExecutor(testParams(), exch, stubFeed{price: 90255}, &fakeSnapshots{snap: snap}, &fakeLedger{}, insideWindow)

	res := e.Execute(context.Background())
	if res.Reason != ReasonInsufficientVolData {
		t.Fatalf("样本不足应跳过, 实际 %s", res.Reason)
	}
}

func TestExecuteHaltsOnExtremeVolatility(t *testing.T) {
	exch := &fakeExchange{balance: decimal.NewFromInt(100)}
	e := newTestExecutor(testParams(), exch, stubFeed{price: 90255}, &fakeSnapshots{snap: goodSnapshot(12)}, &fakeLedger{}, insideWindow)

	res := e.Execute(context.Background())
	if res.Reason != ReasonVolatilityHalt {
		t.Fatalf("极端波动应停止交易, 实际 %s", res.Reason)
	}
	if len(exch.created) != 0 {
		t.Fatal("停止交易时不应下单")
	}
}

func TestExecuteSkipsWhenNoQualifyingStrike(t *testing.T) {
	exch := &fakeExchange{
		balance: decimal.NewFromInt(100),
		markets: []kalshi.Market{
			// Below the minimum distance, and one without a NO ask.
			{Ticker: "LOW", FloorStrike: 90260, NoAsk: 80},
			{Ticker: "NOASK", FloorStrike: 91000, NoAsk: 0},
		},
	}
	e := newTestExecutor(testParams(), exch, stubFeed{price: 90255}, &fakeSnapshots{snap: goodSnapshot(0.08)}, &fakeLedger{}, insideWindow)

	res := e.Execute(context.Background())
	if res.Reason != ReasonNoQualifyingStrike {
		t.Fatalf("无合格执行价应跳过, 实际 %s", res.Reason)
	}
}

func TestExecuteSubmitsOrderHappyPath(t *testing.T) {
	exch := &fakeExchange{
		balance: decimal.NewFromInt(100),
		markets: []kalshi.Market{{Ticker: "KXBTCD-25DEC1020-T90500", FloorStrike: 90500, NoAsk: 81}},
		order:   kalshi.Order{OrderID: "ord-1", Status: "resting"},
	}
	ledger := &fakeLedger{}
	e := newTestExecutor(testParams(), exch, stubFeed{price: 90255}, &fakeSnapshots{snap: goodSnapshot(0.08)}, ledger, insideWindow)

	res := e.Execute(context.Background())
	if res.State != StateSubmitted || res.Action != ActionTrade {
		t.Fatalf("应提交订单: state=%s action=%s reason=%s err=%v", res.State, res.Action, res.Reason, res.Err)
	}
	if len(exch.created) != 1 {
		t.Fatalf("应恰好下单一次, 实际 %d", len(exch.created))
	}

	req := exch.created[0]
	if req.Side != "no" || req.NoPriceCt != 81 {
		t.Fatalf("订单参数不正确: %+v", req)
	}
	// Quarter Kelly of $100 at 81 cents affords 30 contracts, capped at 5.
	if req.Count != 5 {
		t.Fatalf("数量应被 MaxContracts 限制为 5, 实际 %d", req.Count)
	}

	if len(ledger.appended) != 1 {
		t.Fatalf("账本应有且仅有一条记录, 实际 %d", len(ledger.appended))
	}
	rec := ledger.appended[0]
	if rec.Status != "executed" {
		t.Fatalf("记录状态应为 executed, 实际 %s", rec.Status)
	}
	if rec.OrderID == nil || *rec.OrderID != "ord-1" {
		t.Fatalf("记录应携带订单号: %+v", rec.OrderID)
	}
	if rec.RequestTimestamp != "1767225600000" {
		t.Fatalf("记录应携带签名时间戳, 实际 %s", rec.RequestTimestamp)
	}
	wantAfter := decimal.RequireFromString("95.95")
	if rec.BalanceAfter == nil || !rec.BalanceAfter.Equal(wantAfter) {
		t.Fatalf("期望余额 95.95, 实际 %+v", rec.BalanceAfter)
	}
	if rec.PeriodKey != "KXBTCD-25DEC1020" {
		t.Fatalf("周期键不正确: %s", rec.PeriodKey)
	}
}

func TestExecuteRecordsRejectedOrder(t *testing.T) {
	exch := &fakeExchange{
		balance:  decimal.NewFromInt(100),
		markets:  []kalshi.Market{{Ticker: "T", FloorStrike: 90500, NoAsk: 81}},
		orderErr: &kalshi.APIError{StatusCode: 400, Code: "insufficient_balance"},
	}
	ledger := &fakeLedger{}
	e := newTestExecutor(testParams(), exch, stubFeed{price: 90255}, &fakeSnapshots{snap: goodSnapshot(0.08)}, ledger, insideWindow)

	res := e.Execute(context.Background())
	if res.State != StateRejected || res.Action != ActionReject || res.Reason != ReasonOrderRejected {
		t.Fatalf("交易所拒单应得到 Rejected: %+v", res)
	}
	if len(ledger.appended) != 1 || ledger.appended[0].Status != "rejected" {
		t.Fatal("拒单也必须写入账本")
	}
}

func TestExecuteRecordsUnknownOutcome(t *testing.T) {
	exch := &fakeExchange{
		balance:  decimal.NewFromInt(100),
		markets:  []kalshi.Market{{Ticker: "T", FloorStrike: 90500, NoAsk: 81}},
		orderErr: errors.New("request timed out"),
	}
	ledger := &fakeLedger{}
	e := newTestExecutor(testParams(), exch, stubFeed{price: 90255}, &fakeSnapshots{snap: goodSnapshot(0.08)}, ledger, insideWindow)

	res := e.Execute(context.Background())
	if res.State != StateFailed || res.Reason != ReasonTransportFailure {
		t.Fatalf("传输失败应得到 Failed: %+v", res)
	}
	if len(ledger.appended) != 1 || ledger.appended[0].Status != "failed" {
		t.Fatal("结局未知的提交必须写入账本以便对账")
	}
	if ledger.appended[0].RequestTimestamp == "" {
		t.Fatal("对账需要签名时间戳")
	}
}

func TestExecuteSkipsFullPriceAsk(t *testing.T) {
	// A 100 cent ask implies probability 1.0; the model cannot price it, but
	// that is an ordinary market condition, not a pipeline failure.
	exch := &fakeExchange{
		balance: decimal.NewFromInt(100),
		markets: []kalshi.Market{{Ticker: "FULL", FloorStrike: 90500, NoAsk: 100}},
	}
	ledger := &fakeLedger{}
	e := newTestExecutor(testParams(), exch, stubFeed{price: 90255}, &fakeSnapshots{snap: goodSnapshot(0.08)}, ledger, insideWindow)

	res := e.Execute(context.Background())
	if res.State != StateSkipped || res.Action != ActionSkip {
		t.Fatalf("满价合约应跳过而不是失败: state=%s action=%s reason=%s err=%v", res.State, res.Action, res.Reason, res.Err)
	}
	if res.Reason != ReasonInvalidMarketPrice {
		t.Fatalf("原因应为 InvalidMarketPrice, 实际 %s", res.Reason)
	}
	if res.Err != nil {
		t.Fatalf("策略性跳过不应携带错误: %v", res.Err)
	}
	if len(exch.created) != 0 || len(ledger.appended) != 0 {
		t.Fatal("满价合约不应有任何副作用")
	}
}

func TestExecuteContinuesPastDegeneratePrice(t *testing.T) {
	// With two candidates, a 100 cent first strike must not abort the cycle:
	// the next strike is still evaluated and traded.
	params := testParams()
	params.MaxCandidates = 2
	exch := &fakeExchange{
		balance: decimal.NewFromInt(100),
		markets: []kalshi.Market{
			{Ticker: "FULL", FloorStrike: 90500, NoAsk: 100},
			{Ticker: "OK", FloorStrike: 90700, NoAsk: 81},
		},
		order: kalshi.Order{OrderID: "ord-2", Status: "resting"},
	}
	ledger := &fakeLedger{}
	e := newTestExecutor(params, exch, stubFeed{price: 90255}, &fakeSnapshots{snap: goodSnapshot(0.08)}, ledger, insideWindow)

	res := e.Execute(context.Background())
	if res.State != StateSubmitted || res.Action != ActionTrade {
		t.Fatalf("应继续评估下一个候选并下单: state=%s action=%s reason=%s err=%v", res.State, res.Action, res.Reason, res.Err)
	}
	if len(exch.created) != 1 || exch.created[0].Ticker != "OK" {
		t.Fatalf("应在第二个候选上下单: %+v", exch.created)
	}
}

func TestPriceSkipsSettledContract(t *testing.T) {
	e := newTestExecutor(testParams(), &fakeExchange{}, stubFeed{price: 90255}, &fakeSnapshots{}, &fakeLedger{}, insideWindow)
	cand := Candidate{
		Asset:               "BTC",
		Ticker:              "T",
		StrikePrice:         90500,
		Side:                "no",
		MarketPriceCents:    81,
		MinutesToSettlement: 0,
	}
	stats := volatility.HorizonStats{Horizon: 15 * time.Minute, Samples: 15, StdDevPct: 0.08}
	evaluator := pricing.EdgeEvaluator{MinEdge: 0.03, FloorCents: 50, CeilingCents: 91}

	decision, reason, err := e.price(cand, 90255, stats, evaluator, uuid.New())
	if err != nil {
		t.Fatalf("已结算的合约应是跳过而非错误: %v", err)
	}
	if decision != nil || reason != ReasonInvalidTimeHorizon {
		t.Fatalf("原因应为 InvalidTimeHorizon, 实际 decision=%+v reason=%s", decision, reason)
	}
}

func TestExecuteTradePathPricesThenSizes(t *testing.T) {
	// The decision on the trade path carries both the pricing stage outputs
	// and the sizing stage outputs, in that order.
	exch := &fakeExchange{
		balance: decimal.NewFromInt(100),
		markets: []kalshi.Market{{Ticker: "T", FloorStrike: 90500, NoAsk: 81}},
		order:   kalshi.Order{OrderID: "ord-3", Status: "resting"},
	}
	e := newTestExecutor(testParams(), exch, stubFeed{price: 90255}, &fakeSnapshots{snap: goodSnapshot(0.08)}, &fakeLedger{}, insideWindow)

	res := e.Execute(context.Background())
	if res.State != StateSubmitted {
		t.Fatalf("终态应为 submitted, 实际 %s", res.State)
	}
	d := res.Decision
	if d == nil {
		t.Fatal("交易路径必须携带完整决策")
	}
	if d.ModelProbability <= d.MarketProbability || d.Edge <= 0 {
		t.Fatalf("定价阶段输出缺失: %+v", d)
	}
	if d.KellyFraction != 0.25 || d.Quantity != 5 {
		t.Fatalf("仓位阶段输出缺失: fraction=%.4f quantity=%d", d.KellyFraction, d.Quantity)
	}
}

func TestExecuteSkipsPriceOutsideBand(t *testing.T) {
	exch := &fakeExchange{
		balance: decimal.NewFromInt(100),
		markets: []kalshi.Market{{Ticker: "T", FloorStrike: 90500, NoAsk: 95}},
	}
	ledger := &fakeLedger{}
	e := newTestExecutor(testParams(), exch, stubFeed{price: 90255}, &fakeSnapshots{snap: goodSnapshot(0.08)}, ledger, insideWindow)

	res := e.Execute(context.Background())
	if res.Action != ActionSkip || res.Reason != ReasonPriceOutsideBand {
		t.Fatalf("带外价格应跳过: %+v", res)
	}
	if len(exch.created) != 0 {
		t.Fatal("带外价格不应下单")
	}
}

func TestExecuteSkipsInsufficientEdge(t *testing.T) {
	// High volatility pushes the model probability toward 0.63 while the
	// market asks 0.85: a negative edge must be skipped, not shorted.
	exch := &fakeExchange{
		balance: decimal.NewFromInt(100),
		markets: []kalshi.Market{{Ticker: "T", FloorStrike: 90500, NoAsk: 85}},
	}
	e := newTestExecutor(testParams(), exch, stubFeed{price: 90255}, &fakeSnapshots{snap: goodSnapshot(1.0)}, &fakeLedger{}, insideWindow)

	res := e.Execute(context.Background())
	if res.Action != ActionSkip || res.Reason != ReasonInsufficientEdge {
		t.Fatalf("edge 不足应跳过: %+v", res)
	}
}

func TestExecuteSkipsZeroQuantity(t *testing.T) {
	// Quarter Kelly of $3 is 75 cents: below one 81 cent contract.
	exch := &fakeExchange{
		balance: decimal.NewFromInt(3),
		markets: []kalshi.Market{{Ticker: "T", FloorStrike: 90500, NoAsk: 81}},
	}
	ledger := &fakeLedger{}
	e := newTestExecutor(testParams(), exch, stubFeed{price: 90255}, &fakeSnapshots{snap: goodSnapshot(0.08)}, ledger, insideWindow)

	res := e.Execute(context.Background())
	if res.Action != ActionSkip || res.Reason != ReasonZeroQuantity {
		t.Fatalf("买不起一张合约应跳过: %+v", res)
	}
	if len(exch.created) != 0 {
		t.Fatal("零数量不应下单")
	}
	if res.Decision == nil || res.Decision.Quantity != 0 {
		t.Fatalf("决策应记录零数量: %+v", res.Decision)
	}
}

func TestExecuteFailsOnBalanceError(t *testing.T) {
	exch := &fakeExchange{balanceErr: errors.New("connection refused")}
	e := newTestExecutor(testParams(), exch, stubFeed{price: 90255}, &fakeSnapshots{snap: goodSnapshot(0.08)}, &fakeLedger{}, insideWindow)

	res := e.Execute(context.Background())
	if res.State != StateFailed || res.Reason != ReasonTransportFailure {
		t.Fatalf("余额查询失败应得到 Failed: %+v", res)
	}
	if res.Err == nil {
		t.Fatal("Result 应携带错误")
	}
}

func TestSelectCandidatesHonorsMaxCandidates(t *testing.T) {
	params := testParams()
	params.MaxCandidates = 2
	exch := &fakeExchange{}
	e := newTestExecutor(params, exch, stubFeed{price: 90255}, &fakeSnapshots{}, &fakeLedger{}, insideWindow)

	markets := []kalshi.Market{
		{Ticker: "A", FloorStrike: 90500, NoAsk: 81},
		{Ticker: "B", FloorStrike: 90700, NoAsk: 75},
		{Ticker: "C", FloorStrike: 90900, NoAsk: 70},
	}
	period := kalshi.NextSettlement("KXBTCD", insideWindow)
	cands := e.selectCandidates(markets, 90255, period, insideWindow)

	if len(cands) != 2 {
		t.Fatalf("候选数量应为 2, 实际 %d", len(cands))
	}
	if cands[0].Ticker != "A" || cands[1].Ticker != "B" {
		t.Fatalf("应按距离从近到远选取: %+v", cands)
	}
}
