package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ppgrobot/BTC-Thorp/internal/executor"
	"github.com/ppgrobot/BTC-Thorp/internal/metrics"
	"github.com/ppgrobot/BTC-Thorp/internal/scheduler"
)

// Trader drives each asset's decision pipeline on the aligned schedule. The
// executor's own trading-instant guard decides whether a tick does anything,
// so the trader can run every bucket without double-submitting.
type Trader struct {
	scheduler *scheduler.Scheduler
	executors []TraderEntry
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// TraderEntry pairs an asset symbol with its configured executor.
type TraderEntry struct {
	Asset    string
	Executor *executor.Executor
}

// NewTrader constructs the trading service.
func NewTrader(sched *scheduler.Scheduler, executors []TraderEntry, m *metrics.Metrics, logger zerolog.Logger) *Trader {
	return &Trader{
		scheduler: sched,
		executors: executors,
		metrics:   m,
		logger:    logger.With().Str("component", "trader").Logger(),
	}
}

// Run begins the aligned decision loop.
func (t *Trader) Run(ctx context.Context) error {
	if t.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return t.scheduler.Run(ctx, t.ProcessBucket)
}

// ProcessBucket 对每个资产执行一次决策周期。
func (t *Trader) ProcessBucket(ctx context.Context, bucket time.Time) error {
	for _, entry := range t.executors {
		start := time.Now()
		res := entry.Executor.Execute(ctx)
		t.observe(entry.Asset, res, time.Since(start))
	}
	return nil
}

// ExecuteOnce runs a single cycle for every asset, outside the scheduler.
// Used by the one-shot CLI path.
func (t *Trader) ExecuteOnce(ctx context.Context) []executor.Result {
	results := make([]executor.Result, 0, len(t.executors))
	for _, entry := range t.executors {
		res := entry.Executor.Execute(ctx)
		t.observe(entry.Asset, res, 0)
		results = append(results, res)
	}
	return results
}

func (t *Trader) observe(asset string, res executor.Result, elapsed time.Duration) {
	if t.metrics != nil {
		t.metrics.Decisions.WithLabelValues(asset, string(res.Action), res.Reason).Inc()
		if res.Action == executor.ActionTrade {
			t.metrics.OrdersSubmitted.WithLabelValues(asset).Inc()
		}
		if elapsed > 0 {
			t.metrics.CycleDuration.WithLabelValues(asset, "trade").Observe(elapsed.Seconds())
		}
	}

	event := t.logger.Info()
	if res.Err != nil {
		event = t.logger.Error().Err(res.Err)
	}
	event.
		Str("asset", asset).
		Str("period", res.PeriodKey).
		Str("state", string(res.State)).
		Str("action", string(res.Action)).
		Str("reason", res.Reason).
		Msg("decision cycle complete")
}
