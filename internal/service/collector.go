package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ppgrobot/BTC-Thorp/internal/config"
	"github.com/ppgrobot/BTC-Thorp/internal/feed"
	"github.com/ppgrobot/BTC-Thorp/internal/metrics"
	"github.com/ppgrobot/BTC-Thorp/internal/scheduler"
	"github.com/ppgrobot/BTC-Thorp/internal/storage"
	"github.com/ppgrobot/BTC-Thorp/internal/volatility"
)

// retentionSlack keeps a little history beyond the longest horizon so a
// snapshot computed right after pruning still has full coverage.
const retentionSlack = 10 * time.Minute

// CollectorStore is the slice of storage the collector needs.
type CollectorStore interface {
	storage.ObservationStore
	storage.SnapshotStore
}

// Collector samples spot prices on the aligned schedule and refreshes the
// multi-horizon volatility snapshot for every configured asset.
type Collector struct {
	scheduler *scheduler.Scheduler
	feed      feed.Fetcher
	store     CollectorStore
	assets    []config.AssetConfig
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	locker  storage.AdvisoryLocker
	lockKey int64
}

// NewCollector constructs the ingest service.
func NewCollector(cfg *config.Config, sched *scheduler.Scheduler, priceFeed feed.Fetcher, store CollectorStore, m *metrics.Metrics, logger zerolog.Logger) *Collector {
	var locker storage.AdvisoryLocker
	if l, ok := store.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Collector{
		scheduler: sched,
		feed:      priceFeed,
		store:     store,
		assets:    cfg.Assets,
		metrics:   m,
		logger:    logger.With().Str("component", "collector").Logger(),
		locker:    locker,
		lockKey:   cfg.Collector.AdvisoryLockKey,
	}
}

// Run begins the aligned sampling loop.
func (c *Collector) Run(ctx context.Context) error {
	if c.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return c.scheduler.Run(ctx, c.ProcessBucket)
}

// ProcessBucket 执行单个时间桶的采样逻辑。
func (c *Collector) ProcessBucket(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := c.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		c.logger.Debug().Time("bucket", bucket).Msg("skip bucket because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	for _, asset := range c.assets {
		start := time.Now()
		if err := c.ingestAsset(ctx, asset, bucket); err != nil {
			if c.metrics != nil {
				c.metrics.IngestFailures.WithLabelValues(asset.Symbol).Inc()
			}
			c.logger.Error().Err(err).Str("asset", asset.Symbol).Time("bucket", bucket).Msg("ingest failed")
			continue
		}
		if c.metrics != nil {
			c.metrics.CycleDuration.WithLabelValues(asset.Symbol, "collect").Observe(time.Since(start).Seconds())
		}
	}
	return nil
}

// ingestAsset runs one asset's fetch-persist-recompute cycle. The snapshot is
// rebuilt from stored observations rather than in-process state so any number
// of collector replicas converge on the same view.
func (c *Collector) ingestAsset(ctx context.Context, asset config.AssetConfig, bucket time.Time) error {
	spot, err := c.feed.FetchSpot(ctx, asset.Pair)
	if err != nil {
		return fmt.Errorf("fetch spot: %w", err)
	}

	now := spot.AsOf.UTC()
	if now.IsZero() {
		now = time.Now().UTC()
	}

	obs := storage.ObservationRow{
		Asset:      asset.Symbol,
		ObservedAt: now,
		Price:      decimal.NewFromFloat(spot.Price),
	}
	if err := c.store.InsertObservation(ctx, obs); err != nil {
		return fmt.Errorf("persist observation: %w", err)
	}
	if c.metrics != nil {
		c.metrics.ObservationsIngested.WithLabelValues(asset.Symbol).Inc()
	}

	snap, err := c.recomputeSnapshot(ctx, asset, now)
	if err != nil {
		return err
	}

	if err := c.pruneObservations(ctx, asset, now); err != nil {
		// Retention is housekeeping; a failed prune never blocks the snapshot.
		c.logger.Warn().Err(err).Str("asset", asset.Symbol).Msg("retention prune failed")
	}

	base, _ := snap.Horizon(asset.BaseHorizon)
	c.logger.Info().
		Str("asset", asset.Symbol).
		Time("bucket", bucket).
		Float64("price", spot.Price).
		Int("base_samples", base.Samples).
		Float64("base_std_dev_pct", base.StdDevPct).
		Msg("observation recorded")
	return nil
}

func (c *Collector) recomputeSnapshot(ctx context.Context, asset config.AssetConfig, now time.Time) (volatility.Snapshot, error) {
	from := now.Add(-asset.LongestHorizon())
	rows, err := c.store.ListObservationsBetween(ctx, asset.Symbol, from, now)
	if err != nil {
		return volatility.Snapshot{}, fmt.Errorf("list observations: %w", err)
	}

	window := volatility.NewWindow(asset.Symbol, asset.LongestHorizon())
	for _, row := range rows {
		o := volatility.Observation{Asset: row.Asset, At: row.ObservedAt, Price: row.Price.InexactFloat64()}
		if err := window.Ingest(o); err != nil {
			// Bad rows are logged and dropped; one corrupt tick must not
			// poison the whole snapshot.
			c.logger.Warn().Err(err).Str("asset", asset.Symbol).Time("observed_at", row.ObservedAt).Msg("dropping invalid observation")
		}
	}

	snap := window.Snapshot(now, asset.Horizons)

	payload, err := json.Marshal(snap.Horizons)
	if err != nil {
		return volatility.Snapshot{}, fmt.Errorf("encode snapshot horizons: %w", err)
	}
	row := storage.SnapshotRow{Asset: snap.Asset, ComputedAt: snap.ComputedAt, Horizons: payload}
	if err := c.store.UpsertSnapshot(ctx, row); err != nil {
		return volatility.Snapshot{}, fmt.Errorf("persist snapshot: %w", err)
	}
	return snap, nil
}

func (c *Collector) pruneObservations(ctx context.Context, asset config.AssetConfig, now time.Time) error {
	cutoff := now.Add(-(asset.LongestHorizon() + retentionSlack))
	return c.store.DeleteObservationsBefore(ctx, asset.Symbol, cutoff)
}

func (c *Collector) acquireLock(ctx context.Context) (func(), bool, error) {
	if c.lockKey == 0 || c.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := c.locker.TryAdvisoryLock(ctx, c.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
