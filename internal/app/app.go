package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ppgrobot/BTC-Thorp/internal/config"
	"github.com/ppgrobot/BTC-Thorp/internal/executor"
	"github.com/ppgrobot/BTC-Thorp/internal/feed"
	"github.com/ppgrobot/BTC-Thorp/internal/kalshi"
	"github.com/ppgrobot/BTC-Thorp/internal/metrics"
	"github.com/ppgrobot/BTC-Thorp/internal/scheduler"
	"github.com/ppgrobot/BTC-Thorp/internal/service"
	"github.com/ppgrobot/BTC-Thorp/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newFeed() feed.Fetcher {
	return feed.NewCoinbase(feed.CoinbaseOptions{
		BaseURL:   a.Config.Feed.BaseURL,
		Timeout:   a.Config.Feed.RequestTimeout,
		UserAgent: a.Config.Feed.UserAgent,
	}, a.Logger)
}

// newExchange builds the authenticated exchange client. The signing key is
// read from exchange.private_key (inline PEM, typically via environment) or
// exchange.private_key_path; the key material itself is never logged.
func (a *App) newExchange() (*kalshi.Client, error) {
	cfg := a.Config.Exchange
	if cfg.KeyID == "" {
		return nil, errors.New("exchange.key_id not configured")
	}

	pemText := cfg.PrivateKey
	if pemText == "" && cfg.PrivateKeyPath != "" {
		raw, err := os.ReadFile(cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read signing key: %w", err)
		}
		pemText = string(raw)
	}
	if strings.TrimSpace(pemText) == "" {
		return nil, errors.New("exchange signing key not configured")
	}

	key, err := kalshi.ParsePrivateKey(pemText)
	if err != nil {
		return nil, err
	}
	signer, err := kalshi.NewSigner(key)
	if err != nil {
		return nil, err
	}

	return kalshi.NewClient(kalshi.Options{
		BaseURL: cfg.BaseURL,
		KeyID:   cfg.KeyID,
		Timeout: cfg.RequestTimeout,
	}, signer, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) requireStore(ctx context.Context) (*storage.Store, func(), error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if store == nil {
		return nil, nil, errors.New("database.dsn not configured")
	}
	return store, closeStore, nil
}

func (a *App) newScheduler() *scheduler.Scheduler {
	return scheduler.New(scheduler.Options{
		Interval:     a.Config.Collector.Interval,
		AlignToStart: a.Config.Collector.AlignToBucket,
		StartupDelay: a.Config.Collector.StartupDelay,
	}, a.Logger)
}

func (a *App) buildExecutors(exchange *kalshi.Client, priceFeed feed.Fetcher, store *storage.Store) []service.TraderEntry {
	snapshots := service.NewSnapshotSource(store)
	ledger := service.NewTradeLedger(store)

	entries := make([]service.TraderEntry, 0, len(a.Config.Assets))
	for _, asset := range a.Config.Assets {
		params := executor.Params{
			Asset:             asset.Symbol,
			Pair:              asset.Pair,
			Series:            asset.Series,
			BaseHorizon:       asset.BaseHorizon,
			TradeOffset:       asset.TradeOffset,
			MinStrikeBps:      asset.MinStrikeBps,
			MinEdge:           asset.MinEdge,
			PriceFloorCents:   asset.PriceFloorCents,
			PriceCeilingCents: asset.PriceCeilingCents,
			KellyFractionCap:  asset.KellyFractionCap,
			MaxContracts:      asset.MaxContracts,
			MaxCandidates:     asset.MaxCandidates,
			MinBalance:        decimal.NewFromFloat(asset.MinBalance),
			MaxVolatilityPct:  asset.MaxVolatilityPct,
		}
		entries = append(entries, service.TraderEntry{
			Asset:    asset.Symbol,
			Executor: executor.New(params, exchange, priceFeed, snapshots, ledger, a.Logger),
		})
	}
	return entries
}

func (a *App) newMetrics() *metrics.Metrics {
	if !a.Config.Metrics.Enabled {
		return nil
	}
	return metrics.New()
}

// Run executes collector and trader loops together until interrupted.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(a.Config.Assets) == 0 {
		return errors.New("no assets configured")
	}

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	exchange, err := a.newExchange()
	if err != nil {
		return err
	}

	priceFeed := a.newFeed()
	m := a.newMetrics()

	collector := service.NewCollector(a.Config, a.newScheduler(), priceFeed, store, m, a.Logger)
	trader := service.NewTrader(a.newScheduler(), a.buildExecutors(exchange, priceFeed, store), m, a.Logger)

	a.Logger.Info().Int("assets", len(a.Config.Assets)).Msg("starting collector and trader")
	return a.runLoops(ctx, cancel, m, collector.Run, trader.Run)
}

// Collect executes only the price ingest loop. It needs no exchange
// credentials, so an observation-only deployment can run without them.
func (a *App) Collect(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(a.Config.Assets) == 0 {
		return errors.New("no assets configured")
	}

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	m := a.newMetrics()
	collector := service.NewCollector(a.Config, a.newScheduler(), a.newFeed(), store, m, a.Logger)

	a.Logger.Info().Msg("starting collector")
	return a.runLoops(ctx, cancel, m, collector.Run)
}

// Trade executes the decision loop. With once set it runs a single cycle per
// asset and returns, which matches a cron-style deployment.
func (a *App) Trade(ctx context.Context, once bool) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if len(a.Config.Assets) == 0 {
		return errors.New("no assets configured")
	}

	store, closeStore, err := a.requireStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	exchange, err := a.newExchange()
	if err != nil {
		return err
	}

	m := a.newMetrics()
	trader := service.NewTrader(a.newScheduler(), a.buildExecutors(exchange, a.newFeed(), store), m, a.Logger)

	if once {
		results := trader.ExecuteOnce(ctx)
		for _, res := range results {
			if res.Err != nil {
				return fmt.Errorf("asset %s: %w", res.Asset, res.Err)
			}
		}
		return nil
	}

	a.Logger.Info().Msg("starting trader")
	return a.runLoops(ctx, cancel, m, trader.Run)
}

// runLoops runs the given loops plus the optional metrics endpoint, stopping
// everything when the first one fails or the context ends.
func (a *App) runLoops(ctx context.Context, cancel context.CancelFunc, m *metrics.Metrics, loops ...func(context.Context) error) error {
	errCh := make(chan error, len(loops)+1)

	if m != nil {
		go func() {
			errCh <- m.Serve(ctx, a.Config.Metrics.Addr, a.Logger)
		}()
	}
	for _, loop := range loops {
		loop := loop
		go func() {
			errCh <- loop(ctx)
		}()
	}

	err := <-errCh
	cancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("service stopped")
	return nil
}

// ExportOptions hold parameters for exporting price history.
type ExportOptions struct {
	Asset     string
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// SimulateOptions feed the pricing pipeline with operator-supplied inputs.
type SimulateOptions struct {
	Asset               string
	SpotPrice           float64
	StrikePrice         float64
	MinutesToSettlement float64
	VolatilityPct       float64
	MarketPriceCents    int
	Bankroll            float64
}
