package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics bundles the Prometheus instruments for both loops.
type Metrics struct {
	registry *prometheus.Registry

	ObservationsIngested *prometheus.CounterVec
	IngestFailures       *prometheus.CounterVec
	Decisions            *prometheus.CounterVec
	OrdersSubmitted      *prometheus.CounterVec
	CycleDuration        *prometheus.HistogramVec
}

// New registers all instruments on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ObservationsIngested: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thorp",
			Name:      "observations_ingested_total",
			Help:      "Spot price observations persisted per asset.",
		}, []string{"asset"}),
		IngestFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thorp",
			Name:      "ingest_failures_total",
			Help:      "Collector cycles that ended in error per asset.",
		}, []string{"asset"}),
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thorp",
			Name:      "decisions_total",
			Help:      "Executor outcomes per asset, action, and reason.",
		}, []string{"asset", "action", "reason"}),
		OrdersSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "thorp",
			Name:      "orders_submitted_total",
			Help:      "Orders accepted by the exchange per asset.",
		}, []string{"asset"}),
		CycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "thorp",
			Name:      "cycle_duration_seconds",
			Help:      "Wall-clock duration of collector and trader cycles.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"asset", "loop"}),
	}
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the scrape endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics endpoint listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
