package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics aggregates the watcher's Prometheus instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	Ticks           *prometheus.CounterVec
	TickDuration    *prometheus.HistogramVec
	AccountsClaimed *prometheus.CounterVec
	ReadFailures    prometheus.Counter
	Rotations       prometheus.Counter
	Opportunities   prometheus.Counter
}

// New builds a Metrics set on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liqwatcher",
			Name:      "ticks_total",
			Help:      "Scheduling passes executed, by tier.",
		}, []string{"tier"}),
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "liqwatcher",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one scheduling pass, by tier.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tier"}),
		AccountsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liqwatcher",
			Name:      "accounts_claimed_total",
			Help:      "Accounts claimed for evaluation, by tier.",
		}, []string{"tier"}),
		ReadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "liqwatcher",
			Name:      "read_failures_total",
			Help:      "Per-account chain reads that failed or were undecodable.",
		}),
		Rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "liqwatcher",
			Name:      "rpc_rotations_total",
			Help:      "RPC endpoint rotations triggered by rate limiting.",
		}),
		Opportunities: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "liqwatcher",
			Name:      "opportunities_total",
			Help:      "Profitable liquidation opportunities recorded.",
		}),
	}

	m.registry.MustRegister(
		m.Ticks,
		m.TickDuration,
		m.AccountsClaimed,
		m.ReadFailures,
		m.Rotations,
		m.Opportunities,
	)
	return m
}

// Handler exposes the scrape endpoint for this metrics set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs a /metrics HTTP server until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info().Str("addr", addr).Msg("metrics endpoint listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
