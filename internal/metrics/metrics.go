// Package metrics provides Prometheus instrumentation for the gas tracker.
//
// Metrics exposed:
//   - gaswatch_ticks_total: Counter of tracker ticks by result
//   - gaswatch_breaches_total: Counter of new 7d extrema by kind
//   - gaswatch_notify_errors_total: Counter of failed notifier deliveries
//   - gaswatch_current_gwei: Gauge of the last sampled gas price
//   - gaswatch_history_samples: Gauge of samples retained after the last prune
//   - gaswatch_fetch_duration_seconds: Histogram of gas price fetch latency
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Tick results.
const (
	ResultOK           = "ok"
	ResultFetchError   = "fetch_error"
	ResultPersistError = "persist_error"
)

type Metrics struct {
	TicksTotal    *prometheus.CounterVec
	BreachesTotal *prometheus.CounterVec
	NotifyErrors  prometheus.Counter
	CurrentGwei   prometheus.Gauge
	HistorySize   prometheus.Gauge
	FetchDuration prometheus.Histogram
}

// New registers the tracker metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TicksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gaswatch_ticks_total",
			Help: "Total number of tracker ticks by result",
		}, []string{"result"}),

		BreachesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gaswatch_breaches_total",
			Help: "Total number of new 7d extrema by kind",
		}, []string{"kind"}),

		NotifyErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "gaswatch_notify_errors_total",
			Help: "Total number of failed notification deliveries",
		}),

		CurrentGwei: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gaswatch_current_gwei",
			Help: "Last sampled gas price in gwei",
		}),

		HistorySize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gaswatch_history_samples",
			Help: "Samples retained in history after the last prune",
		}),

		FetchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gaswatch_fetch_duration_seconds",
			Help:    "Duration of gas price fetches",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// Nop returns metrics bound to a throwaway registry.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

func (m *Metrics) RecordTick(result string) {
	m.TicksTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordBreach(kind string) {
	m.BreachesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordNotifyError() {
	m.NotifyErrors.Inc()
}

func (m *Metrics) SetCurrentGwei(v float64) {
	m.CurrentGwei.Set(v)
}

func (m *Metrics) SetHistorySize(n int) {
	m.HistorySize.Set(float64(n))
}

func (m *Metrics) ObserveFetch(d time.Duration) {
	m.FetchDuration.Observe(d.Seconds())
}

// Serve exposes gatherer on addr at /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
