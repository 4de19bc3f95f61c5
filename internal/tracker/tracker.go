package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gaswatch/internal/alerting"
	"gaswatch/internal/chart"
	"gaswatch/internal/fetcher"
	"gaswatch/internal/metrics"
	"gaswatch/internal/storage"
)

const (
	DefaultRetention   = 7 * 24 * time.Hour
	DefaultDailyWindow = 24 * time.Hour
)

// Options configure the tracker.
type Options struct {
	RPCURL      string
	Retention   time.Duration
	DailyWindow time.Duration
	Location    *time.Location
	DailyChart  bool
}

// Decision is the outcome of comparing a sample with the retained window before it.
type Decision struct {
	Kind        alerting.BreachKind
	Baseline    storage.Extrema
	HasBaseline bool
}

// Breached reports whether the sample set a new extremum.
func (d Decision) Breached() bool {
	return d.Kind != alerting.BreachNone
}

// Evaluate classifies gwei against the extrema of baseline, which must not contain the sample itself.
// An empty baseline never breaches.
func Evaluate(baseline storage.History, gwei decimal.Decimal) Decision {
	ext, err := storage.Evaluate(baseline)
	if err != nil {
		return Decision{}
	}

	d := Decision{Baseline: ext, HasBaseline: true}
	switch {
	case gwei.LessThan(ext.Min):
		d.Kind = alerting.BreachLow
	case gwei.GreaterThan(ext.Max):
		d.Kind = alerting.BreachHigh
	}
	return d
}

// Tracker samples the primary network, maintains history, and reports new extrema.
type Tracker struct {
	opts     Options
	fetcher  fetcher.GasPriceFetcher
	store    storage.HistoryStore
	notifier alerting.Notifier
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New constructs a tracker. A nil notifier disables delivery; nil metrics are replaced by a private registry.
func New(opts Options, gas fetcher.GasPriceFetcher, store storage.HistoryStore, notifier alerting.Notifier, m *metrics.Metrics, logger zerolog.Logger) *Tracker {
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.DailyWindow <= 0 {
		opts.DailyWindow = DefaultDailyWindow
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Tracker{
		opts:     opts,
		fetcher:  gas,
		store:    store,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With().Str("component", "tracker").Logger(),
	}
}

// Tick fetches one sample, persists it with the pruned history, and notifies on a breach.
// A failed fetch leaves the history untouched.
func (t *Tracker) Tick(ctx context.Context, at time.Time) error {
	started := time.Now()
	gwei, err := t.fetcher.FetchGasPrice(ctx, t.opts.RPCURL)
	t.metrics.ObserveFetch(time.Since(started))
	if err != nil {
		t.metrics.RecordTick(metrics.ResultFetchError)
		return fmt.Errorf("fetch gas price: %w", err)
	}

	sample := storage.NewSample(at, gwei)

	var baseline storage.History
	retained := 0
	err = t.store.Update(ctx, func(history storage.History) (storage.History, error) {
		baseline = storage.Prune(history, sample.Time, t.opts.Retention)
		next := make(storage.History, 0, len(baseline)+1)
		next = append(next, baseline...)
		next = append(next, sample)
		retained = len(next)
		return next, nil
	})
	if err != nil {
		t.metrics.RecordTick(metrics.ResultPersistError)
		return fmt.Errorf("update history: %w", err)
	}

	t.metrics.RecordTick(metrics.ResultOK)
	t.metrics.SetCurrentGwei(sample.Gwei.InexactFloat64())
	t.metrics.SetHistorySize(retained)

	decision := Evaluate(baseline, sample.Gwei)
	event := t.logger.Info().
		Time("at", sample.Time).
		Str("gwei", sample.Gwei.String()).
		Int("samples", retained)
	if decision.HasBaseline {
		event = event.Str("min_7d", decision.Baseline.Min.String()).Str("max_7d", decision.Baseline.Max.String())
	}
	event.Str("breach", string(decision.Kind)).Msg("gas sample recorded")

	if decision.Breached() {
		t.metrics.RecordBreach(string(decision.Kind))
		t.NotifyBreach(ctx, decision, sample)
	}
	return nil
}

// Preview evaluates gwei against the current history without writing, or creating, the record.
func (t *Tracker) Preview(ctx context.Context, gwei decimal.Decimal, at time.Time) (Decision, storage.Sample, error) {
	sample := storage.NewSample(at, gwei)
	history, err := t.store.Peek(ctx)
	if err != nil {
		return Decision{}, sample, fmt.Errorf("load history: %w", err)
	}
	baseline := storage.Prune(history, sample.Time, t.opts.Retention)
	return Evaluate(baseline, sample.Gwei), sample, nil
}

// NotifyBreach delivers the breach message. Delivery failures are logged only.
func (t *Tracker) NotifyBreach(ctx context.Context, decision Decision, sample storage.Sample) {
	if !decision.Breached() || t.notifier == nil {
		return
	}
	text := alerting.RenderBreach(decision.Kind, sample.Gwei, sample.Time, t.opts.Location)
	if err := t.notifier.Notify(ctx, alerting.Message{Text: text}); err != nil {
		t.metrics.RecordNotifyError()
		t.logger.Error().Err(err).Str("breach", string(decision.Kind)).Msg("failed to dispatch breach alert")
	}
}

// DailySummary reports the min/max of the daily window. An empty window sends nothing.
func (t *Tracker) DailySummary(ctx context.Context, at time.Time) error {
	history, err := t.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	window := storage.Since(history, at.Add(-t.opts.DailyWindow))
	ext, err := storage.Evaluate(window)
	if errors.Is(err, storage.ErrEmptyWindow) {
		t.logger.Info().Time("at", at).Msg("no samples in daily window; skipping report")
		return nil
	}
	if err != nil {
		return err
	}

	msg := alerting.Message{Text: alerting.RenderDailyReport(ext.Min, ext.Max, at, t.opts.Location)}
	if t.opts.DailyChart {
		png, chartErr := chart.PNG(window, chart.Options{Title: "Gas price (24h)"})
		switch {
		case chartErr == nil:
			msg.Photo = png
			msg.PhotoName = "daily-gas.png"
		case errors.Is(chartErr, chart.ErrNotEnoughPoints):
		default:
			t.logger.Warn().Err(chartErr).Msg("daily chart render failed; sending text only")
		}
	}

	t.logger.Info().Str("min_24h", ext.Min.String()).Str("max_24h", ext.Max.String()).Int("samples", ext.Count).Msg("daily summary computed")

	if t.notifier == nil {
		return nil
	}
	if err := t.notifier.Notify(ctx, msg); err != nil {
		t.metrics.RecordNotifyError()
		t.logger.Error().Err(err).Msg("failed to dispatch daily summary")
	}
	return nil
}
