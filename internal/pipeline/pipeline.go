// Package pipeline wires collection, aggregation, forecasting and
// presentation into the runs exposed by the CLI, the scheduler and the API.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/johnayoung/go-ohlcv-forecaster/internal/errors"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/exchange"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/logger"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
)

// Series sources.
const (
	SourceLocal    = "local"
	SourceExchange = "exchange"
)

// DailyCollector writes the snapshots for one date.
type DailyCollector interface {
	TargetDate() time.Time
	CollectDaily(ctx context.Context, date time.Time) (*models.CollectionReport, error)
}

// SeriesAggregator rebuilds a series from snapshot files.
type SeriesAggregator interface {
	Aggregate(ctx context.Context, symbol string, lookbackDays int) (*models.Series, error)
}

// Forecaster fits a series and predicts ahead.
type Forecaster interface {
	Forecast(ctx context.Context, series *models.Series, horizonHours int) (*models.Forecast, error)
}

// Presenter shows results to people.
type Presenter interface {
	Present(fc *models.Forecast) models.ForecastSummary
	PrintCollection(report *models.CollectionReport)
}

// ForecastRecorder keeps forecast summaries.
type ForecastRecorder interface {
	RecordForecast(ctx context.Context, summary models.ForecastSummary) error
}

// Observer counts run outcomes.
type Observer interface {
	ObserveCollection(report *models.CollectionReport)
	ObserveForecast(symbol string, err error)
}

// Options holds run settings.
type Options struct {
	Symbols              []string
	LookbackDays         int
	Source               string
	FetchCount           int
	Interval             string
	ForecastAfterCollect bool
}

// Pipeline runs the stages in order. Collector, fetcher, presenter and
// recorder are optional; a missing stage is skipped or reported as an error
// by the operation that needs it.
type Pipeline struct {
	collector  DailyCollector
	aggregator SeriesAggregator
	fetcher    exchange.CandleFetcher
	forecaster Forecaster
	presenter  Presenter
	recorder   ForecastRecorder
	observer   Observer
	opts       Options
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithCollector(c DailyCollector) Option       { return func(p *Pipeline) { p.collector = c } }
func WithFetcher(f exchange.CandleFetcher) Option { return func(p *Pipeline) { p.fetcher = f } }
func WithPresenter(pr Presenter) Option           { return func(p *Pipeline) { p.presenter = pr } }
func WithRecorder(r ForecastRecorder) Option      { return func(p *Pipeline) { p.recorder = r } }
func WithObserver(o Observer) Option              { return func(p *Pipeline) { p.observer = o } }

// New creates a pipeline.
func New(agg SeriesAggregator, fc Forecaster, opts Options, logger *slog.Logger, options ...Option) (*Pipeline, error) {
	if agg == nil {
		return nil, fmt.Errorf("aggregator is required")
	}
	if fc == nil {
		return nil, fmt.Errorf("forecaster is required")
	}
	if opts.Source == "" {
		opts.Source = SourceLocal
	}
	if opts.Source != SourceLocal && opts.Source != SourceExchange {
		return nil, fmt.Errorf("unsupported series source: %s", opts.Source)
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		aggregator: agg,
		forecaster: fc,
		opts:       opts,
		logger:     logger.With("component", "pipeline"),
	}
	for _, o := range options {
		o(p)
	}
	if p.opts.Source == SourceExchange && p.fetcher == nil {
		return nil, fmt.Errorf("exchange source requires a fetcher")
	}
	return p, nil
}

// Symbols returns the configured symbols.
func (p *Pipeline) Symbols() []string {
	return p.opts.Symbols
}

// Series returns the series for symbol. With the local source it aggregates
// the trailing days of snapshots (lookbackDays <= 0 uses the configured
// window); with the exchange source it fetches FetchCount bars directly.
func (p *Pipeline) Series(ctx context.Context, symbol string, lookbackDays int) (*models.Series, error) {
	if p.opts.Source == SourceExchange {
		candles, err := p.fetcher.FetchRecent(ctx, symbol, p.opts.Interval, p.opts.FetchCount)
		if err != nil {
			return nil, err
		}
		if len(candles) == 0 {
			return nil, fmt.Errorf("%s: %w", symbol, apperrors.ErrNoData)
		}
		return models.NewSeries(symbol, candles), nil
	}

	if lookbackDays <= 0 {
		lookbackDays = p.opts.LookbackDays
	}
	return p.aggregator.Aggregate(ctx, symbol, lookbackDays)
}

// Forecast builds the series for symbol and forecasts it without presenting
// or recording the result.
func (p *Pipeline) Forecast(ctx context.Context, symbol string, horizonHours int) (*models.Forecast, error) {
	if logger.GetSymbol(ctx) != symbol {
		ctx = logger.WithSymbol(ctx, symbol)
	}

	var series *models.Series
	err := logger.TimedOperation(ctx, p.logger, "series", func() error {
		var err error
		series, err = p.Series(ctx, symbol, 0)
		return err
	})
	if err != nil {
		return nil, err
	}

	var fc *models.Forecast
	err = logger.TimedOperation(ctx, p.logger, "forecast", func() error {
		var err error
		fc, err = p.forecaster.Forecast(ctx, series, horizonHours)
		return err
	})
	if err != nil {
		return nil, err
	}
	return fc, nil
}

// ForecastSymbol forecasts symbol, presents the result and records the
// summary. Recorder failures are logged only.
func (p *Pipeline) ForecastSymbol(ctx context.Context, symbol string, horizonHours int) (*models.Forecast, models.ForecastSummary, error) {
	ctx = logger.WithSymbol(ctx, symbol)
	log := logger.FromContext(ctx, p.logger)

	fc, err := p.Forecast(ctx, symbol, horizonHours)
	if p.observer != nil {
		p.observer.ObserveForecast(symbol, err)
	}
	if err != nil {
		return nil, models.ForecastSummary{Symbol: symbol}, err
	}

	var summary models.ForecastSummary
	if p.presenter != nil {
		summary = p.presenter.Present(fc)
	} else {
		summary = fc.Summarize()
	}
	summary.RunID = logger.GetRunID(ctx)

	if p.recorder != nil {
		if err := p.recorder.RecordForecast(ctx, summary); err != nil {
			log.Warn("failed to record forecast", "error", err)
		}
	}

	log.Info("forecast complete",
		"observations", summary.Observations,
		"horizon_hours", summary.HorizonHours,
		"next_yhat", summary.NextYHat,
		"expected_change_pct", summary.ExpectedChange)
	return fc, summary, nil
}

// Outcome is the result of forecasting one symbol in a batch.
type Outcome struct {
	Symbol   string
	Forecast *models.Forecast
	Summary  models.ForecastSummary
	Err      error
}

// ForecastAll forecasts every configured symbol. A failure is classified,
// logged and kept in its outcome; the loop moves on.
func (p *Pipeline) ForecastAll(ctx context.Context, horizonHours int) []Outcome {
	if logger.GetRunID(ctx) == "" {
		ctx = logger.WithRunID(ctx, uuid.New().String())
	}
	log := logger.FromContext(ctx, p.logger)

	outcomes := make([]Outcome, 0, len(p.opts.Symbols))
	for _, symbol := range p.opts.Symbols {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, Outcome{Symbol: symbol, Err: err})
			continue
		}

		fc, summary, err := p.ForecastSymbol(ctx, symbol, horizonHours)
		if err != nil {
			ce := apperrors.Classify(err, "pipeline", "forecast").With("symbol", symbol)
			if apperrors.TypeOf(err) == apperrors.ErrorTypeNoData {
				log.Warn("no data to forecast", ce.LogAttrs()...)
			} else {
				log.Error("forecast failed", ce.LogAttrs()...)
			}
		}
		outcomes = append(outcomes, Outcome{Symbol: symbol, Forecast: fc, Summary: summary, Err: err})
	}
	return outcomes
}

// RunDaily collects the target date and then, when configured, forecasts
// every symbol. It is the job run by the scheduler.
func (p *Pipeline) RunDaily(ctx context.Context, horizonHours int) (*models.CollectionReport, []Outcome, error) {
	if p.collector == nil {
		return nil, nil, fmt.Errorf("daily run requires a collector")
	}

	report, err := p.collector.CollectDaily(ctx, p.collector.TargetDate())
	if report != nil && p.presenter != nil {
		p.presenter.PrintCollection(report)
	}
	if report != nil && p.observer != nil {
		p.observer.ObserveCollection(report)
	}
	if err != nil {
		return report, nil, err
	}
	if !p.opts.ForecastAfterCollect {
		return report, nil, nil
	}

	ctx = logger.WithRunID(ctx, report.RunID)
	return report, p.ForecastAll(ctx, horizonHours), nil
}
