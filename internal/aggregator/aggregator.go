// Package aggregator rebuilds a per-symbol series from the trailing window of
// daily snapshot files.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github.com/johnayoung/go-ohlcv-forecaster/internal/errors"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/snapshot"
)

// DefaultLookbackDays is used when the caller passes a non-positive window.
const DefaultLookbackDays = 180

// SnapshotReader is the part of the snapshot store the aggregator needs.
type SnapshotReader interface {
	Load(symbol string, date time.Time) ([]models.Candle, error)
	Path(symbol string, date time.Time) string
	Location() *time.Location
}

// Aggregator concatenates daily snapshots into one ordered series.
type Aggregator struct {
	store  SnapshotReader
	step   time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides the source of "today".
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// WithStep sets the expected bar spacing used for gap reporting.
func WithStep(step time.Duration) Option {
	return func(a *Aggregator) { a.step = step }
}

// New creates an aggregator over store.
func New(store SnapshotReader, logger *slog.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Aggregator{
		store:  store,
		step:   time.Hour,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WindowDates returns the calendar dates covered by a lookback of n days
// ending today, oldest first. Dates are midnight in the store's location.
func (a *Aggregator) WindowDates(lookbackDays int) []time.Time {
	loc := a.store.Location()
	now := a.now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	dates := make([]time.Time, 0, lookbackDays)
	for i := lookbackDays - 1; i >= 0; i-- {
		dates = append(dates, today.AddDate(0, 0, -i))
	}
	return dates
}

// Aggregate reads every snapshot for symbol within the lookback window.
//
// Missing files are skipped silently. Files that cannot be read or parsed are
// logged and skipped. Bars are deduplicated by timestamp, with the bar from
// the later-dated file kept, and returned in ascending order. When nothing
// usable is found the error wraps errors.ErrNoData.
func (a *Aggregator) Aggregate(ctx context.Context, symbol string, lookbackDays int) (*models.Series, error) {
	if lookbackDays <= 0 {
		lookbackDays = DefaultLookbackDays
	}

	var (
		all     []models.Candle
		files   []string
		skipped int
	)

	for _, date := range a.WindowDates(lookbackDays) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candles, err := a.store.Load(symbol, date)
		if err != nil {
			if snapshot.IsNotExist(err) {
				continue
			}
			skipped++
			ce := apperrors.Classify(err, "aggregator", "read_snapshot").
				With("symbol", symbol).
				With("file", a.store.Path(symbol, date))
			a.logger.Warn("skipping unreadable snapshot", ce.LogAttrs()...)
			continue
		}
		if len(candles) == 0 {
			continue
		}

		all = append(all, candles...)
		files = append(files, a.store.Path(symbol, date))
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("%s: no snapshots in the last %d days: %w", symbol, lookbackDays, apperrors.ErrNoData)
	}

	series := models.NewSeries(symbol, all)
	series.Files = files

	a.logger.Info("aggregated snapshots",
		"symbol", symbol,
		"files", len(files),
		"skipped", skipped,
		"bars", series.Len(),
		"first", series.First().Timestamp,
		"last", series.Last().Timestamp)

	if gaps := series.Gaps(a.step); len(gaps) > 0 {
		missing := 0
		for _, g := range gaps {
			missing += g.Missing
		}
		a.logger.Info("series has gaps",
			"symbol", symbol,
			"gaps", len(gaps),
			"missing_bars", missing)
	}

	return series, nil
}
