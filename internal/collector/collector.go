// Package collector runs the daily snapshot job: for every configured symbol
// it fetches the most recent batch of bars and writes the snapshot file for
// the target date.
//
// Symbols are processed one after another. A failure for one symbol is
// classified, logged and recorded in the report, and the loop moves on.
// Nothing is rolled back.
package collector

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

const (
	DefaultInterval  = "minute60"
	DefaultCount     = 24
	DefaultDayOffset = 1
)

// SnapshotWriter persists one batch per (symbol, date).
type SnapshotWriter interface {
	Write(symbol string, date time.Time, candles []models.Candle) (string, error)
	Location() *time.Location
}

// RunRecorder stores collection reports. Implementations live in the
// recorder package.
type RunRecorder interface {
	RecordCollection(ctx context.Context, report *models.CollectionReport) error
}

// Config holds collector settings.
type Config struct {
	Symbols   []string
	Interval  string
	Count     int
	DayOffset int
	Logger    *slog.Logger
}

// DefaultConfig returns the daily job settings: 24 hourly
// bars per symbol, written under yesterday's date.
func DefaultConfig() *Config {
	return &Config{
		Symbols:   []string{"KRW-BTC", "KRW-ETH"},
		Interval:  DefaultInterval,
		Count:     DefaultCount,
		DayOffset: DefaultDayOffset,
		Logger:    slog.Default(),
	}
}

// ValidateConfig checks collector settings.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("at least one symbol is required")
	}
	if cfg.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", cfg.Count)
	}
	if cfg.DayOffset < 0 {
		return fmt.Errorf("day offset cannot be negative, got %d", cfg.DayOffset)
	}
	if _, err := exchange.ParseInterval(cfg.Interval); err != nil {
		return err
	}
	return nil
}

// Collector fetches and stores daily snapshots.
type Collector struct {
	fetcher  exchange.CandleFetcher
	store    SnapshotWriter
	recorder RunRecorder
	config   *Config
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithRecorder attaches a run recorder.
func WithRecorder(r RunRecorder) Option {
	return func(c *Collector) { c.recorder = r }
}

// WithClock overrides the clock used for the default target date.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// New creates a collector. A nil config means DefaultConfig.
func New(fetcher exchange.CandleFetcher, store SnapshotWriter, config *Config, opts ...Option) (*Collector, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if store == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Interval == "" {
		config.Interval = DefaultInterval
	}
	if err := ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid collector configuration: %w", err)
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	c := &Collector{
		fetcher: fetcher,
		store:   store,
		config:  config,
		logger:  config.Logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// TargetDate returns the date a run started now should write, i.e. today
// minus the configured day offset in the store's location.
func (c *Collector) TargetDate() time.Time {
	loc := c.store.Location()
	now := c.now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return today.AddDate(0, 0, -c.config.DayOffset)
}

// CollectDaily processes every configured symbol for date. The returned
// error is non-nil only when ctx ends the run early; per-symbol failures are
// reported in the report.
func (c *Collector) CollectDaily(ctx context.Context, date time.Time) (*models.CollectionReport, error) {
	report := &models.CollectionReport{
		RunID:     uuid.New().String(),
		Date:      date,
		Interval:  c.config.Interval,
		StartedAt: time.Now(),
		Results:   make([]models.SymbolResult, 0, len(c.config.Symbols)),
	}
	ctx = logger.WithRunID(ctx, report.RunID)
	log := logger.FromContext(ctx, c.logger)

	log.Info("starting daily collection",
		"date", date.Format("2006-01-02"),
		"symbols", c.config.Symbols,
		"interval", c.config.Interval,
		"count", c.config.Count)

	var runErr error
	for _, symbol := range c.config.Symbols {
		if err := ctx.Err(); err != nil {
			runErr = err
			report.Results = append(report.Results, models.SymbolResult{
				Symbol: symbol,
				Status: models.StatusSkipped,
				Error:  err.Error(),
			})
			continue
		}
		report.Results = append(report.Results, c.CollectSymbol(ctx, symbol, date))
	}
	report.FinishedAt = time.Now()

	log.Info("daily collection finished",
		"succeeded", report.Succeeded(),
		"failed", report.Failed(),
		"duration", report.Duration())
	if log.Enabled(ctx, slog.LevelDebug) {
		if js, err := report.ToJSON(); err == nil {
			log.Debug("collection report", "report", js)
		}
	}

	if c.recorder != nil {
		if err := c.recorder.RecordCollection(ctx, report); err != nil {
			log.Warn("failed to record collection run", "error", err)
		}
	}

	return report, runErr
}

// CollectSymbol fetches and writes one symbol. Errors are caught here.
func (c *Collector) CollectSymbol(ctx context.Context, symbol string, date time.Time) models.SymbolResult {
	start := time.Now()
	ctx = logger.WithSymbol(ctx, symbol)
	log := logger.FromContext(ctx, c.logger)
	result := models.SymbolResult{Symbol: symbol}

	fail := func(op string, err error) models.SymbolResult {
		ce := apperrors.Classify(err, "collector", op).With("date", date.Format("2006-01-02"))
		log.Error("symbol collection failed", ce.LogAttrs()...)
		result.Status = models.StatusFailed
		result.ErrorType = string(ce.Type)
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}

	candles, err := c.fetcher.FetchRecent(ctx, symbol, c.config.Interval, c.config.Count)
	if err != nil {
		return fail("fetch", err)
	}
	if len(candles) == 0 {
		return fail("fetch", fmt.Errorf("%s: %w", symbol, apperrors.ErrEmptyResponse))
	}

	path, err := c.store.Write(symbol, date, candles)
	if err != nil {
		return fail("write_snapshot", err)
	}

	result.Status = models.StatusSucceeded
	result.Path = path
	result.Bars = len(candles)
	result.First = candles[0].Timestamp
	result.Last = candles[len(candles)-1].Timestamp
	result.Duration = time.Since(start)

	log.Info("snapshot saved",
		"path", path,
		"bars", result.Bars,
		"first", result.First,
		"last", result.Last)

	return result
}
