// Package forecast turns an aggregated series into point predictions with
// confidence intervals.
//
// The model is an additive piecewise linear trend with daily, weekly and
// yearly Fourier seasonality fitted by ridge regression. Callers only rely on
// the (ds, yhat, yhat_lower, yhat_upper) contract, so the internals can be
// replaced without touching the rest of the pipeline.
package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/johnayoung/go-ohlcv-forecaster/internal/config"
	apperrors "github.com/johnayoung/go-ohlcv-forecaster/internal/errors"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
)

// Config holds model settings.
type Config struct {
	HorizonHours          int
	IntervalWidth         float64
	ChangepointPriorScale float64
	SeasonalityPriorScale float64
	NChangepoints         int
	ChangepointRange      float64
	YearlySeasonality     bool
	WeeklySeasonality     bool
	DailySeasonality      bool
	Freq                  time.Duration // spacing of future rows
}

// DefaultConfig mirrors the settings the pipeline has always used: 24 hourly
// steps, 95% intervals, changepoint prior 0.05 and all seasonalities on.
func DefaultConfig() Config {
	return Config{
		HorizonHours:          24,
		IntervalWidth:         0.95,
		ChangepointPriorScale: 0.05,
		SeasonalityPriorScale: 10,
		NChangepoints:         25,
		ChangepointRange:      0.8,
		YearlySeasonality:     true,
		WeeklySeasonality:     true,
		DailySeasonality:      true,
		Freq:                  time.Hour,
	}
}

// FromAppConfig maps the application configuration onto model settings.
func FromAppConfig(fc config.ForecastConfig) Config {
	cfg := DefaultConfig()
	cfg.HorizonHours = fc.HorizonHours
	cfg.IntervalWidth = fc.IntervalWidth
	cfg.ChangepointPriorScale = fc.ChangepointPriorScale
	cfg.SeasonalityPriorScale = fc.SeasonalityPriorScale
	cfg.NChangepoints = fc.NChangepoints
	cfg.ChangepointRange = fc.ChangepointRange
	cfg.YearlySeasonality = fc.YearlySeasonality
	cfg.WeeklySeasonality = fc.WeeklySeasonality
	cfg.DailySeasonality = fc.DailySeasonality
	return cfg
}

// Validate checks model settings.
func (c Config) Validate() error {
	switch {
	case c.HorizonHours < 0:
		return fmt.Errorf("horizon_hours must not be negative")
	case c.IntervalWidth <= 0 || c.IntervalWidth >= 1:
		return fmt.Errorf("interval_width must be between 0 and 1, got %v", c.IntervalWidth)
	case c.ChangepointPriorScale <= 0:
		return fmt.Errorf("changepoint_prior_scale must be positive")
	case c.SeasonalityPriorScale <= 0:
		return fmt.Errorf("seasonality_prior_scale must be positive")
	case c.NChangepoints < 0:
		return fmt.Errorf("n_changepoints must not be negative")
	case c.ChangepointRange <= 0 || c.ChangepointRange > 1:
		return fmt.Errorf("changepoint_range must be in (0, 1]")
	case c.Freq <= 0:
		return fmt.Errorf("freq must be positive")
	}
	return nil
}

// PrepareFrame converts a series into (ds, y) observations using the close
// price. Bars with a missing or non-finite close are dropped.
func PrepareFrame(series *models.Series) ([]models.Observation, error) {
	if series.IsEmpty() {
		return nil, apperrors.ErrNoData
	}

	obs := make([]models.Observation, 0, series.Len())
	for _, c := range series.Candles {
		y, ok := c.CloseFloat()
		if !ok || math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		obs = append(obs, models.Observation{DS: c.Timestamp, Y: y})
	}
	return obs, nil
}

// Forecaster runs prepare, fit and predict for one symbol.
type Forecaster struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a forecaster.
func New(cfg Config, logger *slog.Logger) (*Forecaster, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid forecast configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Forecaster{cfg: cfg, logger: logger}, nil
}

// Config returns the forecaster settings.
func (f *Forecaster) Config() Config {
	return f.cfg
}

// Forecast fits the series and predicts horizonHours ahead. A non-positive
// horizon uses the configured default.
func (f *Forecaster) Forecast(ctx context.Context, series *models.Series, horizonHours int) (*models.Forecast, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if horizonHours <= 0 {
		horizonHours = f.cfg.HorizonHours
	}

	obs, err := PrepareFrame(series)
	if err != nil {
		return nil, err
	}
	if dropped := series.Len() - len(obs); dropped > 0 {
		f.logger.Info("dropped observations with missing close",
			"symbol", series.Symbol,
			"dropped", dropped)
	}

	start := time.Now()
	model, err := Fit(obs, f.cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", series.Symbol, err)
	}

	result, err := model.Predict(horizonHours)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", series.Symbol, err)
	}
	result.Symbol = series.Symbol

	f.logger.Debug("forecast fitted",
		"symbol", series.Symbol,
		"observations", len(obs),
		"changepoints", len(model.changepoints),
		"sigma", model.Sigma(),
		"horizon_hours", horizonHours,
		"duration", time.Since(start))

	return result, nil
}
