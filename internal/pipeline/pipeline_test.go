package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	apperrors "github.com/johnayoung/go-ohlcv-forecaster/internal/errors"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/logger"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/metrics"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var day = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type mockAggregator struct{ mock.Mock }

func (m *mockAggregator) Aggregate(ctx context.Context, symbol string, lookbackDays int) (*models.Series, error) {
	args := m.Called(ctx, symbol, lookbackDays)
	s, _ := args.Get(0).(*models.Series)
	return s, args.Error(1)
}

type mockForecaster struct{ mock.Mock }

func (m *mockForecaster) Forecast(ctx context.Context, series *models.Series, horizonHours int) (*models.Forecast, error) {
	args := m.Called(ctx, series, horizonHours)
	fc, _ := args.Get(0).(*models.Forecast)
	return fc, args.Error(1)
}

type mockFetcher struct{ mock.Mock }

func (m *mockFetcher) FetchRecent(ctx context.Context, symbol, interval string, count int) ([]models.Candle, error) {
	args := m.Called(ctx, symbol, interval, count)
	c, _ := args.Get(0).([]models.Candle)
	return c, args.Error(1)
}

type mockCollector struct{ mock.Mock }

func (m *mockCollector) TargetDate() time.Time { return day }

func (m *mockCollector) CollectDaily(ctx context.Context, date time.Time) (*models.CollectionReport, error) {
	args := m.Called(ctx, date)
	r, _ := args.Get(0).(*models.CollectionReport)
	return r, args.Error(1)
}

type recordingPresenter struct {
	presented   []string
	collections int
}

func (p *recordingPresenter) Present(fc *models.Forecast) models.ForecastSummary {
	p.presented = append(p.presented, fc.Symbol)
	s := fc.Summarize()
	s.PlotPath = "plots/" + fc.Symbol + ".png"
	return s
}

func (p *recordingPresenter) PrintCollection(*models.CollectionReport) { p.collections++ }

type recordingRecorder struct {
	summaries []models.ForecastSummary
	err       error
}

func (r *recordingRecorder) RecordForecast(_ context.Context, s models.ForecastSummary) error {
	r.summaries = append(r.summaries, s)
	return r.err
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func series(symbol string) *models.Series {
	return models.NewSeries(symbol, []models.Candle{
		{Timestamp: day.Add(-2 * time.Hour), Close: "100"},
		{Timestamp: day.Add(-time.Hour), Close: "101"},
	})
}

func forecastFor(symbol string) *models.Forecast {
	return &models.Forecast{
		Symbol:       symbol,
		HorizonHours: 1,
		Observations: []models.Observation{{DS: day.Add(-time.Hour), Y: 101}},
		Points: []models.ForecastPoint{
			{DS: day.Add(-time.Hour), YHat: 101, YHatLower: 100, YHatUpper: 102},
			{DS: day, YHat: 102, YHatLower: 100, YHatUpper: 104, Future: true},
		},
	}
}

func TestNew_Validation(t *testing.T) {
	agg, fc := &mockAggregator{}, &mockForecaster{}

	_, err := New(nil, fc, Options{}, quiet())
	assert.Error(t, err)
	_, err = New(agg, nil, Options{}, quiet())
	assert.Error(t, err)
	_, err = New(agg, fc, Options{Source: "s3"}, quiet())
	assert.Error(t, err)
	_, err = New(agg, fc, Options{Source: SourceExchange}, quiet())
	assert.Error(t, err)

	p, err := New(agg, fc, Options{}, nil)
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, p.opts.Source)
}

func TestSeries_Local(t *testing.T) {
	agg := &mockAggregator{}
	agg.On("Aggregate", mock.Anything, "KRW-BTC", 180).Return(series("KRW-BTC"), nil).Once()
	agg.On("Aggregate", mock.Anything, "KRW-BTC", 7).Return(series("KRW-BTC"), nil).Once()

	p, err := New(agg, &mockForecaster{}, Options{LookbackDays: 180}, quiet())
	require.NoError(t, err)

	s, err := p.Series(context.Background(), "KRW-BTC", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	_, err = p.Series(context.Background(), "KRW-BTC", 7)
	require.NoError(t, err)
	agg.AssertExpectations(t)
}

func TestSeries_Exchange(t *testing.T) {
	fetcher := &mockFetcher{}
	fetcher.On("FetchRecent", mock.Anything, "KRW-BTC", "minute60", 4380).Return(series("KRW-BTC").Candles, nil)
	fetcher.On("FetchRecent", mock.Anything, "KRW-DOGE", "minute60", 4380).Return([]models.Candle{}, nil)

	agg := &mockAggregator{}
	p, err := New(agg, &mockForecaster{},
		Options{Source: SourceExchange, FetchCount: 4380, Interval: "minute60"}, quiet(), WithFetcher(fetcher))
	require.NoError(t, err)

	s, err := p.Series(context.Background(), "KRW-BTC", 0)
	require.NoError(t, err)
	assert.Equal(t, "KRW-BTC", s.Symbol)

	_, err = p.Series(context.Background(), "KRW-DOGE", 0)
	assert.ErrorIs(t, err, apperrors.ErrNoData)
	agg.AssertNotCalled(t, "Aggregate", mock.Anything, mock.Anything, mock.Anything)
}

func TestForecast_TimesStages(t *testing.T) {
	agg := &mockAggregator{}
	agg.On("Aggregate", mock.Anything, "KRW-BTC", 30).Return(series("KRW-BTC"), nil)
	agg.On("Aggregate", mock.Anything, "KRW-NEW", 30).Return(nil, fmt.Errorf("KRW-NEW: %w", apperrors.ErrNoData))
	fc := &mockForecaster{}
	fc.On("Forecast", mock.Anything, mock.Anything, 1).Return(forecastFor("KRW-BTC"), nil)

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p, err := New(agg, fc, Options{LookbackDays: 30}, log)
	require.NoError(t, err)

	got, err := p.Forecast(context.Background(), "KRW-BTC", 1)
	require.NoError(t, err)
	assert.Equal(t, "KRW-BTC", got.Symbol)

	out := buf.String()
	assert.Contains(t, out, "symbol=KRW-BTC operation=series")
	assert.Contains(t, out, "symbol=KRW-BTC operation=forecast")
	assert.Equal(t, 2, strings.Count(out, "operation completed"))

	buf.Reset()
	_, err = p.Forecast(context.Background(), "KRW-NEW", 1)
	assert.ErrorIs(t, err, apperrors.ErrNoData)
	assert.Contains(t, buf.String(), "operation failed")
	assert.NotContains(t, buf.String(), "operation=forecast")
	assert.NotContains(t, buf.String(), "level=ERROR")
}

func TestForecastAll_ContinuesPastFailures(t *testing.T) {
	agg := &mockAggregator{}
	agg.On("Aggregate", mock.Anything, "KRW-BTC", 30).Return(series("KRW-BTC"), nil)
	agg.On("Aggregate", mock.Anything, "KRW-NEW", 30).Return(nil, fmt.Errorf("KRW-NEW: %w", apperrors.ErrNoData))
	agg.On("Aggregate", mock.Anything, "KRW-ETH", 30).Return(series("KRW-ETH"), nil)

	fc := &mockForecaster{}
	fc.On("Forecast", mock.Anything, mock.MatchedBy(func(s *models.Series) bool { return s.Symbol == "KRW-BTC" }), 24).
		Return(forecastFor("KRW-BTC"), nil)
	fc.On("Forecast", mock.Anything, mock.MatchedBy(func(s *models.Series) bool { return s.Symbol == "KRW-ETH" }), 24).
		Return(nil, apperrors.ErrInsufficientData)

	pr := &recordingPresenter{}
	rec := &recordingRecorder{err: errors.New("disk full")}

	p, err := New(agg, fc, Options{Symbols: []string{"KRW-BTC", "KRW-NEW", "KRW-ETH"}, LookbackDays: 30}, quiet(),
		WithPresenter(pr), WithRecorder(rec))
	require.NoError(t, err)

	ctx := logger.WithRunID(context.Background(), "run-42")
	outcomes := p.ForecastAll(ctx, 24)
	require.Len(t, outcomes, 3)

	assert.NoError(t, outcomes[0].Err)
	assert.NotNil(t, outcomes[0].Forecast)
	assert.Equal(t, "plots/KRW-BTC.png", outcomes[0].Summary.PlotPath)
	assert.Equal(t, 102.0, outcomes[0].Summary.NextYHat)
	assert.ErrorIs(t, outcomes[1].Err, apperrors.ErrNoData)
	assert.ErrorIs(t, outcomes[2].Err, apperrors.ErrInsufficientData)

	assert.Equal(t, []string{"KRW-BTC"}, pr.presented)
	require.Len(t, rec.summaries, 1)
	assert.Equal(t, "run-42", rec.summaries[0].RunID)
}

func TestForecastAll_Cancelled(t *testing.T) {
	p, err := New(&mockAggregator{}, &mockForecaster{}, Options{Symbols: []string{"KRW-BTC", "KRW-ETH"}}, quiet())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcomes := p.ForecastAll(ctx, 24)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
}

func TestRunDaily(t *testing.T) {
	report := &models.CollectionReport{RunID: "run-7", Date: day}

	col := &mockCollector{}
	col.On("CollectDaily", mock.Anything, day).Return(report, nil)

	agg := &mockAggregator{}
	agg.On("Aggregate", mock.Anything, "KRW-BTC", 180).Return(series("KRW-BTC"), nil)
	fc := &mockForecaster{}
	fc.On("Forecast", mock.Anything, mock.Anything, 24).Return(forecastFor("KRW-BTC"), nil)

	pr := &recordingPresenter{}
	rec := &recordingRecorder{}
	mc := metrics.NewMetricsCollector()
	p, err := New(agg, fc, Options{Symbols: []string{"KRW-BTC"}, LookbackDays: 180, ForecastAfterCollect: true}, quiet(),
		WithCollector(col), WithPresenter(pr), WithRecorder(rec), WithObserver(mc))
	require.NoError(t, err)

	got, outcomes, err := p.RunDaily(context.Background(), 24)
	require.NoError(t, err)
	assert.Same(t, report, got)
	assert.Equal(t, 1, pr.collections)
	require.Len(t, outcomes, 1)
	require.Len(t, rec.summaries, 1)
	assert.Equal(t, "run-7", rec.summaries[0].RunID)

	runs, _ := mc.Value(metrics.CollectionRunsTotal, nil)
	assert.Equal(t, 1.0, runs)
	ok, _ := mc.Value(metrics.ForecastsTotal, map[string]string{"symbol": "KRW-BTC", "status": "succeeded"})
	assert.Equal(t, 1.0, ok)
}

func TestRunDaily_CollectOnly(t *testing.T) {
	col := &mockCollector{}
	col.On("CollectDaily", mock.Anything, day).Return(&models.CollectionReport{RunID: "r"}, nil)

	agg := &mockAggregator{}
	p, err := New(agg, &mockForecaster{}, Options{Symbols: []string{"KRW-BTC"}}, quiet(), WithCollector(col))
	require.NoError(t, err)

	_, outcomes, err := p.RunDaily(context.Background(), 24)
	require.NoError(t, err)
	assert.Nil(t, outcomes)
	agg.AssertNotCalled(t, "Aggregate", mock.Anything, mock.Anything, mock.Anything)

	p, err = New(agg, &mockForecaster{}, Options{}, quiet())
	require.NoError(t, err)
	_, _, err = p.RunDaily(context.Background(), 24)
	assert.Error(t, err)
}
