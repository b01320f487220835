package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	apperrors "github.com/johnayoung/go-ohlcv-forecaster/internal/errors"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/exchange"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchRecent(ctx context.Context, symbol, interval string, count int) ([]models.Candle, error) {
	args := m.Called(ctx, symbol, interval, count)
	candles, _ := args.Get(0).([]models.Candle)
	return candles, args.Error(1)
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordCollection(ctx context.Context, report *models.CollectionReport) error {
	return m.Called(ctx, report).Error(0)
}

var _ exchange.CandleFetcher = (*mockFetcher)(nil)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bars(symbol string, start time.Time, n int, close string) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      "100", High: "110", Low: "90", Close: close, Volume: "3",
			Symbol: symbol, Interval: DefaultInterval,
		}
	}
	return out
}

type fixture struct {
	fetcher *mockFetcher
	store   *snapshot.Store
	date    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	return &fixture{
		fetcher: &mockFetcher{},
		store:   snapshot.NewStore(t.TempDir(), loc, quiet()),
		date:    time.Date(2024, 5, 1, 0, 0, 0, 0, loc),
	}
}

func (f *fixture) collector(t *testing.T, symbols []string, opts ...Option) *Collector {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Symbols = symbols
	cfg.Logger = quiet()
	c, err := New(f.fetcher, f.store, cfg, opts...)
	require.NoError(t, err)
	return c
}

func TestCollectDaily_WritesEverySymbol(t *testing.T) {
	f := newFixture(t)
	symbols := []string{"KRW-BTC", "KRW-ETH"}
	for _, s := range symbols {
		f.fetcher.On("FetchRecent", mock.Anything, s, DefaultInterval, DefaultCount).
			Return(bars(s, f.date, 24, "105"), nil).Once()
	}

	report, err := f.collector(t, symbols).CollectDaily(context.Background(), f.date)
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Succeeded())
	assert.Equal(t, 0, report.Failed())
	for i, s := range symbols {
		res := report.Results[i]
		assert.Equal(t, s, res.Symbol)
		assert.Equal(t, models.StatusSucceeded, res.Status)
		assert.Equal(t, 24, res.Bars)
		assert.Equal(t, f.store.Path(s, f.date), res.Path)
		assert.FileExists(t, res.Path)
	}
	f.fetcher.AssertExpectations(t)
}

func TestCollectDaily_FailureDoesNotStopOthers(t *testing.T) {
	f := newFixture(t)
	symbols := []string{"KRW-BTC", "KRW-DOGE", "KRW-ETH"}

	f.fetcher.On("FetchRecent", mock.Anything, "KRW-BTC", DefaultInterval, DefaultCount).
		Return(bars("KRW-BTC", f.date, 24, "1"), nil)
	f.fetcher.On("FetchRecent", mock.Anything, "KRW-DOGE", DefaultInterval, DefaultCount).
		Return(nil, &exchange.APIError{StatusCode: 404, URL: "/v1/candles/minutes/60", Body: "Code not found"})
	f.fetcher.On("FetchRecent", mock.Anything, "KRW-ETH", DefaultInterval, DefaultCount).
		Return(bars("KRW-ETH", f.date, 24, "1"), nil)

	report, err := f.collector(t, symbols).CollectDaily(context.Background(), f.date)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Succeeded())
	assert.Equal(t, 1, report.Failed())

	failed := report.Results[1]
	assert.Equal(t, "KRW-DOGE", failed.Symbol)
	assert.Equal(t, models.StatusFailed, failed.Status)
	assert.Equal(t, string(apperrors.ErrorTypeNotFound), failed.ErrorType)
	assert.False(t, f.store.Exists("KRW-DOGE", f.date))
	assert.True(t, f.store.Exists("KRW-ETH", f.date))
}

func TestCollectDaily_EmptyResultIsFailure(t *testing.T) {
	f := newFixture(t)
	f.fetcher.On("FetchRecent", mock.Anything, "KRW-BTC", DefaultInterval, DefaultCount).
		Return([]models.Candle{}, nil)

	report, err := f.collector(t, []string{"KRW-BTC"}).CollectDaily(context.Background(), f.date)
	require.NoError(t, err)

	res := report.Results[0]
	assert.Equal(t, models.StatusFailed, res.Status)
	assert.Equal(t, string(apperrors.ErrorTypeNoData), res.ErrorType)
	assert.False(t, f.store.Exists("KRW-BTC", f.date))
}

func TestCollectDaily_RerunOverwrites(t *testing.T) {
	f := newFixture(t)
	f.fetcher.On("FetchRecent", mock.Anything, "KRW-BTC", DefaultInterval, DefaultCount).
		Return(bars("KRW-BTC", f.date, 24, "100"), nil).Once()
	f.fetcher.On("FetchRecent", mock.Anything, "KRW-BTC", DefaultInterval, DefaultCount).
		Return(bars("KRW-BTC", f.date.Add(time.Hour), 24, "200"), nil).Once()

	c := f.collector(t, []string{"KRW-BTC"})
	_, err := c.CollectDaily(context.Background(), f.date)
	require.NoError(t, err)
	_, err = c.CollectDaily(context.Background(), f.date)
	require.NoError(t, err)

	loaded, err := f.store.Load("KRW-BTC", f.date)
	require.NoError(t, err)
	require.Len(t, loaded, 24)
	assert.Equal(t, "200", loaded[0].Close)
	assert.True(t, loaded[0].Timestamp.Equal(f.date.Add(time.Hour)))
}

func TestCollectDaily_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	f.fetcher.On("FetchRecent", mock.Anything, "KRW-BTC", DefaultInterval, DefaultCount).
		Run(func(mock.Arguments) { cancel() }).
		Return(bars("KRW-BTC", f.date, 24, "1"), nil)

	report, err := f.collector(t, []string{"KRW-BTC", "KRW-ETH"}).CollectDaily(ctx, f.date)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Results, 2)
	assert.Equal(t, models.StatusSucceeded, report.Results[0].Status)
	assert.Equal(t, models.StatusSkipped, report.Results[1].Status)
	f.fetcher.AssertNotCalled(t, "FetchRecent", mock.Anything, "KRW-ETH", mock.Anything, mock.Anything)
}

func TestCollectDaily_Recorder(t *testing.T) {
	f := newFixture(t)
	f.fetcher.On("FetchRecent", mock.Anything, "KRW-BTC", DefaultInterval, DefaultCount).
		Return(bars("KRW-BTC", f.date, 24, "1"), nil)

	rec := &mockRecorder{}
	rec.On("RecordCollection", mock.Anything, mock.MatchedBy(func(r *models.CollectionReport) bool {
		return r.Succeeded() == 1 && r.Date.Equal(f.date)
	})).Return(errors.New("disk full"))

	report, err := f.collector(t, []string{"KRW-BTC"}, WithRecorder(rec)).CollectDaily(context.Background(), f.date)
	require.NoError(t, err, "recorder failures never fail the run")
	assert.Equal(t, 1, report.Succeeded())
	rec.AssertExpectations(t)
}

func TestCollectDaily_DebugLogsReport(t *testing.T) {
	f := newFixture(t)
	f.fetcher.On("FetchRecent", mock.Anything, "KRW-BTC", DefaultInterval, DefaultCount).
		Return(bars("KRW-BTC", f.date, 24, "1"), nil)

	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Symbols = []string{"KRW-BTC"}
	cfg.Logger = slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c, err := New(f.fetcher, f.store, cfg)
	require.NoError(t, err)

	report, err := c.CollectDaily(context.Background(), f.date)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"collection report"`)
	assert.Contains(t, buf.String(), report.RunID)
}

func TestTargetDate(t *testing.T) {
	f := newFixture(t)
	// 00:30 in Seoul on May 2 is still May 1 in UTC.
	now := time.Date(2024, 5, 1, 15, 30, 0, 0, time.UTC)

	c := f.collector(t, []string{"KRW-BTC"}, WithClock(func() time.Time { return now }))
	assert.True(t, c.TargetDate().Equal(f.date), "yesterday in Seoul, got %s", c.TargetDate())
}

func TestNew_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no symbols", func(c *Config) { c.Symbols = nil }},
		{"zero count", func(c *Config) { c.Count = 0 }},
		{"negative offset", func(c *Config) { c.DayOffset = -1 }},
		{"bad interval", func(c *Config) { c.Interval = "fortnight" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			_, err := New(f.fetcher, f.store, cfg)
			assert.Error(t, err)
		})
	}

	_, err := New(nil, f.store, nil)
	assert.Error(t, err)
	_, err = New(f.fetcher, nil, nil)
	assert.Error(t, err)

	c, err := New(f.fetcher, f.store, nil)
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func ExampleCollector_TargetDate() {
	store := snapshot.NewStore("data", time.UTC, nil)
	c, _ := New(&mockFetcher{}, store, nil, WithClock(func() time.Time {
		return time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)
	}))
	fmt.Println(store.Filename("KRW-BTC", c.TargetDate()))
	// Output: KRW-BTC_20240101.csv
}
