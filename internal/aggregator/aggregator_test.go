package aggregator

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	apperrors "github.com/johnayoung/go-ohlcv-forecaster/internal/errors"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/snapshot"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSymbol = "KRW-BTC"

type fixture struct {
	store *snapshot.Store
	today time.Time
	agg   *Aggregator
	logs  *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := snapshot.NewStore(t.TempDir(), loc, quiet)
	now := time.Date(2024, 6, 30, 15, 30, 0, 0, loc)
	today := time.Date(2024, 6, 30, 0, 0, 0, 0, loc)

	logs := &bytes.Buffer{}
	agg := New(store, slog.New(slog.NewTextHandler(logs, nil)), WithClock(func() time.Time { return now }))
	return &fixture{store: store, today: today, agg: agg, logs: logs}
}

// writeDay stores n hourly bars starting at start under the file for day.
func (f *fixture) writeDay(t *testing.T, day, start time.Time, n int, close string) {
	t.Helper()
	candles := make([]models.Candle, n)
	for i := range candles {
		candles[i] = models.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      "100", High: "110", Low: "90", Close: close, Volume: "1",
			Symbol: testSymbol, Interval: "minute60",
		}
	}
	_, err := f.store.Write(testSymbol, day, candles)
	require.NoError(t, err)
}

func TestAggregate_NoFiles(t *testing.T) {
	f := newFixture(t)

	series, err := f.agg.Aggregate(context.Background(), testSymbol, 180)
	require.Error(t, err)
	assert.Nil(t, series)
	assert.ErrorIs(t, err, apperrors.ErrNoData)
}

func TestAggregate_DeduplicatesAndSorts(t *testing.T) {
	f := newFixture(t)
	d1 := f.today.AddDate(0, 0, -2)
	d2 := f.today.AddDate(0, 0, -1)

	// Both files cover 12 overlapping hours on d1.
	f.writeDay(t, d1, d1, 24, "1")
	f.writeDay(t, d2, d1.Add(12*time.Hour), 24, "2")

	series, err := f.agg.Aggregate(context.Background(), testSymbol, 180)
	require.NoError(t, err)

	require.Equal(t, 36, series.Len())
	for i := 1; i < series.Len(); i++ {
		assert.True(t, series.Candles[i].Timestamp.After(series.Candles[i-1].Timestamp),
			"bar %d must be strictly after bar %d", i, i-1)
	}
	assert.True(t, series.First().Timestamp.Equal(d1))

	// Overlapping hours come from the later file.
	for _, c := range series.Candles {
		if !c.Timestamp.Before(d1.Add(12 * time.Hour)) {
			assert.Equal(t, "2", c.Close, "at %s", c.Timestamp)
		} else {
			assert.Equal(t, "1", c.Close, "at %s", c.Timestamp)
		}
	}
	assert.Equal(t, []string{f.store.Path(testSymbol, d1), f.store.Path(testSymbol, d2)}, series.Files)
}

func TestAggregate_OnlyWindowFiles(t *testing.T) {
	f := newFixture(t)
	lookback := 7

	oldest := f.today.AddDate(0, 0, -(lookback - 1))
	outside := f.today.AddDate(0, 0, -lookback)
	future := f.today.AddDate(0, 0, 1)

	f.writeDay(t, outside, outside, 24, "0")
	f.writeDay(t, oldest, oldest, 24, "1")
	f.writeDay(t, f.today, f.today, 10, "2")
	f.writeDay(t, future, future, 24, "3")

	series, err := f.agg.Aggregate(context.Background(), testSymbol, lookback)
	require.NoError(t, err)

	assert.Equal(t, 34, series.Len())
	assert.True(t, series.First().Timestamp.Equal(oldest))
	for _, c := range series.Candles {
		assert.NotEqual(t, "0", c.Close)
		assert.NotEqual(t, "3", c.Close)
	}
	assert.Len(t, series.Files, 2)
}

func TestAggregate_SkipsCorruptFile(t *testing.T) {
	f := newFixture(t)
	good := f.today.AddDate(0, 0, -1)
	bad := f.today.AddDate(0, 0, -3)

	f.writeDay(t, good, good, 24, "5")
	require.NoError(t, os.WriteFile(f.store.Path(testSymbol, bad), []byte("timestamp,open\ngarbage"), 0644))

	series, err := f.agg.Aggregate(context.Background(), testSymbol, 180)
	require.NoError(t, err)
	assert.Equal(t, 24, series.Len())

	out := f.logs.String()
	assert.Contains(t, out, "skipping unreadable snapshot")
	assert.Contains(t, out, f.store.Path(testSymbol, bad))
	assert.Contains(t, out, "symbol="+testSymbol)
}

func TestAggregate_AllCorrupt(t *testing.T) {
	f := newFixture(t)
	day := f.today.AddDate(0, 0, -1)
	require.NoError(t, os.WriteFile(f.store.Path(testSymbol, day), []byte("nonsense"), 0644))

	_, err := f.agg.Aggregate(context.Background(), testSymbol, 30)
	assert.ErrorIs(t, err, apperrors.ErrNoData)
}

func TestAggregate_OtherSymbolsIgnored(t *testing.T) {
	f := newFixture(t)
	day := f.today.AddDate(0, 0, -1)
	_, err := f.store.Write("KRW-ETH", day, []models.Candle{{
		Timestamp: day, Open: "1", High: "1", Low: "1", Close: "1", Volume: "1",
		Symbol: "KRW-ETH", Interval: "minute60",
	}})
	require.NoError(t, err)

	_, err = f.agg.Aggregate(context.Background(), testSymbol, 30)
	assert.ErrorIs(t, err, apperrors.ErrNoData)
}

func TestAggregate_ReportsGaps(t *testing.T) {
	f := newFixture(t)
	d1 := f.today.AddDate(0, 0, -3)
	d2 := f.today.AddDate(0, 0, -1)
	f.writeDay(t, d1, d1, 24, "1")
	f.writeDay(t, d2, d2, 24, "1")

	series, err := f.agg.Aggregate(context.Background(), testSymbol, 30)
	require.NoError(t, err)
	assert.Len(t, series.Gaps(time.Hour), 1)
	assert.Contains(t, f.logs.String(), "missing_bars=24")
}

func TestAggregate_ContextCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.agg.Aggregate(ctx, testSymbol, 30)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWindowDates(t *testing.T) {
	f := newFixture(t)

	dates := f.agg.WindowDates(180)
	require.Len(t, dates, 180)
	assert.True(t, dates[179].Equal(f.today))
	assert.True(t, dates[0].Equal(f.today.AddDate(0, 0, -179)))

	assert.Len(t, f.agg.WindowDates(1), 1)
}
