package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/johnayoung/go-ohlcv-forecaster/internal/config"
	apperrors "github.com/johnayoung/go-ohlcv-forecaster/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSymbol   = "KRW-BTC"
	testInterval = "minute60"
)

// seriesEnd is the exclusive upper bound of the fake exchange history.
var seriesEnd = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testExchangeConfig(baseURL string) config.ExchangeConfig {
	cfg := config.DefaultConfig().Exchange
	cfg.BaseURL = baseURL
	cfg.RateLimit = 1000
	cfg.RetryInitialDelay = "1ms"
	cfg.RetryMaxDelay = "5ms"
	return cfg
}

func fakeCandle(ts time.Time) map[string]any {
	price := 50000000 + float64(ts.Hour())*1000
	return map[string]any{
		"market":                  testSymbol,
		"candle_date_time_utc":    ts.UTC().Format(upbitTimeLayout),
		"candle_date_time_kst":    ts.Add(9 * time.Hour).UTC().Format(upbitTimeLayout),
		"opening_price":           price,
		"high_price":              price + 5000,
		"low_price":               price - 5000,
		"trade_price":             price + 1000,
		"timestamp":               ts.UnixMilli(),
		"candle_acc_trade_price":  123456789.123,
		"candle_acc_trade_volume": 2.5,
		"unit":                    60,
	}
}

// newFakeUpbit serves `available` hourly bars ending at seriesEnd, newest
// first, honouring count and to the way the real endpoint does.
func newFakeUpbit(t *testing.T, available int, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		assert.Equal(t, "/v1/candles/minutes/60", r.URL.Path)
		assert.Equal(t, testSymbol, r.URL.Query().Get("market"))

		count, err := strconv.Atoi(r.URL.Query().Get("count"))
		require.NoError(t, err)
		assert.LessOrEqual(t, count, maxCandlesPerRequest)

		upper := seriesEnd
		if to := r.URL.Query().Get("to"); to != "" {
			upper, err = time.Parse(time.RFC3339, to)
			require.NoError(t, err)
		}
		oldest := seriesEnd.Add(-time.Duration(available) * time.Hour)

		page := make([]map[string]any, 0, count)
		for ts := upper.Add(-time.Hour); !ts.Before(oldest) && len(page) < count; ts = ts.Add(-time.Hour) {
			page = append(page, fakeCandle(ts))
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Remaining-Req", "group=candles; min=599; sec=9")
		require.NoError(t, json.NewEncoder(w).Encode(page))
	}))
}

func TestUpbitClient_FetchRecent(t *testing.T) {
	var calls int32
	server := newFakeUpbit(t, 1000, &calls)
	defer server.Close()

	client := NewUpbitClient(testExchangeConfig(server.URL), quietLogger())
	candles, err := client.FetchRecent(context.Background(), testSymbol, testInterval, 24)
	require.NoError(t, err)

	require.Len(t, candles, 24)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, seriesEnd.Add(-24*time.Hour), candles[0].Timestamp)
	assert.Equal(t, seriesEnd.Add(-time.Hour), candles[23].Timestamp)

	for i := 1; i < len(candles); i++ {
		assert.True(t, candles[i].Timestamp.After(candles[i-1].Timestamp), "ascending order")
	}

	first := candles[0]
	assert.Equal(t, testSymbol, first.Symbol)
	assert.Equal(t, testInterval, first.Interval)
	assert.Equal(t, "50000000", first.Open)
	assert.Equal(t, "50001000", first.Close)
	assert.Equal(t, "2.5", first.Volume)
	assert.Equal(t, "123456789.123", first.Value)
	assert.NoError(t, first.Validate())
}

func TestUpbitClient_FetchRecent_Pages(t *testing.T) {
	var calls int32
	server := newFakeUpbit(t, 1000, &calls)
	defer server.Close()

	client := NewUpbitClient(testExchangeConfig(server.URL), quietLogger())
	candles, err := client.FetchRecent(context.Background(), testSymbol, "1h", 450)
	require.NoError(t, err)

	require.Len(t, candles, 450)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	for i := 1; i < len(candles); i++ {
		require.Equal(t, time.Hour, candles[i].Timestamp.Sub(candles[i-1].Timestamp))
	}
	assert.Equal(t, seriesEnd.Add(-time.Hour), candles[len(candles)-1].Timestamp)
}

func TestUpbitClient_FetchRecent_ShortHistory(t *testing.T) {
	var calls int32
	server := newFakeUpbit(t, 250, &calls)
	defer server.Close()

	client := NewUpbitClient(testExchangeConfig(server.URL), quietLogger())
	candles, err := client.FetchRecent(context.Background(), testSymbol, testInterval, 4380)
	require.NoError(t, err)

	assert.Len(t, candles, 250)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "stops once a short page arrives")
}

func TestUpbitClient_FetchRecent_Empty(t *testing.T) {
	server := newFakeUpbit(t, 0, nil)
	defer server.Close()

	client := NewUpbitClient(testExchangeConfig(server.URL), quietLogger())
	_, err := client.FetchRecent(context.Background(), testSymbol, testInterval, 24)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrEmptyResponse)
	assert.Equal(t, apperrors.ErrorTypeNoData, apperrors.TypeOf(err))
}

func TestUpbitClient_FetchRecent_SkipsInvalidCandles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		good := fakeCandle(seriesEnd.Add(-time.Hour))
		bad := fakeCandle(seriesEnd.Add(-2 * time.Hour))
		bad["high_price"] = 1 // below open and close
		broken := fakeCandle(seriesEnd.Add(-3 * time.Hour))
		broken["candle_date_time_utc"] = "yesterday"
		_ = json.NewEncoder(w).Encode([]map[string]any{good, bad, broken})
	}))
	defer server.Close()

	client := NewUpbitClient(testExchangeConfig(server.URL), quietLogger())
	candles, err := client.FetchRecent(context.Background(), testSymbol, testInterval, 3)
	require.NoError(t, err)
	require.Len(t, candles, 1)
	assert.Equal(t, seriesEnd.Add(-time.Hour), candles[0].Timestamp)
}

func TestUpbitClient_Errors(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		maxRetries    int
		expectedCalls int32
		expectedType  apperrors.ErrorType
	}{
		{"server error without retries", http.StatusInternalServerError, 0, 1, apperrors.ErrorTypeServerError},
		{"server error with retries", http.StatusBadGateway, 2, 3, apperrors.ErrorTypeServerError},
		{"rate limited with retries", http.StatusTooManyRequests, 1, 2, apperrors.ErrorTypeRateLimit},
		{"unknown market is not retried", http.StatusNotFound, 3, 1, apperrors.ErrorTypeNotFound},
		{"bad request is not retried", http.StatusBadRequest, 3, 1, apperrors.ErrorTypeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.status)
				fmt.Fprintf(w, `{"error":{"name":"%d","message":"nope"}}`, tt.status)
			}))
			defer server.Close()

			cfg := testExchangeConfig(server.URL)
			cfg.MaxRetries = tt.maxRetries
			client := NewUpbitClient(cfg, quietLogger())

			_, err := client.FetchRecent(context.Background(), testSymbol, testInterval, 24)
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.expectedType, apperrors.TypeOf(err))
			assert.Equal(t, tt.expectedCalls, atomic.LoadInt32(&calls))
		})
	}
}

func TestUpbitClient_MalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer server.Close()

	client := NewUpbitClient(testExchangeConfig(server.URL), quietLogger())
	_, err := client.FetchRecent(context.Background(), testSymbol, testInterval, 24)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrorTypeParse, apperrors.TypeOf(err))
}

func TestUpbitClient_InvalidArguments(t *testing.T) {
	client := NewUpbitClient(testExchangeConfig("http://127.0.0.1:1"), quietLogger())

	_, err := client.FetchRecent(context.Background(), "", testInterval, 24)
	assert.Error(t, err)

	_, err = client.FetchRecent(context.Background(), testSymbol, testInterval, 0)
	assert.Error(t, err)

	_, err = client.FetchRecent(context.Background(), testSymbol, "minute7", 24)
	assert.ErrorContains(t, err, "unsupported interval")
}

func TestUpbitClient_ContextCancelled(t *testing.T) {
	server := newFakeUpbit(t, 100, nil)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewUpbitClient(testExchangeConfig(server.URL), quietLogger())
	_, err := client.FetchRecent(ctx, testSymbol, testInterval, 24)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestUpbitClient_GetLimits(t *testing.T) {
	cfg := testExchangeConfig("http://example.invalid")
	cfg.RateLimit = 8
	limits := NewUpbitClient(cfg, nil).GetLimits()
	assert.Equal(t, 8, limits.RequestsPerSecond)
	assert.Equal(t, 1, limits.BurstSize)
	assert.Equal(t, time.Second, limits.WindowDuration)
}
