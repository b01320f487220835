package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/config"
	apperrors "github.com/johnayoung/go-ohlcv-forecaster/internal/errors"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	// Upbit serves at most 200 candles per request.
	maxCandlesPerRequest = 200

	rateLimitBurst  = 1
	rateLimitWindow = time.Second

	retryMultiplier = 2.0
	retryJitter     = 0.5

	upbitTimeLayout = "2006-01-02T15:04:05"
)

// UpbitClient reads candles from the Upbit public quotation API.
type UpbitClient struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	logger      *slog.Logger

	requestsPerSecond int
	maxRetries        int
	initialDelay      time.Duration
	maxDelay          time.Duration
}

// NewUpbitClient creates a client from the exchange configuration.
// MaxRetries of zero means every request is attempted exactly once.
func NewUpbitClient(cfg config.ExchangeConfig, logger *slog.Logger) *UpbitClient {
	if logger == nil {
		logger = slog.Default()
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 1
	}
	timeout := cfg.HTTPTimeout()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &UpbitClient{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		rateLimiter:       rate.NewLimiter(rate.Limit(rps), rateLimitBurst),
		baseURL:           strings.TrimRight(cfg.BaseURL, "/"),
		logger:            logger.With("exchange", "upbit"),
		requestsPerSecond: rps,
		maxRetries:        cfg.MaxRetries,
		initialDelay:      cfg.InitialDelay(),
		maxDelay:          cfg.MaxDelay(),
	}
}

// FetchRecent implements CandleFetcher. Requests larger than one page walk
// backwards in time using the oldest bar of the previous page as the upper
// bound of the next one.
func (c *UpbitClient) FetchRecent(ctx context.Context, symbol, interval string, count int) ([]models.Candle, error) {
	if symbol == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", count)
	}
	iv, err := ParseInterval(interval)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("fetching candles",
		"symbol", symbol,
		"interval", iv.Name,
		"count", count)

	seen := make(map[int64]struct{}, count)
	all := make([]models.Candle, 0, count)
	to := ""

	for remaining := count; remaining > 0; {
		pageSize := remaining
		if pageSize > maxCandlesPerRequest {
			pageSize = maxCandlesPerRequest
		}

		page, err := c.fetchPage(ctx, iv.Path, symbol, pageSize, to)
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}

		for _, raw := range page {
			candle, err := raw.toModel(symbol, iv.Name)
			if err != nil {
				c.logger.Warn("failed to convert candle, skipping",
					"symbol", symbol,
					"candle_time", raw.CandleDateTimeUTC,
					"error", err)
				continue
			}
			key := candle.Timestamp.UnixNano()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			all = append(all, *candle)
		}

		remaining -= len(page)
		if len(page) < pageSize {
			break
		}
		// Pages come newest first so the last entry is the oldest.
		to = page[len(page)-1].CandleDateTimeUTC + "Z"
	}

	if len(all) == 0 {
		return nil, fmt.Errorf("%s %s: %w", symbol, iv.Name, apperrors.ErrEmptyResponse)
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})

	c.logger.Debug("fetched candles",
		"symbol", symbol,
		"count", len(all),
		"first", all[0].Timestamp,
		"last", all[len(all)-1].Timestamp)

	return all, nil
}

// GetLimits implements RateLimitInfo.
func (c *UpbitClient) GetLimits() RateLimit {
	return RateLimit{
		RequestsPerSecond: c.requestsPerSecond,
		BurstSize:         rateLimitBurst,
		WindowDuration:    rateLimitWindow,
	}
}

// WaitForLimit implements RateLimitInfo.
func (c *UpbitClient) WaitForLimit(ctx context.Context) error {
	return c.rateLimiter.Wait(ctx)
}

func (c *UpbitClient) fetchPage(ctx context.Context, path, symbol string, count int, to string) ([]upbitCandle, error) {
	params := url.Values{}
	params.Set("market", symbol)
	params.Set("count", strconv.Itoa(count))
	if to != "" {
		params.Set("to", to)
	}
	requestURL := c.baseURL + path + "?" + params.Encode()

	body, err := c.get(ctx, requestURL)
	if err != nil {
		return nil, err
	}

	var page []upbitCandle
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &apperrors.ParseError{Source: requestURL, Err: err}
	}
	return page, nil
}

// get performs a GET through the rate limiter and the backoff policy and
// returns the response body of the successful attempt.
func (c *UpbitClient) get(ctx context.Context, requestURL string) ([]byte, error) {
	var body []byte

	operation := func() error {
		if err := c.WaitForLimit(ctx); err != nil {
			return backoff.Permanent(fmt.Errorf("rate limit wait failed: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "go-ohlcv-forecaster/1.0")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return c.retryable(fmt.Errorf("request failed: %w", err))
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return c.retryable(fmt.Errorf("failed to read response body: %w", err))
		}

		if remaining := resp.Header.Get("Remaining-Req"); remaining != "" {
			c.logger.Debug("rate limit status", "remaining_req", remaining)
		}

		if resp.StatusCode >= 400 {
			return c.retryable(&APIError{
				StatusCode: resp.StatusCode,
				URL:        requestURL,
				Body:       string(bytes.TrimSpace(data)),
			})
		}

		body = data
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("request failed, retrying",
			"url", requestURL,
			"retry_in", wait,
			"error", err)
	}

	if err := backoff.RetryNotify(operation, c.newBackOff(ctx), notify); err != nil {
		return nil, err
	}
	return body, nil
}

// retryable marks err permanent unless its classification allows another try.
func (c *UpbitClient) retryable(err error) error {
	if apperrors.IsRetryable(err) {
		return err
	}
	return backoff.Permanent(err)
}

func (c *UpbitClient) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.initialDelay > 0 {
		b.InitialInterval = c.initialDelay
	}
	if c.maxDelay > 0 {
		b.MaxInterval = c.maxDelay
	}
	b.Multiplier = retryMultiplier
	b.RandomizationFactor = retryJitter
	b.MaxElapsedTime = 0 // rely on context and max retries

	retries := c.maxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// upbitCandle is one element of the candles endpoint response.
// Numbers are kept as json.Number so prices keep the exchange's precision.
type upbitCandle struct {
	Market               string      `json:"market"`
	CandleDateTimeUTC    string      `json:"candle_date_time_utc"`
	CandleDateTimeKST    string      `json:"candle_date_time_kst"`
	OpeningPrice         json.Number `json:"opening_price"`
	HighPrice            json.Number `json:"high_price"`
	LowPrice             json.Number `json:"low_price"`
	TradePrice           json.Number `json:"trade_price"`
	Timestamp            int64       `json:"timestamp"`
	CandleAccTradePrice  json.Number `json:"candle_acc_trade_price"`
	CandleAccTradeVolume json.Number `json:"candle_acc_trade_volume"`
	Unit                 int         `json:"unit,omitempty"`
}

func (u upbitCandle) toModel(symbol, interval string) (*models.Candle, error) {
	ts, err := time.ParseInLocation(upbitTimeLayout, u.CandleDateTimeUTC, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid candle_date_time_utc %q: %w", u.CandleDateTimeUTC, err)
	}

	fields := []json.Number{u.OpeningPrice, u.HighPrice, u.LowPrice, u.TradePrice, u.CandleAccTradeVolume}
	values := make([]string, len(fields))
	for i, n := range fields {
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", n, err)
		}
		values[i] = d.String()
	}

	candle, err := models.NewCandle(ts, values[0], values[1], values[2], values[3], values[4], symbol, interval)
	if err != nil {
		return nil, err
	}

	if u.CandleAccTradePrice != "" {
		if d, err := decimal.NewFromString(u.CandleAccTradePrice.String()); err == nil {
			candle.Value = d.String()
		}
	}
	return candle, nil
}
