// Package exchange defines the read-only market data client used by the
// collector and the exchange-backed forecast.
//
// Only public quotation endpoints are used. Nothing in this package places
// orders or needs credentials.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-forecaster/internal/config"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
)

// CandleFetcher retrieves OHLCV candle data from an exchange.
type CandleFetcher interface {
	// FetchRecent returns up to count of the most recent bars for symbol at
	// the given interval, oldest first.
	//
	// An exchange answer with no bars is reported as errors.ErrEmptyResponse
	// rather than an empty slice, so the caller never writes an empty snapshot.
	FetchRecent(ctx context.Context, symbol, interval string, count int) ([]models.Candle, error)
}

// RateLimit describes the client side request pacing.
type RateLimit struct {
	RequestsPerSecond int           `json:"requests_per_second"`
	BurstSize         int           `json:"burst_size"`
	WindowDuration    time.Duration `json:"window_duration"`
}

// RateLimitInfo provides rate limiting information and management.
type RateLimitInfo interface {
	// GetLimits returns the current rate limiting configuration.
	GetLimits() RateLimit

	// WaitForLimit blocks until the rate limit allows another request.
	WaitForLimit(ctx context.Context) error
}

// Exchange is the full client surface.
type Exchange interface {
	CandleFetcher
	RateLimitInfo
}

// APIError is a non-2xx answer from the exchange.
type APIError struct {
	StatusCode int
	URL        string
	Body       string
}

// Error implements the error interface
func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("exchange returned status %d for %s: %s", e.StatusCode, e.URL, body)
}

// HTTPStatus exposes the status code for error classification.
func (e *APIError) HTTPStatus() int {
	return e.StatusCode
}

// Interval is a resolved bar size.
type Interval struct {
	Name string        // canonical name, e.g. minute60
	Path string        // endpoint path relative to the API root
	Step time.Duration // bar length
}

var minuteUnits = []int{1, 3, 5, 10, 15, 30, 60, 240}

var intervalAliases = map[string]string{
	"1m":    "minute1",
	"3m":    "minute3",
	"5m":    "minute5",
	"10m":   "minute10",
	"15m":   "minute15",
	"30m":   "minute30",
	"1h":    "minute60",
	"60m":   "minute60",
	"4h":    "minute240",
	"1d":    "day",
	"d":     "day",
	"days":  "day",
	"1w":    "week",
	"weeks": "week",
}

// ParseInterval resolves an interval name. Both exchange style names
// (minute60, day) and short names (1h, 1d) are accepted.
func ParseInterval(interval string) (Interval, error) {
	name := strings.ToLower(strings.TrimSpace(interval))
	if alias, ok := intervalAliases[name]; ok {
		name = alias
	}

	switch name {
	case "day":
		return Interval{Name: name, Path: "/v1/candles/days", Step: 24 * time.Hour}, nil
	case "week":
		return Interval{Name: name, Path: "/v1/candles/weeks", Step: 7 * 24 * time.Hour}, nil
	}

	for _, unit := range minuteUnits {
		if name == fmt.Sprintf("minute%d", unit) {
			return Interval{
				Name: name,
				Path: fmt.Sprintf("/v1/candles/minutes/%d", unit),
				Step: time.Duration(unit) * time.Minute,
			}, nil
		}
	}

	return Interval{}, fmt.Errorf("unsupported interval: %s", interval)
}

// New builds the exchange client named by cfg.Type.
func New(cfg config.ExchangeConfig, logger *slog.Logger) (Exchange, error) {
	switch strings.ToLower(cfg.Type) {
	case "upbit", "":
		return NewUpbitClient(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported exchange type: %s", cfg.Type)
	}
}
