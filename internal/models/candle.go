// Package models provides data structures and validation for OHLCV market data.
// This package contains the core data models shared by the collector, the
// snapshot store, the aggregator and the forecaster: candles, aggregated
// series, forecasts and trading signals.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents OHLCV price and volume data for a symbol at a time interval.
// Prices and volume are kept as decimal strings so that snapshot files round-trip
// the exchange's values without float formatting drift.
type Candle struct {
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Open      string    `json:"open" db:"open"`
	High      string    `json:"high" db:"high"`
	Low       string    `json:"low" db:"low"`
	Close     string    `json:"close" db:"close"`
	Volume    string    `json:"volume" db:"volume"`
	// Value is the traded quote amount for the bar. Optional.
	Value    string `json:"value,omitempty" db:"value"`
	Symbol   string `json:"symbol" db:"symbol"`
	Interval string `json:"interval" db:"interval"`
}

// ValidationError represents a candle validation error with specific field context.
type ValidationError struct {
	Field   string // Field is the name of the field that failed validation
	Message string // Message is a descriptive error message explaining the validation failure
}

// Error implements the error interface for ValidationError.
func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate performs validation on the candle data.
// It validates that all price fields are valid decimal numbers greater than zero,
// volume is non-negative, OHLC relationships are correct (high >= max(open, close),
// low <= min(open, close)), and required fields are not empty.
func (c *Candle) Validate() error {
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Message: "timestamp cannot be null or zero"}
	}

	open, err := decimal.NewFromString(c.Open)
	if err != nil {
		return &ValidationError{Field: "open", Message: fmt.Sprintf("invalid open price format: %v", err)}
	}

	high, err := decimal.NewFromString(c.High)
	if err != nil {
		return &ValidationError{Field: "high", Message: fmt.Sprintf("invalid high price format: %v", err)}
	}

	low, err := decimal.NewFromString(c.Low)
	if err != nil {
		return &ValidationError{Field: "low", Message: fmt.Sprintf("invalid low price format: %v", err)}
	}

	close, err := decimal.NewFromString(c.Close)
	if err != nil {
		return &ValidationError{Field: "close", Message: fmt.Sprintf("invalid close price format: %v", err)}
	}

	volume, err := decimal.NewFromString(c.Volume)
	if err != nil {
		return &ValidationError{Field: "volume", Message: fmt.Sprintf("invalid volume format: %v", err)}
	}

	if c.Value != "" {
		if _, err := decimal.NewFromString(c.Value); err != nil {
			return &ValidationError{Field: "value", Message: fmt.Sprintf("invalid value format: %v", err)}
		}
	}

	zero := decimal.Zero
	if open.LessThanOrEqual(zero) {
		return &ValidationError{Field: "open", Message: "open price must be greater than 0"}
	}
	if high.LessThanOrEqual(zero) {
		return &ValidationError{Field: "high", Message: "high price must be greater than 0"}
	}
	if low.LessThanOrEqual(zero) {
		return &ValidationError{Field: "low", Message: "low price must be greater than 0"}
	}
	if close.LessThanOrEqual(zero) {
		return &ValidationError{Field: "close", Message: "close price must be greater than 0"}
	}

	if volume.LessThan(zero) {
		return &ValidationError{Field: "volume", Message: "volume must be greater than or equal to 0"}
	}

	maxOpenClose := decimal.Max(open, close)
	if high.LessThan(maxOpenClose) {
		return &ValidationError{
			Field:   "high",
			Message: fmt.Sprintf("high price (%s) must be greater than or equal to max(open, close) (%s)", high, maxOpenClose),
		}
	}

	minOpenClose := decimal.Min(open, close)
	if low.GreaterThan(minOpenClose) {
		return &ValidationError{
			Field:   "low",
			Message: fmt.Sprintf("low price (%s) must be less than or equal to min(open, close) (%s)", low, minOpenClose),
		}
	}

	if c.Symbol == "" {
		return &ValidationError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if c.Interval == "" {
		return &ValidationError{Field: "interval", Message: "interval cannot be empty"}
	}

	return nil
}

// GetCloseDecimal returns the close price as a decimal.Decimal for precise calculations.
func (c *Candle) GetCloseDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Close)
}

// CloseFloat returns the close price as a float64 for numeric modelling.
// The boolean is false when the close price is missing or unparseable, which
// callers treat as a missing observation.
func (c *Candle) CloseFloat() (float64, bool) {
	d, err := c.GetCloseDecimal()
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// GetPriceChangePercent calculates ((Close - Open) / Open) * 100.
func (c *Candle) GetPriceChangePercent() (decimal.Decimal, error) {
	open, err := decimal.NewFromString(c.Open)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse open price: %w", err)
	}

	if open.IsZero() {
		return decimal.Zero, fmt.Errorf("cannot calculate percentage change with zero open price")
	}

	close, err := c.GetCloseDecimal()
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse close price: %w", err)
	}

	return close.Sub(open).Div(open).Mul(decimal.NewFromInt(100)), nil
}

// String returns a human-readable string representation of the candle.
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{Symbol: %s, Interval: %s, Timestamp: %s, O: %s, H: %s, L: %s, C: %s, V: %s}",
		c.Symbol, c.Interval, c.Timestamp.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
}

// NewCandle creates a new Candle instance with the provided parameters and validates it.
//
// Example:
//
//	candle, err := NewCandle(
//	    time.Now(),
//	    "100.50", "101.00", "100.00", "100.75", "1000.5",
//	    "KRW-BTC", "minute60",
//	)
func NewCandle(timestamp time.Time, open, high, low, close, volume, symbol, interval string) (*Candle, error) {
	candle := &Candle{
		Timestamp: timestamp,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
		Symbol:    symbol,
		Interval:  interval,
	}

	if err := candle.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create candle: %w", err)
	}

	return candle, nil
}
