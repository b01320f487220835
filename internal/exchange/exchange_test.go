package exchange

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/johnayoung/go-ohlcv-forecaster/internal/config"
	apperrors "github.com/johnayoung/go-ohlcv-forecaster/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface checks.
var (
	_ CandleFetcher = (*UpbitClient)(nil)
	_ RateLimitInfo = (*UpbitClient)(nil)
	_ Exchange      = (*UpbitClient)(nil)
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		path    string
		step    time.Duration
		wantErr bool
	}{
		{in: "minute60", name: "minute60", path: "/v1/candles/minutes/60", step: time.Hour},
		{in: "1h", name: "minute60", path: "/v1/candles/minutes/60", step: time.Hour},
		{in: " Minute1 ", name: "minute1", path: "/v1/candles/minutes/1", step: time.Minute},
		{in: "4h", name: "minute240", path: "/v1/candles/minutes/240", step: 4 * time.Hour},
		{in: "day", name: "day", path: "/v1/candles/days", step: 24 * time.Hour},
		{in: "1d", name: "day", path: "/v1/candles/days", step: 24 * time.Hour},
		{in: "week", name: "week", path: "/v1/candles/weeks", step: 7 * 24 * time.Hour},
		{in: "minute7", wantErr: true},
		{in: "month", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			iv, err := ParseInterval(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.name, iv.Name)
			assert.Equal(t, tt.path, iv.Path)
			assert.Equal(t, tt.step, iv.Step)
		})
	}
}

func TestNew(t *testing.T) {
	cfg := config.DefaultConfig().Exchange

	ex, err := New(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &UpbitClient{}, ex)

	cfg.Type = "coinbase"
	_, err = New(cfg, nil)
	assert.ErrorContains(t, err, "unsupported exchange type")
}

func TestAPIError(t *testing.T) {
	err := &APIError{StatusCode: 429, URL: "https://api.upbit.com/v1/candles/minutes/60", Body: strings.Repeat("x", 300)}

	assert.Contains(t, err.Error(), "status 429")
	assert.True(t, strings.HasSuffix(err.Error(), "..."))
	assert.Equal(t, apperrors.ErrorTypeRateLimit, apperrors.TypeOf(fmt.Errorf("fetch: %w", err)))
	assert.Equal(t, apperrors.ErrorTypeNotFound, apperrors.TypeOf(&APIError{StatusCode: 404}))
	assert.Equal(t, apperrors.ErrorTypeServerError, apperrors.TypeOf(&APIError{StatusCode: 503}))
}
