package presenter

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/johnayoung/go-ohlcv-forecaster/internal/config"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleForecast() *models.Forecast {
	fc := &models.Forecast{
		Symbol:        "KRW-BTC",
		GeneratedAt:   base.Add(48 * time.Hour),
		HorizonHours:  3,
		IntervalWidth: 0.95,
	}
	for i := 0; i < 48; i++ {
		ds := base.Add(time.Duration(i) * time.Hour)
		y := 90000000 + float64(i)*10000
		fc.Observations = append(fc.Observations, models.Observation{DS: ds, Y: y})
		fc.Points = append(fc.Points, models.ForecastPoint{DS: ds, YHat: y, YHatLower: y - 50000, YHatUpper: y + 50000})
	}
	for k := 1; k <= 3; k++ {
		ds := base.Add(time.Duration(47+k) * time.Hour)
		y := 90470000 + float64(k)*10000
		fc.Points = append(fc.Points, models.ForecastPoint{DS: ds, YHat: y, YHatLower: y - 90000, YHatUpper: y + 90000, Future: true})
	}
	return fc
}

func newPresenter(t *testing.T, out io.Writer, plots bool) *Presenter {
	t.Helper()
	return New(config.PresenterConfig{
		PlotEnabled: plots,
		PlotDir:     filepath.Join(t.TempDir(), "plots"),
		WidthCM:     20,
		HeightCM:    8,
	}, out, time.UTC, quiet())
}

func TestPresent_WithChart(t *testing.T) {
	var out bytes.Buffer
	p := newPresenter(t, &out, true)

	summary := p.Present(sampleForecast())

	require.NotEmpty(t, summary.PlotPath)
	assert.Equal(t, "KRW-BTC_forecast_20240403.png", filepath.Base(summary.PlotPath))

	data, err := os.ReadFile(summary.PlotPath)
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, []byte("\x89PNG\r\n\x1a\n"), data[:8])

	text := out.String()
	assert.Contains(t, text, "Forecast for KRW-BTC")
	assert.Contains(t, text, "Observations:          48")
	assert.Contains(t, text, "2024-04-02 23:00")
	assert.Contains(t, text, "Horizon (+3h):")
	assert.Contains(t, text, summary.PlotPath)
}

func TestPresent_WithoutChart(t *testing.T) {
	var out bytes.Buffer
	p := newPresenter(t, &out, false)

	summary := p.Present(sampleForecast())
	assert.Empty(t, summary.PlotPath)
	assert.NotContains(t, out.String(), "Chart:")
	assert.Equal(t, 90480000.0, summary.NextYHat)
}

func TestPlot_Empty(t *testing.T) {
	p := newPresenter(t, io.Discard, true)
	_, err := p.Plot(&models.Forecast{Symbol: "KRW-BTC"})
	assert.Error(t, err)
}

func TestPrintForecastTable(t *testing.T) {
	var out bytes.Buffer
	newPresenter(t, &out, false).PrintForecastTable(sampleForecast())

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 4)
	assert.Contains(t, string(lines[0]), "yhat_lower")
	assert.Contains(t, string(lines[1]), "2024-04-03 00:00")
}

func TestPrintSeries(t *testing.T) {
	var out bytes.Buffer
	series := models.NewSeries("KRW-ETH", []models.Candle{
		{Timestamp: base, Close: "5000000"},
		{Timestamp: base.Add(3 * time.Hour), Close: "5100000"},
	})
	series.Files = []string{"a.csv"}

	newPresenter(t, &out, false).PrintSeries(series)
	text := out.String()
	assert.Contains(t, text, "KRW-ETH: 2 bars from 1 files")
	assert.Contains(t, text, "last close 5100000")
	assert.Contains(t, text, "1 gaps, 2 missing bars")
	assert.NotContains(t, text, "on the bar")
}

func TestPrintSeries_DailyStep(t *testing.T) {
	var out bytes.Buffer
	series := models.NewSeries("KRW-BTC", []models.Candle{
		{Timestamp: base, Open: "100", Close: "101"},
		{Timestamp: base.Add(24 * time.Hour), Open: "101", Close: "99"},
		{Timestamp: base.Add(48 * time.Hour), Open: "100", Close: "102.5"},
	})

	newPresenter(t, &out, false).WithStep(24 * time.Hour).PrintSeries(series)
	text := out.String()
	assert.Contains(t, text, "last close 102.5 (2.50% on the bar)")
	assert.NotContains(t, text, "gaps")

	out.Reset()
	newPresenter(t, &out, false).PrintSeries(series)
	assert.Contains(t, out.String(), "2 gaps, 46 missing bars")
}

func TestPrintCollection(t *testing.T) {
	var out bytes.Buffer
	report := &models.CollectionReport{
		Date:       base,
		StartedAt:  base,
		FinishedAt: base.Add(1500 * time.Millisecond),
		Results: []models.SymbolResult{
			{Symbol: "KRW-BTC", Status: models.StatusSucceeded, Bars: 24, Path: "data/KRW-BTC_20240401.csv"},
			{Symbol: "KRW-XYZ", Status: models.StatusFailed, Error: "not found", ErrorType: "not_found"},
		},
	}

	newPresenter(t, &out, false).PrintCollection(report)
	text := out.String()
	assert.Contains(t, text, "KRW-BTC: 24 bars saved to data/KRW-BTC_20240401.csv")
	assert.Contains(t, text, "KRW-XYZ: not found (not_found)")
	assert.Contains(t, text, "Collected 1/2 symbols for 2024-04-01 in 1.5s")
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "95000000", formatPrice(95000000.4))
	assert.Equal(t, "12.35", formatPrice(12.345))
	assert.Equal(t, "0.001235", formatPrice(0.0012346))
}
