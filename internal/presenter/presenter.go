// Package presenter renders pipeline results for people: console summaries
// of collection runs, aggregated series and forecasts, and PNG charts of
// actual values against the forecast and its interval band.
package presenter

import (
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/johnayoung/go-ohlcv-forecaster/internal/config"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const displayTime = "2006-01-02 15:04"

var (
	actualColor   = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	forecastColor = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	bandColor     = color.RGBA{R: 214, G: 39, B: 40, A: 60}
)

// Presenter writes summaries to out and charts to the plot directory.
type Presenter struct {
	out         io.Writer
	plotEnabled bool
	plotDir     string
	width       vg.Length
	height      vg.Length
	step        time.Duration
	location    *time.Location
	logger      *slog.Logger
}

// New creates a presenter. Timestamps are shown in loc.
func New(cfg config.PresenterConfig, out io.Writer, loc *time.Location, logger *slog.Logger) *Presenter {
	if out == nil {
		out = os.Stdout
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	width, height := cfg.WidthCM, cfg.HeightCM
	if width <= 0 {
		width = 38
	}
	if height <= 0 {
		height = 13
	}
	return &Presenter{
		out:         out,
		plotEnabled: cfg.PlotEnabled,
		plotDir:     cfg.PlotDir,
		width:       vg.Length(width) * vg.Centimeter,
		height:      vg.Length(height) * vg.Centimeter,
		step:        time.Hour,
		location:    loc,
		logger:      logger,
	}
}

// WithStep sets the bar spacing used to count gaps in a series.
func (p *Presenter) WithStep(step time.Duration) *Presenter {
	if step > 0 {
		p.step = step
	}
	return p
}

// Present prints the forecast summary and, when enabled, saves the chart.
// A chart failure is logged and does not hide the summary.
func (p *Presenter) Present(fc *models.Forecast) models.ForecastSummary {
	summary := fc.Summarize()

	if p.plotEnabled {
		path, err := p.Plot(fc)
		if err != nil {
			p.logger.Error("failed to render forecast chart", "symbol", fc.Symbol, "error", err)
		} else {
			summary.PlotPath = path
		}
	}

	p.PrintForecast(summary)
	return summary
}

// PrintForecast writes the console block for one forecast.
func (p *Presenter) PrintForecast(s models.ForecastSummary) {
	w := p.out
	fmt.Fprintf(w, "📈 Forecast for %s\n", s.Symbol)
	fmt.Fprintf(w, "%s\n", strings.Repeat("-", 60))
	fmt.Fprintf(w, "%-22s %d\n", "Observations:", s.Observations)
	fmt.Fprintf(w, "%-22s %s to %s\n", "History:", p.fmtTime(s.FirstObserved), p.fmtTime(s.LastObserved))
	fmt.Fprintf(w, "%-22s %s\n", "Last close:", formatPrice(s.LastClose))

	if s.NextDS.IsZero() {
		fmt.Fprintf(w, "%-22s none\n", "Next:")
	} else {
		fmt.Fprintf(w, "%-22s %s  %s  [%s, %s]\n", "Next:",
			p.fmtTime(s.NextDS), formatPrice(s.NextYHat), formatPrice(s.NextLower), formatPrice(s.NextUpper))
		fmt.Fprintf(w, "%-22s %s  %s\n", fmt.Sprintf("Horizon (+%dh):", s.HorizonHours),
			p.fmtTime(s.HorizonDS), formatPrice(s.HorizonYHat))
		fmt.Fprintf(w, "%-22s %+.2f%%\n", "Expected change:", s.ExpectedChange)
	}

	fmt.Fprintf(w, "%-22s %s\n", "Latest signal:", s.LatestSignal)
	if s.PlotPath != "" {
		fmt.Fprintf(w, "%-22s %s\n", "Chart:", s.PlotPath)
	}
	fmt.Fprintln(w)
}

// PrintForecastTable lists the future rows of a forecast.
func (p *Presenter) PrintForecastTable(fc *models.Forecast) {
	w := p.out
	fmt.Fprintf(w, "%-18s %16s %16s %16s\n", "ds", "yhat", "yhat_lower", "yhat_upper")
	for _, pt := range fc.FuturePoints() {
		fmt.Fprintf(w, "%-18s %16s %16s %16s\n",
			p.fmtTime(pt.DS), formatPrice(pt.YHat), formatPrice(pt.YHatLower), formatPrice(pt.YHatUpper))
	}
	fmt.Fprintln(w)
}

// PrintSeries writes a short description of an aggregated series.
func (p *Presenter) PrintSeries(series *models.Series) {
	w := p.out
	fmt.Fprintf(w, "📊 %s: %d bars from %d files\n", series.Symbol, series.Len(), len(series.Files))
	if series.IsEmpty() {
		return
	}
	last := series.Last()
	fmt.Fprintf(w, "   %s to %s, last close %s",
		p.fmtTime(series.First().Timestamp), p.fmtTime(last.Timestamp), last.Close)
	if pct, err := last.GetPriceChangePercent(); err == nil {
		fmt.Fprintf(w, " (%s%% on the bar)", pct.StringFixed(2))
	}
	fmt.Fprintln(w)
	if gaps := series.Gaps(p.step); len(gaps) > 0 {
		missing := 0
		for _, g := range gaps {
			missing += g.Missing
		}
		fmt.Fprintf(w, "   %d gaps, %d missing bars\n", len(gaps), missing)
	}
}

// PrintCollection writes one line per symbol of a collection run.
func (p *Presenter) PrintCollection(report *models.CollectionReport) {
	w := p.out
	for _, res := range report.Results {
		switch res.Status {
		case models.StatusSucceeded:
			fmt.Fprintf(w, "✅ %s: %d bars saved to %s\n", res.Symbol, res.Bars, res.Path)
		case models.StatusFailed:
			fmt.Fprintf(w, "❌ %s: %s (%s)\n", res.Symbol, res.Error, res.ErrorType)
		default:
			fmt.Fprintf(w, "⏭️  %s: %s\n", res.Symbol, res.Status)
		}
	}
	fmt.Fprintf(w, "Collected %d/%d symbols for %s in %v\n",
		report.Succeeded(), len(report.Results), report.Date.Format("2006-01-02"), report.Duration().Round(time.Millisecond))
}

// PlotPath returns where the chart for symbol generated at t is written.
func (p *Presenter) PlotPath(symbol string, t time.Time) string {
	name := fmt.Sprintf("%s_forecast_%s.png", symbol, t.In(p.location).Format("20060102"))
	return filepath.Join(p.plotDir, name)
}

// Plot renders actual values, the forecast line and the interval band.
func (p *Presenter) Plot(fc *models.Forecast) (string, error) {
	if len(fc.Points) == 0 {
		return "", fmt.Errorf("forecast for %s has no points", fc.Symbol)
	}

	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("%s forecast (%d%% interval)", fc.Symbol, int(fc.IntervalWidth*100+0.5))
	pl.X.Label.Text = "time"
	pl.Y.Label.Text = "price"
	pl.X.Tick.Marker = plot.TimeTicks{
		Format: "01-02\n15:04",
		Time:   plot.UnixTimeIn(p.location),
	}
	pl.Add(plotter.NewGrid())

	band := make(plotter.XYs, 0, 2*len(fc.Points))
	line := make(plotter.XYs, 0, len(fc.Points))
	for _, pt := range fc.Points {
		x := unixSeconds(pt.DS)
		line = append(line, plotter.XY{X: x, Y: pt.YHat})
		band = append(band, plotter.XY{X: x, Y: pt.YHatUpper})
	}
	for i := len(fc.Points) - 1; i >= 0; i-- {
		pt := fc.Points[i]
		band = append(band, plotter.XY{X: unixSeconds(pt.DS), Y: pt.YHatLower})
	}

	poly, err := plotter.NewPolygon(band)
	if err != nil {
		return "", fmt.Errorf("failed to build interval band: %w", err)
	}
	poly.Color = bandColor
	poly.LineStyle.Width = 0

	fcLine, err := plotter.NewLine(line)
	if err != nil {
		return "", fmt.Errorf("failed to build forecast line: %w", err)
	}
	fcLine.LineStyle.Color = forecastColor
	fcLine.LineStyle.Width = vg.Points(1.2)

	pl.Add(poly, fcLine)
	pl.Legend.Add("forecast", fcLine)
	pl.Legend.Add("interval", poly)

	if len(fc.Observations) > 0 {
		actual := make(plotter.XYs, len(fc.Observations))
		for i, o := range fc.Observations {
			actual[i] = plotter.XY{X: unixSeconds(o.DS), Y: o.Y}
		}
		scatter, err := plotter.NewScatter(actual)
		if err != nil {
			return "", fmt.Errorf("failed to build actual values: %w", err)
		}
		scatter.GlyphStyle.Color = actualColor
		scatter.GlyphStyle.Radius = vg.Points(1)
		pl.Add(scatter)
		pl.Legend.Add("actual", scatter)
	}
	pl.Legend.Top = true
	pl.Legend.Left = true

	if err := os.MkdirAll(p.plotDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create plot directory: %w", err)
	}
	generated := fc.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}
	path := p.PlotPath(fc.Symbol, generated)
	if err := pl.Save(p.width, p.height, path); err != nil {
		return "", fmt.Errorf("failed to save chart: %w", err)
	}

	p.logger.Debug("forecast chart saved", "symbol", fc.Symbol, "path", path)
	return path, nil
}

func (p *Presenter) fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.In(p.location).Format(displayTime)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// formatPrice keeps small prices readable without flooding large ones with
// decimals.
func formatPrice(v float64) string {
	switch {
	case v >= 1000 || v <= -1000:
		return fmt.Sprintf("%.0f", v)
	case v >= 1 || v <= -1:
		return fmt.Sprintf("%.2f", v)
	default:
		return fmt.Sprintf("%.6f", v)
	}
}
