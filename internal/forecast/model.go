package forecast

import (
	"fmt"
	"math"
	"time"

	apperrors "github.com/johnayoung/go-ohlcv-forecaster/internal/errors"
	"github.com/johnayoung/go-ohlcv-forecaster/internal/models"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	dayNanos = float64(24 * time.Hour)

	dailyPeriodDays  = 1.0
	weeklyPeriodDays = 7.0
	yearlyPeriodDays = 365.25

	dailyOrder  = 4
	weeklyOrder = 3
	yearlyOrder = 10
)

// seasonality is one Fourier block in the design matrix.
type seasonality struct {
	name   string
	period float64 // days
	order  int
}

// Model is a fitted additive model: piecewise linear trend with
// changepoints plus Fourier seasonalities, estimated by ridge regression.
type Model struct {
	cfg Config

	start  time.Time
	tSpan  float64 // nanoseconds between first and last observation
	yScale float64
	last   time.Time

	changepoints  []float64 // in scaled time
	seasonalities []seasonality
	beta          []float64

	sigma        float64 // residual std dev in price units
	meanAbsDelta float64 // mean absolute rate change in price units per scaled time
	history      []models.Observation
}

// Fit estimates a model from observations sorted by time.
func Fit(obs []models.Observation, cfg Config) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(obs) < 2 {
		return nil, fmt.Errorf("need at least 2 observations, got %d: %w", len(obs), apperrors.ErrInsufficientData)
	}

	m := &Model{
		cfg:     cfg,
		start:   obs[0].DS,
		last:    obs[len(obs)-1].DS,
		history: obs,
	}
	m.tSpan = float64(m.last.Sub(m.start))
	if m.tSpan <= 0 {
		return nil, fmt.Errorf("observations span no time: %w", apperrors.ErrInsufficientData)
	}

	for _, o := range obs {
		m.yScale = math.Max(m.yScale, math.Abs(o.Y))
	}
	if m.yScale == 0 {
		m.yScale = 1
	}

	m.changepoints = m.placeChangepoints(obs)
	m.seasonalities = m.activeSeasonalities()

	n := len(obs)
	p := m.numFeatures()

	X := mat.NewDense(n, p, nil)
	y := mat.NewVecDense(n, nil)
	row := make([]float64, p)
	for i, o := range obs {
		m.features(o.DS, row)
		X.SetRow(i, row)
		y.SetVec(i, o.Y/m.yScale)
	}

	beta, err := solveRidge(X, y, m.penalties())
	if err != nil {
		return nil, err
	}
	m.beta = beta

	var sse float64
	for i, o := range obs {
		r := o.Y - m.predictScaled(X.RawRowView(i))*m.yScale
		sse += r * r
	}
	dof := n - 1
	m.sigma = math.Sqrt(sse / float64(dof))

	if k := len(m.changepoints); k > 0 {
		deltas := make([]float64, k)
		for j := range deltas {
			deltas[j] = math.Abs(beta[2+j]) * m.yScale
		}
		m.meanAbsDelta = floats.Sum(deltas) / float64(k)
	}

	return m, nil
}

// Sigma returns the residual standard deviation in price units.
func (m *Model) Sigma() float64 {
	return m.sigma
}

// Changepoints returns the changepoint timestamps.
func (m *Model) Changepoints() []time.Time {
	out := make([]time.Time, len(m.changepoints))
	for i, s := range m.changepoints {
		out[i] = m.start.Add(time.Duration(s * m.tSpan))
	}
	return out
}

// Predict returns fitted values over the history followed by horizonHours
// hourly steps past the last observation.
func (m *Model) Predict(horizonHours int) (*models.Forecast, error) {
	if horizonHours < 0 {
		return nil, fmt.Errorf("horizon must not be negative, got %d", horizonHours)
	}

	z := distuv.UnitNormal.Quantile(0.5 + m.cfg.IntervalWidth/2)
	row := make([]float64, m.numFeatures())

	points := make([]models.ForecastPoint, 0, len(m.history)+horizonHours)
	for _, o := range m.history {
		points = append(points, m.point(o.DS, row, z, false))
	}
	for k := 1; k <= horizonHours; k++ {
		points = append(points, m.point(m.last.Add(time.Duration(k)*m.cfg.Freq), row, z, true))
	}

	return &models.Forecast{
		GeneratedAt:   time.Now(),
		HorizonHours:  horizonHours,
		IntervalWidth: m.cfg.IntervalWidth,
		Observations:  m.history,
		Points:        points,
	}, nil
}

func (m *Model) point(ds time.Time, row []float64, z float64, future bool) models.ForecastPoint {
	m.features(ds, row)
	yhat := m.predictScaled(row) * m.yScale
	trend := m.trendScaled(row) * m.yScale

	sd := m.sigma
	if future {
		// Trend uncertainty grows with the distance past the last observation.
		dt := float64(ds.Sub(m.last)) / m.tSpan
		drift := m.meanAbsDelta * dt
		sd = math.Sqrt(m.sigma*m.sigma + drift*drift)
	}

	return models.ForecastPoint{
		DS:        ds,
		YHat:      yhat,
		YHatLower: yhat - z*sd,
		YHatUpper: yhat + z*sd,
		Trend:     trend,
		Future:    future,
	}
}

func (m *Model) numFeatures() int {
	p := 2 + len(m.changepoints)
	for _, s := range m.seasonalities {
		p += 2 * s.order
	}
	return p
}

// features writes the design row for ds into row.
// Layout: intercept, slope, changepoint hinges, then sin/cos pairs.
func (m *Model) features(ds time.Time, row []float64) {
	t := float64(ds.Sub(m.start)) / m.tSpan
	row[0] = 1
	row[1] = t

	col := 2
	for _, s := range m.changepoints {
		row[col] = math.Max(0, t-s)
		col++
	}

	days := float64(ds.UnixNano()) / dayNanos
	for _, s := range m.seasonalities {
		for k := 1; k <= s.order; k++ {
			x := 2 * math.Pi * float64(k) * days / s.period
			row[col] = math.Sin(x)
			row[col+1] = math.Cos(x)
			col += 2
		}
	}
}

func (m *Model) predictScaled(row []float64) float64 {
	return floats.Dot(row, m.beta)
}

func (m *Model) trendScaled(row []float64) float64 {
	k := 2 + len(m.changepoints)
	return floats.Dot(row[:k], m.beta[:k])
}

// penalties returns the ridge weight for every column. Intercept and slope
// are left free.
func (m *Model) penalties() []float64 {
	pen := make([]float64, m.numFeatures())
	cp := 1 / (2 * m.cfg.ChangepointPriorScale * m.cfg.ChangepointPriorScale)
	ss := 1 / (2 * m.cfg.SeasonalityPriorScale * m.cfg.SeasonalityPriorScale)

	col := 2
	for range m.changepoints {
		pen[col] = cp
		col++
	}
	for ; col < len(pen); col++ {
		pen[col] = ss
	}
	return pen
}

// placeChangepoints spreads candidate changepoints evenly over the first
// ChangepointRange of the observations.
func (m *Model) placeChangepoints(obs []models.Observation) []float64 {
	histSize := int(math.Floor(float64(len(obs)) * m.cfg.ChangepointRange))
	n := m.cfg.NChangepoints
	if n > histSize-1 {
		n = histSize - 1
	}
	if n <= 0 {
		return nil
	}

	out := make([]float64, 0, n)
	step := float64(histSize-1) / float64(n)
	for i := 1; i <= n; i++ {
		idx := int(math.Round(float64(i) * step))
		t := float64(obs[idx].DS.Sub(m.start)) / m.tSpan
		if len(out) > 0 && t <= out[len(out)-1] {
			continue
		}
		out = append(out, t)
	}
	return out
}

func (m *Model) activeSeasonalities() []seasonality {
	var out []seasonality
	if m.cfg.DailySeasonality {
		out = append(out, seasonality{name: "daily", period: dailyPeriodDays, order: dailyOrder})
	}
	if m.cfg.WeeklySeasonality {
		out = append(out, seasonality{name: "weekly", period: weeklyPeriodDays, order: weeklyOrder})
	}
	if m.cfg.YearlySeasonality {
		out = append(out, seasonality{name: "yearly", period: yearlyPeriodDays, order: yearlyOrder})
	}
	return out
}

// solveRidge solves (XᵀX + diag(pen)) β = Xᵀy.
func solveRidge(X *mat.Dense, y *mat.VecDense, pen []float64) ([]float64, error) {
	_, p := X.Dims()

	var gram mat.SymDense
	gram.SymOuterK(1, X.T())
	for j, w := range pen {
		gram.SetSym(j, j, gram.At(j, j)+w+1e-9)
	}

	var xty mat.VecDense
	xty.MulVec(X.T(), y)

	beta := mat.NewVecDense(p, nil)
	var chol mat.Cholesky
	if chol.Factorize(&gram) {
		if err := chol.SolveVecTo(beta, &xty); err == nil {
			return beta.RawVector().Data, nil
		}
	}

	if err := beta.SolveVec(&gram, &xty); err != nil {
		return nil, fmt.Errorf("failed to solve model equations: %w", err)
	}
	return beta.RawVector().Data, nil
}
