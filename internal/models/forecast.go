package models

import "time"

// Observation is one (timestamp, value) pair fed to the forecasting model.
type Observation struct {
	DS time.Time `json:"ds"`
	Y  float64   `json:"y"`
}

// ForecastPoint is the model output for a single timestamp.
type ForecastPoint struct {
	DS        time.Time `json:"ds"`
	YHat      float64   `json:"yhat"`
	YHatLower float64   `json:"yhat_lower"`
	YHatUpper float64   `json:"yhat_upper"`
	Trend     float64   `json:"trend"`
	// Future is true for points past the last observation.
	Future bool `json:"future"`
}

// Forecast holds the fitted values over the history followed by the horizon.
type Forecast struct {
	Symbol        string          `json:"symbol"`
	GeneratedAt   time.Time       `json:"generated_at"`
	HorizonHours  int             `json:"horizon_hours"`
	IntervalWidth float64         `json:"interval_width"`
	Observations  []Observation   `json:"-"`
	Points        []ForecastPoint `json:"points"`
}

// FuturePoints returns the points past the last observation.
func (f *Forecast) FuturePoints() []ForecastPoint {
	for i, p := range f.Points {
		if p.Future {
			return f.Points[i:]
		}
	}
	return nil
}

// Signal is a buy/sell hint derived from where the actual value sits relative
// to the forecast interval.
type Signal int

const (
	SignalSell Signal = -1
	SignalHold Signal = 0
	SignalBuy  Signal = 1
)

// String returns the lowercase signal name.
func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return "buy"
	case SignalSell:
		return "sell"
	default:
		return "hold"
	}
}

// SignalPoint pairs an observed value with the interval it was judged against.
type SignalPoint struct {
	DS        time.Time `json:"ds"`
	Actual    float64   `json:"actual"`
	YHat      float64   `json:"yhat"`
	YHatLower float64   `json:"yhat_lower"`
	YHatUpper float64   `json:"yhat_upper"`
	Signal    Signal    `json:"signal"`
}

// Signals compares every observation with the fitted interval at the same
// timestamp. Actual at or below the lower bound is a buy, at or above the
// upper bound a sell.
func (f *Forecast) Signals() []SignalPoint {
	fitted := make(map[int64]ForecastPoint, len(f.Points))
	for _, p := range f.Points {
		if !p.Future {
			fitted[p.DS.UnixNano()] = p
		}
	}

	out := make([]SignalPoint, 0, len(f.Observations))
	for _, obs := range f.Observations {
		p, ok := fitted[obs.DS.UnixNano()]
		if !ok {
			continue
		}
		sp := SignalPoint{
			DS:        obs.DS,
			Actual:    obs.Y,
			YHat:      p.YHat,
			YHatLower: p.YHatLower,
			YHatUpper: p.YHatUpper,
			Signal:    SignalHold,
		}
		switch {
		case obs.Y <= p.YHatLower:
			sp.Signal = SignalBuy
		case obs.Y >= p.YHatUpper:
			sp.Signal = SignalSell
		}
		out = append(out, sp)
	}
	return out
}
