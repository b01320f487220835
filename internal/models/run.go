package models

import (
	"encoding/json"
	"time"
)

// RunStatus is the outcome of one unit of work inside a run.
type RunStatus string

const (
	StatusSucceeded RunStatus = "succeeded" // work finished and output was written
	StatusFailed    RunStatus = "failed"    // error was logged and the run moved on
	StatusSkipped   RunStatus = "skipped"   // run was cancelled before this unit started
)

// SymbolResult records what happened to one symbol during a collection run.
type SymbolResult struct {
	Symbol    string        `json:"symbol" db:"symbol"`
	Status    RunStatus     `json:"status" db:"status"`
	Path      string        `json:"path,omitempty" db:"path"`
	Bars      int           `json:"bars" db:"bars"`
	First     time.Time     `json:"first,omitempty" db:"first_bar"`
	Last      time.Time     `json:"last,omitempty" db:"last_bar"`
	ErrorType string        `json:"error_type,omitempty" db:"error_type"`
	Error     string        `json:"error,omitempty" db:"error"`
	Duration  time.Duration `json:"duration" db:"duration"`
}

// CollectionReport summarises one CollectDaily run.
type CollectionReport struct {
	RunID      string         `json:"run_id" db:"run_id"`
	Date       time.Time      `json:"date" db:"date"`
	Interval   string         `json:"interval" db:"interval"`
	StartedAt  time.Time      `json:"started_at" db:"started_at"`
	FinishedAt time.Time      `json:"finished_at" db:"finished_at"`
	Results    []SymbolResult `json:"results"`
}

// Succeeded returns the number of symbols written.
func (r *CollectionReport) Succeeded() int {
	return r.count(StatusSucceeded)
}

// Failed returns the number of symbols that errored.
func (r *CollectionReport) Failed() int {
	return r.count(StatusFailed)
}

func (r *CollectionReport) count(status RunStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Duration returns the wall time of the run.
func (r *CollectionReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ToJSON serialises the report for logs and the run recorder.
func (r *CollectionReport) ToJSON() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ForecastSummary is the condensed view of a forecast shown on the console
// and stored by the run recorder.
type ForecastSummary struct {
	RunID          string    `json:"run_id" db:"run_id"`
	Symbol         string    `json:"symbol" db:"symbol"`
	GeneratedAt    time.Time `json:"generated_at" db:"generated_at"`
	Observations   int       `json:"observations" db:"observations"`
	FirstObserved  time.Time `json:"first_observed" db:"first_observed"`
	LastObserved   time.Time `json:"last_observed" db:"last_observed"`
	LastClose      float64   `json:"last_close" db:"last_close"`
	HorizonHours   int       `json:"horizon_hours" db:"horizon_hours"`
	NextDS         time.Time `json:"next_ds" db:"next_ds"`
	NextYHat       float64   `json:"next_yhat" db:"next_yhat"`
	NextLower      float64   `json:"next_yhat_lower" db:"next_yhat_lower"`
	NextUpper      float64   `json:"next_yhat_upper" db:"next_yhat_upper"`
	HorizonDS      time.Time `json:"horizon_ds" db:"horizon_ds"`
	HorizonYHat    float64   `json:"horizon_yhat" db:"horizon_yhat"`
	ExpectedChange float64   `json:"expected_change_pct" db:"expected_change_pct"`
	LatestSignal   Signal    `json:"latest_signal" db:"latest_signal"`
	PlotPath       string    `json:"plot_path,omitempty" db:"plot_path"`
}

// Summarize condenses a forecast. The next and horizon fields stay zero when
// there is no future point; the latest signal depends only on history.
func (f *Forecast) Summarize() ForecastSummary {
	s := ForecastSummary{
		Symbol:       f.Symbol,
		GeneratedAt:  f.GeneratedAt,
		Observations: len(f.Observations),
		HorizonHours: f.HorizonHours,
	}

	if n := len(f.Observations); n > 0 {
		s.FirstObserved = f.Observations[0].DS
		s.LastObserved = f.Observations[n-1].DS
		s.LastClose = f.Observations[n-1].Y
	}

	if signals := f.Signals(); len(signals) > 0 {
		s.LatestSignal = signals[len(signals)-1].Signal
	}

	future := f.FuturePoints()
	if len(future) == 0 {
		return s
	}
	next, end := future[0], future[len(future)-1]
	s.NextDS, s.NextYHat, s.NextLower, s.NextUpper = next.DS, next.YHat, next.YHatLower, next.YHatUpper
	s.HorizonDS, s.HorizonYHat = end.DS, end.YHat
	if s.LastClose != 0 {
		s.ExpectedChange = (end.YHat - s.LastClose) / s.LastClose * 100
	}
	return s
}
