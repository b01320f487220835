package models

import (
	"sort"
	"time"
)

// Series is an ordered run of candles for one symbol, unique by timestamp and
// strictly ascending. It is rebuilt from snapshot files on every run.
type Series struct {
	Symbol  string
	Candles []Candle
	// Files lists the snapshot files that contributed bars, oldest first.
	Files []string
}

// Gap is a run of missing slots inside a series.
type Gap struct {
	Start   time.Time // first missing slot
	End     time.Time // slot after the last missing one
	Missing int
}

// NewSeries builds a series from unordered candles. When two candles share a
// timestamp the one appearing later in the input wins.
func NewSeries(symbol string, candles []Candle) *Series {
	byTime := make(map[int64]int, len(candles))
	unique := make([]Candle, 0, len(candles))

	for _, c := range candles {
		key := c.Timestamp.UnixNano()
		if idx, ok := byTime[key]; ok {
			unique[idx] = c
			continue
		}
		byTime[key] = len(unique)
		unique = append(unique, c)
	}

	sort.Slice(unique, func(i, j int) bool {
		return unique[i].Timestamp.Before(unique[j].Timestamp)
	})

	return &Series{Symbol: symbol, Candles: unique}
}

// Len returns the number of bars in the series.
func (s *Series) Len() int {
	return len(s.Candles)
}

// IsEmpty reports whether the series holds no bars.
func (s *Series) IsEmpty() bool {
	return s == nil || len(s.Candles) == 0
}

// First returns the earliest bar.
func (s *Series) First() Candle {
	return s.Candles[0]
}

// Last returns the latest bar.
func (s *Series) Last() Candle {
	return s.Candles[len(s.Candles)-1]
}

// Gaps returns runs of missing slots assuming bars every step.
func (s *Series) Gaps(step time.Duration) []Gap {
	if step <= 0 || len(s.Candles) < 2 {
		return nil
	}

	var gaps []Gap
	for i := 1; i < len(s.Candles); i++ {
		prev := s.Candles[i-1].Timestamp
		cur := s.Candles[i].Timestamp
		diff := cur.Sub(prev)
		if diff <= step {
			continue
		}
		gaps = append(gaps, Gap{
			Start:   prev.Add(step),
			End:     cur,
			Missing: int(diff/step) - 1,
		})
	}
	return gaps
}
