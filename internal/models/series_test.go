package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bar(ts time.Time, close string) Candle {
	return Candle{
		Timestamp: ts, Open: close, High: close, Low: close, Close: close, Volume: "1",
		Symbol: testSymbol, Interval: testInterval,
	}
}

func TestNewSeries_SortsAndDeduplicates(t *testing.T) {
	base := testTime
	candles := []Candle{
		bar(base.Add(2*time.Hour), "3"),
		bar(base, "1"),
		bar(base.Add(time.Hour), "2"),
		bar(base.Add(time.Hour), "2.5"), // later duplicate wins
	}

	s := NewSeries(testSymbol, candles)

	require.Equal(t, 3, s.Len())
	assert.Equal(t, "1", s.First().Close)
	assert.Equal(t, "2.5", s.Candles[1].Close)
	assert.Equal(t, "3", s.Last().Close)

	for i := 1; i < s.Len(); i++ {
		assert.True(t, s.Candles[i].Timestamp.After(s.Candles[i-1].Timestamp))
	}
}

func TestSeries_IsEmpty(t *testing.T) {
	var s *Series
	assert.True(t, s.IsEmpty())
	assert.True(t, NewSeries(testSymbol, nil).IsEmpty())
	assert.False(t, NewSeries(testSymbol, []Candle{bar(testTime, "1")}).IsEmpty())
}

func TestSeries_Gaps(t *testing.T) {
	base := testTime
	s := NewSeries(testSymbol, []Candle{
		bar(base, "1"),
		bar(base.Add(time.Hour), "1"),
		bar(base.Add(4*time.Hour), "1"),
		bar(base.Add(5*time.Hour), "1"),
	})

	gaps := s.Gaps(time.Hour)
	require.Len(t, gaps, 1)
	assert.Equal(t, base.Add(2*time.Hour), gaps[0].Start)
	assert.Equal(t, base.Add(4*time.Hour), gaps[0].End)
	assert.Equal(t, 2, gaps[0].Missing)

	assert.Nil(t, s.Gaps(0))
}
