package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForecast_FuturePoints(t *testing.T) {
	f := &Forecast{Points: []ForecastPoint{
		{DS: testTime},
		{DS: testTime.Add(time.Hour), Future: true},
		{DS: testTime.Add(2 * time.Hour), Future: true},
	}}

	future := f.FuturePoints()
	require.Len(t, future, 2)
	assert.Equal(t, testTime.Add(time.Hour), future[0].DS)

	assert.Nil(t, (&Forecast{Points: f.Points[:1]}).FuturePoints())
}

func TestForecast_Signals(t *testing.T) {
	t0 := testTime
	t1 := t0.Add(time.Hour)
	t2 := t1.Add(time.Hour)

	f := &Forecast{
		Observations: []Observation{
			{DS: t0, Y: 90},
			{DS: t1, Y: 100},
			{DS: t2, Y: 111},
		},
		Points: []ForecastPoint{
			{DS: t0, YHat: 100, YHatLower: 95, YHatUpper: 105},
			{DS: t1, YHat: 100, YHatLower: 95, YHatUpper: 105},
			{DS: t2, YHat: 100, YHatLower: 95, YHatUpper: 105},
			{DS: t2.Add(time.Hour), YHat: 100, YHatLower: 95, YHatUpper: 105, Future: true},
		},
	}

	signals := f.Signals()
	require.Len(t, signals, 3)
	assert.Equal(t, SignalBuy, signals[0].Signal)
	assert.Equal(t, SignalHold, signals[1].Signal)
	assert.Equal(t, SignalSell, signals[2].Signal)
	assert.Equal(t, "sell", signals[2].Signal.String())
}
