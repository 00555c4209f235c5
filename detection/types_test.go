package detection

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSeries_Validation(t *testing.T) {
	good := Bar{Date: dateAt(0), Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}

	tests := []struct {
		name string
		bars []Bar
		ok   bool
	}{
		{"empty", nil, true},
		{"ordered", []Bar{good, {Date: dateAt(1), Open: 1, High: 1, Low: 1, Close: 1}}, true},
		{"duplicate date", []Bar{good, good}, false},
		{"descending", []Bar{{Date: dateAt(1), Open: 1, High: 1, Low: 1, Close: 1}, good}, false},
		{"zero close", []Bar{{Date: dateAt(0), Open: 1, High: 1, Low: 1}}, false},
		{"NaN close", []Bar{{Date: dateAt(0), Open: 1, High: 1, Low: 1, Close: math.NaN()}}, false},
		{"infinite high", []Bar{{Date: dateAt(0), Open: 1, High: math.Inf(1), Low: 1, Close: 1}}, false},
		{"negative volume", []Bar{{Date: dateAt(0), Open: 1, High: 1, Low: 1, Close: 1, Volume: -5}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSeries("X", tt.bars)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var seriesErr *SeriesError
			assert.True(t, errors.As(err, &seriesErr))
		})
	}
}

func TestSortBars(t *testing.T) {
	bars := []Bar{
		{Date: dateAt(2), Close: 3},
		{Date: dateAt(0), Close: 1},
		{Date: dateAt(2).Add(5 * 3600e9), Close: 99},
		{Date: dateAt(1), Close: 2},
	}
	sorted := SortBars(bars)
	require.Len(t, sorted, 3)
	assert.Equal(t, []float64{1, 2, 3}, Series{Bars: sorted}.Closes())
	assert.Equal(t, dateAt(2), bars[0].Date, "input reordered")
}

func TestMethodResults_MethodsCanonicalOrder(t *testing.T) {
	m := MethodResults{"zzz": nil, MethodLSTM: nil, "aaa": nil, MethodBollinger: nil}
	assert.Equal(t, []string{MethodBollinger, MethodLSTM, "aaa", "zzz"}, m.Methods())
}

func TestDetails_FlatJSON(t *testing.T) {
	ws := 1.5
	d := NewDetails().Set(KeyPrice, 101.5).Set(KeyZScore, 3.2)
	d.DetectingMethods = []string{MethodBollinger, MethodZScore}
	d.MethodCount = 2
	d.WeightedScore = &ws

	data, err := json.Marshal(d)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, 101.5, flat[KeyPrice])
	assert.Equal(t, 2.0, flat[KeyMethodCount])
	assert.Equal(t, 1.5, flat[KeyWeightedScore])
	assert.NotContains(t, flat, KeyMethodWeights)

	var back Details
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, d, back)
}

func TestDetails_CloneIsDeep(t *testing.T) {
	d := NewDetails().Set(KeyPrice, 1)
	d.DetectingMethods = []string{MethodZScore}
	d.MethodWeights = DefaultMethodWeights()

	c := d.Clone()
	c.Values[KeyPrice] = 2
	c.DetectingMethods[0] = MethodLSTM
	c.MethodWeights[MethodZScore] = 9

	assert.Equal(t, 1.0, d.Values[KeyPrice])
	assert.Equal(t, MethodZScore, d.DetectingMethods[0])
	assert.Equal(t, 0.2, d.MethodWeights[MethodZScore])
}
