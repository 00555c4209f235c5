package detection

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var day0 = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

func dateAt(i int) time.Time {
	return day0.AddDate(0, 0, i)
}

func makeSeries(t *testing.T, closes []float64, volumes []int64) Series {
	t.Helper()
	bars := make([]Bar, len(closes))
	for i, c := range closes {
		v := int64(1_000_000)
		if volumes != nil {
			v = volumes[i]
		}
		bars[i] = Bar{Date: dateAt(i), Open: c, High: c * 1.01, Low: c * 0.99, Close: c, Volume: v}
	}
	s, err := NewSeries("TEST", bars)
	require.NoError(t, err)
	return s
}

// spikeCloses returns n closes oscillating around 100 with a single jump to 150 at index spike.
func spikeCloses(n, spike int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + 0.5*float64(1-2*(i%2))
	}
	if spike >= 0 && spike < n {
		closes[spike] = 150
	}
	return closes
}

func noisyVolumes(n int) []int64 {
	v := make([]int64, n)
	for i := range v {
		v[i] = 1_000_000 + int64(i%3)*10_000
	}
	return v
}

func constantCloses(n int, price float64) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = price
	}
	return closes
}

func fastSequenceConfig() SequenceConfig {
	cfg := DefaultSequenceConfig()
	cfg.Epochs = 3
	cfg.HiddenUnits = 4
	cfg.BatchSize = 8
	return cfg
}

func newTestRand() *rand.Rand {
	return rand.New(rand.NewSource(7))
}

func datesOf(results []AnomalyResult) []time.Time {
	out := make([]time.Time, len(results))
	for i, r := range results {
		out[i] = r.Date
	}
	return out
}
