package detection

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOutlierDetector_InvalidContamination(t *testing.T) {
	for _, c := range []float64{0, 1, -0.1, 1.5} {
		cfg := DefaultOutlierConfig()
		cfg.Contamination = c
		_, err := NewOutlierDetector(cfg)
		var cfgErr *ConfigError
		require.True(t, errors.As(err, &cfgErr), "contamination %v", c)
		assert.Equal(t, "contamination", cfgErr.Field)
	}
}

func TestOutlierDetector_ShortSeries(t *testing.T) {
	d, err := NewOutlierDetector(DefaultOutlierConfig())
	require.NoError(t, err)

	for _, n := range []int{0, 1} {
		results, err := d.Detect(makeSeries(t, constantCloses(n, 100), nil))
		require.NoError(t, err)
		assert.Empty(t, results)
	}
}

func TestOutlierDetector_FlagsSpike(t *testing.T) {
	d, err := NewOutlierDetector(DefaultOutlierConfig())
	require.NoError(t, err)
	s := makeSeries(t, spikeCloses(30, 25), noisyVolumes(30))

	results, err := d.Detect(s)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 4)
	assert.Contains(t, datesOf(results), dateAt(25))

	for _, r := range results {
		assert.Equal(t, MethodIsolationForest, r.Method)
		assert.Equal(t, 0.1, r.Threshold)
		raw, ok := r.Details.Value(KeyRawScore)
		require.True(t, ok)
		assert.Less(t, raw, 0.0)
		assert.InDelta(t, -raw, r.Score, 1e-12)
		assert.True(t, r.Date.After(dateAt(0)))
	}
}

func TestOutlierDetector_Deterministic(t *testing.T) {
	d, err := NewOutlierDetector(DefaultOutlierConfig())
	require.NoError(t, err)
	s := makeSeries(t, spikeCloses(60, 40), noisyVolumes(60))

	first, err := d.Detect(s)
	require.NoError(t, err)
	second, err := d.Detect(s)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestOutlierDetector_ZeroVolumeFails(t *testing.T) {
	d, err := NewOutlierDetector(DefaultOutlierConfig())
	require.NoError(t, err)

	volumes := noisyVolumes(30)
	volumes[10] = 0
	_, err = d.Detect(makeSeries(t, spikeCloses(30, -1), volumes))

	var fitErr *ModelFitError
	require.True(t, errors.As(err, &fitErr))
	assert.Equal(t, MethodIsolationForest, fitErr.Model)
	assert.ErrorIs(t, err, ErrNonFiniteFeature)
}

func TestFeatures_StandardizedColumns(t *testing.T) {
	s := makeSeries(t, spikeCloses(12, 5), noisyVolumes(12))
	X, err := Features(s)
	require.NoError(t, err)
	require.Len(t, X, 11)

	for c := 0; c < 4; c++ {
		var sum float64
		for _, row := range X {
			sum += row[c]
		}
		assert.InDelta(t, 0, sum/float64(len(X)), 1e-9, "column %d", c)
	}
}

func TestAveragePathLength(t *testing.T) {
	assert.Equal(t, 0.0, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.2448, averagePathLength(256), 1e-3)
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4}
	assert.InDelta(t, 1.3, percentile(sorted, 10), 1e-12)
	assert.InDelta(t, 2.5, percentile(sorted, 50), 1e-12)
	assert.Equal(t, 4.0, percentile(sorted, 100))
	assert.Equal(t, 7.0, percentile([]float64{7}, 10))
}
