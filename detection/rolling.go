package detection

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// rollingMeanStd returns the trailing mean and sample standard deviation (n-1 denominator) of
// values over the window ending at each index, inclusive. Indices before window-1 are NaN.
func rollingMeanStd(values []float64, window int) (means, stds []float64) {
	n := len(values)
	means = make([]float64, n)
	stds = make([]float64, n)
	for i := 0; i < n; i++ {
		if i < window-1 {
			means[i] = math.NaN()
			stds[i] = math.NaN()
			continue
		}
		means[i], stds[i] = stat.MeanStdDev(values[i-window+1:i+1], nil)
	}
	return means, stds
}

// standardize scales values to zero mean and unit population variance. A zero-variance input
// keeps a scale of 1, so it maps to all zeros.
func standardize(values []float64) (scaled []float64, mean, scale float64) {
	mean, scale = stat.PopMeanStdDev(values, nil)
	if negligible(scale, mean) {
		scale = 1
	}
	scaled = make([]float64, len(values))
	for i, v := range values {
		scaled[i] = (v - mean) / scale
	}
	return scaled, mean, scale
}

// pctChange mirrors a day-over-day percentage change; index 0 is NaN.
func pctChange(values []float64) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	out[0] = math.NaN()
	for i := 1; i < len(values); i++ {
		out[i] = (values[i] - values[i-1]) / values[i-1]
	}
	return out
}

// percentile returns the q-th percentile (0..100) with linear interpolation between the closest
// ranks of the sorted input.
func percentile(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	pos := q / 100 * float64(n-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// negligible reports whether std is zero up to rounding noise relative to mean.
func negligible(std, mean float64) bool {
	return !isFinite(std) || std <= 1e-12*math.Max(math.Abs(mean), 1)
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
