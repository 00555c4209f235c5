package detection

import "math"

// StatisticalConfig parameterizes the rolling-window detectors.
type StatisticalConfig struct {
	WindowSize int     `yaml:"window_size" json:"window_size"`
	NumStd     float64 `yaml:"num_std" json:"num_std"`
}

// DefaultStatisticalConfig returns a 20-bar window with a 2 standard deviation threshold.
func DefaultStatisticalConfig() StatisticalConfig {
	return StatisticalConfig{WindowSize: 20, NumStd: 2.0}
}

// Validate checks the configuration.
func (c StatisticalConfig) Validate() error {
	if c.WindowSize < 2 {
		return newConfigError("window_size", "must be at least 2", c.WindowSize)
	}
	if c.NumStd <= 0 || !isFinite(c.NumStd) {
		return newConfigError("num_std", "must be positive", c.NumStd)
	}
	return nil
}

// StatisticalDetector flags bars that break out of trailing-window statistics.
type StatisticalDetector struct {
	cfg StatisticalConfig
}

// NewStatisticalDetector validates cfg and returns a detector.
func NewStatisticalDetector(cfg StatisticalConfig) (*StatisticalDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &StatisticalDetector{cfg: cfg}, nil
}

// Config returns the detector configuration.
func (d *StatisticalDetector) Config() StatisticalConfig {
	return d.cfg
}

// BollingerBands returns the middle, upper and lower bands of the close price. Indices with an
// incomplete window hold NaN.
func (d *StatisticalDetector) BollingerBands(series Series) (middle, upper, lower []float64) {
	means, stds := rollingMeanStd(series.Closes(), d.cfg.WindowSize)
	upper = make([]float64, len(means))
	lower = make([]float64, len(means))
	for i := range means {
		upper[i] = means[i] + d.cfg.NumStd*stds[i]
		lower[i] = means[i] - d.cfg.NumStd*stds[i]
	}
	return means, upper, lower
}

// DetectBollinger flags closes outside the bands. The score is the larger absolute percentage
// deviation from either band.
func (d *StatisticalDetector) DetectBollinger(series Series) []AnomalyResult {
	w := d.cfg.WindowSize
	if series.Len() < w {
		return []AnomalyResult{}
	}

	means, stds := rollingMeanStd(series.Closes(), w)
	results := []AnomalyResult{}
	for i := w; i < series.Len(); i++ {
		bar := series.Bars[i]
		if negligible(stds[i], means[i]) {
			continue
		}
		middle := means[i]
		upper := means[i] + d.cfg.NumStd*stds[i]
		lower := means[i] - d.cfg.NumStd*stds[i]
		if !(bar.Close > upper || bar.Close < lower) {
			continue
		}

		upperDev := (bar.Close - upper) / upper * 100
		lowerDev := (bar.Close - lower) / lower * 100
		score := math.Max(math.Abs(upperDev), math.Abs(lowerDev))
		if !isFinite(score) {
			continue
		}

		results = append(results, AnomalyResult{
			Date:      bar.Date,
			Score:     score,
			Threshold: d.cfg.NumStd,
			IsAnomaly: true,
			Method:    MethodBollinger,
			Details: NewDetails().
				Set(KeyPrice, bar.Close).
				Set(KeyVolume, float64(bar.Volume)).
				Set(KeyMiddleBand, middle).
				Set(KeyUpperBand, upper).
				Set(KeyLowerBand, lower).
				Set(KeyUpperDeviation, upperDev).
				Set(KeyLowerDeviation, lowerDev),
		})
	}
	return results
}

// DetectZScore flags closes whose trailing Z-score exceeds NumStd in magnitude.
func (d *StatisticalDetector) DetectZScore(series Series) []AnomalyResult {
	return d.detectZ(series, series.Closes(), MethodZScore)
}

// DetectVolume flags volumes whose trailing Z-score exceeds NumStd in magnitude.
func (d *StatisticalDetector) DetectVolume(series Series) []AnomalyResult {
	return d.detectZ(series, series.Volumes(), MethodVolume)
}

func (d *StatisticalDetector) detectZ(series Series, values []float64, method string) []AnomalyResult {
	w := d.cfg.WindowSize
	if len(values) < w {
		return []AnomalyResult{}
	}

	means, stds := rollingMeanStd(values, w)
	results := []AnomalyResult{}
	for i := w; i < len(values); i++ {
		if negligible(stds[i], means[i]) {
			continue
		}
		z := (values[i] - means[i]) / stds[i]
		if !isFinite(z) || math.Abs(z) <= d.cfg.NumStd {
			continue
		}

		bar := series.Bars[i]
		results = append(results, AnomalyResult{
			Date:      bar.Date,
			Score:     math.Abs(z),
			Threshold: d.cfg.NumStd,
			IsAnomaly: true,
			Method:    method,
			Details: NewDetails().
				Set(KeyPrice, bar.Close).
				Set(KeyVolume, float64(bar.Volume)).
				Set(KeyZScore, z).
				Set(KeyRollingMean, means[i]).
				Set(KeyRollingStd, stds[i]),
		})
	}
	return results
}
