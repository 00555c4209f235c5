package detection

import (
	"fmt"
)

// OutlierConfig parameterizes the isolation-forest detector.
type OutlierConfig struct {
	Contamination float64 `yaml:"contamination" json:"contamination"`
	Trees         int     `yaml:"trees" json:"trees"`
	MaxSamples    int     `yaml:"max_samples" json:"max_samples"`
	Seed          int64   `yaml:"seed" json:"seed"`
}

// DefaultOutlierConfig returns contamination 0.1, 100 trees of up to 256 samples, seed 42.
func DefaultOutlierConfig() OutlierConfig {
	return OutlierConfig{Contamination: 0.1, Trees: 100, MaxSamples: 256, Seed: 42}
}

// Validate checks the configuration.
func (c OutlierConfig) Validate() error {
	if !(c.Contamination > 0 && c.Contamination < 1) {
		return newConfigError("contamination", "must be in (0, 1)", c.Contamination)
	}
	if c.Trees < 1 {
		return newConfigError("trees", "must be at least 1", c.Trees)
	}
	if c.MaxSamples < 1 {
		return newConfigError("max_samples", "must be at least 1", c.MaxSamples)
	}
	return nil
}

// OutlierDetector scores each bar of a series with an isolation forest fitted on that series.
type OutlierDetector struct {
	cfg OutlierConfig
}

// NewOutlierDetector validates cfg and returns a detector.
func NewOutlierDetector(cfg OutlierConfig) (*OutlierDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &OutlierDetector{cfg: cfg}, nil
}

// Features builds the standardized feature matrix [close, volume, return, volume change].
// Row j corresponds to bar j+1; the first bar has no change and is dropped.
func Features(series Series) ([][]float64, error) {
	if series.Len() < 2 {
		return nil, nil
	}

	closes := series.Closes()
	volumes := series.Volumes()
	columns := [][]float64{
		closes[1:],
		volumes[1:],
		pctChange(closes)[1:],
		pctChange(volumes)[1:],
	}

	scaled := make([][]float64, len(columns))
	for c, col := range columns {
		for j, v := range col {
			if !isFinite(v) {
				return nil, &ModelFitError{
					Model: MethodIsolationForest,
					Err:   fmt.Errorf("%w: column %d at bar %d", ErrNonFiniteFeature, c, j+1),
				}
			}
		}
		scaled[c], _, _ = standardize(col)
	}

	rows := make([][]float64, len(columns[0]))
	for j := range rows {
		rows[j] = make([]float64, len(columns))
		for c := range columns {
			rows[j][c] = scaled[c][j]
		}
	}
	return rows, nil
}

// Detect fits a forest on the series and returns the bars predicted as outliers. The score is
// the negated forest score, so larger means more anomalous.
func (d *OutlierDetector) Detect(series Series) ([]AnomalyResult, error) {
	if series.Len() < 2 {
		return []AnomalyResult{}, nil
	}

	X, err := Features(series)
	if err != nil {
		return nil, err
	}

	forest := IsolationForest{
		Trees:         d.cfg.Trees,
		MaxSamples:    d.cfg.MaxSamples,
		Contamination: d.cfg.Contamination,
		Seed:          d.cfg.Seed,
	}
	trained, err := forest.Fit(X)
	if err != nil {
		return nil, err
	}

	scores := trained.ScoreSamples(X)
	labels := trained.Predict(X)
	closes := series.Closes()
	volumes := series.Volumes()

	results := []AnomalyResult{}
	for j, label := range labels {
		if label != -1 {
			continue
		}
		i := j + 1
		bar := series.Bars[i]
		results = append(results, AnomalyResult{
			Date:      bar.Date,
			Score:     -scores[j],
			Threshold: d.cfg.Contamination,
			IsAnomaly: true,
			Method:    MethodIsolationForest,
			Details: NewDetails().
				Set(KeyPrice, bar.Close).
				Set(KeyVolume, float64(bar.Volume)).
				Set(KeyReturns, (closes[i]-closes[i-1])/closes[i-1]).
				Set(KeyVolumeChange, (volumes[i]-volumes[i-1])/volumes[i-1]).
				Set(KeyRawScore, scores[j]),
		})
	}
	return results, nil
}
