package detection

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// SequenceConfig parameterizes the LSTM prediction-error detector.
type SequenceConfig struct {
	SequenceLength int     `yaml:"sequence_length" json:"sequence_length"`
	Threshold      float64 `yaml:"threshold" json:"threshold"`
	Epochs         int     `yaml:"epochs" json:"epochs"`
	BatchSize      int     `yaml:"batch_size" json:"batch_size"`
	HiddenUnits    int     `yaml:"hidden_units" json:"hidden_units"`
	LearningRate   float64 `yaml:"learning_rate" json:"learning_rate"`
	Dropout        float64 `yaml:"dropout" json:"dropout"`
	Seed           int64   `yaml:"seed" json:"seed"`
}

// DefaultSequenceConfig returns sequences of 10 bars, a 2.0 error threshold and 50 epochs of
// batch 32 on a 32-unit layer.
func DefaultSequenceConfig() SequenceConfig {
	return SequenceConfig{
		SequenceLength: 10,
		Threshold:      2.0,
		Epochs:         50,
		BatchSize:      32,
		HiddenUnits:    32,
		LearningRate:   0.001,
		Dropout:        0.2,
		Seed:           42,
	}
}

// Validate checks the configuration.
func (c SequenceConfig) Validate() error {
	switch {
	case c.SequenceLength < 1:
		return newConfigError("sequence_length", "must be at least 1", c.SequenceLength)
	case c.Threshold <= 0 || !isFinite(c.Threshold):
		return newConfigError("threshold", "must be positive", c.Threshold)
	case c.Epochs < 1:
		return newConfigError("epochs", "must be at least 1", c.Epochs)
	case c.BatchSize < 1:
		return newConfigError("batch_size", "must be at least 1", c.BatchSize)
	case c.HiddenUnits < 1:
		return newConfigError("hidden_units", "must be at least 1", c.HiddenUnits)
	case c.LearningRate <= 0 || !isFinite(c.LearningRate):
		return newConfigError("learning_rate", "must be positive", c.LearningRate)
	case c.Dropout < 0 || c.Dropout >= 1:
		return newConfigError("dropout", "must be in [0, 1)", c.Dropout)
	}
	return nil
}

// SequenceDetector trains next-close predictors. Detection happens on the handle returned by
// Train.
type SequenceDetector struct {
	cfg SequenceConfig
}

// NewSequenceDetector validates cfg and returns a detector.
func NewSequenceDetector(cfg SequenceConfig) (*SequenceDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SequenceDetector{cfg: cfg}, nil
}

// TrainedSequenceModel is a fitted next-close predictor.
type TrainedSequenceModel struct {
	cfg SequenceConfig
	net *lstmNetwork
}

// Trained reports whether a network was fitted.
func (m *TrainedSequenceModel) Trained() bool {
	return m.net != nil
}

// Train fits a network on the series. A series with no complete sequence yields a handle with
// no network.
func (d *SequenceDetector) Train(series Series) (*TrainedSequenceModel, error) {
	model := &TrainedSequenceModel{cfg: d.cfg}
	X, y, _, _ := buildSequences(series.Closes(), d.cfg.SequenceLength)
	if len(X) == 0 {
		return model, nil
	}

	net, err := trainLSTM(X, y, d.cfg)
	if err != nil {
		return nil, err
	}
	model.net = net
	return model, nil
}

// Detect predicts every next close of the series and flags prediction errors above
// Threshold standard deviations. Each result is dated at the predicted bar.
func (m *TrainedSequenceModel) Detect(series Series) ([]AnomalyResult, error) {
	L := m.cfg.SequenceLength
	if series.Len() <= L {
		return []AnomalyResult{}, nil
	}
	if m.net == nil {
		return nil, &ModelFitError{Model: MethodLSTM, Err: ErrNotTrained}
	}

	X, y, mean, scale := buildSequences(series.Closes(), L)
	predictions := make([]float64, len(X))
	errs := make([]float64, len(X))
	for k, seq := range X {
		predictions[k] = m.net.predict(seq)
		if !isFinite(predictions[k]) {
			return nil, &ModelFitError{Model: MethodLSTM, Err: ErrNonFiniteLoss}
		}
		errs[k] = math.Abs(y[k] - predictions[k])
	}

	meanErr, stdErr := stat.PopMeanStdDev(errs, nil)
	if negligible(stdErr, meanErr) {
		return []AnomalyResult{}, nil
	}

	results := []AnomalyResult{}
	for k, e := range errs {
		if e <= m.cfg.Threshold*stdErr {
			continue
		}
		bar := series.Bars[k+L]
		results = append(results, AnomalyResult{
			Date:      bar.Date,
			Score:     e / stdErr,
			Threshold: m.cfg.Threshold,
			IsAnomaly: true,
			Method:    MethodLSTM,
			Details: NewDetails().
				Set(KeyPrice, bar.Close).
				Set(KeyVolume, float64(bar.Volume)).
				Set(KeyPredictedPrice, predictions[k]*scale+mean).
				Set(KeyError, e).
				Set(KeyMeanError, meanErr).
				Set(KeyStdError, stdErr),
		})
	}
	return results, nil
}

// buildSequences standardizes closes and slices them into windows of length L with the
// following value as target.
func buildSequences(closes []float64, L int) (X [][]float64, y []float64, mean, scale float64) {
	if len(closes) <= L {
		return nil, nil, 0, 1
	}
	var scaled []float64
	scaled, mean, scale = standardize(closes)
	for i := 0; i+L < len(scaled); i++ {
		X = append(X, scaled[i:i+L])
		y = append(y, scaled[i+L])
	}
	return X, y, mean, scale
}
