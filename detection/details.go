package detection

import (
	"encoding/json"
	"sort"
)

// Numeric keys found in Details.Values.
const (
	KeyPrice          = "price"
	KeyVolume         = "volume"
	KeyMiddleBand     = "middle_band"
	KeyUpperBand      = "upper_band"
	KeyLowerBand      = "lower_band"
	KeyUpperDeviation = "upper_deviation"
	KeyLowerDeviation = "lower_deviation"
	KeyZScore         = "z_score"
	KeyRollingMean    = "rolling_mean"
	KeyRollingStd     = "rolling_std"
	KeyReturns        = "returns"
	KeyVolumeChange   = "volume_change"
	KeyRawScore       = "raw_score"
	KeyPredictedPrice = "predicted_price"
	KeyError          = "error"
	KeyMeanError      = "mean_error"
	KeyStdError       = "std_error"
)

// Keys added by aggregation when Details is serialized.
const (
	KeyDetectingMethods = "detecting_methods"
	KeyMethodCount      = "method_count"
	KeyWeightedScore    = "weighted_score"
	KeyMethodWeights    = "method_weights"
)

// Details carries the diagnostics of an AnomalyResult.
//
// Values holds the per-method numeric diagnostics:
//   - bollinger_bands: price, volume, middle_band, upper_band, lower_band, upper_deviation, lower_deviation
//   - zscore: price, volume, z_score, rolling_mean, rolling_std
//   - volume: volume, price, z_score, rolling_mean, rolling_std
//   - isolation_forest: price, volume, returns, volume_change, raw_score
//   - lstm: price, volume, predicted_price, error, mean_error, std_error
//
// The remaining fields are only set on aggregated results.
type Details struct {
	Values           map[string]float64
	DetectingMethods []string
	MethodCount      int
	WeightedScore    *float64
	MethodWeights    MethodWeights
}

// NewDetails returns Details with an empty value map.
func NewDetails() Details {
	return Details{Values: make(map[string]float64)}
}

// Set stores a numeric diagnostic and returns the receiver for chaining.
func (d Details) Set(key string, value float64) Details {
	if d.Values == nil {
		d.Values = make(map[string]float64)
	}
	d.Values[key] = value
	return d
}

// Value returns a numeric diagnostic and whether it is present.
func (d Details) Value(key string) (float64, bool) {
	v, ok := d.Values[key]
	return v, ok
}

// Clone returns a deep copy.
func (d Details) Clone() Details {
	out := Details{MethodCount: d.MethodCount}
	if d.Values != nil {
		out.Values = make(map[string]float64, len(d.Values))
		for k, v := range d.Values {
			out.Values[k] = v
		}
	}
	if d.DetectingMethods != nil {
		out.DetectingMethods = append([]string(nil), d.DetectingMethods...)
	}
	if d.WeightedScore != nil {
		ws := *d.WeightedScore
		out.WeightedScore = &ws
	}
	out.MethodWeights = d.MethodWeights.Clone()
	return out
}

// Map flattens the details into a single key/value map.
func (d Details) Map() map[string]any {
	out := make(map[string]any, len(d.Values)+4)
	for k, v := range d.Values {
		out[k] = v
	}
	if d.DetectingMethods != nil {
		out[KeyDetectingMethods] = d.DetectingMethods
	}
	if d.MethodCount > 0 {
		out[KeyMethodCount] = d.MethodCount
	}
	if d.WeightedScore != nil {
		out[KeyWeightedScore] = *d.WeightedScore
	}
	if d.MethodWeights != nil {
		out[KeyMethodWeights] = map[string]float64(d.MethodWeights)
	}
	return out
}

// Keys returns the numeric keys sorted by name.
func (d Details) Keys() []string {
	keys := make([]string, 0, len(d.Values))
	for k := range d.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// MarshalJSON writes the flat form produced by Map.
func (d Details) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Map())
}

// UnmarshalJSON reads the flat form produced by MarshalJSON.
func (d *Details) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = NewDetails()
	for key, msg := range raw {
		switch key {
		case KeyDetectingMethods:
			if err := json.Unmarshal(msg, &d.DetectingMethods); err != nil {
				return err
			}
		case KeyMethodCount:
			if err := json.Unmarshal(msg, &d.MethodCount); err != nil {
				return err
			}
		case KeyWeightedScore:
			var ws float64
			if err := json.Unmarshal(msg, &ws); err != nil {
				return err
			}
			d.WeightedScore = &ws
		case KeyMethodWeights:
			if err := json.Unmarshal(msg, &d.MethodWeights); err != nil {
				return err
			}
		default:
			var v float64
			if err := json.Unmarshal(msg, &v); err != nil {
				// non-numeric extras are not part of the diagnostic set
				continue
			}
			d.Values[key] = v
		}
	}
	return nil
}
