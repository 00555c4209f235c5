// Package detection implements the anomaly-detection engine for daily stock bars.
//
// The engine is made of three layers:
//   - Statistical detectors over a trailing window (Bollinger Bands, price Z-score, volume Z-score)
//   - Model-based detectors (isolation-forest outlier scoring, LSTM prediction-error scoring)
//   - The hybrid aggregator, which runs every detector and derives a consensus view and a
//     weighted-score view keyed by calendar date
//
// Everything in this package is synchronous and free of I/O. Configuration is validated at
// construction and never mutated afterwards, so a detector may be shared between goroutines.
package detection

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Method identifiers used as result methods and as aggregation keys.
const (
	MethodBollinger       = "bollinger_bands"
	MethodZScore          = "zscore"
	MethodVolume          = "volume"
	MethodIsolationForest = "isolation_forest"
	MethodLSTM            = "lstm"
	MethodHybridWeighted  = "hybrid_weighted"
)

// MethodOrder is the canonical order in which per-method results are visited during
// aggregation. It makes tie-breaking independent of map iteration order.
var MethodOrder = []string{
	MethodBollinger,
	MethodZScore,
	MethodVolume,
	MethodIsolationForest,
	MethodLSTM,
}

// Bar is one trading day of OHLCV data.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Series is the ordered bar history of one symbol.
type Series struct {
	Symbol string
	Bars   []Bar
}

// NewSeries validates bars and returns a Series. Bars must already be sorted by date with no
// duplicate dates; use SortBars on raw provider data first.
func NewSeries(symbol string, bars []Bar) (Series, error) {
	for i, b := range bars {
		if !validPrice(b.Close) || !validPrice(b.Open) || !validPrice(b.High) || !validPrice(b.Low) {
			return Series{}, &SeriesError{Symbol: symbol, Index: i, Reason: "prices must be positive and finite"}
		}
		if b.Volume < 0 {
			return Series{}, &SeriesError{Symbol: symbol, Index: i, Reason: "volume must be non-negative"}
		}
		if i > 0 && !b.Date.After(bars[i-1].Date) {
			return Series{}, &SeriesError{Symbol: symbol, Index: i, Reason: "dates must be strictly increasing"}
		}
	}
	return Series{Symbol: symbol, Bars: bars}, nil
}

// validPrice rejects zero, negative, NaN and infinite prices
func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 1)
}

// SortBars orders bars by date and drops later duplicates of the same calendar date.
func SortBars(bars []Bar) []Bar {
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	out := sorted[:0]
	for _, b := range sorted {
		if len(out) > 0 && sameDay(out[len(out)-1].Date, b.Date) {
			continue
		}
		out = append(out, b)
	}
	return out
}

// Len returns the number of bars.
func (s Series) Len() int { return len(s.Bars) }

// Closes returns the close prices in bar order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = b.Close
	}
	return out
}

// Volumes returns the volumes in bar order as floats.
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		out[i] = float64(b.Volume)
	}
	return out
}

// AnomalyResult is one flagged bar produced by a detector or by aggregation.
type AnomalyResult struct {
	Date      time.Time `json:"date"`
	Score     float64   `json:"score"`
	Threshold float64   `json:"threshold"`
	IsAnomaly bool      `json:"is_anomaly"`
	Method    string    `json:"method"`
	Details   Details   `json:"details"`
}

// DateKey returns the calendar date of the result as YYYY-MM-DD.
func (r AnomalyResult) DateKey() string {
	return r.Date.Format(time.DateOnly)
}

// Clone returns a deep copy of the result.
func (r AnomalyResult) Clone() AnomalyResult {
	r.Details = r.Details.Clone()
	return r
}

// String implements fmt.Stringer.
func (r AnomalyResult) String() string {
	return fmt.Sprintf("%s %s score=%.4f threshold=%.4f", r.DateKey(), r.Method, r.Score, r.Threshold)
}

// MethodResults maps a method identifier to the anomalies that method emitted.
type MethodResults map[string][]AnomalyResult

// Methods returns the method keys in canonical order followed by any unknown keys sorted by name.
func (m MethodResults) Methods() []string {
	known := make(map[string]bool, len(MethodOrder))
	out := make([]string, 0, len(m))
	for _, name := range MethodOrder {
		known[name] = true
		if _, ok := m[name]; ok {
			out = append(out, name)
		}
	}

	var extra []string
	for name := range m {
		if !known[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// Total returns the number of anomalies across all methods.
func (m MethodResults) Total() int {
	n := 0
	for _, list := range m {
		n += len(list)
	}
	return n
}

// MethodWeights assigns a non-negative weight to each method for the weighted view.
type MethodWeights map[string]float64

// DefaultMethodWeights returns equal weights of 0.2 for the five detectors.
func DefaultMethodWeights() MethodWeights {
	return MethodWeights{
		MethodBollinger:       0.2,
		MethodZScore:          0.2,
		MethodVolume:          0.2,
		MethodIsolationForest: 0.2,
		MethodLSTM:            0.2,
	}
}

// Clone returns a copy of the weights.
func (w MethodWeights) Clone() MethodWeights {
	if w == nil {
		return nil
	}
	out := make(MethodWeights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Validate rejects negative or non-finite weights.
func (w MethodWeights) Validate() error {
	for method, weight := range w {
		if weight < 0 || !isFinite(weight) {
			return &ConfigError{Field: "method_weights." + method, Reason: "must be a non-negative number", Value: weight}
		}
	}
	return nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
