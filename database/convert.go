package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"stock-anomaly/detection"
)

// PriceFromBar converts a detection bar into a price row. The date is truncated to the UTC day.
func PriceFromBar(stockID int64, b detection.Bar) StockPrice {
	return StockPrice{
		StockID: stockID,
		Date:    dayUTC(b.Date),
		Open:    b.Open,
		High:    b.High,
		Low:     b.Low,
		Close:   b.Close,
		Volume:  b.Volume,
	}
}

// PricesToBars converts stored rows into bars, preserving order
func PricesToBars(prices []StockPrice) []detection.Bar {
	bars := make([]detection.Bar, len(prices))
	for i, p := range prices {
		bars[i] = detection.Bar{
			Date:   dayUTC(p.Date),
			Open:   p.Open,
			High:   p.High,
			Low:    p.Low,
			Close:  p.Close,
			Volume: p.Volume,
		}
	}
	return bars
}

// AnomalyTypeFor maps a detection method to the stored anomaly type
func AnomalyTypeFor(method string) string {
	switch method {
	case detection.MethodVolume:
		return AnomalyTypeVolume
	case detection.MethodBollinger, detection.MethodZScore, detection.MethodLSTM:
		return AnomalyTypePrice
	default:
		return AnomalyTypeHybrid
	}
}

// AnomalyFromResult converts a detection result into a row for stockID.
// The stored method is r.Method, so callers relabel aggregated results before converting.
func AnomalyFromResult(stockID int64, runID string, r detection.AnomalyResult) (Anomaly, error) {
	details, err := json.Marshal(r.Details)
	if err != nil {
		return Anomaly{}, fmt.Errorf("marshal details for %s: %w", r, err)
	}

	a := Anomaly{
		StockID:         stockID,
		Date:            dayUTC(r.Date),
		AnomalyType:     AnomalyTypeFor(r.Method),
		DetectionMethod: r.Method,
		Score:           r.Score,
		Threshold:       r.Threshold,
		Details:         string(details),
		MethodCount:     r.Details.MethodCount,
		RunID:           runID,
	}
	if len(r.Details.DetectingMethods) > 0 {
		a.DetectingMethods = pq.StringArray(append([]string(nil), r.Details.DetectingMethods...))
	}
	return a, nil
}

// AnomalyToResult converts a stored row back into a detection result
func AnomalyToResult(a Anomaly) (detection.AnomalyResult, error) {
	r := detection.AnomalyResult{
		Date:      dayUTC(a.Date),
		Score:     a.Score,
		Threshold: a.Threshold,
		IsAnomaly: true,
		Method:    a.DetectionMethod,
		Details:   detection.NewDetails(),
	}
	if a.Details != "" {
		if err := json.Unmarshal([]byte(a.Details), &r.Details); err != nil {
			return detection.AnomalyResult{}, fmt.Errorf("unmarshal details of anomaly %d: %w", a.ID, err)
		}
	}
	return r, nil
}

func dayUTC(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
