// Package export writes price history and stored anomalies to parquet, CSV or JSON files.
package export

import (
	"strings"
	"time"

	"stock-anomaly/database"
	"stock-anomaly/detection"
)

// BarRow is one daily bar in an export file
type BarRow struct {
	Symbol string  `json:"symbol" parquet:"symbol"`
	Date   string  `json:"date" parquet:"date"`
	Open   float64 `json:"open" parquet:"open"`
	High   float64 `json:"high" parquet:"high"`
	Low    float64 `json:"low" parquet:"low"`
	Close  float64 `json:"close" parquet:"close"`
	Volume int64   `json:"volume" parquet:"volume"`
}

// AnomalyRow is one stored anomaly in an export file
type AnomalyRow struct {
	Symbol           string  `json:"symbol" parquet:"symbol"`
	Date             string  `json:"date" parquet:"date"`
	Method           string  `json:"method" parquet:"method"`
	AnomalyType      string  `json:"anomaly_type" parquet:"anomaly_type"`
	Score            float64 `json:"score" parquet:"score"`
	Threshold        float64 `json:"threshold" parquet:"threshold"`
	MethodCount      int32   `json:"method_count" parquet:"method_count"`
	DetectingMethods string  `json:"detecting_methods,omitempty" parquet:"detecting_methods,optional"`
	Details          string  `json:"details,omitempty" parquet:"details,optional"`
	RunID            string  `json:"run_id,omitempty" parquet:"run_id,optional"`
}

// BarRows converts bars of one symbol
func BarRows(symbol string, bars []detection.Bar) []BarRow {
	rows := make([]BarRow, len(bars))
	for i, b := range bars {
		rows[i] = BarRow{
			Symbol: symbol,
			Date:   b.Date.Format(time.DateOnly),
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		}
	}
	return rows
}

// AnomalyRows converts stored anomalies
func AnomalyRows(anomalies []database.AnomalyWithSymbol) []AnomalyRow {
	rows := make([]AnomalyRow, len(anomalies))
	for i, a := range anomalies {
		rows[i] = AnomalyRow{
			Symbol:           a.Symbol,
			Date:             a.Date.Format(time.DateOnly),
			Method:           a.DetectionMethod,
			AnomalyType:      a.AnomalyType,
			Score:            a.Score,
			Threshold:        a.Threshold,
			MethodCount:      int32(a.MethodCount),
			DetectingMethods: strings.Join(a.DetectingMethods, ","),
			Details:          a.Details,
			RunID:            a.RunID,
		}
	}
	return rows
}
