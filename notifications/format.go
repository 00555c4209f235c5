package notifications

import (
	"fmt"

	"stock-anomaly/detection"
	"stock-anomaly/helpers"
)

// alertRow is the display form of one anomaly shared by every channel
type alertRow struct {
	Date      string
	Method    string
	Score     string
	Price     string
	Volume    string
	Threshold string
}

func rowFor(r detection.AnomalyResult) alertRow {
	return alertRow{
		Date:      r.DateKey(),
		Method:    r.Method,
		Score:     fmt.Sprintf("%.2f", r.Score),
		Price:     helpers.FormatOptionalUSD(r.Details.Value(detection.KeyPrice)),
		Volume:    helpers.FormatOptionalVolume(r.Details.Value(detection.KeyVolume)),
		Threshold: fmt.Sprintf("%.2f", r.Threshold),
	}
}

func rowsFor(anomalies []detection.AnomalyResult) []alertRow {
	rows := make([]alertRow, len(anomalies))
	for i, a := range anomalies {
		rows[i] = rowFor(a)
	}
	return rows
}

func alertTitle(symbol string) string {
	return fmt.Sprintf("Stock Anomaly Alert - %s", symbol)
}

func summaryTitle(day string) string {
	return fmt.Sprintf("Daily Stock Anomaly Summary - %s", day)
}

func countText(n int) string {
	if n == 1 {
		return "1 anomaly detected"
	}
	return fmt.Sprintf("%d anomalies detected", n)
}
