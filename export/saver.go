package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// Saver writes export rows to a file
type Saver interface {
	SaveBars(rows []BarRow, path string) error
	SaveAnomalies(rows []AnomalyRow, path string) error
	Extension() string
}

// NewSaver returns the saver for format (csv, parquet, json), or nil if the format is unsupported
func NewSaver(format string) Saver {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "csv":
		return CSVSaver{}
	case "parquet":
		return ParquetSaver{}
	case "json":
		return JSONSaver{}
	default:
		return nil
	}
}

// Formats lists the supported formats
func Formats() []string { return []string{"parquet", "csv", "json"} }

// ParquetSaver writes parquet files
type ParquetSaver struct{}

func (ParquetSaver) Extension() string { return "parquet" }

func (ParquetSaver) SaveBars(rows []BarRow, path string) error {
	return parquet.WriteFile(path, rows)
}

func (ParquetSaver) SaveAnomalies(rows []AnomalyRow, path string) error {
	return parquet.WriteFile(path, rows)
}

// JSONSaver writes indented JSON arrays
type JSONSaver struct{}

func (JSONSaver) Extension() string { return "json" }

func (JSONSaver) SaveBars(rows []BarRow, path string) error { return writeJSON(rows, path) }

func (JSONSaver) SaveAnomalies(rows []AnomalyRow, path string) error { return writeJSON(rows, path) }

func writeJSON(v interface{}, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// CSVSaver writes CSV files with a header row
type CSVSaver struct{}

func (CSVSaver) Extension() string { return "csv" }

func (CSVSaver) SaveBars(rows []BarRow, path string) error {
	records := make([][]string, 0, len(rows))
	for _, b := range rows {
		records = append(records, []string{
			b.Symbol, b.Date,
			floatStr(b.Open), floatStr(b.High), floatStr(b.Low), floatStr(b.Close),
			strconv.FormatInt(b.Volume, 10),
		})
	}
	return writeCSV(path, []string{"symbol", "date", "open", "high", "low", "close", "volume"}, records)
}

func (CSVSaver) SaveAnomalies(rows []AnomalyRow, path string) error {
	records := make([][]string, 0, len(rows))
	for _, a := range rows {
		records = append(records, []string{
			a.Symbol, a.Date, a.Method, a.AnomalyType,
			floatStr(a.Score), floatStr(a.Threshold),
			strconv.Itoa(int(a.MethodCount)), a.DetectingMethods, a.Details, a.RunID,
		})
	}
	header := []string{"symbol", "date", "method", "anomaly_type", "score", "threshold",
		"method_count", "detecting_methods", "details", "run_id"}
	return writeCSV(path, header, records)
}

func writeCSV(path string, header []string, records [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

func floatStr(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
