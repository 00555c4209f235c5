package export

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-anomaly/database"
	"stock-anomaly/detection"
)

func sampleBars() []BarRow {
	return BarRows("AAPL", []detection.Bar{
		{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100},
		{Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Open: 1.5, High: 2.5, Low: 1, Close: 2.25, Volume: 200},
	})
}

func sampleAnomalies() []AnomalyRow {
	a := database.AnomalyWithSymbol{Symbol: "AAPL"}
	a.Date = time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	a.DetectionMethod = database.MethodConsensus
	a.AnomalyType = database.AnomalyTypeHybrid
	a.Score = 3.5
	a.Threshold = 2
	a.MethodCount = 2
	a.DetectingMethods = pq.StringArray{"bollinger_bands", "zscore"}
	a.Details = `{"price":2.25}`
	return AnomalyRows([]database.AnomalyWithSymbol{a})
}

func TestNewSaver(t *testing.T) {
	for _, f := range Formats() {
		s := NewSaver(f)
		require.NotNil(t, s, f)
		assert.Equal(t, f, s.Extension())
	}
	assert.NotNil(t, NewSaver(" CSV "))
	assert.Nil(t, NewSaver("xlsx"))
}

func TestRows(t *testing.T) {
	bars := sampleBars()
	assert.Equal(t, "2024-01-02", bars[0].Date)
	assert.Equal(t, "AAPL", bars[1].Symbol)

	rows := sampleAnomalies()
	require.Len(t, rows, 1)
	assert.Equal(t, "bollinger_bands,zscore", rows[0].DetectingMethods)
	assert.Equal(t, int32(2), rows[0].MethodCount)
	assert.Equal(t, "consensus", rows[0].Method)
}

func TestParquetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := ParquetSaver{}

	barPath := filepath.Join(dir, "bars.parquet")
	require.NoError(t, s.SaveBars(sampleBars(), barPath))
	bars, err := parquet.ReadFile[BarRow](barPath)
	require.NoError(t, err)
	assert.Equal(t, sampleBars(), bars)

	anomalyPath := filepath.Join(dir, "anomalies.parquet")
	require.NoError(t, s.SaveAnomalies(sampleAnomalies(), anomalyPath))
	anomalies, err := parquet.ReadFile[AnomalyRow](anomalyPath)
	require.NoError(t, err)
	assert.Equal(t, sampleAnomalies(), anomalies)
}

func TestJSONSaver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bars.json")
	require.NoError(t, JSONSaver{}.SaveBars(sampleBars(), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got []BarRow
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, sampleBars(), got)
}

func TestCSVSaver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anomalies.csv")
	require.NoError(t, CSVSaver{}.SaveAnomalies(sampleAnomalies(), path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "symbol", records[0][0])
	assert.Equal(t, []string{"AAPL", "2024-01-03", "consensus", "hybrid", "3.5", "2", "2",
		"bollinger_bands,zscore", `{"price":2.25}`, ""}, records[1])

	barPath := filepath.Join(dir, "bars.csv")
	require.NoError(t, CSVSaver{}.SaveBars(sampleBars(), barPath))
	data, err := os.ReadFile(barPath)
	require.NoError(t, err)
	assert.Equal(t, "symbol,date,open,high,low,close,volume\nAAPL,2024-01-02,1,2,0.5,1.5,100\nAAPL,2024-01-03,1.5,2.5,1,2.25,200\n", string(data))
}
