package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanTimer(t *testing.T) {
	m := New()

	timer := m.StartScan("AAPL")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveScans))
	timer.Stop(nil)
	m.StartScan("AAPL").Stop(errors.New("boom"))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveScans))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal.WithLabelValues("AAPL", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ScansTotal.WithLabelValues("AAPL", "error")))
}

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordAnomalies("zscore", 3)
	m.RecordAnomalies("zscore", 0)
	m.RecordProviderRequest("polygon", nil)
	m.RecordBars("MSFT", 5)
	m.RecordDelivery("slack", errors.New("x"))
	m.RecordHTTP("/api/stocks", 200, 10*time.Millisecond)
	m.SetRealtimeClients("ws", 2)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.AnomaliesTotal.WithLabelValues("zscore")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderRequests.WithLabelValues("polygon", "success")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.BarsCollected.WithLabelValues("MSFT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deliveries.WithLabelValues("slack", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("/api/stocks", "200")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RealtimeClients.WithLabelValues("ws")))
}

func TestNilRegistryIsNoop(t *testing.T) {
	var m *Registry
	m.StartScan("AAPL").Stop(nil)
	m.RecordAnomalies("lstm", 1)
	m.RecordProviderRequest("polygon", nil)
	m.RecordBars("AAPL", 1)
	m.RecordDelivery("email", nil)
	m.RecordHTTP("/", 200, time.Millisecond)
	m.SetRealtimeClients("sse", 1)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordAnomalies("volume", 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `stock_anomaly_anomalies_total{method="volume"} 1`)
}
