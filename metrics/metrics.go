// Package metrics exposes Prometheus instrumentation for scans, alerts and HTTP traffic.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stock_anomaly"

// Registry holds all Prometheus metrics of the service. A nil *Registry records nothing.
type Registry struct {
	registry *prometheus.Registry

	ScanDuration     *prometheus.HistogramVec
	ScansTotal       *prometheus.CounterVec
	ActiveScans      prometheus.Gauge
	AnomaliesTotal   *prometheus.CounterVec
	ProviderRequests *prometheus.CounterVec
	BarsCollected    *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	RealtimeClients  *prometheus.GaugeVec
}

// New creates a registry with every metric registered, plus Go and process collectors
func New() *Registry {
	m := &Registry{
		registry: prometheus.NewRegistry(),

		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scan_duration_seconds",
				Help:      "Duration of a detection scan of one symbol",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"result"},
		),
		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Total detection scans by symbol and result",
			},
			[]string{"symbol", "result"},
		),
		ActiveScans: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_scans",
				Help:      "Number of scans currently running",
			},
		),
		AnomaliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "anomalies_total",
				Help:      "Anomalies stored by detection method",
			},
			[]string{"method"},
		),
		ProviderRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Market data fetches by provider and result",
			},
			[]string{"provider", "result"},
		),
		BarsCollected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bars_collected_total",
				Help:      "Daily bars upserted by symbol",
			},
			[]string{"symbol"},
		),
		Deliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alert_deliveries_total",
				Help:      "Alert deliveries by channel and status",
			},
			[]string{"channel", "status"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		RealtimeClients: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "realtime_clients",
				Help:      "Connected realtime clients by transport",
			},
			[]string{"transport"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ScanDuration,
		m.ScansTotal,
		m.ActiveScans,
		m.AnomaliesTotal,
		m.ProviderRequests,
		m.BarsCollected,
		m.Deliveries,
		m.HTTPRequests,
		m.HTTPDuration,
		m.RealtimeClients,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Registry) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ScanTimer tracks one scan
type ScanTimer struct {
	metrics *Registry
	symbol  string
	start   time.Time
}

// StartScan marks a scan as active and starts timing it
func (m *Registry) StartScan(symbol string) *ScanTimer {
	if m != nil {
		m.ActiveScans.Inc()
	}
	return &ScanTimer{metrics: m, symbol: symbol, start: time.Now()}
}

// Stop records the scan result
func (t *ScanTimer) Stop(err error) {
	if t.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	t.metrics.ActiveScans.Dec()
	t.metrics.ScansTotal.WithLabelValues(t.symbol, result).Inc()
	t.metrics.ScanDuration.WithLabelValues(result).Observe(time.Since(t.start).Seconds())
}

// RecordAnomalies adds stored anomaly counts per method
func (m *Registry) RecordAnomalies(method string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AnomaliesTotal.WithLabelValues(method).Add(float64(n))
}

// RecordProviderRequest records a market data fetch
func (m *Registry) RecordProviderRequest(provider string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.ProviderRequests.WithLabelValues(provider, result).Inc()
}

// RecordBars records upserted bars for a symbol
func (m *Registry) RecordBars(symbol string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BarsCollected.WithLabelValues(symbol).Add(float64(n))
}

// RecordDelivery records an alert delivery on a channel
func (m *Registry) RecordDelivery(channel string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	m.Deliveries.WithLabelValues(channel, status).Inc()
}

// RecordHTTP records one served request
func (m *Registry) RecordHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

// SetRealtimeClients sets the client gauge of a transport (sse or ws)
func (m *Registry) SetRealtimeClients(transport string, n int) {
	if m == nil {
		return
	}
	m.RealtimeClients.WithLabelValues(transport).Set(float64(n))
}
