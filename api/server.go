package api

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"stock-anomaly/cache"
	"stock-anomaly/database"
	"stock-anomaly/logging"
	"stock-anomaly/metrics"
)

// Store is the repository surface the API reads and writes
type Store interface {
	GetStocks() ([]database.Stock, error)
	GetStockBySymbol(symbol string) (*database.Stock, error)
	GetPrices(stockID int64, start, end time.Time) ([]database.StockPrice, error)
	GetAnomalies(filter database.AnomalyFilter) ([]database.AnomalyWithSymbol, error)
	SetAnomalyVerified(id int64, verified bool) error
	GetRecentRuns(symbol string, limit int) ([]database.DetectionRun, error)

	GetWebhooks() ([]database.AlertWebhook, error)
	GetWebhookByID(id int) (*database.AlertWebhook, error)
	SaveWebhook(webhook *database.AlertWebhook) error
	DeleteWebhook(id int) error
}

// DetectorInterface runs an on-demand scan of one symbol
type DetectorInterface interface {
	Detect(ctx context.Context, symbol string) (interface{}, error)
}

// WebhookCache is refreshed whenever webhooks change
type WebhookCache interface {
	RefreshCache(ctx context.Context)
}

// Server handles HTTP API requests
type Server struct {
	repo      Store
	detector  DetectorInterface
	webhookMq WebhookCache
	cache     *cache.AnomalyCache
	metrics   *metrics.Registry
	events    http.Handler
	ws        http.Handler
	origin    string
	health    func(ctx context.Context) error
	logger    zerolog.Logger
	server    *http.Server
}

// NewServer creates a new API server instance
func NewServer(repo Store, webhookMq WebhookCache, redis *cache.RedisClient, m *metrics.Registry, corsOrigin string) *Server {
	return &Server{
		repo:      repo,
		webhookMq: webhookMq,
		cache:     cache.NewAnomalyCache(redis),
		metrics:   m,
		origin:    corsOrigin,
		logger:    logging.Component("api"),
	}
}

// SetDetector enables POST /api/detect
func (s *Server) SetDetector(detector DetectorInterface) {
	s.detector = detector
}

// SetRealtime mounts the SSE and WebSocket endpoints
func (s *Server) SetRealtime(events, ws http.Handler) {
	s.events = events
	s.ws = ws
}

// SetHealthCheck sets the dependency probe used by /health
func (s *Server) SetHealthCheck(check func(ctx context.Context) error) {
	s.health = check
}

// Handler builds the routed handler with middleware
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Market data
	mux.HandleFunc("GET /api/stocks", s.handleGetStocks)
	mux.HandleFunc("GET /api/stock-data", s.handleGetStockData)

	// Anomalies
	mux.HandleFunc("GET /api/anomalies", s.handleGetAnomalies)
	mux.HandleFunc("PUT /api/anomalies/{id}/verify", s.handleVerifyAnomaly)
	mux.HandleFunc("POST /api/detect", s.handleDetect)
	mux.HandleFunc("GET /api/runs", s.handleGetRuns)

	// Settings stub
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)

	// Webhook Management Routes
	mux.HandleFunc("GET /api/config/webhooks", s.handleGetWebhooks)
	mux.HandleFunc("POST /api/config/webhooks", s.handleCreateWebhook)
	mux.HandleFunc("PUT /api/config/webhooks/{id}", s.handleUpdateWebhook)
	mux.HandleFunc("DELETE /api/config/webhooks/{id}", s.handleDeleteWebhook)

	// Realtime
	if s.events != nil {
		mux.Handle("GET /api/events", s.events)
	}
	if s.ws != nil {
		mux.Handle("GET /api/ws", s.ws)
	}

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start serves on port until Shutdown is called
func (s *Server) Start(port int) error {
	serverAddr := fmt.Sprintf("0.0.0.0:%d", port)
	s.server = &http.Server{
		Addr:              serverAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info().Str("addr", serverAddr).Msg("API server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Middleware
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	origin := s.origin
	if origin == "" {
		origin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if origin != "*" {
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for logs and metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the recorder
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack lets the WebSocket upgrader take over the connection
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController and the WebSocket upgrader
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		elapsed := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTP(route, rec.status, elapsed)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("elapsed", elapsed).
			Msg("HTTP request")
	})
}

// Handlers are distributed across multiple files:
// - handlers_market.go: stocks and price history
// - handlers_anomalies.go: anomaly queries, verification, on-demand detection, runs
// - handlers_config.go: settings stub, webhooks, health check
