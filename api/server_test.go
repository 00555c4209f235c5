package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-anomaly/database"
	"stock-anomaly/metrics"
)

type fakeStore struct {
	stocks    []database.Stock
	prices    map[int64][]database.StockPrice
	anomalies []database.AnomalyWithSymbol
	webhooks  map[int]database.AlertWebhook
	runs      []database.DetectionRun

	lastFilter   database.AnomalyFilter
	lastStart    time.Time
	lastEnd      time.Time
	verified     map[int64]bool
	anomalyCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		stocks: []database.Stock{
			{ID: 1, Symbol: "AAPL", CompanyName: "Apple Inc."},
			{ID: 2, Symbol: "MSFT", CompanyName: "Microsoft Corporation"},
		},
		prices: map[int64][]database.StockPrice{
			1: {
				{StockID: 1, Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 100},
				{StockID: 1, Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Open: 10.5, High: 12, Low: 10, Close: 11, Volume: 150},
			},
		},
		webhooks: map[int]database.AlertWebhook{},
		verified: map[int64]bool{},
	}
}

func (f *fakeStore) GetStocks() ([]database.Stock, error) { return f.stocks, nil }

func (f *fakeStore) GetStockBySymbol(symbol string) (*database.Stock, error) {
	for _, s := range f.stocks {
		if s.Symbol == symbol {
			s := s
			return &s, nil
		}
	}
	return nil, database.NewNotFoundErrorWithID("stock", symbol)
}

func (f *fakeStore) GetPrices(stockID int64, start, end time.Time) ([]database.StockPrice, error) {
	f.lastStart, f.lastEnd = start, end
	return f.prices[stockID], nil
}

func (f *fakeStore) GetAnomalies(filter database.AnomalyFilter) ([]database.AnomalyWithSymbol, error) {
	f.lastFilter = filter
	f.anomalyCalls++
	return f.anomalies, nil
}

func (f *fakeStore) SetAnomalyVerified(id int64, verified bool) error {
	if id != 7 {
		return database.NewNotFoundErrorWithID("anomaly", id)
	}
	f.verified[id] = verified
	return nil
}

func (f *fakeStore) GetRecentRuns(symbol string, limit int) ([]database.DetectionRun, error) {
	return f.runs, nil
}

func (f *fakeStore) GetWebhooks() ([]database.AlertWebhook, error) {
	var out []database.AlertWebhook
	for _, h := range f.webhooks {
		out = append(out, h)
	}
	return out, nil
}

func (f *fakeStore) GetWebhookByID(id int) (*database.AlertWebhook, error) {
	h, ok := f.webhooks[id]
	if !ok {
		return nil, database.NewNotFoundErrorWithID("webhook", id)
	}
	return &h, nil
}

func (f *fakeStore) SaveWebhook(webhook *database.AlertWebhook) error {
	if err := database.ValidateWebhook(webhook); err != nil {
		return err
	}
	if webhook.ID == 0 {
		webhook.ID = len(f.webhooks) + 1
	}
	f.webhooks[webhook.ID] = *webhook
	return nil
}

func (f *fakeStore) DeleteWebhook(id int) error {
	if _, ok := f.webhooks[id]; !ok {
		return database.NewNotFoundErrorWithID("webhook", id)
	}
	delete(f.webhooks, id)
	return nil
}

type fakeDetector struct {
	symbol string
	err    error
}

func (d *fakeDetector) Detect(_ context.Context, symbol string) (interface{}, error) {
	d.symbol = symbol
	if d.err != nil {
		return nil, d.err
	}
	return map[string]interface{}{"symbol": symbol, "stored": 3}, nil
}

type fakeWebhookCache struct{ refreshed int }

func (c *fakeWebhookCache) RefreshCache(context.Context) { c.refreshed++ }

func newTestServer(store *fakeStore) (*Server, *fakeWebhookCache) {
	hooks := &fakeWebhookCache{}
	return NewServer(store, hooks, nil, metrics.New(), "http://localhost:3000"), hooks
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, dest))
}

func TestGetStocks(t *testing.T) {
	srv, _ := newTestServer(newFakeStore())
	rec := do(t, srv.Handler(), http.MethodGet, "/api/stocks", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stocks []map[string]string
	decodeData(t, rec, &stocks)
	require.Len(t, stocks, 2)
	assert.Equal(t, "AAPL", stocks[0]["symbol"])
	assert.Equal(t, "Apple Inc.", stocks[0]["company_name"])
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetStockData(t *testing.T) {
	store := newFakeStore()
	srv, _ := newTestServer(store)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/stock-data?symbol=aapl&start=2024-01-01&end=2024-01-31T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var prices []priceView
	decodeData(t, rec, &prices)
	require.Len(t, prices, 2)
	assert.Equal(t, "2024-01-02", prices[0].Date)
	assert.Equal(t, int64(150), prices[1].Volume)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), store.lastStart)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), store.lastEnd)
}

func TestGetStockDataErrors(t *testing.T) {
	srv, _ := newTestServer(newFakeStore())
	h := srv.Handler()

	tests := []struct {
		name   string
		target string
		code   int
	}{
		{"missing symbol", "/api/stock-data", http.StatusBadRequest},
		{"unknown symbol", "/api/stock-data?symbol=ZZZZ", http.StatusNotFound},
		{"bad date", "/api/stock-data?symbol=AAPL&start=yesterday", http.StatusBadRequest},
		{"inverted range", "/api/stock-data?symbol=AAPL&start=2024-02-01&end=2024-01-01", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), "detail")
		})
	}
}

func TestGetAnomalies(t *testing.T) {
	store := newFakeStore()
	store.anomalies = []database.AnomalyWithSymbol{{
		Anomaly: database.Anomaly{
			ID:              7,
			StockID:         1,
			Date:            time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
			AnomalyType:     database.AnomalyTypePrice,
			DetectionMethod: "zscore",
			Score:           3.4,
			Threshold:       3,
			Details:         `{"price":11,"z_score":3.4}`,
		},
		Symbol: "AAPL",
	}}
	srv, _ := newTestServer(store)

	rec := do(t, srv.Handler(), http.MethodGet, "/api/anomalies?symbol=AAPL&methods=zscore,consensus&limit=50", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var rows []anomalyView
	decodeData(t, rec, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-01-03", rows[0].Date)
	assert.Equal(t, "AAPL", rows[0].Symbol)
	assert.JSONEq(t, `{"price":11,"z_score":3.4}`, string(rows[0].Details))

	assert.Equal(t, "AAPL", store.lastFilter.Symbol)
	assert.Equal(t, []string{"zscore", "consensus"}, store.lastFilter.Methods)
	assert.Equal(t, 50, store.lastFilter.Limit)
}

func TestGetAnomaliesDefaults(t *testing.T) {
	store := newFakeStore()
	srv, _ := newTestServer(store)
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/anomalies?limit=999999", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
	assert.Equal(t, database.DefaultAnomalyLimit, store.lastFilter.Limit)

	rec = do(t, h, http.MethodGet, "/api/anomalies?symbol=NOPE", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVerifyAnomaly(t *testing.T) {
	store := newFakeStore()
	srv, _ := newTestServer(store)
	h := srv.Handler()

	rec := do(t, h, http.MethodPut, "/api/anomalies/7/verify", `{"verified":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.verified[7])

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPut, "/api/anomalies/8/verify", `{"verified":true}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/anomalies/7/verify", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPut, "/api/anomalies/x/verify", `{"verified":true}`).Code)
}

func TestDetect(t *testing.T) {
	srv, _ := newTestServer(newFakeStore())
	h := srv.Handler()

	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/api/detect?symbol=AAPL", "").Code)

	det := &fakeDetector{}
	srv.SetDetector(det)
	h = srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/detect", `{"symbol":" msft "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MSFT", det.symbol)
	assert.JSONEq(t, `{"data":{"symbol":"MSFT","stored":3}}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/detect", "").Code)

	det.err = database.NewNotFoundErrorWithID("stock", "ZZZ")
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/detect?symbol=ZZZ", "").Code)

	det.err = errors.New("boom")
	rec = do(t, h, http.MethodPost, "/api/detect?symbol=AAPL", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestSettingsStub(t *testing.T) {
	srv, _ := newTestServer(newFakeStore())
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"anomalyThreshold":0.8,"lookbackPeriod":30,"updateFrequency":"daily"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/settings", `{"anomalyThreshold":0.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"anomalyThreshold":0.5}`, rec.Body.String())
}

func TestWebhookCRUD(t *testing.T) {
	store := newFakeStore()
	srv, hooks := newTestServer(store)
	h := srv.Handler()

	rec := do(t, h, http.MethodPost, "/api/config/webhooks", `{"id":99,"name":"ops","url":"https://hooks.example.com/a","platform":"slack"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created database.AlertWebhook
	decodeData(t, rec, &created)
	assert.Equal(t, 1, created.ID)
	assert.Equal(t, "POST", created.Method)

	rec = do(t, h, http.MethodPut, "/api/config/webhooks/1", `{"min_score":2.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := store.webhooks[1]
	assert.Equal(t, "ops", updated.Name)
	require.NotNil(t, updated.MinScore)
	assert.Equal(t, 2.5, *updated.MinScore)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/config/webhooks", `{"name":"x","url":"nope"}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPut, "/api/config/webhooks/5", `{}`).Code)

	rec = do(t, h, http.MethodGet, "/api/config/webhooks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []database.AlertWebhook
	decodeData(t, rec, &list)
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/config/webhooks/1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/api/config/webhooks/1", "").Code)
	assert.Equal(t, 3, hooks.refreshed)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(newFakeStore())
	h := srv.Handler()

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	srv.SetHealthCheck(func(context.Context) error { return errors.New("db down") })
	rec = do(t, srv.Handler(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stock_anomaly_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := newTestServer(newFakeStore())
	rec := do(t, srv.Handler(), http.MethodOptions, "/api/stocks", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
}
