package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"stock-anomaly/database"
)

type anomalyView struct {
	ID               int64           `json:"id"`
	StockID          int64           `json:"stock_id"`
	Symbol           string          `json:"symbol"`
	Date             string          `json:"date"`
	AnomalyType      string          `json:"anomaly_type"`
	DetectionMethod  string          `json:"detection_method"`
	Score            float64         `json:"score"`
	Threshold        float64         `json:"threshold"`
	IsVerified       bool            `json:"is_verified"`
	Details          json.RawMessage `json:"details,omitempty"`
	DetectingMethods []string        `json:"detecting_methods,omitempty"`
	MethodCount      int             `json:"method_count,omitempty"`
	RunID            string          `json:"run_id,omitempty"`
	CreatedAt        string          `json:"created_at"`
}

func anomalyFromRow(a database.AnomalyWithSymbol) anomalyView {
	v := anomalyView{
		ID:               a.ID,
		StockID:          a.StockID,
		Symbol:           a.Symbol,
		Date:             a.Date.UTC().Format(time.DateOnly),
		AnomalyType:      a.AnomalyType,
		DetectionMethod:  a.DetectionMethod,
		Score:            a.Score,
		Threshold:        a.Threshold,
		IsVerified:       a.IsVerified,
		DetectingMethods: a.DetectingMethods,
		MethodCount:      a.MethodCount,
		RunID:            a.RunID,
		CreatedAt:        a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if json.Valid([]byte(a.Details)) {
		v.Details = json.RawMessage(a.Details)
	}
	return v
}

// handleGetAnomalies returns stored anomalies filtered by symbol, date range and methods
func (s *Server) handleGetAnomalies(w http.ResponseWriter, r *http.Request) {
	start, end, ok := dateRange(w, r)
	if !ok {
		return
	}
	filter := database.AnomalyFilter{
		Symbol:  strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol"))),
		Methods: getListParam(r, "methods"),
		Start:   start,
		End:     end,
		Limit:   getIntParam(r, "limit", database.DefaultAnomalyLimit, intPtr(1), intPtr(database.MaxAnomalyLimit)),
	}

	rows, hit := s.cache.GetAnomalies(r.Context(), filter)
	if !hit {
		// Unknown symbols are a 404 rather than an empty list
		if filter.Symbol != "" {
			if _, err := s.repo.GetStockBySymbol(filter.Symbol); err != nil {
				respondWithStoreError(w, err)
				return
			}
		}

		var err error
		rows, err = s.repo.GetAnomalies(filter)
		if err != nil {
			respondWithStoreError(w, err)
			return
		}
		_ = s.cache.SetAnomalies(r.Context(), filter, rows)
	}

	views := make([]anomalyView, 0, len(rows))
	for _, row := range rows {
		views = append(views, anomalyFromRow(row))
	}
	respondData(w, http.StatusOK, views)
}

// handleVerifyAnomaly marks an anomaly as verified or not. Body: {"verified": bool}
func (s *Server) handleVerifyAnomaly(w http.ResponseWriter, r *http.Request) {
	id, err := getPathID(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid ID", err)
		return
	}

	body := struct {
		Verified *bool `json:"verified"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Verified == nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := s.repo.SetAnomalyVerified(id, *body.Verified); err != nil {
		respondWithStoreError(w, err)
		return
	}
	// Cached rows carry is_verified
	_ = s.cache.InvalidateAll(r.Context())

	respondData(w, http.StatusOK, map[string]interface{}{"id": id, "is_verified": *body.Verified})
}

// handleDetect runs a scan for one symbol. The symbol comes from ?symbol= or {"symbol": "..."}.
func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	if s.detector == nil {
		respondWithError(w, http.StatusServiceUnavailable, "detection is not available", nil)
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" && r.ContentLength != 0 {
		body := struct {
			Symbol string `json:"symbol"`
		}{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
		symbol = body.Symbol
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		respondWithError(w, http.StatusBadRequest, "symbol is required", nil)
		return
	}

	result, err := s.detector.Detect(r.Context(), symbol)
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	respondData(w, http.StatusOK, result)
}

// handleGetRuns lists recent detection runs, optionally for one symbol
func (s *Server) handleGetRuns(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	limit := getIntParam(r, "limit", 20, intPtr(1), intPtr(200))

	runs, err := s.repo.GetRecentRuns(symbol, limit)
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	if runs == nil {
		runs = []database.DetectionRun{}
	}
	respondData(w, http.StatusOK, runs)
}
