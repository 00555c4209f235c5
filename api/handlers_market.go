package api

import (
	"net/http"
	"strings"
	"time"

	"stock-anomaly/database"
)

type stockView struct {
	Symbol      string `json:"symbol"`
	CompanyName string `json:"company_name"`
	Sector      string `json:"sector"`
}

type priceView struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// handleGetStocks lists tracked stocks
func (s *Server) handleGetStocks(w http.ResponseWriter, r *http.Request) {
	stocks, err := s.repo.GetStocks()
	if err != nil {
		respondWithStoreError(w, err)
		return
	}

	views := make([]stockView, 0, len(stocks))
	for _, st := range stocks {
		views = append(views, stockView{Symbol: st.Symbol, CompanyName: st.CompanyName, Sector: st.Sector})
	}
	respondData(w, http.StatusOK, views)
}

// handleGetStockData returns daily bars for ?symbol= between optional start and end dates
func (s *Server) handleGetStockData(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol")))
	if symbol == "" {
		respondWithError(w, http.StatusBadRequest, "symbol is required", nil)
		return
	}
	start, end, ok := dateRange(w, r)
	if !ok {
		return
	}

	stock, err := s.repo.GetStockBySymbol(symbol)
	if err != nil {
		respondWithStoreError(w, err)
		return
	}
	prices, err := s.repo.GetPrices(stock.ID, start, end)
	if err != nil {
		respondWithStoreError(w, err)
		return
	}

	views := make([]priceView, 0, len(prices))
	for _, p := range prices {
		views = append(views, priceFromRow(p))
	}
	respondData(w, http.StatusOK, views)
}

func priceFromRow(p database.StockPrice) priceView {
	return priceView{
		Date:   p.Date.UTC().Format(time.DateOnly),
		Open:   p.Open,
		High:   p.High,
		Low:    p.Low,
		Close:  p.Close,
		Volume: p.Volume,
	}
}

// dateRange reads start and end, writing a 400 when either is malformed or start is after end
func dateRange(w http.ResponseWriter, r *http.Request) (start, end time.Time, ok bool) {
	start, err := getDateParam(r, "start")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error(), err)
		return time.Time{}, time.Time{}, false
	}
	end, err = getDateParam(r, "end")
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error(), err)
		return time.Time{}, time.Time{}, false
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		respondWithError(w, http.StatusBadRequest, "start must not be after end", nil)
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}
