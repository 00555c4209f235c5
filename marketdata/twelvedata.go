package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"stock-anomaly/detection"
)

// twelveResponse represents the time_series response from Twelve Data
type twelveResponse struct {
	Meta struct {
		Symbol   string `json:"symbol"`
		Interval string `json:"interval"`
	} `json:"meta"`
	Values []struct {
		Datetime string        `json:"datetime"`
		Open     float64       `json:"open,string"`
		High     float64       `json:"high,string"`
		Low      float64       `json:"low,string"`
		Close    float64       `json:"close,string"`
		Volume   FlexibleInt64 `json:"volume"`
	} `json:"values"`
	Status  string `json:"status"`
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// TwelveData fetches daily candles from the Twelve Data API
type TwelveData struct {
	baseURL string
	apiKey  string
	fetch   *fetcher
}

// NewTwelveData creates a Twelve Data provider
func NewTwelveData(baseURL, apiKey string, opts fetcherOptions) *TwelveData {
	if baseURL == "" {
		baseURL = "https://api.twelvedata.com"
	}
	return &TwelveData{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		fetch:   newFetcher("twelvedata", opts),
	}
}

// Name implements Provider
func (t *TwelveData) Name() string { return "twelvedata" }

// FetchDaily implements Provider
func (t *TwelveData) FetchDaily(ctx context.Context, symbol string, from, to time.Time) ([]detection.Bar, error) {
	q := url.Values{}
	q.Set("symbol", strings.ToUpper(symbol))
	q.Set("interval", "1day")
	q.Set("start_date", from.Format(time.DateOnly))
	q.Set("end_date", to.Format(time.DateOnly))
	q.Set("outputsize", "5000")
	q.Set("order", "ASC")
	q.Set("apikey", t.apiKey)

	var data twelveResponse
	if err := t.fetch.getJSON(ctx, t.baseURL+"/time_series?"+q.Encode(), &data); err != nil {
		return nil, fmt.Errorf("twelvedata %s: %w", symbol, err)
	}
	if data.Status == "error" {
		return nil, fmt.Errorf("twelvedata %s: API error %d: %s", symbol, data.Code, data.Message)
	}
	if len(data.Values) == 0 {
		return nil, ErrNoData
	}

	bars := make([]detection.Bar, 0, len(data.Values))
	for _, v := range data.Values {
		date, err := parseTwelveDate(v.Datetime)
		if err != nil {
			return nil, fmt.Errorf("twelvedata %s: %w", symbol, err)
		}
		bars = append(bars, detection.Bar{
			Date:   date,
			Open:   v.Open,
			High:   v.High,
			Low:    v.Low,
			Close:  v.Close,
			Volume: v.Volume.Int64(),
		})
	}

	t.fetch.logger.Debug().Str("symbol", symbol).Int("count", len(bars)).Msg("Fetched candles")
	return normalize(bars, from, to), nil
}

func parseTwelveDate(s string) (time.Time, error) {
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d, nil
	}
	d, err := time.Parse(time.DateTime, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid datetime %q", s)
	}
	return d, nil
}
