package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"stock-anomaly/detection"
)

const polygonPageLimit = 50000

// polygonBar is one aggregate in a Polygon response
type polygonBar struct {
	Timestamp int64         `json:"t"` // Unix timestamp in milliseconds
	Open      float64       `json:"o"`
	High      float64       `json:"h"`
	Low       float64       `json:"l"`
	Close     float64       `json:"c"`
	Volume    FlexibleInt64 `json:"v"`
}

// polygonResponse is the aggregates response with next_url paging
type polygonResponse struct {
	Ticker       string       `json:"ticker"`
	ResultsCount int          `json:"resultsCount"`
	Results      []polygonBar `json:"results"`
	Status       string       `json:"status"`
	Error        string       `json:"error,omitempty"`
	NextURL      string       `json:"next_url,omitempty"`
}

// Polygon fetches daily aggregates from the Polygon REST API
type Polygon struct {
	baseURL string
	apiKey  string
	fetch   *fetcher
}

// NewPolygon creates a Polygon provider
func NewPolygon(baseURL, apiKey string, opts fetcherOptions) *Polygon {
	if baseURL == "" {
		baseURL = "https://api.polygon.io"
	}
	return &Polygon{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		fetch:   newFetcher("polygon", opts),
	}
}

// Name implements Provider
func (p *Polygon) Name() string { return "polygon" }

// FetchDaily implements Provider, following next_url until all pages are read
func (p *Polygon) FetchDaily(ctx context.Context, symbol string, from, to time.Time) ([]detection.Bar, error) {
	next := p.aggregatesURL(symbol, from, to)
	var bars []detection.Bar

	for page := 1; next != ""; page++ {
		var resp polygonResponse
		if err := p.fetch.getJSON(ctx, next, &resp); err != nil {
			return nil, fmt.Errorf("polygon %s page %d: %w", symbol, page, err)
		}
		switch resp.Status {
		case "OK", "DELAYED":
		default:
			return nil, fmt.Errorf("polygon %s: status %s %s", symbol, resp.Status, resp.Error)
		}

		for _, r := range resp.Results {
			bars = append(bars, detection.Bar{
				Date:   time.UnixMilli(r.Timestamp).UTC(),
				Open:   r.Open,
				High:   r.High,
				Low:    r.Low,
				Close:  r.Close,
				Volume: r.Volume.Int64(),
			})
		}
		p.fetch.logger.Debug().Str("symbol", symbol).Int("page", page).Int("count", len(resp.Results)).Msg("Fetched aggregates page")

		next = p.withKey(resp.NextURL)
	}

	if len(bars) == 0 {
		return nil, ErrNoData
	}
	return normalize(bars, from, to), nil
}

func (p *Polygon) aggregatesURL(symbol string, from, to time.Time) string {
	u := fmt.Sprintf("%s/v2/aggs/ticker/%s/range/1/day/%s/%s",
		p.baseURL, url.PathEscape(strings.ToUpper(symbol)), from.Format(time.DateOnly), to.Format(time.DateOnly))
	q := url.Values{}
	q.Set("adjusted", "true")
	q.Set("sort", "asc")
	q.Set("limit", fmt.Sprint(polygonPageLimit))
	q.Set("apiKey", p.apiKey)
	return u + "?" + q.Encode()
}

// withKey appends the API key to a next_url, which Polygon returns without it
func (p *Polygon) withKey(next string) string {
	if next == "" {
		return ""
	}
	u, err := url.Parse(next)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("apiKey", p.apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}
