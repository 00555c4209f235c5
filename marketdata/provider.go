// Package marketdata fetches daily OHLCV bars from external REST providers.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"stock-anomaly/config"
	"stock-anomaly/detection"
)

// Provider is the abstraction used by the collector when accessing a data source.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// FetchDaily returns daily bars in [from, to] sorted by date with one bar per day.
	FetchDaily(ctx context.Context, symbol string, from, to time.Time) ([]detection.Bar, error)
}

// ErrNoData is returned when a provider answers successfully with no bars
var ErrNoData = errors.New("no bars returned")

// New builds the provider selected in cfg
func New(cfg config.MarketDataConfig) (Provider, error) {
	opts := fetcherOptions{
		Timeout:        cfg.Timeout,
		RequestsPerSec: cfg.RequestsPerS,
		Burst:          cfg.Burst,
	}
	switch strings.ToLower(cfg.Provider) {
	case "polygon", "":
		if cfg.PolygonAPIKey == "" {
			return nil, fmt.Errorf("polygon provider requires POLYGON_API_KEY")
		}
		return NewPolygon(cfg.PolygonURL, cfg.PolygonAPIKey, opts), nil
	case "twelvedata":
		if cfg.TwelveDataKey == "" {
			return nil, fmt.Errorf("twelvedata provider requires TWELVEDATA_API_KEY")
		}
		return NewTwelveData(cfg.TwelveDataURL, cfg.TwelveDataKey, opts), nil
	default:
		return nil, fmt.Errorf("unknown market data provider %q", cfg.Provider)
	}
}

// normalize keeps bars inside [from, to] and returns them sorted with one bar per day
func normalize(bars []detection.Bar, from, to time.Time) []detection.Bar {
	from = day(from)
	to = day(to)
	kept := bars[:0:0]
	for _, b := range bars {
		d := day(b.Date)
		if (!from.IsZero() && d.Before(from)) || (!to.IsZero() && d.After(to)) {
			continue
		}
		b.Date = d
		kept = append(kept, b)
	}
	return detection.SortBars(kept)
}

func day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
