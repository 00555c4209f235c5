package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-anomaly/config"
)

func fastOptions() fetcherOptions {
	return fetcherOptions{
		Timeout:        2 * time.Second,
		RequestsPerSec: 1000,
		Burst:          100,
		MaxElapsed:     500 * time.Millisecond,
		InitialBackoff: 5 * time.Millisecond,
	}
}

func date(s string) time.Time {
	d, _ := time.Parse(time.DateOnly, s)
	return d
}

func TestPolygonFollowsNextURL(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("apiKey"))
		if r.URL.Query().Get("cursor") == "" {
			assert.Equal(t, "/v2/aggs/ticker/AAPL/range/1/day/2024-01-01/2024-01-10", r.URL.Path)
			// 2024-01-03 and 2024-01-02 at 05:00 UTC, out of order
			fmt.Fprintf(w, `{"status":"OK","results":[
				{"t":1704258000000,"o":2,"h":3,"l":1,"c":2.5,"v":2000},
				{"t":1704171600000,"o":1,"h":2,"l":0.5,"c":1.5,"v":1.5e3}
			],"next_url":"%s/v2/aggs/ticker/AAPL/range/1/day/2024-01-01/2024-01-10?cursor=abc"}`, srv.URL)
			return
		}
		fmt.Fprint(w, `{"status":"DELAYED","results":[{"t":1704344400000,"o":3,"h":4,"l":2,"c":3.5,"v":3000}]}`)
	}))
	defer srv.Close()

	p := NewPolygon(srv.URL, "secret", fastOptions())
	assert.Equal(t, "polygon", p.Name())

	bars, err := p.FetchDaily(context.Background(), "aapl", date("2024-01-01"), date("2024-01-10"))
	require.NoError(t, err)
	require.Len(t, bars, 3)
	assert.Equal(t, date("2024-01-02"), bars[0].Date)
	assert.Equal(t, int64(1500), bars[0].Volume)
	assert.Equal(t, date("2024-01-03"), bars[1].Date)
	assert.Equal(t, date("2024-01-04"), bars[2].Date)
	assert.Equal(t, 3.5, bars[2].Close)
}

func TestPolygonErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ERROR","error":"bad ticker"}`)
	}))
	defer srv.Close()

	_, err := NewPolygon(srv.URL, "k", fastOptions()).FetchDaily(context.Background(), "X", date("2024-01-01"), date("2024-01-02"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad ticker")
}

func TestPolygonEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"OK","resultsCount":0}`)
	}))
	defer srv.Close()

	_, err := NewPolygon(srv.URL, "k", fastOptions()).FetchDaily(context.Background(), "X", date("2024-01-01"), date("2024-01-02"))
	assert.ErrorIs(t, err, ErrNoData)
}

func TestTwelveDataParsesValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/time_series", r.URL.Path)
		assert.Equal(t, "1day", r.URL.Query().Get("interval"))
		assert.Equal(t, "MSFT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("start_date"))
		fmt.Fprint(w, `{"meta":{"symbol":"MSFT","interval":"1day"},"status":"ok","values":[
			{"datetime":"2024-01-03","open":"10","high":"11","low":"9","close":"10.5","volume":"1200"},
			{"datetime":"2024-01-02","open":"9","high":"10","low":"8","close":"9.5","volume":"1100"},
			{"datetime":"2024-01-02","open":"9","high":"10","low":"8","close":"9.9","volume":"1100"},
			{"datetime":"2023-12-29","open":"9","high":"10","low":"8","close":"9.1","volume":"900"}
		]}`)
	}))
	defer srv.Close()

	td := NewTwelveData(srv.URL, "k", fastOptions())
	assert.Equal(t, "twelvedata", td.Name())

	bars, err := td.FetchDaily(context.Background(), "msft", date("2024-01-01"), date("2024-01-05"))
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, date("2024-01-02"), bars[0].Date)
	assert.Equal(t, 9.5, bars[0].Close)
	assert.Equal(t, int64(1200), bars[1].Volume)
}

func TestTwelveDataAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":401,"message":"invalid api key","status":"error"}`)
	}))
	defer srv.Close()

	_, err := NewTwelveData(srv.URL, "bad", fastOptions()).FetchDaily(context.Background(), "MSFT", date("2024-01-01"), date("2024-01-05"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestFetcherRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	f := newFetcher("test", fastOptions())
	var out struct{ OK bool }
	require.NoError(t, f.getJSON(context.Background(), srv.URL, &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetcherClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	f := newFetcher("test", fastOptions())
	var out struct{}
	err := f.getJSON(context.Background(), srv.URL, &out)

	var se *HTTPStatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.False(t, se.Temporary())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetcherBreakerOpens(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	opts := fastOptions()
	opts.MaxElapsed = time.Millisecond
	f := newFetcher("test", opts)

	var out struct{}
	for i := 0; i < 5; i++ {
		require.Error(t, f.getJSON(context.Background(), srv.URL, &out))
	}
	before := atomic.LoadInt32(&calls)
	err := f.getJSON(context.Background(), srv.URL, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, before, atomic.LoadInt32(&calls))
}

func TestNewProvider(t *testing.T) {
	p, err := New(config.MarketDataConfig{Provider: "polygon", PolygonAPIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "polygon", p.Name())

	p, err = New(config.MarketDataConfig{Provider: "TwelveData", TwelveDataKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "twelvedata", p.Name())

	_, err = New(config.MarketDataConfig{Provider: "polygon"})
	assert.Error(t, err)
	_, err = New(config.MarketDataConfig{Provider: "yahoo"})
	assert.Error(t, err)
}

func TestFlexibleInt64(t *testing.T) {
	cases := map[string]int64{`12`: 12, `1.5e3`: 1500, `"42"`: 42, `""`: 0, `"7.9"`: 7}
	for in, want := range cases {
		var f FlexibleInt64
		require.NoError(t, f.UnmarshalJSON([]byte(in)), in)
		assert.Equal(t, want, f.Int64(), in)
	}
	var f FlexibleInt64
	assert.Error(t, f.UnmarshalJSON([]byte(`true`)))
}
