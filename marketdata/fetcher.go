package marketdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"stock-anomaly/logging"
)

// HTTPStatusError represents an error due to a non-200 HTTP status code
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d (%s): %s", e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Temporary reports whether a retry may succeed
func (e *HTTPStatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type fetcherOptions struct {
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
	MaxElapsed     time.Duration
	InitialBackoff time.Duration
}

// fetcher performs rate limited GET requests with retries behind a circuit breaker
type fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	opts    fetcherOptions
	logger  zerolog.Logger
}

func newFetcher(name string, opts fetcherOptions) *fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.MaxElapsed <= 0 {
		opts.MaxElapsed = 30 * time.Second
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 500 * time.Millisecond
	}

	st := gobreaker.Settings{Name: name}
	st.Interval = 60 * time.Second
	st.Timeout = 60 * time.Second
	st.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}
	// Client errors say nothing about provider health
	st.IsSuccessful = func(err error) bool {
		var se *HTTPStatusError
		if errors.As(err, &se) {
			return !se.Temporary()
		}
		return err == nil || errors.Is(err, ErrNoData)
	}

	logger := logging.Component("marketdata").With().Str("provider", name).Logger()
	st.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
	}

	return &fetcher{
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), opts.Burst),
		breaker: gobreaker.NewCircuitBreaker(st),
		opts:    opts,
		logger:  logger,
	}
}

// getJSON fetches url and decodes the body into dest
func (f *fetcher) getJSON(ctx context.Context, url string, dest interface{}) error {
	_, err := f.breaker.Execute(func() (interface{}, error) {
		return nil, f.retry(ctx, url, dest)
	})
	return err
}

func (f *fetcher) retry(ctx context.Context, url string, dest interface{}) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.opts.InitialBackoff
	b.MaxElapsedTime = f.opts.MaxElapsed

	attempt := 0
	operation := func() error {
		attempt++
		err := f.do(ctx, url, dest)
		if err == nil {
			return nil
		}
		var se *HTTPStatusError
		if errors.As(err, &se) && !se.Temporary() {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		f.logger.Debug().Err(err).Int("attempt", attempt).Msg("Request failed, retrying")
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

func (f *fetcher) do(ctx context.Context, url string, dest interface{}) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return backoff.Permanent(fmt.Errorf("parsing JSON: %w", err))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
