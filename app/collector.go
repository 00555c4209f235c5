package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"stock-anomaly/database"
	"stock-anomaly/detection"
	"stock-anomaly/logging"
	"stock-anomaly/marketdata"
	"stock-anomaly/metrics"
)

// CompanyNames are used when seeding the default symbols
var CompanyNames = map[string]string{
	"AAPL":  "Apple Inc.",
	"MSFT":  "Microsoft Corporation",
	"GOOGL": "Alphabet Inc.",
	"AMZN":  "Amazon.com Inc.",
	"NVDA":  "NVIDIA Corporation",
	"META":  "Meta Platforms Inc.",
	"TSLA":  "Tesla Inc.",
}

// CollectStore is the persistence used for collection and digests
type CollectStore interface {
	GetOrCreateStock(symbol, companyName, sector string) (*database.Stock, error)
	UpsertPrices(stockID int64, bars []detection.Bar) (int, error)
	GetLatestPriceDate(stockID int64) (*time.Time, error)
	GetAnomalies(filter database.AnomalyFilter) ([]database.AnomalyWithSymbol, error)
}

// SymbolScanner scans a set of symbols
type SymbolScanner interface {
	ScanAll(ctx context.Context, symbols []string) (map[string]*ScanResult, map[string]error)
}

// Summarizer sends the daily digest
type Summarizer interface {
	SendDailySummary(ctx context.Context, bySymbol map[string][]detection.AnomalyResult) map[string]error
}

// Schedule is a daily wall-clock time in a location
type Schedule struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// Next returns the first run strictly after now
func (s Schedule) Next(now time.Time) time.Time {
	local := now.In(s.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, s.Location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.Hour, s.Minute, 0, 0, s.Location)
	}
	return next
}

// CollectorOptions configures collection
type CollectorOptions struct {
	Symbols         []string
	RecentDays      int
	AlertWindowDays int
	Schedule        Schedule
}

// Collector fetches daily bars, stores them and triggers scans and digests
type Collector struct {
	store      CollectStore
	provider   marketdata.Provider
	scanner    SymbolScanner
	summarizer Summarizer
	metrics    *metrics.Registry
	opts       CollectorOptions
	now        func() time.Time
	done       chan struct{}
	logger     zerolog.Logger
}

// NewCollector creates a collector. scanner and summarizer may be nil.
func NewCollector(store CollectStore, provider marketdata.Provider, scanner SymbolScanner, summarizer Summarizer,
	m *metrics.Registry, opts CollectorOptions) *Collector {
	if opts.RecentDays < 1 {
		opts.RecentDays = 5
	}
	if opts.Schedule.Location == nil {
		opts.Schedule.Location = time.UTC
	}
	return &Collector{
		store:      store,
		provider:   provider,
		scanner:    scanner,
		summarizer: summarizer,
		metrics:    m,
		opts:       opts,
		now:        time.Now,
		done:       make(chan struct{}),
		logger:     logging.Component("collector"),
	}
}

// Start runs the daily job until Stop is called or ctx is done
func (c *Collector) Start(ctx context.Context) {
	c.logger.Info().
		Int("hour", c.opts.Schedule.Hour).
		Int("minute", c.opts.Schedule.Minute).
		Str("timezone", c.opts.Schedule.Location.String()).
		Msg("Collector started")

	for {
		next := c.opts.Schedule.Next(c.now())
		wait := time.Until(next)
		c.logger.Info().Time("next_run", next).Msg("Next collection scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
			if err := c.RunDaily(ctx); err != nil {
				c.logger.Error().Err(err).Msg("Daily collection failed")
			}
		case <-c.done:
			timer.Stop()
			c.logger.Info().Msg("Collector stopped")
			return
		case <-ctx.Done():
			timer.Stop()
			c.logger.Info().Msg("Collector stopped")
			return
		}
	}
}

// Stop stops the scheduling loop
func (c *Collector) Stop() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// RunDaily collects recent bars, scans every symbol and sends the digest
func (c *Collector) RunDaily(ctx context.Context) error {
	started := c.now()
	c.logger.Info().Strs("symbols", c.opts.Symbols).Msg("Starting daily collection")

	from := started.UTC().AddDate(0, 0, -c.opts.RecentDays)
	collected, errs := c.collect(ctx, from, started.UTC())

	if c.scanner != nil && len(collected) > 0 {
		_, scanErrs := c.scanner.ScanAll(ctx, collected)
		for symbol, err := range scanErrs {
			errs = append(errs, fmt.Errorf("scan %s: %w", symbol, err))
		}
	}

	if err := c.SendDigest(ctx); err != nil {
		errs = append(errs, err)
	}

	c.logger.Info().
		Int("symbols", len(collected)).
		Dur("elapsed", c.now().Sub(started)).
		Int("errors", len(errs)).
		Msg("Daily collection finished")
	return errors.Join(errs...)
}

// Backfill loads years of history for every symbol, resuming after the latest stored bar
func (c *Collector) Backfill(ctx context.Context, years int) error {
	if years < 1 {
		years = 1
	}
	end := c.now().UTC()
	from := end.AddDate(-years, 0, 0)
	c.logger.Info().Int("years", years).Strs("symbols", c.opts.Symbols).Msg("Starting backfill")

	_, errs := c.collect(ctx, from, end)
	return errors.Join(errs...)
}

// collect fetches bars in [from, to] per symbol and returns the symbols that stored data
func (c *Collector) collect(ctx context.Context, from, to time.Time) ([]string, []error) {
	var (
		collected []string
		errs      []error
	)
	for _, symbol := range c.opts.Symbols {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		n, err := c.CollectSymbol(ctx, symbol, from, to)
		if err != nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Collection failed")
			errs = append(errs, fmt.Errorf("collect %s: %w", symbol, err))
			continue
		}
		if n > 0 {
			collected = append(collected, symbol)
		}
	}
	return collected, errs
}

// CollectSymbol fetches and upserts bars for one symbol. Fetching starts after the latest
// stored bar when that is later than from.
func (c *Collector) CollectSymbol(ctx context.Context, symbol string, from, to time.Time) (int, error) {
	stock, err := c.store.GetOrCreateStock(symbol, CompanyNames[symbol], "")
	if err != nil {
		return 0, err
	}

	latest, err := c.store.GetLatestPriceDate(stock.ID)
	if err != nil {
		return 0, err
	}
	if latest != nil && latest.After(from) {
		from = *latest
	}

	bars, err := c.provider.FetchDaily(ctx, symbol, from, to)
	if errors.Is(err, marketdata.ErrNoData) {
		c.metrics.RecordProviderRequest(c.provider.Name(), nil)
		c.logger.Info().Str("symbol", symbol).Msg("No new bars")
		return 0, nil
	}
	c.metrics.RecordProviderRequest(c.provider.Name(), err)
	if err != nil {
		return 0, err
	}

	n, err := c.store.UpsertPrices(stock.ID, bars)
	if err != nil {
		return 0, err
	}
	c.metrics.RecordBars(symbol, n)
	c.logger.Info().Str("symbol", symbol).Int("bars", n).Msg("Stored bars")
	return n, nil
}

// Seed makes sure every tracked symbol has a stocks row
func (c *Collector) Seed() error {
	var errs []error
	for _, symbol := range c.opts.Symbols {
		if _, err := c.store.GetOrCreateStock(symbol, CompanyNames[symbol], ""); err != nil {
			errs = append(errs, fmt.Errorf("seed %s: %w", symbol, err))
		}
	}
	return errors.Join(errs...)
}

// SendDigest sends the consensus and weighted anomalies of the alert window
func (c *Collector) SendDigest(ctx context.Context) error {
	if c.summarizer == nil {
		return nil
	}
	bySymbol, err := c.Digest()
	if err != nil {
		return err
	}
	if len(bySymbol) == 0 {
		c.logger.Info().Msg("No anomalies for the daily digest")
		return nil
	}

	var errs []error
	for channel, err := range c.summarizer.SendDailySummary(ctx, bySymbol) {
		if err != nil {
			errs = append(errs, fmt.Errorf("digest via %s: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}

// Digest groups the aggregated anomalies of the alert window by symbol
func (c *Collector) Digest() (map[string][]detection.AnomalyResult, error) {
	window := c.opts.AlertWindowDays
	if window < 1 {
		window = 1
	}
	y, m, d := c.now().UTC().Date()
	rows, err := c.store.GetAnomalies(database.AnomalyFilter{
		Methods: []string{database.MethodConsensus, detection.MethodHybridWeighted},
		Start:   time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -window),
		Limit:   database.MaxAnomalyLimit,
	})
	if err != nil {
		return nil, err
	}

	bySymbol := make(map[string][]detection.AnomalyResult)
	for _, row := range rows {
		r, err := database.AnomalyToResult(row.Anomaly)
		if err != nil {
			c.logger.Warn().Err(err).Int64("id", row.ID).Msg("Skipping unreadable anomaly")
			continue
		}
		bySymbol[row.Symbol] = append(bySymbol[row.Symbol], r)
	}
	return bySymbol, nil
}
