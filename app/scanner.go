package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"stock-anomaly/cache"
	"stock-anomaly/database"
	"stock-anomaly/detection"
	"stock-anomaly/logging"
	"stock-anomaly/metrics"
	"stock-anomaly/realtime"
)

// ScanStore is the persistence a scan needs
type ScanStore interface {
	GetStockBySymbol(symbol string) (*database.Stock, error)
	GetPrices(stockID int64, start, end time.Time) ([]database.StockPrice, error)
	SaveAnomalies(records []database.Anomaly) error
	SaveDetectionRun(run *database.DetectionRun) error
}

// Alerter delivers anomalies for one symbol and reports per-channel errors
type Alerter interface {
	SendAlert(ctx context.Context, symbol string, anomalies []detection.AnomalyResult) map[string]error
}

// ScanOptions bounds and scopes scans
type ScanOptions struct {
	LookbackDays    int
	AlertWindowDays int
	Timeout         time.Duration
	MaxConcurrent   int
	MinScore        float64
}

// ScanResult summarizes one scan
type ScanResult struct {
	RunID     string         `json:"run_id"`
	Symbol    string         `json:"symbol"`
	BarCount  int            `json:"bar_count"`
	Methods   map[string]int `json:"methods"`
	Consensus int            `json:"consensus"`
	Weighted  int            `json:"weighted"`
	Stored    int            `json:"stored"`
	Alerted   int            `json:"alerted"`
}

// Scanner runs the hybrid detector over stored prices and fans the results out
type Scanner struct {
	store    ScanStore
	detector *detection.HybridDetector
	alerter  Alerter
	events   realtime.Broadcaster
	redis    *cache.RedisClient
	cache    *cache.AnomalyCache
	metrics  *metrics.Registry
	opts     ScanOptions
	sem      chan struct{}
	run      func(detection.Series) (detection.MethodResults, error)
	now      func() time.Time
	logger   zerolog.Logger
}

// NewScanner creates a scanner. alerter, events, redis and m may be nil.
func NewScanner(store ScanStore, detector *detection.HybridDetector, alerter Alerter, events realtime.Broadcaster,
	redis *cache.RedisClient, m *metrics.Registry, opts ScanOptions) *Scanner {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	if opts.LookbackDays < 1 {
		opts.LookbackDays = 365
	}
	s := &Scanner{
		store:    store,
		detector: detector,
		alerter:  alerter,
		events:   events,
		redis:    redis,
		cache:    cache.NewAnomalyCache(redis),
		metrics:  m,
		opts:     opts,
		sem:      make(chan struct{}, opts.MaxConcurrent),
		now:      time.Now,
		logger:   logging.Component("scanner"),
	}
	s.run = detector.DetectAnomalies
	return s
}

// Scan detects anomalies for symbol over the lookback ending today
func (s *Scanner) Scan(ctx context.Context, symbol string) (result *ScanResult, err error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	// Once detection starts its goroutine owns the slot, so a pass that outlives the
	// timeout still counts against MaxConcurrent.
	slotHeld := true
	defer func() {
		if slotHeld {
			<-s.sem
		}
	}()

	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	timer := s.metrics.StartScan(symbol)
	defer func() { timer.Stop(err) }()

	stock, err := s.store.GetStockBySymbol(symbol)
	if err != nil {
		return nil, err
	}

	end := s.now().UTC()
	start := end.AddDate(0, 0, -s.opts.LookbackDays)
	prices, err := s.store.GetPrices(stock.ID, start, end)
	if err != nil {
		return nil, err
	}
	series, err := detection.NewSeries(symbol, database.PricesToBars(prices))
	if err != nil {
		return nil, fmt.Errorf("build series for %s: %w", symbol, err)
	}

	run := &database.DetectionRun{
		ID:        uuid.NewString(),
		StockID:   stock.ID,
		Symbol:    symbol,
		StartedAt: s.now().UTC(),
		BarCount:  len(series.Bars),
		Status:    database.RunStatusRunning,
	}
	if err := s.store.SaveDetectionRun(run); err != nil {
		return nil, err
	}

	slotHeld = false
	result, records, err := s.detect(ctx, stock.ID, run.ID, series)
	s.finishRun(run, result, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("symbol", symbol).
		Str("run_id", run.ID).
		Int("bars", result.BarCount).
		Int("stored", result.Stored).
		Int("consensus", result.Consensus).
		Msg("Scan completed")

	result.Alerted = s.alert(ctx, symbol, records)
	s.announce(ctx, result)
	return result, nil
}

// detect runs the engine, persists every view and returns the stored records.
// It takes over the caller's semaphore slot and frees it when the engine returns.
func (s *Scanner) detect(ctx context.Context, stockID int64, runID string, series detection.Series) (*ScanResult, []detection.AnomalyResult, error) {
	type outcome struct {
		results detection.MethodResults
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() { <-s.sem }()
		results, err := s.run(series)
		done <- outcome{results, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("detect %s: %w", series.Symbol, ctx.Err())
	}
	if out.err != nil {
		return nil, nil, fmt.Errorf("detect %s: %w", series.Symbol, out.err)
	}

	cfg := s.detector.Config()
	consensus := detection.Consensus(out.results, cfg.MinMethods)
	weighted := detection.Weighted(out.results, cfg.MethodWeights)

	result := &ScanResult{
		RunID:     runID,
		Symbol:    series.Symbol,
		BarCount:  len(series.Bars),
		Methods:   make(map[string]int),
		Consensus: len(consensus),
		Weighted:  len(weighted),
	}

	var records []detection.AnomalyResult
	for _, method := range out.results.Methods() {
		found := out.results[method]
		result.Methods[method] = len(found)
		records = append(records, found...)
	}
	for _, r := range consensus {
		r.Method = database.MethodConsensus
		records = append(records, r)
	}
	records = append(records, weighted...)

	rows := make([]database.Anomaly, 0, len(records))
	perMethod := make(map[string]int)
	for _, r := range records {
		row, err := database.AnomalyFromResult(stockID, runID, r)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, row)
		perMethod[r.Method]++
	}
	if err := s.store.SaveAnomalies(rows); err != nil {
		return nil, nil, err
	}
	for method, n := range perMethod {
		s.metrics.RecordAnomalies(method, n)
	}
	result.Stored = len(rows)
	return result, records, nil
}

func (s *Scanner) finishRun(run *database.DetectionRun, result *ScanResult, scanErr error) {
	finished := s.now().UTC()
	run.FinishedAt = &finished
	if scanErr != nil {
		run.Status = database.RunStatusFailed
		run.Error = scanErr.Error()
	} else {
		run.Status = database.RunStatusSuccess
		run.AnomalyCount = result.Stored
		run.ConsensusCount = result.Consensus
		run.WeightedCount = result.Weighted
	}
	if err := s.store.SaveDetectionRun(run); err != nil {
		s.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to update detection run")
	}
}

// alert sends the records dated inside the alert window and returns how many were sent
func (s *Scanner) alert(ctx context.Context, symbol string, records []detection.AnomalyResult) int {
	if s.alerter == nil || s.opts.AlertWindowDays <= 0 {
		return 0
	}
	recent := RecentAnomalies(records, s.now(), s.opts.AlertWindowDays, s.opts.MinScore)
	if len(recent) == 0 {
		return 0
	}
	for channel, err := range s.alerter.SendAlert(ctx, symbol, recent) {
		if err != nil {
			s.logger.Warn().Err(err).Str("channel", channel).Str("symbol", symbol).Msg("Alert delivery failed")
		}
	}
	return len(recent)
}

// announce tells realtime clients about the scan and drops cached queries for the symbol.
// With Redis available the event goes through pub/sub so every instance rebroadcasts it.
func (s *Scanner) announce(ctx context.Context, result *ScanResult) {
	if err := s.cache.Invalidate(ctx, result.Symbol); err != nil {
		s.logger.Warn().Err(err).Str("symbol", result.Symbol).Msg("Failed to invalidate anomaly cache")
	}

	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to encode scan event")
		return
	}
	event := cache.AnomalyEvent{
		Type:      cache.EventScanCompleted,
		Symbol:    result.Symbol,
		RunID:     result.RunID,
		Count:     result.Stored,
		Payload:   payload,
		Timestamp: s.now().UTC(),
	}
	err = s.redis.PublishEvent(ctx, event)
	if err == nil {
		return
	}
	if !errors.Is(err, cache.ErrUnavailable) {
		s.logger.Warn().Err(err).Msg("Failed to publish scan event")
	}
	if s.events != nil {
		s.events.Broadcast(event.Type, event)
	}
}

// ScanAll scans symbols concurrently, bounded by the scanner's worker limit
func (s *Scanner) ScanAll(ctx context.Context, symbols []string) (map[string]*ScanResult, map[string]error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]*ScanResult)
		errs    = make(map[string]error)
	)
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			res, err := s.Scan(ctx, symbol)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[symbol] = err
				s.logger.Error().Err(err).Str("symbol", symbol).Msg("Scan failed")
				return
			}
			results[symbol] = res
		}(symbol)
	}
	wg.Wait()
	return results, errs
}

// RecentAnomalies keeps records dated within windowDays calendar days of now with a score
// of at least minScore
func RecentAnomalies(records []detection.AnomalyResult, now time.Time, windowDays int, minScore float64) []detection.AnomalyResult {
	y, m, d := now.UTC().Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -windowDays)

	var out []detection.AnomalyResult
	for _, r := range records {
		if r.Date.Before(cutoff) || r.Score < minScore {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Detect runs Scan for the API's on-demand detection endpoint
func (s *Scanner) Detect(ctx context.Context, symbol string) (interface{}, error) {
	result, err := s.Scan(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return result, nil
}
