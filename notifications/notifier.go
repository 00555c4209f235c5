// Package notifications delivers anomaly alerts and daily summaries over webhooks, email and Telegram.
package notifications

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"stock-anomaly/detection"
	"stock-anomaly/logging"
	"stock-anomaly/metrics"
)

// Notifier is one alert channel
type Notifier interface {
	Name() string
	// SendAlert reports the anomalies of one symbol. An empty slice sends nothing.
	SendAlert(ctx context.Context, symbol string, anomalies []detection.AnomalyResult) error
	// SendDailySummary reports the anomalies of the day grouped by symbol.
	SendDailySummary(ctx context.Context, bySymbol map[string][]detection.AnomalyResult) error
}

// Dispatcher fans alerts out to every configured notifier
type Dispatcher struct {
	notifiers []Notifier
	metrics   *metrics.Registry
	logger    zerolog.Logger
}

// NewDispatcher creates a dispatcher over the non-nil notifiers
func NewDispatcher(m *metrics.Registry, notifiers ...Notifier) *Dispatcher {
	d := &Dispatcher{
		metrics: m,
		logger:  logging.Component("notifications"),
	}
	for _, n := range notifiers {
		if n != nil {
			d.notifiers = append(d.notifiers, n)
		}
	}
	return d
}

// Len returns the number of notifiers
func (d *Dispatcher) Len() int {
	if d == nil {
		return 0
	}
	return len(d.notifiers)
}

// Names returns notifier names in registration order
func (d *Dispatcher) Names() []string {
	names := make([]string, 0, d.Len())
	if d == nil {
		return names
	}
	for _, n := range d.notifiers {
		names = append(names, n.Name())
	}
	return names
}

// SendAlert sends to every notifier concurrently and returns the error of each channel by name
func (d *Dispatcher) SendAlert(ctx context.Context, symbol string, anomalies []detection.AnomalyResult) map[string]error {
	if len(anomalies) == 0 {
		return map[string]error{}
	}
	return d.fanOut("alert", func(n Notifier) error {
		return n.SendAlert(ctx, symbol, anomalies)
	})
}

// SendDailySummary sends the digest to every notifier concurrently
func (d *Dispatcher) SendDailySummary(ctx context.Context, bySymbol map[string][]detection.AnomalyResult) map[string]error {
	return d.fanOut("summary", func(n Notifier) error {
		return n.SendDailySummary(ctx, bySymbol)
	})
}

func (d *Dispatcher) fanOut(kind string, send func(Notifier) error) map[string]error {
	results := make(map[string]error, d.Len())
	if d.Len() == 0 {
		return results
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, n := range d.notifiers {
		wg.Add(1)
		go func(n Notifier) {
			defer wg.Done()
			err := send(n)
			d.metrics.RecordDelivery(n.Name(), err)
			if err != nil {
				d.logger.Error().Err(err).Str("channel", n.Name()).Str("kind", kind).Msg("Notification failed")
			} else {
				d.logger.Debug().Str("channel", n.Name()).Str("kind", kind).Msg("Notification sent")
			}
			mu.Lock()
			results[n.Name()] = err
			mu.Unlock()
		}(n)
	}
	wg.Wait()
	return results
}

// sortedSymbols returns the keys of a summary in alphabetical order
func sortedSymbols(bySymbol map[string][]detection.AnomalyResult) []string {
	symbols := make([]string, 0, len(bySymbol))
	for s := range bySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	return symbols
}
