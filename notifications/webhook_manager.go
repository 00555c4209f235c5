package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"stock-anomaly/cache"
	"stock-anomaly/config"
	"stock-anomaly/database"
	"stock-anomaly/detection"
	"stock-anomaly/logging"
)

// WebhookStore is the persistence used by the webhook manager
type WebhookStore interface {
	GetActiveWebhooks() ([]database.AlertWebhook, error)
	SaveWebhookLog(entry *database.WebhookDeliveryLog) error
	RecordWebhookResult(id int, success bool, errMsg string) error
}

// WebhookManager handles webhook notifications
type WebhookManager struct {
	store  WebhookStore
	redis  *cache.RedisClient
	static []database.AlertWebhook
	client *http.Client
	now    func() time.Time
	logger zerolog.Logger
}

// NewWebhookManager creates a new webhook manager. store may be nil, in which case only
// the static hooks are used.
func NewWebhookManager(store WebhookStore, redis *cache.RedisClient, static []database.AlertWebhook) *WebhookManager {
	return &WebhookManager{
		store:  store,
		redis:  redis,
		static: static,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		now:    time.Now,
		logger: logging.Component("webhooks"),
	}
}

// StaticWebhooks builds hooks for the Slack and Discord URLs set in the environment
func StaticWebhooks(cfg config.AlertsConfig) []database.AlertWebhook {
	var hooks []database.AlertWebhook
	add := func(name, platform, url string) {
		if url == "" {
			return
		}
		hooks = append(hooks, database.AlertWebhook{
			Name:              name,
			Platform:          platform,
			URL:               url,
			Method:            http.MethodPost,
			SendSummary:       true,
			IsActive:          true,
			RetryCount:        3,
			RetryDelaySeconds: 2,
			TimeoutSeconds:    10,
		})
	}
	add("env-slack", database.PlatformSlack, cfg.SlackWebhookURL)
	add("env-discord", database.PlatformDiscord, cfg.DiscordWebhookURL)
	return hooks
}

// Name implements Notifier
func (wm *WebhookManager) Name() string { return "webhook" }

// SendAlert sends the anomalies that pass each hook's filters
func (wm *WebhookManager) SendAlert(ctx context.Context, symbol string, anomalies []detection.AnomalyResult) error {
	if len(anomalies) == 0 {
		return nil
	}

	webhooks, err := wm.getActiveWebhooks(ctx)
	if err != nil {
		return fmt.Errorf("load webhooks: %w", err)
	}

	return wm.deliverAll(ctx, webhooks, database.DeliveryKindAlert, symbol, func(hook database.AlertWebhook) interface{} {
		matched := filterForHook(hook, symbol, anomalies)
		if len(matched) == 0 {
			return nil
		}
		return alertPayload(hook.Platform, symbol, matched, wm.now())
	})
}

// SendDailySummary sends the digest to hooks that opted in
func (wm *WebhookManager) SendDailySummary(ctx context.Context, bySymbol map[string][]detection.AnomalyResult) error {
	webhooks, err := wm.getActiveWebhooks(ctx)
	if err != nil {
		return fmt.Errorf("load webhooks: %w", err)
	}

	return wm.deliverAll(ctx, webhooks, database.DeliveryKindSummary, "", func(hook database.AlertWebhook) interface{} {
		if !hook.SendSummary {
			return nil
		}
		return summaryPayload(hook.Platform, bySymbol, wm.now())
	})
}

// deliverAll builds a payload per hook and delivers them concurrently. A nil payload skips the hook.
func (wm *WebhookManager) deliverAll(ctx context.Context, hooks []database.AlertWebhook, kind, symbol string, build func(database.AlertWebhook) interface{}) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, hook := range hooks {
		payload := build(hook)
		if payload == nil {
			continue
		}
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal webhook payload: %w", err)
		}

		wg.Add(1)
		go func(hook database.AlertWebhook) {
			defer wg.Done()
			if err := wm.deliverWebhook(ctx, hook, kind, symbol, body); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("webhook %s: %w", hook.Name, err))
				mu.Unlock()
			}
		}(hook)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (wm *WebhookManager) getActiveWebhooks(ctx context.Context) ([]database.AlertWebhook, error) {
	hooks := append([]database.AlertWebhook(nil), wm.static...)
	if wm.store == nil {
		return hooks, nil
	}

	// Try cache first
	var cached []database.AlertWebhook
	if err := wm.redis.Get(ctx, cache.ActiveWebhooksKey, &cached); err == nil {
		return append(hooks, cached...), nil
	}

	// Fetch from DB
	webhooks, err := wm.store.GetActiveWebhooks()
	if err != nil {
		return nil, err
	}

	_ = wm.redis.Set(ctx, cache.ActiveWebhooksKey, webhooks, cache.WebhookListTTL)
	return append(hooks, webhooks...), nil
}

// filterForHook keeps anomalies matching the hook's symbol, method and score filters
func filterForHook(hook database.AlertWebhook, symbol string, anomalies []detection.AnomalyResult) []detection.AnomalyResult {
	if symbols := splitList(hook.StockSymbols); len(symbols) > 0 && !contains(symbols, strings.ToUpper(symbol)) {
		return nil
	}
	methods := splitList(hook.Methods)

	var out []detection.AnomalyResult
	for _, a := range anomalies {
		if len(methods) > 0 && !contains(methods, strings.ToUpper(a.Method)) {
			continue
		}
		if hook.MinScore != nil && a.Score < *hook.MinScore {
			continue
		}
		out = append(out, a)
	}
	return out
}

// splitList parses a comma separated filter into upper-case entries. "null" counts as empty.
func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.Trim(strings.TrimSpace(part), `"[]`))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func (wm *WebhookManager) deliverWebhook(ctx context.Context, hook database.AlertWebhook, kind, symbol string, payload []byte) error {
	maxAttempts := hook.RetryCount
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	timeout := time.Duration(hook.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = wm.client.Timeout
	}

	attempt := 0
	statusCode := 0
	operation := func() error {
		attempt++
		wm.logger.Debug().Str("webhook", hook.Name).Int("attempt", attempt).Int("max", maxAttempts).Msg("Sending webhook")

		code, err := wm.send(ctx, hook, payload, timeout)
		statusCode = code
		if err == nil {
			return nil
		}
		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Duration(hook.RetryDelaySeconds)*time.Second), uint64(maxAttempts-1)),
		ctx,
	)
	err := backoff.Retry(operation, policy)

	status := database.DeliveryStatusSuccess
	errMsg := ""
	if err != nil {
		status = database.DeliveryStatusFailed
		errMsg = err.Error()
		wm.logger.Warn().Err(err).Str("webhook", hook.Name).Int("attempts", attempt).Msg("Webhook delivery failed")
	}
	wm.logDelivery(hook, kind, symbol, status, statusCode, errMsg, attempt)
	return err
}

// send performs one request and returns the status code
func (wm *WebhookManager) send(ctx context.Context, hook database.AlertWebhook, payload []byte, timeout time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := hook.Method
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequestWithContext(ctx, method, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Stock-Anomaly-Alert/1.0")

	// Auth headers
	if strings.EqualFold(hook.AuthType, "BEARER") {
		req.Header.Set("Authorization", "Bearer "+hook.AuthValue)
	} else if hook.AuthHeader != "" {
		req.Header.Set(hook.AuthHeader, hook.AuthValue)
	}

	resp, err := wm.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func (wm *WebhookManager) logDelivery(hook database.AlertWebhook, kind, symbol, status string, code int, errMsg string, attempt int) {
	// Static hooks have no row to attach logs to
	if wm.store == nil || hook.ID == 0 {
		return
	}

	entry := &database.WebhookDeliveryLog{
		WebhookID:    hook.ID,
		Kind:         kind,
		Symbol:       symbol,
		TriggeredAt:  wm.now(),
		Status:       status,
		ErrorMessage: errMsg,
		RetryAttempt: attempt,
	}
	if code != 0 {
		entry.HTTPStatusCode = &code
	}

	if err := wm.store.SaveWebhookLog(entry); err != nil {
		wm.logger.Warn().Err(err).Msg("Failed to save webhook log")
	}
	if err := wm.store.RecordWebhookResult(hook.ID, status == database.DeliveryStatusSuccess, errMsg); err != nil {
		wm.logger.Warn().Err(err).Msg("Failed to update webhook counters")
	}
}

// RefreshCache drops the cached webhook list
func (wm *WebhookManager) RefreshCache(ctx context.Context) {
	if err := wm.redis.Delete(ctx, cache.ActiveWebhooksKey); err == nil {
		wm.logger.Info().Msg("Webhook cache invalidated")
	}
}
