package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-anomaly/config"
	"stock-anomaly/database"
	"stock-anomaly/detection"
)

var fixedNow = time.Date(2024, 2, 1, 21, 0, 0, 0, time.UTC)

func sampleAnomalies() []detection.AnomalyResult {
	return []detection.AnomalyResult{
		{
			Date:      time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			Score:     3.456,
			Threshold: 2,
			IsAnomaly: true,
			Method:    detection.MethodZScore,
			Details:   detection.NewDetails().Set(detection.KeyPrice, 150).Set(detection.KeyVolume, 1234567),
		},
		{
			Date:      time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			Score:     0.8,
			Threshold: 0.5,
			IsAnomaly: true,
			Method:    detection.MethodIsolationForest,
			Details:   detection.NewDetails(),
		},
	}
}

// ---------------------------------------------------------------------------
// Formatting
// ---------------------------------------------------------------------------

func TestRowForMissingKeys(t *testing.T) {
	rows := rowsFor(sampleAnomalies())
	require.Len(t, rows, 2)

	assert.Equal(t, alertRow{
		Date: "2024-01-31", Method: "zscore", Score: "3.46",
		Price: "$150.00", Volume: "1,234,567", Threshold: "2.00",
	}, rows[0])
	assert.Equal(t, "N/A", rows[1].Price)
	assert.Equal(t, "N/A", rows[1].Volume)
}

func TestCountText(t *testing.T) {
	assert.Equal(t, "1 anomaly detected", countText(1))
	assert.Equal(t, "3 anomalies detected", countText(3))
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

type fakeStore struct {
	mu      sync.Mutex
	hooks   []database.AlertWebhook
	logs    []database.WebhookDeliveryLog
	results map[int]bool
}

func (f *fakeStore) GetActiveWebhooks() ([]database.AlertWebhook, error) { return f.hooks, nil }

func (f *fakeStore) SaveWebhookLog(entry *database.WebhookDeliveryLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, *entry)
	return nil
}

func (f *fakeStore) RecordWebhookResult(id int, success bool, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.results == nil {
		f.results = map[int]bool{}
	}
	f.results[id] = success
	return nil
}

type capture struct {
	mu     sync.Mutex
	bodies [][]byte
	header http.Header
}

func (c *capture) server(t *testing.T, status func(n int) int) *httptest.Server {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&calls, 1))
		body, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.bodies = append(c.bodies, body)
		c.header = r.Header.Clone()
		c.mu.Unlock()
		w.WriteHeader(status(n))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func alwaysOK(int) int { return http.StatusOK }

func newManager(store WebhookStore, static []database.AlertWebhook) *WebhookManager {
	wm := NewWebhookManager(store, nil, static)
	wm.now = func() time.Time { return fixedNow }
	return wm
}

func TestSlackAlertPayload(t *testing.T) {
	var c capture
	srv := c.server(t, alwaysOK)
	wm := newManager(nil, []database.AlertWebhook{{Name: "s", Platform: "slack", URL: srv.URL, Method: "POST"}})

	require.NoError(t, wm.SendAlert(context.Background(), "AAPL", sampleAnomalies()))
	require.Len(t, c.bodies, 1)

	var msg slackMessage
	require.NoError(t, json.Unmarshal(c.bodies[0], &msg))
	require.Len(t, msg.Blocks, 4)
	assert.Equal(t, "header", msg.Blocks[0].Type)
	assert.Contains(t, msg.Blocks[0].Text.Text, "Stock Anomaly Alert - AAPL")
	assert.Equal(t, "*Price:*\n$150.00", msg.Blocks[2].Fields[3].Text)
	assert.Equal(t, "*Price:*\nN/A", msg.Blocks[3].Fields[3].Text)
	assert.Equal(t, "application/json", c.header.Get("Content-Type"))
}

func TestDiscordAlertAndSummaryPayload(t *testing.T) {
	var c capture
	srv := c.server(t, alwaysOK)
	wm := newManager(nil, []database.AlertWebhook{{Name: "d", Platform: "discord", URL: srv.URL, SendSummary: true}})

	require.NoError(t, wm.SendAlert(context.Background(), "MSFT", sampleAnomalies()))
	require.NoError(t, wm.SendDailySummary(context.Background(), map[string][]detection.AnomalyResult{
		"MSFT": sampleAnomalies(),
		"AAPL": sampleAnomalies()[:1],
	}))
	require.Len(t, c.bodies, 2)

	var alert discordMessage
	require.NoError(t, json.Unmarshal(c.bodies[0], &alert))
	require.Len(t, alert.Embeds, 2)
	assert.Equal(t, discordRed, alert.Embeds[0].Color)
	assert.Equal(t, "Volume", alert.Embeds[0].Fields[4].Name)
	assert.Equal(t, "1,234,567", alert.Embeds[0].Fields[4].Value)

	var summary discordMessage
	require.NoError(t, json.Unmarshal(c.bodies[1], &summary))
	require.Len(t, summary.Embeds, 1)
	assert.Equal(t, discordBlue, summary.Embeds[0].Color)
	assert.Equal(t, "Daily Stock Anomaly Summary - 2024-02-01", summary.Embeds[0].Title)
	require.Len(t, summary.Embeds[0].Fields, 2)
	assert.Equal(t, "AAPL", summary.Embeds[0].Fields[0].Name)
	assert.Equal(t, "1 anomaly detected", summary.Embeds[0].Fields[0].Value)
}

func TestGenericPayloadAndAuth(t *testing.T) {
	var c capture
	srv := c.server(t, alwaysOK)
	store := &fakeStore{hooks: []database.AlertWebhook{{
		ID: 7, Name: "g", URL: srv.URL, Method: "PUT", AuthType: "BEARER", AuthValue: "tok",
	}}}
	wm := newManager(store, nil)

	require.NoError(t, wm.SendAlert(context.Background(), "NVDA", sampleAnomalies()))
	require.Len(t, c.bodies, 1)

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(c.bodies[0], &payload))
	assert.Equal(t, "alert", payload.Type)
	assert.Equal(t, "NVDA", payload.Symbol)
	assert.Equal(t, 2, payload.Count)
	require.Len(t, payload.Anomalies, 2)
	assert.Equal(t, "Bearer tok", c.header.Get("Authorization"))

	require.Len(t, store.logs, 1)
	assert.Equal(t, database.DeliveryStatusSuccess, store.logs[0].Status)
	assert.Equal(t, "NVDA", store.logs[0].Symbol)
	assert.Equal(t, 1, store.logs[0].RetryAttempt)
	assert.True(t, store.results[7])
}

func TestWebhookFilters(t *testing.T) {
	minScore := 1.0
	hook := database.AlertWebhook{StockSymbols: "aapl, msft", Methods: "zscore,lstm", MinScore: &minScore}

	assert.Nil(t, filterForHook(hook, "TSLA", sampleAnomalies()))
	got := filterForHook(hook, "AAPL", sampleAnomalies())
	require.Len(t, got, 1)
	assert.Equal(t, detection.MethodZScore, got[0].Method)

	assert.Len(t, filterForHook(database.AlertWebhook{StockSymbols: "null"}, "X", sampleAnomalies()), 2)
	assert.Equal(t, []string{"A", "B"}, splitList(`["a","b"]`))
}

func TestFilteredHookIsSkipped(t *testing.T) {
	var c capture
	srv := c.server(t, alwaysOK)
	wm := newManager(nil, []database.AlertWebhook{{Name: "x", URL: srv.URL, StockSymbols: "TSLA"}})

	require.NoError(t, wm.SendAlert(context.Background(), "AAPL", sampleAnomalies()))
	require.NoError(t, wm.SendDailySummary(context.Background(), map[string][]detection.AnomalyResult{}))
	assert.Empty(t, c.bodies)
}

func TestWebhookRetriesThenSucceeds(t *testing.T) {
	var c capture
	srv := c.server(t, func(n int) int {
		if n < 3 {
			return http.StatusBadGateway
		}
		return http.StatusNoContent
	})
	store := &fakeStore{hooks: []database.AlertWebhook{{ID: 1, Name: "r", URL: srv.URL, RetryCount: 3}}}
	wm := newManager(store, nil)

	require.NoError(t, wm.SendAlert(context.Background(), "AAPL", sampleAnomalies()))
	assert.Len(t, c.bodies, 3)
	require.Len(t, store.logs, 1)
	assert.Equal(t, 3, store.logs[0].RetryAttempt)
	require.NotNil(t, store.logs[0].HTTPStatusCode)
	assert.Equal(t, http.StatusNoContent, *store.logs[0].HTTPStatusCode)
}

func TestWebhookClientErrorNotRetried(t *testing.T) {
	var c capture
	srv := c.server(t, func(int) int { return http.StatusBadRequest })
	store := &fakeStore{hooks: []database.AlertWebhook{{ID: 2, Name: "bad", URL: srv.URL, RetryCount: 5}}}
	wm := newManager(store, nil)

	err := wm.SendAlert(context.Background(), "AAPL", sampleAnomalies())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
	assert.Len(t, c.bodies, 1)
	require.Len(t, store.logs, 1)
	assert.Equal(t, database.DeliveryStatusFailed, store.logs[0].Status)
	assert.False(t, store.results[2])
}

func TestStaticWebhooks(t *testing.T) {
	hooks := StaticWebhooks(config.AlertsConfig{SlackWebhookURL: "https://hooks.slack.com/x"})
	require.Len(t, hooks, 1)
	assert.Equal(t, database.PlatformSlack, hooks[0].Platform)
	assert.True(t, hooks[0].SendSummary)
	assert.Zero(t, hooks[0].ID)
	assert.Empty(t, StaticWebhooks(config.AlertsConfig{}))
}

// ---------------------------------------------------------------------------
// Email
// ---------------------------------------------------------------------------

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func newTestEmail(sent *[]sentMail, fail error) *EmailNotifier {
	e := NewEmailNotifier(config.AlertsConfig{
		SMTPHost: "smtp.example.com", SMTPPort: 587,
		SMTPUser: "bot@example.com", SMTPPassword: "pw",
		EmailTo: []string{"ops@example.com", "dev@example.com"},
	})
	e.now = func() time.Time { return fixedNow }
	e.sendMail = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		*sent = append(*sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return fail
	}
	return e
}

func TestEmailAlert(t *testing.T) {
	var sent []sentMail
	e := newTestEmail(&sent, nil)

	require.NoError(t, e.SendAlert(context.Background(), "AAPL", sampleAnomalies()))
	require.Len(t, sent, 1)
	m := sent[0]
	assert.Equal(t, "smtp.example.com:587", m.addr)
	assert.Equal(t, "bot@example.com", m.from)
	assert.Equal(t, []string{"ops@example.com", "dev@example.com"}, m.to)
	assert.Contains(t, m.msg, "Subject: Stock Anomaly Alert - AAPL\r\n")
	assert.Contains(t, m.msg, "Content-Type: text/html")
	assert.Contains(t, m.msg, "<h2>Stock Anomaly Alert for AAPL</h2>")
	assert.Contains(t, m.msg, "Price: $150.00")
	assert.Contains(t, m.msg, "Volume: N/A")
	assert.Contains(t, m.msg, "<td>isolation_forest</td>")
}

func TestEmailSummaryAndErrors(t *testing.T) {
	var sent []sentMail
	e := newTestEmail(&sent, nil)

	require.NoError(t, e.SendDailySummary(context.Background(), map[string][]detection.AnomalyResult{
		"MSFT": sampleAnomalies()[:1],
		"AAPL": sampleAnomalies(),
	}))
	require.Len(t, sent, 1)
	msg := sent[0].msg
	assert.Contains(t, msg, "Subject: Daily Stock Anomaly Summary - 2024-02-01")
	assert.Less(t, strings.Index(msg, "<h3>AAPL</h3>"), strings.Index(msg, "<h3>MSFT</h3>"))

	assert.NoError(t, e.SendAlert(context.Background(), "AAPL", nil))
	assert.Len(t, sent, 1)

	failing := newTestEmail(&sent, errors.New("smtp down"))
	err := failing.SendAlert(context.Background(), "AAPL", sampleAnomalies())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
}

// ---------------------------------------------------------------------------
// Telegram
// ---------------------------------------------------------------------------

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func TestTelegramNotifier(t *testing.T) {
	bot := &fakeBot{}
	tg := &TelegramNotifier{bot: bot, chatID: 42, now: func() time.Time { return fixedNow }}

	require.NoError(t, tg.SendAlert(context.Background(), "AAPL", sampleAnomalies()))
	require.NoError(t, tg.SendDailySummary(context.Background(), nil))
	require.Len(t, bot.sent, 2)

	assert.Equal(t, int64(42), bot.sent[0].ChatID)
	assert.Contains(t, bot.sent[0].Text, "Stock Anomaly Alert - AAPL")
	assert.Contains(t, bot.sent[0].Text, "Price: $150.00")
	assert.Contains(t, bot.sent[1].Text, "No anomalies detected.")

	bot.err = errors.New("forbidden")
	assert.Error(t, tg.SendAlert(context.Background(), "AAPL", sampleAnomalies()))
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

type fakeNotifier struct {
	name   string
	err    error
	alerts int32
}

func (f *fakeNotifier) Name() string { return f.name }

func (f *fakeNotifier) SendAlert(context.Context, string, []detection.AnomalyResult) error {
	atomic.AddInt32(&f.alerts, 1)
	return f.err
}

func (f *fakeNotifier) SendDailySummary(context.Context, map[string][]detection.AnomalyResult) error {
	return f.err
}

func TestDispatcherFanOut(t *testing.T) {
	ok := &fakeNotifier{name: "ok"}
	bad := &fakeNotifier{name: "bad", err: errors.New("nope")}
	d := NewDispatcher(nil, ok, nil, bad)

	assert.Equal(t, 2, d.Len())
	assert.Equal(t, []string{"ok", "bad"}, d.Names())

	results := d.SendAlert(context.Background(), "AAPL", sampleAnomalies())
	require.Len(t, results, 2)
	assert.NoError(t, results["ok"])
	assert.EqualError(t, results["bad"], "nope")

	assert.Empty(t, d.SendAlert(context.Background(), "AAPL", nil))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ok.alerts))

	summary := d.SendDailySummary(context.Background(), nil)
	assert.Len(t, summary, 2)

	var empty *Dispatcher
	assert.Zero(t, empty.Len())
}
