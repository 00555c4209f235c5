package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"stock-anomaly/detection"
)

// telegramMaxMessage is the Telegram message length limit
const telegramMaxMessage = 4096

// telegramSender is the part of tgbotapi.BotAPI used here
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts alerts to a Telegram chat
type TelegramNotifier struct {
	bot    telegramSender
	chatID int64
	now    func() time.Time
}

// NewTelegramNotifier connects the bot with token
func NewTelegramNotifier(token string, chatID int64) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramNotifier{bot: bot, chatID: chatID, now: time.Now}, nil
}

// Name implements Notifier
func (t *TelegramNotifier) Name() string { return "telegram" }

// SendAlert implements Notifier
func (t *TelegramNotifier) SendAlert(ctx context.Context, symbol string, anomalies []detection.AnomalyResult) error {
	if len(anomalies) == 0 {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🚨 %s\n", alertTitle(symbol))
	for _, row := range rowsFor(anomalies) {
		fmt.Fprintf(&b, "\n%s  %s\nScore: %s (threshold %s)\nPrice: %s  Volume: %s\n",
			row.Date, row.Method, row.Score, row.Threshold, row.Price, row.Volume)
	}
	return t.send(ctx, b.String())
}

// SendDailySummary implements Notifier
func (t *TelegramNotifier) SendDailySummary(ctx context.Context, bySymbol map[string][]detection.AnomalyResult) error {
	var b strings.Builder
	fmt.Fprintf(&b, "📊 %s\n", summaryTitle(t.now().Format(time.DateOnly)))
	symbols := sortedSymbols(bySymbol)
	if len(symbols) == 0 {
		b.WriteString("\nNo anomalies detected.")
	}
	for _, s := range symbols {
		fmt.Fprintf(&b, "\n%s - %s", s, countText(len(bySymbol[s])))
	}
	return t.send(ctx, b.String())
}

func (t *TelegramNotifier) send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if runes := []rune(text); len(runes) > telegramMaxMessage {
		text = string(runes[:telegramMaxMessage-3]) + "..."
	}
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}
