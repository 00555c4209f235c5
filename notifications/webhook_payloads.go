package notifications

import (
	"time"

	"stock-anomaly/database"
	"stock-anomaly/detection"
)

// Discord embed colors
const (
	discordRed  = 16711680
	discordBlue = 3447003
)

// WebhookPayload is the body sent to generic webhooks
type WebhookPayload struct {
	Type        string                    `json:"type"`
	Symbol      string                    `json:"symbol,omitempty"`
	GeneratedAt time.Time                 `json:"generated_at"`
	Count       int                       `json:"count"`
	Message     string                    `json:"message"`
	Anomalies   []detection.AnomalyResult `json:"anomalies,omitempty"`
	Counts      map[string]int            `json:"counts,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type slackBlock struct {
	Type   string      `json:"type"`
	Text   *slackText  `json:"text,omitempty"`
	Fields []slackText `json:"fields,omitempty"`
}

type slackMessage struct {
	Blocks []slackBlock `json:"blocks"`
}

type discordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type discordEmbed struct {
	Title     string         `json:"title"`
	Color     int            `json:"color"`
	Fields    []discordField `json:"fields"`
	Timestamp string         `json:"timestamp"`
}

type discordMessage struct {
	Embeds []discordEmbed `json:"embeds"`
}

func mrkdwn(text string) slackText { return slackText{Type: "mrkdwn", Text: text} }

// alertPayload builds the platform specific alert body
func alertPayload(platform, symbol string, anomalies []detection.AnomalyResult, now time.Time) interface{} {
	switch platform {
	case database.PlatformSlack:
		blocks := []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: "🚨 " + alertTitle(symbol)}},
			{Type: "section", Text: &slackText{Type: "mrkdwn", Text: "The following anomalies were detected:"}},
		}
		for _, row := range rowsFor(anomalies) {
			blocks = append(blocks, slackBlock{
				Type: "section",
				Fields: []slackText{
					mrkdwn("*Date:*\n" + row.Date),
					mrkdwn("*Method:*\n" + row.Method),
					mrkdwn("*Score:*\n" + row.Score),
					mrkdwn("*Price:*\n" + row.Price),
				},
			})
		}
		return slackMessage{Blocks: blocks}

	case database.PlatformDiscord:
		embeds := make([]discordEmbed, 0, len(anomalies))
		for _, row := range rowsFor(anomalies) {
			embeds = append(embeds, discordEmbed{
				Title: alertTitle(symbol),
				Color: discordRed,
				Fields: []discordField{
					{Name: "Date", Value: row.Date, Inline: true},
					{Name: "Method", Value: row.Method, Inline: true},
					{Name: "Score", Value: row.Score, Inline: true},
					{Name: "Price", Value: row.Price, Inline: true},
					{Name: "Volume", Value: row.Volume, Inline: true},
				},
				Timestamp: now.Format(time.RFC3339),
			})
		}
		return discordMessage{Embeds: embeds}

	default:
		return WebhookPayload{
			Type:        database.DeliveryKindAlert,
			Symbol:      symbol,
			GeneratedAt: now,
			Count:       len(anomalies),
			Message:     alertTitle(symbol) + ": " + countText(len(anomalies)),
			Anomalies:   anomalies,
		}
	}
}

// summaryPayload builds the platform specific daily digest
func summaryPayload(platform string, bySymbol map[string][]detection.AnomalyResult, now time.Time) interface{} {
	day := now.Format(time.DateOnly)
	symbols := sortedSymbols(bySymbol)

	switch platform {
	case database.PlatformSlack:
		blocks := []slackBlock{
			{Type: "header", Text: &slackText{Type: "plain_text", Text: "📊 " + summaryTitle(day)}},
		}
		for _, s := range symbols {
			blocks = append(blocks, slackBlock{
				Type: "section",
				Text: &slackText{Type: "mrkdwn", Text: "*" + s + "* - " + countText(len(bySymbol[s]))},
			})
		}
		return slackMessage{Blocks: blocks}

	case database.PlatformDiscord:
		fields := make([]discordField, 0, len(symbols))
		for _, s := range symbols {
			fields = append(fields, discordField{Name: s, Value: countText(len(bySymbol[s])), Inline: true})
		}
		return discordMessage{Embeds: []discordEmbed{{
			Title:     summaryTitle(day),
			Color:     discordBlue,
			Fields:    fields,
			Timestamp: now.Format(time.RFC3339),
		}}}

	default:
		counts := make(map[string]int, len(bySymbol))
		total := 0
		for s, list := range bySymbol {
			counts[s] = len(list)
			total += len(list)
		}
		return WebhookPayload{
			Type:        database.DeliveryKindSummary,
			GeneratedAt: now,
			Count:       total,
			Message:     summaryTitle(day),
			Counts:      counts,
		}
	}
}
