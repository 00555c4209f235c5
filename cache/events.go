package cache

import (
	"context"
	"encoding/json"
	"time"

	"stock-anomaly/logging"
)

// EventsChannel carries scan results between service instances
const EventsChannel = "anomaly-events"

// Event types
const (
	EventScanCompleted = "scan_completed"
	EventAnomaly       = "anomaly"
)

// AnomalyEvent is published after a scan persists its results
type AnomalyEvent struct {
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol"`
	RunID     string          `json:"run_id,omitempty"`
	Count     int             `json:"count"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// PublishEvent publishes an event on EventsChannel
func (r *RedisClient) PublishEvent(ctx context.Context, event AnomalyEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return r.Publish(ctx, EventsChannel, event)
}

// ConsumeEvents calls handle for every event received until ctx is done.
// It returns immediately when Redis is unavailable.
func (r *RedisClient) ConsumeEvents(ctx context.Context, handle func(AnomalyEvent)) {
	logger := logging.Component("cache")
	sub := r.Subscribe(ctx, EventsChannel)
	if sub == nil {
		return
	}
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var event AnomalyEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Warn().Err(err).Msg("Dropping malformed event")
				continue
			}
			handle(event)
		}
	}
}
