package cache

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"stock-anomaly/database"
)

// Cache TTLs
const (
	AnomalyQueryTTL = 5 * time.Minute
	WebhookListTTL  = time.Hour
)

// ActiveWebhooksKey holds the cached list of active webhooks
const ActiveWebhooksKey = "webhooks:active"

// AnomalyCache caches anomaly query responses per symbol
type AnomalyCache struct {
	redis *RedisClient
}

// NewAnomalyCache creates a new anomaly cache instance
func NewAnomalyCache(redis *RedisClient) *AnomalyCache {
	return &AnomalyCache{
		redis: redis,
	}
}

// GetAnomalies retrieves a cached query result.
// Returns the cached rows and true if found, nil and false otherwise
func (c *AnomalyCache) GetAnomalies(ctx context.Context, filter database.AnomalyFilter) ([]database.AnomalyWithSymbol, bool) {
	if c == nil || c.redis == nil {
		return nil, false
	}

	var rows []database.AnomalyWithSymbol
	if err := c.redis.Get(ctx, AnomalyQueryKey(filter), &rows); err != nil {
		return nil, false
	}
	return rows, true
}

// SetAnomalies caches a query result
func (c *AnomalyCache) SetAnomalies(ctx context.Context, filter database.AnomalyFilter, rows []database.AnomalyWithSymbol) error {
	if c == nil || c.redis == nil {
		return ErrUnavailable
	}
	return c.redis.Set(ctx, AnomalyQueryKey(filter), rows, AnomalyQueryTTL)
}

// Invalidate drops cached queries for symbol and the unfiltered queries
func (c *AnomalyCache) Invalidate(ctx context.Context, symbol string) error {
	if c == nil || c.redis == nil {
		return nil
	}
	for _, scope := range []string{symbolScope(symbol), symbolScope("")} {
		if _, err := c.redis.DeletePattern(ctx, fmt.Sprintf("anomalies:%s:*", scope)); err != nil {
			return err
		}
	}
	return nil
}

// InvalidateAll drops every cached anomaly query
func (c *AnomalyCache) InvalidateAll(ctx context.Context) error {
	if c == nil || c.redis == nil {
		return nil
	}
	_, err := c.redis.DeletePattern(ctx, "anomalies:*")
	return err
}

// AnomalyQueryKey builds the cache key of a filter
func AnomalyQueryKey(filter database.AnomalyFilter) string {
	return fmt.Sprintf("anomalies:%s:%s", symbolScope(filter.Symbol), GenerateDataHash(filter))
}

func symbolScope(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return "all"
	}
	return symbol
}

// GenerateDataHash creates a short hash of the JSON form of data
func GenerateDataHash(data interface{}) string {
	jsonData, _ := json.Marshal(data)
	hash := md5.Sum(jsonData)
	return fmt.Sprintf("%x", hash[:8])
}
