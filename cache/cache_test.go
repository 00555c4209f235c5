package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"

	"stock-anomaly/database"
)

func TestNilClientIsDisabledCache(t *testing.T) {
	var r *RedisClient
	ctx := context.Background()

	assert.ErrorIs(t, r.Set(ctx, "k", 1, time.Minute), ErrUnavailable)
	var v int
	err := r.Get(ctx, "k", &v)
	assert.True(t, IsMiss(err))
	assert.False(t, r.Exists(ctx, "k"))
	assert.Nil(t, r.Subscribe(ctx, EventsChannel))
	assert.NoError(t, r.Close())

	n, err := r.DeletePattern(ctx, "*")
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrUnavailable)

	done := make(chan struct{})
	go func() {
		r.ConsumeEvents(ctx, func(AnomalyEvent) {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ConsumeEvents blocked without redis")
	}
}

func TestAnomalyCacheWithoutRedis(t *testing.T) {
	c := NewAnomalyCache(nil)
	ctx := context.Background()
	filter := database.AnomalyFilter{Symbol: "AAPL"}

	rows, ok := c.GetAnomalies(ctx, filter)
	assert.False(t, ok)
	assert.Nil(t, rows)
	assert.ErrorIs(t, c.SetAnomalies(ctx, filter, nil), ErrUnavailable)
	assert.NoError(t, c.Invalidate(ctx, "AAPL"))
}

func TestAnomalyQueryKey(t *testing.T) {
	a := database.AnomalyFilter{Symbol: "aapl", Limit: 10}
	b := database.AnomalyFilter{Symbol: "AAPL", Limit: 10}
	c := database.AnomalyFilter{Limit: 10}

	assert.Contains(t, AnomalyQueryKey(b), "anomalies:AAPL:")
	assert.Contains(t, AnomalyQueryKey(c), "anomalies:all:")
	assert.Equal(t, AnomalyQueryKey(b), AnomalyQueryKey(database.AnomalyFilter{Symbol: "AAPL", Limit: 10}))
	assert.NotEqual(t, AnomalyQueryKey(b), AnomalyQueryKey(database.AnomalyFilter{Symbol: "AAPL", Limit: 20}))
	assert.Contains(t, AnomalyQueryKey(a), "anomalies:AAPL:")
}

func TestIsMiss(t *testing.T) {
	assert.True(t, IsMiss(redis.Nil))
	assert.True(t, IsMiss(ErrUnavailable))
	assert.False(t, IsMiss(context.Canceled))
}
