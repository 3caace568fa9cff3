package market

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebhsu/signalmesh/internal/domain"
)

func TestTickerCacheGetFreshAndStale(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := NewTickerCache(WithTTL(2*time.Second), WithClock(clock))

	c.Update(domain.TickerSnapshot{
		Exchange: "binance", Symbol: "BTCUSDT", Price: 65000, Timestamp: now,
	})

	snap, ok := c.Get("binance", "BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 65000.0, snap.Price)

	// Age the clock past the TTL; the entry must disappear from Get and
	// Snapshot without any further update.
	now = now.Add(2001 * time.Millisecond)
	_, ok = c.Get("binance", "BTCUSDT")
	assert.False(t, ok)
	assert.Empty(t, c.Snapshot("binance"))
}

func TestTickerCacheGetUnknown(t *testing.T) {
	c := NewTickerCache()
	_, ok := c.Get("kraken", "ETHUSD")
	assert.False(t, ok)
}

func TestTickerCacheSnapshotIsCopy(t *testing.T) {
	now := time.Now()
	c := NewTickerCache(WithClock(func() time.Time { return now }))
	c.Update(domain.TickerSnapshot{Exchange: "binance", Symbol: "ETHUSDT", Price: 3000, Timestamp: now})

	snaps := c.Snapshot("binance")
	require.Len(t, snaps, 1)
	snaps[0].Price = 1

	again, ok := c.Get("binance", "ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, 3000.0, again.Price)
}

func TestTickerCacheMomentum(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	c := NewTickerCache(WithClock(clock))

	base := now.Add(-50 * time.Second)
	for i := 0; i <= 50; i += 10 {
		price := 100 + float64(i)/10 // 100 -> 105 over 50s
		ts := base.Add(time.Duration(i) * time.Second)
		c.Update(domain.TickerSnapshot{Exchange: "binance", Symbol: "SOLUSDT", Price: price, Timestamp: ts})
	}
	// Keep the latest snapshot fresh relative to the clock.
	c.Update(domain.TickerSnapshot{Exchange: "binance", Symbol: "SOLUSDT", Price: 105, Timestamp: now})

	m, ok := c.Momentum("binance", "SOLUSDT")
	require.True(t, ok)
	assert.InDelta(t, 5.0, m, 0.2)
}

func TestTickerCacheConcurrentUpdates(t *testing.T) {
	c := NewTickerCache(WithTTL(time.Hour))
	var wg sync.WaitGroup
	exchanges := []string{"binance", "kraken", "bybit"}
	for _, ex := range exchanges {
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(ex string, n int) {
				defer wg.Done()
				for j := 0; j < 200; j++ {
					c.Update(domain.TickerSnapshot{
						Exchange: ex, Symbol: "BTCUSDT",
						Price: float64(1000 + j), Timestamp: time.Now(),
					})
					c.Get(ex, "BTCUSDT")
					c.Snapshot(ex)
				}
			}(ex, i)
		}
	}
	wg.Wait()

	for _, ex := range exchanges {
		_, ok := c.Get(ex, "BTCUSDT")
		assert.True(t, ok, ex)
	}
}

func TestPriceHistoryEviction(t *testing.T) {
	h := newPriceHistory(3)
	at := time.Now()
	for i := 1; i <= 5; i++ {
		h.append(float64(i), at.Add(time.Duration(i)*time.Second))
	}
	assert.Equal(t, []float64{3, 4, 5}, h.prices())
}
