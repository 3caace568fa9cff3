// Package market implements the in-memory ticker cache shared by every
// consumer of live market data. Ingestors write, everything else reads; a
// freshness TTL keeps decisions off dead feeds.
package market

import (
	"sync"
	"time"

	"github.com/calebhsu/signalmesh/internal/domain"
	"github.com/calebhsu/signalmesh/internal/metrics"
)

const (
	defaultTTL         = 2 * time.Second
	defaultHistorySize = 60
	momentumWindow     = time.Minute
)

// entry pairs the latest snapshot with its rolling history and derived
// momentum.
type entry struct {
	snap     domain.TickerSnapshot
	history  *priceHistory
	momentum float64
}

// shard holds the entries for one exchange behind its own lock, so ingestors
// for different exchanges never contend.
type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry // keyed by symbol
}

// TickerCache is the thread-safe store of the freshest tick per
// (exchange, symbol). Snapshots older than the TTL are treated as absent.
type TickerCache struct {
	mu          sync.RWMutex
	shards      map[string]*shard // keyed by exchange
	ttl         time.Duration
	historySize int
	now         func() time.Time
}

// Option configures a TickerCache.
type Option func(*TickerCache)

// WithTTL overrides the freshness TTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *TickerCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithHistorySize overrides the per-symbol history ring size.
func WithHistorySize(n int) Option {
	return func(c *TickerCache) {
		if n > 0 {
			c.historySize = n
		}
	}
}

// WithClock overrides the time source. Tests use this to control staleness.
func WithClock(now func() time.Time) Option {
	return func(c *TickerCache) { c.now = now }
}

// NewTickerCache creates an empty cache with a 2s TTL and 60-sample history
// unless overridden.
func NewTickerCache(opts ...Option) *TickerCache {
	c := &TickerCache{
		shards:      make(map[string]*shard),
		ttl:         defaultTTL,
		historySize: defaultHistorySize,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the configured freshness TTL.
func (c *TickerCache) TTL() time.Duration { return c.ttl }

func (c *TickerCache) shardFor(exchange string) *shard {
	c.mu.RLock()
	s, ok := c.shards[exchange]
	c.mu.RUnlock()
	if ok {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok = c.shards[exchange]; ok {
		return s
	}
	s = &shard{entries: make(map[string]*entry)}
	c.shards[exchange] = s
	return s
}

// Update upserts the snapshot for (exchange, symbol), appends the price to
// the symbol's history, and recomputes the one-minute momentum. O(1) plus the
// bounded history walk.
func (c *TickerCache) Update(snap domain.TickerSnapshot) {
	if snap.Timestamp.IsZero() {
		snap.Timestamp = c.now()
	}
	s := c.shardFor(snap.Exchange)
	s.mu.Lock()
	e, ok := s.entries[snap.Symbol]
	if !ok {
		e = &entry{history: newPriceHistory(c.historySize)}
		s.entries[snap.Symbol] = e
	}
	e.snap = snap
	e.history.append(snap.Price, snap.Timestamp)
	e.momentum = e.history.momentum(snap.Timestamp, momentumWindow)
	s.mu.Unlock()

	metrics.TicksIngested.WithLabelValues(snap.Exchange).Inc()
}

// Get returns a copy of the snapshot for (exchange, symbol). ok is false when
// the symbol is unknown or the snapshot has aged past the TTL.
func (c *TickerCache) Get(exchange, symbol string) (domain.TickerSnapshot, bool) {
	s := c.shardFor(exchange)
	s.mu.RLock()
	e, ok := s.entries[symbol]
	if !ok {
		s.mu.RUnlock()
		return domain.TickerSnapshot{}, false
	}
	snap := e.snap
	s.mu.RUnlock()

	if snap.IsStale(c.now(), c.ttl) {
		metrics.StaleTickersDropped.WithLabelValues(exchange).Inc()
		return domain.TickerSnapshot{}, false
	}
	return snap, true
}

// Momentum returns the derived one-minute momentum for (exchange, symbol),
// or false when absent or stale.
func (c *TickerCache) Momentum(exchange, symbol string) (float64, bool) {
	s := c.shardFor(exchange)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[symbol]
	if !ok || e.snap.IsStale(c.now(), c.ttl) {
		return 0, false
	}
	return e.momentum, true
}

// Context assembles the MarketContext handed to signal providers. ok is false
// when the symbol is absent or stale.
func (c *TickerCache) Context(exchange, symbol string) (domain.MarketContext, bool) {
	s := c.shardFor(exchange)
	s.mu.RLock()
	e, ok := s.entries[symbol]
	if !ok {
		s.mu.RUnlock()
		return domain.MarketContext{}, false
	}
	ctx := domain.MarketContext{
		Snapshot:  e.snap,
		Momentum:  e.momentum,
		History:   e.history.prices(),
		Timestamp: c.now(),
	}
	s.mu.RUnlock()

	if ctx.Snapshot.IsStale(ctx.Timestamp, c.ttl) {
		metrics.StaleTickersDropped.WithLabelValues(exchange).Inc()
		return domain.MarketContext{}, false
	}
	return ctx, true
}

// Snapshot returns a point-in-time copy of every fresh snapshot for the
// exchange. Stale entries are filtered, not returned.
func (c *TickerCache) Snapshot(exchange string) []domain.TickerSnapshot {
	now := c.now()
	s := c.shardFor(exchange)
	s.mu.RLock()
	out := make([]domain.TickerSnapshot, 0, len(s.entries))
	for _, e := range s.entries {
		if e.snap.IsStale(now, c.ttl) {
			continue
		}
		out = append(out, e.snap)
	}
	s.mu.RUnlock()
	return out
}

// SnapshotAll returns fresh snapshots across every exchange.
func (c *TickerCache) SnapshotAll() []domain.TickerSnapshot {
	c.mu.RLock()
	exchanges := make([]string, 0, len(c.shards))
	for name := range c.shards {
		exchanges = append(exchanges, name)
	}
	c.mu.RUnlock()

	var out []domain.TickerSnapshot
	for _, name := range exchanges {
		out = append(out, c.Snapshot(name)...)
	}
	return out
}
