package domain

import "time"

// TickerSnapshot is the freshest known state of one (exchange, symbol) pair.
// It is owned by the ticker cache; consumers only ever receive copies.
type TickerSnapshot struct {
	Exchange     string
	Symbol       string
	Price        float64
	ChangePct24h float64 // 24h percent change, e.g. 3.2 means +3.2%
	Volume       float64 // 24h quote volume
	Bid          float64
	Ask          float64
	Timestamp    time.Time
}

// IsStale reports whether the snapshot is older than ttl relative to now.
// Stale snapshots are excluded from scans and aggregation rather than
// treated as errors.
func (t TickerSnapshot) IsStale(now time.Time, ttl time.Duration) bool {
	return now.Sub(t.Timestamp) > ttl
}

// MarketContext is the slice of live market state handed to signal providers
// when scoring a symbol.
type MarketContext struct {
	Snapshot  TickerSnapshot
	Momentum  float64 // short-window momentum in percent, derived from price history
	History   []float64
	Timestamp time.Time
}
