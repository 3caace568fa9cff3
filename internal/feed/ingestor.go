// Package feed contains the market-data ingestors. One ingestor runs per
// exchange; each pushes parsed ticks into the shared ticker cache and
// reconnects with capped exponential backoff when its upstream dies. A dead
// feed is never fatal: the exchange's cache entries simply age past the TTL
// and drop out of scans until the feed recovers.
package feed

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Ingestor continuously produces ticker snapshots into the cache until its
// context is cancelled.
type Ingestor interface {
	Exchange() string
	Run(ctx context.Context) error
}

const (
	reconnectInitial = 1 * time.Second
	reconnectMax     = 30 * time.Second
)

// newReconnectBackoff builds the shared reconnect policy: exponential from 1s
// capped at 30s, never giving up on its own.
func newReconnectBackoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = reconnectInitial
	b.MaxInterval = reconnectMax
	b.MaxElapsedTime = 0
	return backoff.WithContext(b, ctx)
}
