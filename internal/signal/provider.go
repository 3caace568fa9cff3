// Package signal combines the opinions of independent scoring providers into
// one actionable recommendation per asset pair, and learns per-provider
// reliability from realized outcomes.
package signal

import (
	"context"

	"github.com/calebhsu/signalmesh/internal/domain"
)

// Provider is the contract every scoring provider satisfies. Implementations
// are black boxes: given a symbol and its current market context they return
// a directional category plus confidence. A provider that errors is skipped
// for that aggregation round only.
type Provider interface {
	Name() string
	Score(ctx context.Context, symbol string, mctx domain.MarketContext) (domain.SignalReading, error)
}

// ContextSource supplies the market context for a symbol. Satisfied by the
// ticker cache; ok is false when the symbol is unknown or stale.
type ContextSource interface {
	Context(exchange, symbol string) (domain.MarketContext, bool)
}
