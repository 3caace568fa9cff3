package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/calebhsu/signalmesh/internal/domain"
)

// PriceSource supplies the live price for a symbol. Satisfied by the ticker
// cache.
type PriceSource interface {
	Get(exchange, symbol string) (domain.TickerSnapshot, bool)
}

const defaultPaperSlippage = 0.0005

// PaperBackend fills every conversion instantly at the cached price plus a
// fixed slippage haircut. It is the default deployment backend; a live venue
// backend satisfies the same interface.
type PaperBackend struct {
	prices   PriceSource
	slippage float64
	logger   *slog.Logger
}

var _ Backend = (*PaperBackend)(nil)

// NewPaperBackend constructs a paper backend over the given price source.
func NewPaperBackend(prices PriceSource, slippage float64, logger *slog.Logger) *PaperBackend {
	if slippage <= 0 {
		slippage = defaultPaperSlippage
	}
	return &PaperBackend{
		prices:   prices,
		slippage: slippage,
		logger:   logger.With(slog.String("component", "paper_backend")),
	}
}

func (b *PaperBackend) Name() string { return "paper" }

// PlaceConversion fills at the target's cached price worsened by slippage.
// It fails when no fresh price exists, which the dispatcher treats like any
// venue rejection.
func (b *PaperBackend) PlaceConversion(ctx context.Context, p domain.MissionProposal) (Fill, error) {
	snap, ok := b.prices.Get(p.Exchange, p.ToAsset)
	if !ok {
		return Fill{}, fmt.Errorf("paper: place conversion %s->%s: %w", p.FromAsset, p.ToAsset, domain.ErrStaleTicker)
	}

	fill := Fill{
		Amount: p.Amount * (1 - b.slippage),
		Price:  snap.Price * (1 + b.slippage),
		At:     time.Now().UTC(),
	}
	b.logger.InfoContext(ctx, "paper fill",
		slog.String("exchange", p.Exchange),
		slog.String("from", p.FromAsset),
		slog.String("to", p.ToAsset),
		slog.Float64("amount", fill.Amount),
		slog.Float64("price", fill.Price),
	)
	return fill, nil
}
