package feed

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/cenkalti/backoff/v4"

	"github.com/calebhsu/signalmesh/internal/domain"
	"github.com/calebhsu/signalmesh/internal/market"
	"github.com/calebhsu/signalmesh/internal/metrics"
)

// ExchangeBinance is the exchange label Binance ticks are cached under.
const ExchangeBinance = "binance"

// BinanceIngestor consumes the Binance all-market 24h ticker stream and
// writes the configured symbols into the cache. It is the push-mode ingestor
// for Binance; the generic StreamIngestor covers exchanges without a native
// client library.
type BinanceIngestor struct {
	symbols map[string]bool
	cache   *market.TickerCache
	logger  *slog.Logger
}

// NewBinanceIngestor creates an ingestor for the given symbols. An empty
// list accepts every symbol on the stream.
func NewBinanceIngestor(symbols []string, cache *market.TickerCache, logger *slog.Logger) *BinanceIngestor {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	return &BinanceIngestor{
		symbols: want,
		cache:   cache,
		logger:  logger.With(slog.String("component", "binance_ingestor")),
	}
}

// Exchange returns the exchange label for this ingestor.
func (b *BinanceIngestor) Exchange() string { return ExchangeBinance }

// Run serves the websocket stream until ctx is cancelled, reconnecting with
// backoff on stream errors.
func (b *BinanceIngestor) Run(ctx context.Context) error {
	b.logger.InfoContext(ctx, "binance ingestor started", slog.Int("symbols", len(b.symbols)))
	defer b.logger.Info("binance ingestor stopped")

	retry := newReconnectBackoff(ctx)
	for {
		err := b.serveOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			return ctx.Err()
		}
		metrics.FeedReconnects.WithLabelValues(ExchangeBinance).Inc()
		b.logger.WarnContext(ctx, "binance stream dropped, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("wait", wait),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// serveOnce opens one stream session and blocks until it ends.
func (b *BinanceIngestor) serveOnce(ctx context.Context) error {
	errCh := make(chan error, 1)

	doneC, stopC, err := binance.WsAllMarketsStatServe(
		func(events binance.WsAllMarketsStatEvent) {
			for _, ev := range events {
				b.handleEvent(ev)
			}
		},
		func(err error) {
			select {
			case errCh <- err:
			default:
			}
		},
	)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		close(stopC)
		<-doneC
		return ctx.Err()
	case err := <-errCh:
		close(stopC)
		<-doneC
		return err
	case <-doneC:
		return domain.ErrProviderUnavailable
	}
}

func (b *BinanceIngestor) handleEvent(ev *binance.WsMarketStatEvent) {
	if ev == nil {
		return
	}
	if len(b.symbols) > 0 && !b.symbols[ev.Symbol] {
		return
	}
	price := parseFloat(ev.LastPrice)
	if price <= 0 {
		return
	}
	b.cache.Update(domain.TickerSnapshot{
		Exchange:     ExchangeBinance,
		Symbol:       ev.Symbol,
		Price:        price,
		ChangePct24h: parseFloat(ev.PriceChangePercent),
		Volume:       parseFloat(ev.QuoteVolume),
		Bid:          parseFloat(ev.BidPrice),
		Ask:          parseFloat(ev.AskPrice),
		Timestamp:    time.UnixMilli(ev.Time).UTC(),
	})
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
