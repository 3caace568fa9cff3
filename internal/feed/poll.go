package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/calebhsu/signalmesh/internal/domain"
	"github.com/calebhsu/signalmesh/internal/market"
	"github.com/calebhsu/signalmesh/internal/metrics"
)

// restTicker is the generic JSON shape the poll ingestor accepts from an
// exchange's ticker endpoint.
type restTicker struct {
	Symbol       string  `json:"symbol"`
	Last         float64 `json:"last"`
	ChangePct24h float64 `json:"change_pct_24h"`
	Volume       float64 `json:"volume"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
}

// PollIngestor fetches an exchange's ticker endpoint at a fixed interval and
// writes every configured symbol into the cache. Fetch failures are retried
// with backoff; the ingestor only returns when the context is cancelled.
type PollIngestor struct {
	exchange string
	url      string
	symbols  map[string]bool
	interval time.Duration
	cache    *market.TickerCache
	client   *http.Client
	logger   *slog.Logger
}

// NewPollIngestor creates a poll-mode ingestor. An empty symbols list means
// every symbol the endpoint returns is accepted.
func NewPollIngestor(exchange, url string, symbols []string, interval time.Duration, cache *market.TickerCache, logger *slog.Logger) *PollIngestor {
	want := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &PollIngestor{
		exchange: exchange,
		url:      url,
		symbols:  want,
		interval: interval,
		cache:    cache,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With(slog.String("component", "poll_ingestor"), slog.String("exchange", exchange)),
	}
}

// Exchange returns the exchange this ingestor feeds.
func (p *PollIngestor) Exchange() string { return p.exchange }

// Run polls until ctx is cancelled. Consecutive failures back off from 1s to
// 30s; a successful fetch resets the schedule to the configured interval.
func (p *PollIngestor) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "poll ingestor started", slog.Duration("interval", p.interval))
	defer p.logger.Info("poll ingestor stopped")

	retry := newReconnectBackoff(ctx)
	for {
		if err := p.fetchOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			wait := retry.NextBackOff()
			if wait == backoff.Stop {
				return ctx.Err()
			}
			metrics.FeedReconnects.WithLabelValues(p.exchange).Inc()
			p.logger.WarnContext(ctx, "poll failed, backing off",
				slog.String("error", err.Error()),
				slog.Duration("wait", wait),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
}

func (p *PollIngestor) fetchOnce(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("poll %s: build request: %w", p.exchange, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("poll %s: %w", p.exchange, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("poll %s: unexpected status %d", p.exchange, resp.StatusCode)
	}

	var tickers []restTicker
	if err := json.NewDecoder(resp.Body).Decode(&tickers); err != nil {
		return fmt.Errorf("poll %s: decode: %w", p.exchange, err)
	}

	now := time.Now().UTC()
	accepted := 0
	for _, t := range tickers {
		if t.Symbol == "" || t.Last <= 0 {
			continue
		}
		if len(p.symbols) > 0 && !p.symbols[t.Symbol] {
			continue
		}
		p.cache.Update(domain.TickerSnapshot{
			Exchange:     p.exchange,
			Symbol:       t.Symbol,
			Price:        t.Last,
			ChangePct24h: t.ChangePct24h,
			Volume:       t.Volume,
			Bid:          t.Bid,
			Ask:          t.Ask,
			Timestamp:    now,
		})
		accepted++
	}
	p.logger.DebugContext(ctx, "poll cycle complete", slog.Int("tickers", accepted))
	return nil
}
