package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/calebhsu/signalmesh/internal/domain"
	"github.com/calebhsu/signalmesh/internal/market"
	"github.com/calebhsu/signalmesh/internal/metrics"
)

const (
	wsHandshakeTimeout = 15 * time.Second
	wsWriteWait        = 10 * time.Second
	wsPongWait         = 60 * time.Second
	wsPingPeriod       = (wsPongWait * 9) / 10
)

// streamTick is the generic JSON frame the stream ingestor accepts from an
// exchange's ticker channel.
type streamTick struct {
	Symbol       string  `json:"symbol"`
	Price        float64 `json:"price"`
	ChangePct24h float64 `json:"change_pct_24h"`
	Volume       float64 `json:"volume"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
	Timestamp    int64   `json:"ts"` // unix milliseconds, optional
}

// subscribeCmd is the subscription frame sent after connecting.
type subscribeCmd struct {
	Op      string   `json:"op"`
	Channel string   `json:"channel"`
	Symbols []string `json:"symbols"`
}

// StreamIngestor is a push-mode ingestor: it keeps a websocket connection to
// an exchange's ticker channel and writes every frame into the cache.
// Disconnects trigger a capped exponential backoff reconnect.
type StreamIngestor struct {
	exchange string
	wsURL    string
	symbols  []string
	cache    *market.TickerCache
	logger   *slog.Logger
}

// NewStreamIngestor creates a push-mode ingestor for the given exchange.
func NewStreamIngestor(exchange, wsURL string, symbols []string, cache *market.TickerCache, logger *slog.Logger) *StreamIngestor {
	return &StreamIngestor{
		exchange: exchange,
		wsURL:    wsURL,
		symbols:  symbols,
		cache:    cache,
		logger:   logger.With(slog.String("component", "stream_ingestor"), slog.String("exchange", exchange)),
	}
}

// Exchange returns the exchange this ingestor feeds.
func (s *StreamIngestor) Exchange() string { return s.exchange }

// Run connects and consumes frames until ctx is cancelled, reconnecting with
// backoff on any connection error.
func (s *StreamIngestor) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "stream ingestor started", slog.Int("symbols", len(s.symbols)))
	defer s.logger.Info("stream ingestor stopped")

	retry := newReconnectBackoff(ctx)
	for {
		err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			return ctx.Err()
		}
		metrics.FeedReconnects.WithLabelValues(s.exchange).Inc()
		s.logger.WarnContext(ctx, "stream disconnected, reconnecting",
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

// runConnection dials, subscribes, and reads frames until the connection
// breaks or ctx is cancelled. A healthy read resets the reconnect backoff via
// the caller observing a long-lived call.
func (s *StreamIngestor) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("stream %s: dial: %w", s.exchange, err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	sub := subscribeCmd{Op: "subscribe", Channel: "ticker", Symbols: s.symbols}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("stream %s: subscribe: %w", s.exchange, err)
	}
	s.logger.InfoContext(ctx, "stream subscribed")

	// Close the connection when ctx ends so the blocked read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(wsWriteWait))
			_ = conn.Close()
		case <-done:
		}
	}()

	pingTicker := time.NewTicker(wsPingPeriod)
	defer pingTicker.Stop()
	go func() {
		for {
			select {
			case <-done:
				return
			case <-pingTicker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream %s: read: %w", s.exchange, err)
		}
		s.handleFrame(raw)
	}
}

// handleFrame parses one frame and upserts the cache. Malformed frames are
// dropped; a single bad tick must never take the ingestor down.
func (s *StreamIngestor) handleFrame(raw []byte) {
	var tick streamTick
	if err := json.Unmarshal(raw, &tick); err != nil || tick.Symbol == "" || tick.Price <= 0 {
		return
	}
	ts := time.Now().UTC()
	if tick.Timestamp > 0 {
		ts = time.UnixMilli(tick.Timestamp).UTC()
	}
	s.cache.Update(domain.TickerSnapshot{
		Exchange:     s.exchange,
		Symbol:       tick.Symbol,
		Price:        tick.Price,
		ChangePct24h: tick.ChangePct24h,
		Volume:       tick.Volume,
		Bid:          tick.Bid,
		Ask:          tick.Ask,
		Timestamp:    ts,
	})
}
