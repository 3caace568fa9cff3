package position

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebhsu/signalmesh/internal/domain"
)

type fakePrices struct {
	prices map[string]float64
}

func (f *fakePrices) Get(exchange, symbol string) (domain.TickerSnapshot, bool) {
	p, ok := f.prices[symbol]
	if !ok {
		return domain.TickerSnapshot{}, false
	}
	return domain.TickerSnapshot{Exchange: exchange, Symbol: symbol, Price: p, Timestamp: time.Now()}, true
}

type fakeMomentum struct {
	values map[string]float64
}

func (f *fakeMomentum) Momentum(_, symbol string) (float64, bool) {
	v, ok := f.values[symbol]
	return v, ok
}

func newTestManager(now *time.Time, prices *fakePrices, mom *fakeMomentum, opts ...Option) *Manager {
	if prices == nil {
		prices = &fakePrices{prices: map[string]float64{}}
	}
	if mom == nil {
		mom = &fakeMomentum{values: map[string]float64{}}
	}
	opts = append([]Option{WithClock(func() time.Time { return *now })}, opts...)
	return New(DefaultConfig(), prices, mom, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func longPosition(now time.Time) domain.Position {
	return domain.Position{
		Asset:           "BTCUSDT",
		Exchange:        "binance",
		Quantity:        1,
		EntryPrice:      100,
		Direction:       domain.PositionLong,
		TargetProfitPct: 3.0,
		StopLossPct:     0.5,
		TrailingStopPct: 0.2,
		OpenedAt:        now,
		HighestPrice:    100,
		LowestPrice:     100,
	}
}

func TestTrailingStopArmsAndFires(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now, nil, nil)
	p := longPosition(now)

	// Flat tick: nothing armed, nothing fires.
	d := m.ShouldExit(&p, 100, 0, 1)
	assert.False(t, d.Exit)
	assert.Zero(t, p.TrailingStopPrice)

	// +1.2% clears the 1% profit lock and arms the trail 0.2% below the high.
	d = m.ShouldExit(&p, 101.2, 0, 1)
	assert.False(t, d.Exit)
	assert.InDelta(t, 100.9976, p.TrailingStopPrice, 1e-6)

	// The pullback through the trail exits even though the position is still
	// in profit.
	d = m.ShouldExit(&p, 100.95, 0, 1)
	require.True(t, d.Exit)
	assert.Equal(t, domain.ExitTrailingStop, d.Reason)
	assert.Equal(t, 1.0, d.Fraction)
}

func TestTrailingStopOnlyRatchetsUp(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now, nil, nil)
	p := longPosition(now)

	m.ShouldExit(&p, 102, 0, 1)
	armed := p.TrailingStopPrice
	require.Positive(t, armed)

	// A lower high must not loosen the stop.
	m.ShouldExit(&p, 101.5, 0, 1)
	assert.Equal(t, armed, p.TrailingStopPrice)

	m.ShouldExit(&p, 103, 0, 1)
	assert.Greater(t, p.TrailingStopPrice, armed)
}

func TestTimeExitOutranksEverything(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now, nil, nil)
	p := longPosition(now)

	// Price is deep through the stop, but the hold timer fires first.
	now = now.Add(5 * time.Hour)
	d := m.ShouldExit(&p, 95, -3, 0.1)
	require.True(t, d.Exit)
	assert.Equal(t, domain.ExitTime, d.Reason)
}

func TestStopLossOutranksTrailingAndTarget(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now, nil, nil)
	p := longPosition(now)
	p.TrailingStopPrice = 99.8

	d := m.ShouldExit(&p, 99.4, 0, 1)
	require.True(t, d.Exit)
	assert.Equal(t, domain.ExitStopLoss, d.Reason)
}

func TestPartialProfitThenTarget(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now, nil, nil)
	p := longPosition(now)
	p.TrailingStopPct = 0.0001 // keep the trail from firing during the climb
	p.TargetProfitPct = 30

	// +2% crosses the 1.5% partial trigger.
	d := m.ShouldExit(&p, 102, 0, 1)
	require.True(t, d.Exit)
	assert.Equal(t, domain.ExitPartialProfit, d.Reason)
	assert.Equal(t, 0.5, d.Fraction)
	p.PartialExitDone = true

	// Same price again: the partial only fires once.
	d = m.ShouldExit(&p, 102.5, 0, 1)
	assert.False(t, d.Exit)

	// +31% reaches the absolute target.
	d = m.ShouldExit(&p, 131, 0, 1)
	require.True(t, d.Exit)
	assert.Equal(t, domain.ExitTarget, d.Reason)
}

func TestMomentumReversalExit(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now, nil, nil)
	p := longPosition(now)

	d := m.ShouldExit(&p, 100.2, -1.5, 1)
	require.True(t, d.Exit)
	assert.Equal(t, domain.ExitMomentumReversal, d.Reason)
}

func TestCoherenceDecayExit(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now, nil, nil)
	p := longPosition(now)

	d := m.ShouldExit(&p, 100.2, 0, 0.1)
	require.True(t, d.Exit)
	assert.Equal(t, domain.ExitCoherenceDecay, d.Reason)
}

func TestShortDirectionSigns(t *testing.T) {
	now := time.Now()
	m := newTestManager(&now, nil, nil)
	p := longPosition(now)
	p.Direction = domain.PositionShort

	// Price falling is profit for a short; rising through the stop is loss.
	d := m.ShouldExit(&p, 100.6, 0, 1)
	require.True(t, d.Exit)
	assert.Equal(t, domain.ExitStopLoss, d.Reason)

	p2 := longPosition(now)
	p2.Direction = domain.PositionShort
	d = m.ShouldExit(&p2, 100.2, 1.5, 1)
	require.True(t, d.Exit)
	assert.Equal(t, domain.ExitMomentumReversal, d.Reason)
}

func TestCheckAllAppliesPartialAndFullExits(t *testing.T) {
	now := time.Now()
	prices := &fakePrices{prices: map[string]float64{
		"BTCUSDT": 102, // partial trigger
		"ETHUSDT": 99,  // stop-loss
		"SOLUSDT": 100, // no price movement, holds
		// DOGEUSDT deliberately absent: no fresh price.
	}}
	mom := &fakeMomentum{values: map[string]float64{}}
	m := newTestManager(&now, prices, mom)

	btc := longPosition(now)
	btc.TrailingStopPct = 0.0001
	btc.TargetProfitPct = 30
	btc = m.Open(btc)

	eth := longPosition(now)
	eth.Asset = "ETHUSDT"
	m.Open(eth)

	sol := longPosition(now)
	sol.Asset = "SOLUSDT"
	m.Open(sol)

	// No fresh price: must be skipped, not exited.
	doge := longPosition(now)
	doge.Asset = "DOGEUSDT"
	m.Open(doge)

	closed := m.CheckAll(context.Background())
	require.Len(t, closed, 1)
	assert.Equal(t, "ETHUSDT", closed[0].Position.Asset)
	assert.Equal(t, domain.ExitStopLoss, closed[0].Reason)
	assert.Negative(t, closed[0].PnLPct)

	remaining := m.Active()
	assert.Len(t, remaining, 3)
	for _, p := range remaining {
		if p.Asset == "BTCUSDT" {
			assert.Equal(t, domain.PositionPartiallyExited, p.Status)
			assert.True(t, p.PartialExitDone)
			assert.InDelta(t, 0.5, p.Quantity, 1e-9)
		}
	}
}
