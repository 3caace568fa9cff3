package signal

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebhsu/signalmesh/internal/domain"
)

// stubProvider returns a fixed category/confidence, or an error when failing.
type stubProvider struct {
	name string
	cat  domain.SignalCategory
	conf float64
	fail bool
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Score(_ context.Context, symbol string, _ domain.MarketContext) (domain.SignalReading, error) {
	if s.fail {
		return domain.SignalReading{}, errors.New("boom")
	}
	return domain.SignalReading{
		Provider: s.name, Symbol: symbol,
		Category: s.cat, Confidence: s.conf,
		Timestamp: time.Now(),
	}, nil
}

// stubSource serves the same fresh context for every symbol, with optional
// stale symbols.
type stubSource struct {
	stale map[string]bool
}

func (s *stubSource) Context(_, symbol string) (domain.MarketContext, bool) {
	if s.stale[symbol] {
		return domain.MarketContext{}, false
	}
	return domain.MarketContext{
		Snapshot:  domain.TickerSnapshot{Symbol: symbol, Price: 100, Timestamp: time.Now()},
		Timestamp: time.Now(),
	}, true
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewAggregatorRequiresProviders(t *testing.T) {
	_, err := NewAggregator(nil, &stubSource{}, DefaultAggregatorConfig(), testLogger())
	assert.ErrorIs(t, err, domain.ErrNoProviders)
}

func TestAggregateSymmetricLegsCancel(t *testing.T) {
	providers := []Provider{
		&stubProvider{name: "a", cat: domain.SignalStrongSell, conf: 1},
		&stubProvider{name: "b", cat: domain.SignalStrongSell, conf: 1},
	}
	agg, err := NewAggregator(providers, &stubSource{}, DefaultAggregatorConfig(), testLogger())
	require.NoError(t, err)

	// Both providers say STRONG_SELL for both legs, so selling the source is
	// as attractive as buying the target is not; the contributions cancel.
	sig, err := agg.Aggregate(context.Background(), "binance", "DOGEUSDT", "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, sig.Score, 0.01)
	assert.Equal(t, domain.SignalNeutral, sig.Recommendation)
	assert.Equal(t, 1.0, sig.Confidence)
}

// perSymbolProvider lets a test give each leg its own reading.
type perSymbolProvider struct {
	name string
	cats map[string]domain.SignalCategory
}

func (p *perSymbolProvider) Name() string { return p.name }

func (p *perSymbolProvider) Score(_ context.Context, symbol string, _ domain.MarketContext) (domain.SignalReading, error) {
	return domain.SignalReading{
		Provider: p.name, Symbol: symbol,
		Category: p.cats[symbol], Confidence: 1,
		Timestamp: time.Now(),
	}, nil
}

func TestAggregateFavorableConversionIsStrongBuy(t *testing.T) {
	// Source collapsing, target surging: the strongest possible rotation.
	providers := []Provider{&perSymbolProvider{
		name: "a",
		cats: map[string]domain.SignalCategory{
			"DOGEUSDT": domain.SignalStrongSell,
			"BTCUSDT":  domain.SignalStrongBuy,
		},
	}}
	agg, err := NewAggregator(providers, &stubSource{}, DefaultAggregatorConfig(), testLogger())
	require.NoError(t, err)

	sig, err := agg.Aggregate(context.Background(), "binance", "DOGEUSDT", "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, sig.Score, 0.01)
	assert.Equal(t, domain.SignalStrongBuy, sig.Recommendation)
}

func TestAggregateScoreAlwaysInRangeAndBandsConsistent(t *testing.T) {
	cats := []domain.SignalCategory{
		domain.SignalStrongBuy, domain.SignalBuy, domain.SignalNeutral,
		domain.SignalSell, domain.SignalStrongSell,
	}
	rng := rand.New(rand.NewSource(42))
	bands := DefaultBands()

	for i := 0; i < 200; i++ {
		providers := []Provider{
			&stubProvider{name: "a", cat: cats[rng.Intn(len(cats))], conf: rng.Float64()},
			&stubProvider{name: "b", cat: cats[rng.Intn(len(cats))], conf: rng.Float64()},
			&stubProvider{name: "c", cat: cats[rng.Intn(len(cats))], conf: rng.Float64(), fail: rng.Intn(3) == 0},
		}
		agg, err := NewAggregator(providers, &stubSource{}, DefaultAggregatorConfig(), testLogger())
		require.NoError(t, err)

		sig, err := agg.Aggregate(context.Background(), "binance", "ETHUSDT", "BTCUSDT")
		require.NoError(t, err)

		assert.GreaterOrEqual(t, sig.Score, 0.0)
		assert.LessOrEqual(t, sig.Score, 1.0)
		assert.Equal(t, bands.Categorize(sig.Score), sig.Recommendation)
	}
}

func TestAggregateSkipsFailingProvider(t *testing.T) {
	providers := []Provider{
		&stubProvider{name: "ok", cat: domain.SignalBuy, conf: 1},
		&stubProvider{name: "down", fail: true},
	}
	agg, err := NewAggregator(providers, &stubSource{}, DefaultAggregatorConfig(), testLogger())
	require.NoError(t, err)

	sig, err := agg.Aggregate(context.Background(), "binance", "ETHUSDT", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, sig.Participants)
	assert.InDelta(t, 0.5, sig.Confidence, 1e-9)
}

func TestAggregateStaleContextFails(t *testing.T) {
	providers := []Provider{&stubProvider{name: "a", cat: domain.SignalBuy, conf: 1}}
	src := &stubSource{stale: map[string]bool{"ETHUSDT": true}}
	agg, err := NewAggregator(providers, src, DefaultAggregatorConfig(), testLogger())
	require.NoError(t, err)

	_, err = agg.Aggregate(context.Background(), "binance", "ETHUSDT", "BTCUSDT")
	assert.ErrorIs(t, err, domain.ErrStaleTicker)
}

func TestRecordOutcomeReinforcesParticipantsOnly(t *testing.T) {
	providers := []Provider{
		&stubProvider{name: "winner", cat: domain.SignalBuy, conf: 1},
		&stubProvider{name: "absent", fail: true},
	}
	agg, err := NewAggregator(providers, &stubSource{}, DefaultAggregatorConfig(), testLogger())
	require.NoError(t, err)

	_, err = agg.Aggregate(context.Background(), "binance", "ETHUSDT", "BTCUSDT")
	require.NoError(t, err)

	agg.RecordOutcome("ETHUSDT", "BTCUSDT", 0.3)
	assert.Greater(t, agg.LearnedWeight("winner"), 1.0)
	assert.Equal(t, 1.0, agg.LearnedWeight("absent"))

	agg.RecordOutcome("ETHUSDT", "BTCUSDT", -0.5)
	assert.Less(t, agg.LearnedWeight("winner"), 1.1)
}

func TestWeightsStayBounded(t *testing.T) {
	w := NewWeights(ReinforceSteps{GainRate: 0.5, GainCap: 0.1, LossRate: 0.25, LossCap: 0.05})
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10_000; i++ {
		v := w.Reinforce("key", (rng.Float64()-0.5)*20)
		require.GreaterOrEqual(t, v, WeightFloor)
		require.LessOrEqual(t, v, WeightCeil)
	}

	// Saturate upward and downward.
	for i := 0; i < 200; i++ {
		w.Reinforce("up", 100)
		w.Reinforce("down", -100)
	}
	assert.Equal(t, WeightCeil, w.Get("up"))
	assert.Equal(t, WeightFloor, w.Get("down"))
}

func TestNormalizeWeightsSumToOne(t *testing.T) {
	providers := []Provider{
		&stubProvider{name: "a"}, &stubProvider{name: "b"}, &stubProvider{name: "c"},
	}
	fixed := normalizeWeights(providers, map[string]float64{"a": 0.5, "b": 0.3})
	sum := 0.0
	for _, v := range fixed {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.InDelta(t, 0.5, fixed["a"], 1e-9)
	assert.InDelta(t, 0.2, fixed["c"], 1e-9)
}
