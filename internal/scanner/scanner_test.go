package scanner

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebhsu/signalmesh/internal/domain"
)

func newTestScanner(t *testing.T, now *time.Time) *Scanner {
	t.Helper()
	return New(DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(func() time.Time { return *now }))
}

func tick(symbol string, change, volume float64) domain.TickerSnapshot {
	return domain.TickerSnapshot{
		Exchange: "binance", Symbol: symbol,
		Price: 100, ChangePct24h: change, Volume: volume,
		Timestamp: time.Now(),
	}
}

func TestRecordResultNudgesWeights(t *testing.T) {
	now := time.Now()
	s := newTestScanner(t, &now)

	s.RecordResult("BTC", 0.25)
	s.RecordResult("DOGE", -0.10)
	s.RecordResult("ETH", 0.18)

	assert.Greater(t, s.LearnedWeight("BTC"), 1.0)
	assert.Less(t, s.LearnedWeight("DOGE"), 1.0)
	assert.Greater(t, s.LearnedWeight("ETH"), 1.0)
}

func TestScanCachesWithinInterval(t *testing.T) {
	now := time.Now()
	s := newTestScanner(t, &now)

	first := s.Scan([]domain.TickerSnapshot{tick("BTCUSDT", 2, 1e8)})

	// Inside the window a different ticker set must not change the result.
	now = now.Add(2 * time.Second)
	second := s.Scan([]domain.TickerSnapshot{tick("ETHUSDT", 9, 1e8)})
	require.Len(t, second, 1)
	assert.Equal(t, first, second)
	assert.Equal(t, "BTCUSDT", second[0].Symbol)

	// Past the window the new universe shows up.
	now = now.Add(4 * time.Second)
	third := s.Scan([]domain.TickerSnapshot{tick("ETHUSDT", 9, 1e8)})
	require.Len(t, third, 1)
	assert.Equal(t, "ETHUSDT", third[0].Symbol)
}

func TestScanSkipsUnresolvableSymbols(t *testing.T) {
	now := time.Now()
	s := newTestScanner(t, &now)

	targets := s.Scan([]domain.TickerSnapshot{
		tick("BTCUSDT", 1, 1e7),
		tick("WEIRDPAIR", 1, 1e7),
	})
	require.Len(t, targets, 1)
	assert.Equal(t, "BTC", targets[0].BaseAsset)
	assert.Equal(t, "USDT", targets[0].QuoteAsset)
}

func TestSplitSymbolLongestSuffixWins(t *testing.T) {
	now := time.Now()
	s := newTestScanner(t, &now)

	base, quote, ok := s.splitSymbol("SOLUSDC")
	require.True(t, ok)
	assert.Equal(t, "SOL", base)
	assert.Equal(t, "USDC", quote)

	// ETHBTC must resolve against BTC, not swallow the whole symbol.
	base, quote, ok = s.splitSymbol("ETHBTC")
	require.True(t, ok)
	assert.Equal(t, "ETH", base)
	assert.Equal(t, "BTC", quote)

	_, _, ok = s.splitSymbol("USDT")
	assert.False(t, ok)
}

func TestDirectionLists(t *testing.T) {
	now := time.Now()
	s := newTestScanner(t, &now)

	s.Scan([]domain.TickerSnapshot{
		tick("BTCUSDT", 3, 1e8),
		tick("ETHUSDT", 8, 1e8),
		tick("DOGEUSDT", -12, 1e7),
		tick("PEPEUSDT", 1, 1e6),
		tick("SOLBTC", 2, 1e6), // non-stable quote, excluded from de-risk
	})

	trend, err := s.Targets(domain.DirectionTrend)
	require.NoError(t, err)
	require.Len(t, trend, 5)
	assert.Equal(t, "ETHUSDT", trend[0].Symbol)
	for i := 1; i < len(trend); i++ {
		assert.GreaterOrEqual(t, trend[i-1].TotalScore, trend[i].TotalScore)
	}

	derisk, err := s.Targets(domain.DirectionDeRisk)
	require.NoError(t, err)
	require.NotEmpty(t, derisk)
	// The hardest-falling symbol leads the de-risk list.
	assert.Equal(t, "DOGEUSDT", derisk[0].Symbol)
	for _, tg := range derisk {
		assert.NotEqual(t, "SOLBTC", tg.Symbol)
	}

	peers, err := s.Targets(domain.DirectionPeerRotation)
	require.NoError(t, err)
	for _, tg := range peers {
		assert.Contains(t, DefaultConfig().PeerAllowList, tg.BaseAsset)
	}
	for _, tg := range peers {
		assert.NotEqual(t, "PEPE", tg.BaseAsset)
	}

	sweep, err := s.Targets(domain.DirectionSweep)
	require.NoError(t, err)
	require.Len(t, sweep, 5)
	for i := 1; i < len(sweep); i++ {
		assert.Less(t, sweep[i-1].Symbol, sweep[i].Symbol)
	}

	_, err = s.Targets(domain.Direction("bogus"))
	assert.ErrorIs(t, err, domain.ErrUnknownDirection)
}

func TestProfitScoreTracksWinRate(t *testing.T) {
	now := time.Now()
	s := newTestScanner(t, &now)

	assert.Equal(t, 0.0, s.profitScore("BTC"))

	for i := 0; i < 3; i++ {
		s.RecordResult("BTC", 0.1)
	}
	s.RecordResult("BTC", -0.1)

	rate, ok := s.WinRate("BTC")
	require.True(t, ok)
	assert.InDelta(t, 0.75, rate, 1e-9)
	assert.InDelta(t, 0.5, s.profitScore("BTC"), 1e-9)
}

func TestOutcomeHistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 4
	now := time.Now()
	s := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), WithClock(func() time.Time { return now }))

	// Four losses, then four wins: the losses must be fully evicted.
	for i := 0; i < 4; i++ {
		s.RecordResult("ADA", -0.1)
	}
	for i := 0; i < 4; i++ {
		s.RecordResult("ADA", 0.1)
	}
	rate, ok := s.WinRate("ADA")
	require.True(t, ok)
	assert.Equal(t, 1.0, rate)
}
