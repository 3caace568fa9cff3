// Package scanner scores the live symbol universe each cycle and serves
// ranked target lists per trading direction. Per-symbol profitability is
// learned from realized outcomes.
package scanner

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/calebhsu/signalmesh/internal/domain"
	"github.com/calebhsu/signalmesh/internal/metrics"
	"github.com/calebhsu/signalmesh/internal/signal"
)

// Fixed blend of the three per-target scores. Momentum and learned profit
// dominate; raw volume is a tiebreaker.
const (
	momentumBlend = 0.4
	volumeBlend   = 0.2
	profitBlend   = 0.4
)

const (
	defaultInterval    = 5 * time.Second
	defaultHistorySize = 100
	defaultRefVolume   = 50_000_000
	defaultDeRiskDrop  = -5.0
)

// Config holds the scanner tunables.
type Config struct {
	// Interval is the minimum time between real scans; calls inside the
	// window are served the previous cycle's lists unchanged.
	Interval time.Duration
	// QuoteAssets resolves base/quote by longest-suffix match. Symbols that
	// match none are skipped.
	QuoteAssets []string
	// StableQuotes marks the quote assets considered stable for de-risk
	// selection.
	StableQuotes []string
	// PeerAllowList restricts peer-rotation targets to these base assets.
	PeerAllowList []string
	// DeRiskDropPct is the 24h change at or below which a symbol qualifies
	// as a de-risk target regardless of quote.
	DeRiskDropPct float64
	// RefVolume is the quote volume at which volume_score saturates at 1.
	RefVolume float64
	// HistorySize bounds the rolling outcome history per base asset.
	HistorySize int
	// Steps are the reinforcement step sizes for per-symbol learned weights.
	// They are deliberately smaller than the aggregator's.
	Steps signal.ReinforceSteps
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		Interval:      defaultInterval,
		QuoteAssets:   []string{"USDT", "USDC", "FDUSD", "BTC", "ETH"},
		StableQuotes:  []string{"USDT", "USDC", "FDUSD"},
		PeerAllowList: []string{"BTC", "ETH", "BNB", "SOL", "XRP", "ADA", "AVAX", "LINK"},
		DeRiskDropPct: defaultDeRiskDrop,
		RefVolume:     defaultRefVolume,
		HistorySize:   defaultHistorySize,
		Steps:         signal.ReinforceSteps{GainRate: 0.25, GainCap: 0.05, LossRate: 0.125, LossCap: 0.025},
	}
}

// outcomeHistory is a bounded ring of win/loss results for one base asset.
type outcomeHistory struct {
	wins []bool
	next int
	full bool
}

func (h *outcomeHistory) add(win bool, size int) {
	if h.wins == nil {
		h.wins = make([]bool, size)
	}
	h.wins[h.next] = win
	h.next = (h.next + 1) % len(h.wins)
	if h.next == 0 {
		h.full = true
	}
}

func (h *outcomeHistory) winRate() (float64, bool) {
	n := h.next
	if h.full {
		n = len(h.wins)
	}
	if n == 0 {
		return 0, false
	}
	wins := 0
	for i := 0; i < n; i++ {
		if h.wins[i] {
			wins++
		}
	}
	return float64(wins) / float64(n), true
}

// Scanner scores tickers into per-direction target lists. One real scan runs
// per interval; everything else is served from the cycle cache.
type Scanner struct {
	cfg     Config
	weights *signal.Weights
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	history  map[string]*outcomeHistory // keyed by base asset
	lastScan time.Time
	cached   []domain.ScannedTarget
	lists    map[domain.Direction][]domain.ScannedTarget
}

// Option customizes a Scanner.
type Option func(*Scanner)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scanner) { s.now = now }
}

// New constructs a Scanner with the given config, filling zero fields from
// the defaults.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Scanner {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if len(cfg.QuoteAssets) == 0 {
		cfg.QuoteAssets = def.QuoteAssets
	}
	if len(cfg.StableQuotes) == 0 {
		cfg.StableQuotes = def.StableQuotes
	}
	if len(cfg.PeerAllowList) == 0 {
		cfg.PeerAllowList = def.PeerAllowList
	}
	if cfg.DeRiskDropPct == 0 {
		cfg.DeRiskDropPct = def.DeRiskDropPct
	}
	if cfg.RefVolume <= 0 {
		cfg.RefVolume = def.RefVolume
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.Steps == (signal.ReinforceSteps{}) {
		cfg.Steps = def.Steps
	}
	s := &Scanner{
		cfg:     cfg,
		weights: signal.NewWeights(cfg.Steps),
		logger:  logger.With(slog.String("component", "opportunity_scanner")),
		now:     time.Now,
		history: make(map[string]*outcomeHistory),
		lists:   make(map[domain.Direction][]domain.ScannedTarget),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scan scores the given fresh tickers into ranked targets. Calls within the
// scan interval return the previous cycle's result unchanged; the caller is
// expected to pass only non-stale snapshots.
func (s *Scanner) Scan(tickers []domain.TickerSnapshot) []domain.ScannedTarget {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !s.lastScan.IsZero() && now.Sub(s.lastScan) < s.cfg.Interval {
		return s.cached
	}

	targets := make([]domain.ScannedTarget, 0, len(tickers))
	for _, t := range tickers {
		base, quote, ok := s.splitSymbol(t.Symbol)
		if !ok {
			continue
		}
		target := domain.ScannedTarget{
			Symbol:     t.Symbol,
			Exchange:   t.Exchange,
			BaseAsset:  base,
			QuoteAsset: quote,

			MomentumScore: t.ChangePct24h,
			VolumeScore:   s.volumeScore(t.Volume),
			ProfitScore:   s.profitScore(base),
			Weight:        s.weights.Get(base),
		}
		target.TotalScore = (target.MomentumScore*momentumBlend +
			target.VolumeScore*volumeBlend +
			target.ProfitScore*profitBlend) * target.Weight
		targets = append(targets, target)
	}

	s.lastScan = now
	s.cached = targets
	s.rebuildLists(targets)
	metrics.ScanCycles.Inc()
	s.logger.Debug("scan cycle complete",
		slog.Int("tickers", len(tickers)),
		slog.Int("targets", len(targets)),
	)
	return s.cached
}

// Targets returns the current cycle's list for a direction. The slice is the
// cached cycle list; callers must not mutate it.
func (s *Scanner) Targets(direction domain.Direction) ([]domain.ScannedTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list, ok := s.lists[direction]
	if !ok {
		return nil, fmt.Errorf("scanner: targets: %q: %w", direction, domain.ErrUnknownDirection)
	}
	return list, nil
}

// RecordResult appends a realized outcome for a base asset, refreshing its
// rolling win-rate and nudging its learned weight.
func (s *Scanner) RecordResult(baseAsset string, profit float64) {
	s.mu.Lock()
	h, ok := s.history[baseAsset]
	if !ok {
		h = &outcomeHistory{}
		s.history[baseAsset] = h
	}
	h.add(profit > 0, s.cfg.HistorySize)
	s.mu.Unlock()

	updated := s.weights.Reinforce(baseAsset, profit)
	s.logger.Debug("symbol weight reinforced",
		slog.String("asset", baseAsset),
		slog.Float64("profit", profit),
		slog.Float64("weight", updated),
	)
}

// LearnedWeight exposes the current learned weight for a base asset.
func (s *Scanner) LearnedWeight(baseAsset string) float64 {
	return s.weights.Get(baseAsset)
}

// WinRate exposes the rolling win-rate for a base asset; ok is false when no
// outcome has been recorded yet.
func (s *Scanner) WinRate(baseAsset string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.history[baseAsset]
	if !ok {
		return 0, false
	}
	return h.winRate()
}

func (s *Scanner) rebuildLists(targets []domain.ScannedTarget) {
	trend := make([]domain.ScannedTarget, len(targets))
	copy(trend, targets)
	sort.Slice(trend, func(i, j int) bool { return trend[i].TotalScore > trend[j].TotalScore })

	var derisk []domain.ScannedTarget
	for _, t := range targets {
		if s.isStableQuote(t.QuoteAsset) || t.MomentumScore <= s.cfg.DeRiskDropPct {
			derisk = append(derisk, t)
		}
	}
	sort.Slice(derisk, func(i, j int) bool { return derisk[i].MomentumScore < derisk[j].MomentumScore })

	var peers []domain.ScannedTarget
	for _, t := range targets {
		if s.isPeer(t.BaseAsset) {
			peers = append(peers, t)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].TotalScore > peers[j].TotalScore })

	sweep := make([]domain.ScannedTarget, len(targets))
	copy(sweep, targets)
	sort.Slice(sweep, func(i, j int) bool { return sweep[i].Symbol < sweep[j].Symbol })

	s.lists[domain.DirectionTrend] = trend
	s.lists[domain.DirectionDeRisk] = derisk
	s.lists[domain.DirectionPeerRotation] = peers
	s.lists[domain.DirectionSweep] = sweep
}

// splitSymbol resolves base/quote by longest-suffix match against the quote
// list. "BTCUSDT" -> ("BTC", "USDT").
func (s *Scanner) splitSymbol(symbol string) (base, quote string, ok bool) {
	for _, q := range s.cfg.QuoteAssets {
		if strings.HasSuffix(symbol, q) && len(symbol) > len(q) && len(q) > len(quote) {
			quote = q
		}
	}
	if quote == "" {
		return "", "", false
	}
	return strings.TrimSuffix(symbol, quote), quote, true
}

// volumeScore is log-scaled and saturates at the reference volume.
func (s *Scanner) volumeScore(volume float64) float64 {
	if volume <= 1 {
		return 0
	}
	score := math.Log10(volume) / math.Log10(s.cfg.RefVolume)
	if score > 1 {
		score = 1
	}
	return score
}

// profitScore maps the rolling win-rate so that 50% reads 0 and 100% reads 1.
// Assets with no history score neutral.
func (s *Scanner) profitScore(baseAsset string) float64 {
	h, ok := s.history[baseAsset]
	if !ok {
		return 0
	}
	rate, seen := h.winRate()
	if !seen {
		return 0
	}
	return (rate - 0.5) * 2
}

func (s *Scanner) isStableQuote(quote string) bool {
	for _, q := range s.cfg.StableQuotes {
		if q == quote {
			return true
		}
	}
	return false
}

func (s *Scanner) isPeer(base string) bool {
	for _, p := range s.cfg.PeerAllowList {
		if p == base {
			return true
		}
	}
	return false
}
