package signal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calebhsu/signalmesh/internal/domain"
	"github.com/calebhsu/signalmesh/internal/metrics"
)

// Bands holds the unified-score cut points for recommendation categories.
// These are empirically tuned values, not fixed truths; they come from
// configuration.
type Bands struct {
	StrongBuy float64 // score >= StrongBuy -> STRONG_BUY
	Buy       float64
	Neutral   float64
	Sell      float64 // score >= Sell -> SELL, below -> STRONG_SELL
}

// DefaultBands mirrors the tuned defaults.
func DefaultBands() Bands {
	return Bands{StrongBuy: 0.75, Buy: 0.60, Neutral: 0.40, Sell: 0.25}
}

// Categorize maps a unified score onto its recommendation band.
func (b Bands) Categorize(score float64) domain.SignalCategory {
	switch {
	case score >= b.StrongBuy:
		return domain.SignalStrongBuy
	case score >= b.Buy:
		return domain.SignalBuy
	case score >= b.Neutral:
		return domain.SignalNeutral
	case score >= b.Sell:
		return domain.SignalSell
	default:
		return domain.SignalStrongSell
	}
}

// AggregatorConfig holds the tunables for signal aggregation.
type AggregatorConfig struct {
	// ProviderWeights are the fixed base weights per provider name. They are
	// normalized to sum to 1.0 at construction; providers missing from the
	// map share the remaining weight equally.
	ProviderWeights map[string]float64
	Bands           Bands
	ProviderTimeout time.Duration
	Steps           ReinforceSteps
}

// DefaultAggregatorConfig returns the tuned defaults.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		Bands:           DefaultBands(),
		ProviderTimeout: 2 * time.Second,
		Steps:           ReinforceSteps{GainRate: 0.5, GainCap: 0.1, LossRate: 0.25, LossCap: 0.05},
	}
}

// Aggregator queries every registered provider for an asset pair and combines
// their readings into one UnifiedSignal. Provider reliability is learned:
// RecordOutcome reinforces the weights of the providers that participated in
// the most recent signal for the pair.
type Aggregator struct {
	providers []Provider
	fixed     map[string]float64 // normalized base weights
	learned   *Weights
	source    ContextSource
	bands     Bands
	timeout   time.Duration
	logger    *slog.Logger

	mu   sync.Mutex
	last map[string]domain.UnifiedSignal // keyed by "from/to"
}

// NewAggregator constructs an Aggregator over the given providers. It returns
// domain.ErrNoProviders when the provider list is empty; that is a startup
// configuration error and the only fatal condition in this package.
func NewAggregator(providers []Provider, source ContextSource, cfg AggregatorConfig, logger *slog.Logger) (*Aggregator, error) {
	if len(providers) == 0 {
		return nil, domain.ErrNoProviders
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 2 * time.Second
	}
	return &Aggregator{
		providers: providers,
		fixed:     normalizeWeights(providers, cfg.ProviderWeights),
		learned:   NewWeights(cfg.Steps),
		source:    source,
		bands:     cfg.Bands,
		timeout:   cfg.ProviderTimeout,
		logger:    logger.With(slog.String("component", "signal_aggregator")),
		last:      make(map[string]domain.UnifiedSignal),
	}, nil
}

// normalizeWeights scales the configured base weights to sum to 1.0,
// distributing the unassigned remainder equally over unlisted providers.
func normalizeWeights(providers []Provider, configured map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(providers))
	assigned := 0.0
	var unlisted []string
	for _, p := range providers {
		if w, ok := configured[p.Name()]; ok && w > 0 {
			out[p.Name()] = w
			assigned += w
		} else {
			unlisted = append(unlisted, p.Name())
		}
	}
	if len(unlisted) > 0 {
		share := 1.0
		if assigned < 1.0 {
			share = (1.0 - assigned) / float64(len(unlisted))
		} else {
			share = assigned / float64(len(providers)) // degenerate config: spread evenly
		}
		for _, name := range unlisted {
			out[name] = share
			assigned += share
		}
	}
	// Final normalization so the weights sum to exactly 1.0.
	for name, w := range out {
		out[name] = w / assigned
	}
	return out
}

// LearnedWeight exposes the current learned weight for a provider.
func (a *Aggregator) LearnedWeight(provider string) float64 {
	return a.learned.Get(provider)
}

// Aggregate scores the conversion fromSymbol -> toSymbol on one exchange.
// The source symbol is scored inverted (a SELL on what we hold is favorable);
// the target symbol direct. Providers that error or time out are skipped and
// excluded from the participant list. Aggregate fails only when market
// context is unavailable for either leg (stale or unknown symbols).
func (a *Aggregator) Aggregate(ctx context.Context, exchange, fromSymbol, toSymbol string) (domain.UnifiedSignal, error) {
	fromCtx, ok := a.source.Context(exchange, fromSymbol)
	if !ok {
		return domain.UnifiedSignal{}, fmt.Errorf("aggregate %s->%s: %s: %w", fromSymbol, toSymbol, fromSymbol, domain.ErrStaleTicker)
	}
	toCtx, ok := a.source.Context(exchange, toSymbol)
	if !ok {
		return domain.UnifiedSignal{}, fmt.Errorf("aggregate %s->%s: %s: %w", fromSymbol, toSymbol, toSymbol, domain.ErrStaleTicker)
	}

	sig := domain.UnifiedSignal{
		FromAsset: fromSymbol,
		ToAsset:   toSymbol,
		CreatedAt: time.Now().UTC(),
	}

	sum := 0.0
	for _, p := range a.providers {
		fromReading, toReading, err := a.scorePair(ctx, p, fromSymbol, fromCtx, toSymbol, toCtx)
		if err != nil {
			metrics.ProviderErrors.WithLabelValues(p.Name()).Inc()
			a.logger.WarnContext(ctx, "provider skipped this round",
				slog.String("provider", p.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		// Each leg contributes in [-2, +2]; averaging the direct target score
		// and the inverted source score keeps the provider total in range.
		toScore := toReading.Category.DirectionalScore() * toReading.Confidence
		fromScore := fromReading.Category.DirectionalScore() * fromReading.Confidence
		contribution := (toScore - fromScore) / 2

		sum += a.fixed[p.Name()] * a.learned.Get(p.Name()) * contribution
		sig.Readings = append(sig.Readings, fromReading, toReading)
		sig.Participants = append(sig.Participants, p.Name())
	}

	sig.Score = clamp((sum+2)/4, 0, 1)
	sig.Confidence = float64(len(sig.Participants)) / float64(len(a.providers))
	sig.Recommendation = a.bands.Categorize(sig.Score)
	sig.PathwayStrength = a.learned.Mean(sig.Participants)

	a.mu.Lock()
	a.last[sig.FromAsset+"/"+sig.ToAsset] = sig
	a.mu.Unlock()

	metrics.Aggregations.Inc()
	return sig, nil
}

// scorePair calls one provider for both legs under a shared timeout.
func (a *Aggregator) scorePair(
	ctx context.Context, p Provider,
	fromSymbol string, fromCtx domain.MarketContext,
	toSymbol string, toCtx domain.MarketContext,
) (domain.SignalReading, domain.SignalReading, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	fromReading, err := p.Score(callCtx, fromSymbol, fromCtx)
	if err != nil {
		return domain.SignalReading{}, domain.SignalReading{}, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	toReading, err := p.Score(callCtx, toSymbol, toCtx)
	if err != nil {
		return domain.SignalReading{}, domain.SignalReading{}, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	return fromReading, toReading, nil
}

// RecordOutcome reinforces the learned weight of every provider that
// participated in the most recent unified signal for the pair. Profit is the
// realized fractional pnl of the conversion.
func (a *Aggregator) RecordOutcome(fromAsset, toAsset string, profit float64) {
	a.mu.Lock()
	sig, ok := a.last[fromAsset+"/"+toAsset]
	a.mu.Unlock()
	if !ok {
		return
	}
	for _, name := range sig.Participants {
		updated := a.learned.Reinforce(name, profit)
		a.logger.Debug("provider weight reinforced",
			slog.String("provider", name),
			slog.Float64("profit", profit),
			slog.Float64("weight", updated),
		)
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
