package signal

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/calebhsu/signalmesh/internal/domain"
)

// The built-in providers score purely from the market context the cache
// supplies. Any external scorer satisfying Provider can be registered next to
// them; the aggregator treats all providers as black boxes.

// MomentumProvider categorizes by short-window momentum.
type MomentumProvider struct {
	// StrongPct and WeakPct are the momentum magnitudes (percent) at which a
	// reading becomes STRONG_* and */NEUTRAL respectively.
	StrongPct float64
	WeakPct   float64
}

// NewMomentumProvider returns a provider with the tuned default thresholds.
func NewMomentumProvider() *MomentumProvider {
	return &MomentumProvider{StrongPct: 1.5, WeakPct: 0.3}
}

func (p *MomentumProvider) Name() string { return "momentum" }

func (p *MomentumProvider) Score(_ context.Context, symbol string, mctx domain.MarketContext) (domain.SignalReading, error) {
	m := mctx.Momentum
	var cat domain.SignalCategory
	switch {
	case m >= p.StrongPct:
		cat = domain.SignalStrongBuy
	case m >= p.WeakPct:
		cat = domain.SignalBuy
	case m <= -p.StrongPct:
		cat = domain.SignalStrongSell
	case m <= -p.WeakPct:
		cat = domain.SignalSell
	default:
		cat = domain.SignalNeutral
	}
	conf := clamp(math.Abs(m)/p.StrongPct, 0.1, 1)
	return domain.SignalReading{
		Provider:   p.Name(),
		Symbol:     symbol,
		Category:   cat,
		Confidence: conf,
		RawScore:   m,
		Rationale:  fmt.Sprintf("1m momentum %.2f%%", m),
		Timestamp:  time.Now().UTC(),
	}, nil
}

// VolumeTrendProvider scores the 24h direction, weighting confidence by
// traded volume: a move on thin volume is a weak opinion.
type VolumeTrendProvider struct {
	// RefVolume is the quote volume at which confidence saturates.
	RefVolume float64
}

// NewVolumeTrendProvider returns a provider with the tuned default reference
// volume.
func NewVolumeTrendProvider() *VolumeTrendProvider {
	return &VolumeTrendProvider{RefVolume: 50_000_000}
}

func (p *VolumeTrendProvider) Name() string { return "volume_trend" }

func (p *VolumeTrendProvider) Score(_ context.Context, symbol string, mctx domain.MarketContext) (domain.SignalReading, error) {
	change := mctx.Snapshot.ChangePct24h
	var cat domain.SignalCategory
	switch {
	case change >= 5:
		cat = domain.SignalStrongBuy
	case change >= 1:
		cat = domain.SignalBuy
	case change <= -5:
		cat = domain.SignalStrongSell
	case change <= -1:
		cat = domain.SignalSell
	default:
		cat = domain.SignalNeutral
	}
	volConf := 0.0
	if mctx.Snapshot.Volume > 0 && p.RefVolume > 0 {
		volConf = clamp(math.Log10(mctx.Snapshot.Volume)/math.Log10(p.RefVolume), 0, 1)
	}
	return domain.SignalReading{
		Provider:   p.Name(),
		Symbol:     symbol,
		Category:   cat,
		Confidence: clamp(volConf, 0.1, 1),
		RawScore:   change,
		Rationale:  fmt.Sprintf("24h change %.2f%% on %.0f volume", change, mctx.Snapshot.Volume),
		Timestamp:  time.Now().UTC(),
	}, nil
}

// SpreadProvider reads the bid/ask microstructure: price trading near the ask
// leans bid pressure (buy), near the bid leans sell; a wide spread caps the
// confidence of any opinion.
type SpreadProvider struct {
	// MaxSpreadPct is the spread (percent of mid) past which confidence is
	// floored.
	MaxSpreadPct float64
}

// NewSpreadProvider returns a provider with the tuned default spread ceiling.
func NewSpreadProvider() *SpreadProvider {
	return &SpreadProvider{MaxSpreadPct: 0.5}
}

func (p *SpreadProvider) Name() string { return "spread" }

func (p *SpreadProvider) Score(_ context.Context, symbol string, mctx domain.MarketContext) (domain.SignalReading, error) {
	snap := mctx.Snapshot
	if snap.Bid <= 0 || snap.Ask <= 0 || snap.Ask <= snap.Bid {
		return domain.SignalReading{
			Provider:   p.Name(),
			Symbol:     symbol,
			Category:   domain.SignalNeutral,
			Confidence: 0.1,
			Rationale:  "no usable book",
			Timestamp:  time.Now().UTC(),
		}, nil
	}

	mid := (snap.Bid + snap.Ask) / 2
	spreadPct := (snap.Ask - snap.Bid) / mid * 100
	// Position of the last price within the spread: 0 at bid, 1 at ask.
	pos := clamp((snap.Price-snap.Bid)/(snap.Ask-snap.Bid), 0, 1)

	var cat domain.SignalCategory
	switch {
	case pos >= 0.8:
		cat = domain.SignalBuy
	case pos <= 0.2:
		cat = domain.SignalSell
	default:
		cat = domain.SignalNeutral
	}
	conf := clamp(1-spreadPct/p.MaxSpreadPct, 0.1, 1)
	return domain.SignalReading{
		Provider:   p.Name(),
		Symbol:     symbol,
		Category:   cat,
		Confidence: conf,
		RawScore:   pos,
		Rationale:  fmt.Sprintf("price at %.0f%% of spread, spread %.3f%%", pos*100, spreadPct),
		Timestamp:  time.Now().UTC(),
	}, nil
}
