package domain

import "time"

// SignalCategory is the directional opinion a provider holds on a symbol.
type SignalCategory string

const (
	SignalStrongBuy  SignalCategory = "STRONG_BUY"
	SignalBuy        SignalCategory = "BUY"
	SignalNeutral    SignalCategory = "NEUTRAL"
	SignalSell       SignalCategory = "SELL"
	SignalStrongSell SignalCategory = "STRONG_SELL"
)

// DirectionalScore maps a category onto the [-2, +2] contribution scale used
// by the aggregator. Unknown categories score 0.
func (c SignalCategory) DirectionalScore() float64 {
	switch c {
	case SignalStrongBuy:
		return 2
	case SignalBuy:
		return 1
	case SignalSell:
		return -1
	case SignalStrongSell:
		return -2
	default:
		return 0
	}
}

// SignalReading is a single provider's opinion on one symbol. Readings are
// created fresh on every aggregation call and never mutated.
type SignalReading struct {
	Provider   string
	Symbol     string
	Category   SignalCategory
	Confidence float64 // [0, 1]
	RawScore   float64
	Rationale  string
	Timestamp  time.Time
}

// UnifiedSignal is the combined recommendation for converting FromAsset into
// ToAsset. Immutable once produced; one instance per aggregation call.
type UnifiedSignal struct {
	FromAsset       string
	ToAsset         string
	Readings        []SignalReading
	Score           float64 // [0, 1]
	Confidence      float64 // participating / registered providers
	Recommendation  SignalCategory
	PathwayStrength float64 // mean learned weight across participating providers
	Participants    []string
	CreatedAt       time.Time
}
