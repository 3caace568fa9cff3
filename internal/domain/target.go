package domain

// Direction identifies which kind of target list a scan consumer wants.
type Direction string

const (
	// DirectionTrend ranks targets by positive momentum.
	DirectionTrend Direction = "trend"
	// DirectionDeRisk selects stable-quote or strongly falling symbols for
	// capital preservation.
	DirectionDeRisk Direction = "derisk"
	// DirectionPeerRotation restricts targets to a large-cap allow-list.
	DirectionPeerRotation Direction = "peer_rotation"
	// DirectionSweep walks the whole scored universe in alphabetical order.
	DirectionSweep Direction = "sweep"
)

// ScannedTarget is one symbol's score card from a scan cycle.
type ScannedTarget struct {
	Symbol     string
	Exchange   string
	BaseAsset  string
	QuoteAsset string

	MomentumScore float64
	VolumeScore   float64
	ProfitScore   float64
	TotalScore    float64
	Weight        float64
}
