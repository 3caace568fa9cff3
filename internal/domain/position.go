package domain

import "time"

// PositionDirection is the side of an open position.
type PositionDirection string

const (
	PositionLong  PositionDirection = "LONG"
	PositionShort PositionDirection = "SHORT"
)

// PositionStatus tracks the lifecycle of a position.
type PositionStatus string

const (
	PositionOpen            PositionStatus = "open"
	PositionPartiallyExited PositionStatus = "partially_exited"
	PositionClosed          PositionStatus = "closed"
)

// ExitReason names which exit condition fired. The values mirror the fixed
// evaluation order in the lifecycle manager.
type ExitReason string

const (
	ExitTime             ExitReason = "time"
	ExitStopLoss         ExitReason = "stop-loss"
	ExitTrailingStop     ExitReason = "trailing-stop"
	ExitPartialProfit    ExitReason = "partial-profit"
	ExitMomentumReversal ExitReason = "momentum-reversal"
	ExitCoherenceDecay   ExitReason = "coherence-decay"
	ExitTarget           ExitReason = "target"
)

// Position is one open holding managed by the lifecycle manager. Tracking
// fields (highest/lowest seen, trailing stop) are updated on every tick.
type Position struct {
	ID       string
	Asset    string
	Exchange string

	Quantity   float64
	EntryPrice float64
	Direction  PositionDirection

	TargetProfitPct float64 // absolute profit target, percent of entry
	StopLossPct     float64 // hard stop distance, percent of entry
	TrailingStopPct float64 // trailing distance once armed, percent

	PartialExitDone   bool
	HighestPrice      float64
	LowestPrice       float64
	TrailingStopPrice float64 // zero until armed

	Status     PositionStatus
	OpenedAt   time.Time
	ClosedAt   *time.Time
	ExitPrice  float64
	ExitReason ExitReason
}

// UnrealizedPct returns the unrealized move in percent of entry price, signed
// by direction.
func (p Position) UnrealizedPct(currentPrice float64) float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	pct := (currentPrice - p.EntryPrice) / p.EntryPrice * 100
	if p.Direction == PositionShort {
		return -pct
	}
	return pct
}

// ExitDecision is the lifecycle manager's verdict for one tick.
type ExitDecision struct {
	Exit     bool
	Reason   ExitReason
	Fraction float64 // fraction of the position to exit, 1.0 for full
}
