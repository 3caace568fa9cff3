package domain

import "time"

// Doctrine is a named execution strategy with its own concurrency slot limit.
type Doctrine string

const (
	DoctrineTrendFollowing      Doctrine = "trend_following"
	DoctrineCapitalPreservation Doctrine = "capital_preservation"
	DoctrinePeerRotation        Doctrine = "peer_rotation"
	DoctrineExhaustiveSweep     Doctrine = "exhaustive_sweep"
)

// MissionStatus tracks whether a mission is still in flight.
type MissionStatus string

const (
	MissionActive    MissionStatus = "active"
	MissionCompleted MissionStatus = "completed"
)

// MissionProposal is what the dispatcher submits to the risk gate before a
// mission is created.
type MissionProposal struct {
	Doctrine  Doctrine
	Direction Direction
	Exchange  string
	FromAsset string
	ToAsset   string
	Amount    float64
	Score     float64
}

// GateVerdict records the risk gate's decision for a mission. DefaultAllowed
// marks verdicts that were allowed only because the gate was unreachable and
// the fail-open policy applied.
type GateVerdict struct {
	Allowed        bool
	Reason         string
	DefaultAllowed bool
	DecidedAt      time.Time
}

// Mission is one in-flight strategy execution, keyed by (Exchange, FromAsset).
// At most one active mission exists per key.
type Mission struct {
	ID           string
	Doctrine     Doctrine
	Direction    Direction
	Exchange     string
	FromAsset    string
	ToAsset      string
	Amount       float64
	FilledAmount float64
	Rationale    []string
	Verdict      GateVerdict
	Status       MissionStatus
	PnL          float64
	EntryAt      time.Time
	CompletedAt  *time.Time
}

// Key returns the active-mission map key. One active mission per key keeps
// the same asset from being rotated twice concurrently.
func (m Mission) Key() string {
	return m.Exchange + "/" + m.FromAsset
}
