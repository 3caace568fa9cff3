// Package execution is the order-placement boundary. The dispatcher hands a
// mission proposal to a Backend and records the resulting fill; everything
// beyond that call is the venue's problem.
package execution

import (
	"context"
	"time"

	"github.com/calebhsu/signalmesh/internal/domain"
)

// Fill reports what a conversion actually moved.
type Fill struct {
	Amount float64
	Price  float64
	At     time.Time
}

// Backend places conversions on a venue.
type Backend interface {
	Name() string
	PlaceConversion(ctx context.Context, p domain.MissionProposal) (Fill, error)
}
