package domain

import (
	"context"
	"time"
)

// ListOpts carries pagination and time filtering for history queries.
type ListOpts struct {
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// MissionStore persists dispatched missions and their outcomes. Persistence
// is best-effort for the trading loop: store failures are logged, never
// allowed to stall dispatch.
type MissionStore interface {
	Create(ctx context.Context, m Mission) error
	Complete(ctx context.Context, id string, filledAmount, pnl float64, completedAt time.Time) error
	GetByID(ctx context.Context, id string) (Mission, error)
	ListHistory(ctx context.Context, opts ListOpts) ([]Mission, error)
	ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Mission, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// PositionStore journals closed positions for later analysis and archival.
type PositionStore interface {
	Insert(ctx context.Context, p Position) error
	ListHistory(ctx context.Context, opts ListOpts) ([]Position, error)
	ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Position, error)
	DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// BlobWriter uploads archive objects to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
