package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calebhsu/signalmesh/internal/domain"
)

// PositionStore implements domain.PositionStore on PostgreSQL. Only closed
// positions are journaled; the live set stays in memory with the manager.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, asset, exchange, quantity, entry_price, direction,
	target_profit_pct, stop_loss_pct, trailing_stop_pct, partial_exit_done,
	highest_price, lowest_price, trailing_stop_price, status, opened_at,
	closed_at, exit_price, exit_reason`

func scanPositionRows(rows pgx.Rows) ([]domain.Position, error) {
	var positions []domain.Position
	for rows.Next() {
		var p domain.Position
		if err := rows.Scan(
			&p.ID, &p.Asset, &p.Exchange, &p.Quantity, &p.EntryPrice, &p.Direction,
			&p.TargetProfitPct, &p.StopLossPct, &p.TrailingStopPct, &p.PartialExitDone,
			&p.HighestPrice, &p.LowestPrice, &p.TrailingStopPrice, &p.Status,
			&p.OpenedAt, &p.ClosedAt, &p.ExitPrice, &p.ExitReason,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// Insert journals a closed position. Re-journaling the same ID is a no-op.
func (s *PositionStore) Insert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, asset, exchange, quantity, entry_price, direction,
			target_profit_pct, stop_loss_pct, trailing_stop_pct, partial_exit_done,
			highest_price, lowest_price, trailing_stop_price, status, opened_at,
			closed_at, exit_price, exit_reason
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18
		) ON CONFLICT (id) DO NOTHING`
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Asset, p.Exchange, p.Quantity, p.EntryPrice, p.Direction,
		p.TargetProfitPct, p.StopLossPct, p.TrailingStopPct, p.PartialExitDone,
		p.HighestPrice, p.LowestPrice, p.TrailingStopPrice, p.Status, p.OpenedAt,
		p.ClosedAt, p.ExitPrice, p.ExitReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: positions: insert %s: %w", p.ID, err)
	}
	return nil
}

// ListHistory returns journaled positions newest-first within the optional
// time window.
func (s *PositionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + ` FROM positions WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND opened_at >= $%d", idx)
		args = append(args, *opts.Since)
		idx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND opened_at < $%d", idx)
		args = append(args, *opts.Until)
		idx++
	}
	query += " ORDER BY opened_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", idx)
		args = append(args, opts.Limit)
		idx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", idx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: positions: list history: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: positions: list history: %w", err)
	}
	return positions, nil
}

// ListClosedBefore returns positions closed before the cutoff, oldest first,
// for archival.
func (s *PositionStore) ListClosedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Position, error) {
	query := `SELECT ` + positionSelectCols + `
		FROM positions
		WHERE closed_at IS NOT NULL AND closed_at < $1
		ORDER BY closed_at ASC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: positions: list closed before: %w", err)
	}
	defer rows.Close()

	positions, err := scanPositionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: positions: list closed before: %w", err)
	}
	return positions, nil
}

// DeleteClosedBefore prunes archived positions, returning the row count.
func (s *PositionStore) DeleteClosedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions WHERE closed_at IS NOT NULL AND closed_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: positions: delete closed before: %w", err)
	}
	return tag.RowsAffected(), nil
}
