package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/calebhsu/signalmesh/internal/domain"
)

// MissionStore implements domain.MissionStore on PostgreSQL.
type MissionStore struct {
	pool *pgxpool.Pool
}

var _ domain.MissionStore = (*MissionStore)(nil)

// NewMissionStore creates a MissionStore backed by the given pool.
func NewMissionStore(pool *pgxpool.Pool) *MissionStore {
	return &MissionStore{pool: pool}
}

const missionSelectCols = `id, doctrine, direction, exchange, from_asset, to_asset,
	amount, filled_amount, rationale, gate_allowed, gate_reason, gate_defaulted,
	gate_decided_at, status, pnl, entry_at, completed_at`

func scanMission(row pgx.Row) (domain.Mission, error) {
	var (
		m         domain.Mission
		rationale []byte
		decidedAt *time.Time
	)
	err := row.Scan(
		&m.ID, &m.Doctrine, &m.Direction, &m.Exchange, &m.FromAsset, &m.ToAsset,
		&m.Amount, &m.FilledAmount, &rationale,
		&m.Verdict.Allowed, &m.Verdict.Reason, &m.Verdict.DefaultAllowed,
		&decidedAt, &m.Status, &m.PnL, &m.EntryAt, &m.CompletedAt,
	)
	if err != nil {
		return domain.Mission{}, err
	}
	if decidedAt != nil {
		m.Verdict.DecidedAt = *decidedAt
	}
	if len(rationale) > 0 {
		if err := json.Unmarshal(rationale, &m.Rationale); err != nil {
			return domain.Mission{}, fmt.Errorf("decode rationale: %w", err)
		}
	}
	return m, nil
}

func scanMissionRows(rows pgx.Rows) ([]domain.Mission, error) {
	var missions []domain.Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, err
		}
		missions = append(missions, m)
	}
	return missions, rows.Err()
}

// Create inserts a freshly dispatched mission.
func (s *MissionStore) Create(ctx context.Context, m domain.Mission) error {
	rationale, err := json.Marshal(m.Rationale)
	if err != nil {
		return fmt.Errorf("postgres: missions: encode rationale: %w", err)
	}

	var decidedAt *time.Time
	if !m.Verdict.DecidedAt.IsZero() {
		decidedAt = &m.Verdict.DecidedAt
	}

	const query = `
		INSERT INTO missions (
			id, doctrine, direction, exchange, from_asset, to_asset,
			amount, filled_amount, rationale, gate_allowed, gate_reason,
			gate_defaulted, gate_decided_at, status, pnl, entry_at, completed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17
		)`
	_, err = s.pool.Exec(ctx, query,
		m.ID, m.Doctrine, m.Direction, m.Exchange, m.FromAsset, m.ToAsset,
		m.Amount, m.FilledAmount, rationale,
		m.Verdict.Allowed, m.Verdict.Reason, m.Verdict.DefaultAllowed,
		decidedAt, m.Status, m.PnL, m.EntryAt, m.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: missions: insert %s: %w", m.ID, err)
	}
	return nil
}

// Complete marks a mission completed with its realized outcome.
func (s *MissionStore) Complete(ctx context.Context, id string, filledAmount, pnl float64, completedAt time.Time) error {
	const query = `
		UPDATE missions
		SET status = $2, filled_amount = $3, pnl = $4, completed_at = $5
		WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, domain.MissionCompleted, filledAmount, pnl, completedAt)
	if err != nil {
		return fmt.Errorf("postgres: missions: complete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: missions: complete %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches one mission.
func (s *MissionStore) GetByID(ctx context.Context, id string) (domain.Mission, error) {
	query := `SELECT ` + missionSelectCols + ` FROM missions WHERE id = $1`
	m, err := scanMission(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Mission{}, fmt.Errorf("postgres: missions: get %s: %w", id, domain.ErrNotFound)
		}
		return domain.Mission{}, fmt.Errorf("postgres: missions: get %s: %w", id, err)
	}
	return m, nil
}

// ListHistory returns missions newest-first within the optional time window.
func (s *MissionStore) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Mission, error) {
	query := `SELECT ` + missionSelectCols + ` FROM missions WHERE 1=1`
	args := []interface{}{}
	idx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND entry_at >= $%d", idx)
		args = append(args, *opts.Since)
		idx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND entry_at < $%d", idx)
		args = append(args, *opts.Until)
		idx++
	}
	query += " ORDER BY entry_at DESC"
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
		return nil, fmt.Errorf("postgres: missions: list history: %w", err)
	}
	defer rows.Close()

	missions, err := scanMissionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: missions: list history: %w", err)
	}
	return missions, nil
}

// ListCompletedBefore returns completed missions older than the cutoff,
// oldest first, for archival.
func (s *MissionStore) ListCompletedBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Mission, error) {
	query := `SELECT ` + missionSelectCols + `
		FROM missions
		WHERE status = $1 AND completed_at < $2
		ORDER BY completed_at ASC
		LIMIT $3`
	rows, err := s.pool.Query(ctx, query, domain.MissionCompleted, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: missions: list completed before: %w", err)
	}
	defer rows.Close()

	missions, err := scanMissionRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: missions: list completed before: %w", err)
	}
	return missions, nil
}

// DeleteCompletedBefore prunes archived missions, returning the row count.
func (s *MissionStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM missions WHERE status = $1 AND completed_at < $2`,
		domain.MissionCompleted, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: missions: delete completed before: %w", err)
	}
	return tag.RowsAffected(), nil
}
