package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/calebhsu/signalmesh/internal/domain"
)

const archiveBatchSize = 1000

// Archiver moves cold records out of postgres into JSONL objects. Records are
// deleted from the primary store only after their archive object uploaded
// successfully.
type Archiver struct {
	writer    domain.BlobWriter
	missions  domain.MissionStore
	positions domain.PositionStore
	logger    *slog.Logger
}

// NewArchiver creates an Archiver over the given stores.
func NewArchiver(writer domain.BlobWriter, missions domain.MissionStore, positions domain.PositionStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		missions:  missions,
		positions: positions,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveMissions uploads completed missions older than the cutoff to
// archive/missions/YYYY-MM.jsonl and prunes them from postgres. It returns
// the number of archived missions.
func (a *Archiver) ArchiveMissions(ctx context.Context, cutoff time.Time) (int64, error) {
	missions, err := a.missions.ListCompletedBefore(ctx, cutoff, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("archiver: list missions: %w", err)
	}
	if len(missions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(missions)
	if err != nil {
		return 0, fmt.Errorf("archiver: marshal missions: %w", err)
	}
	path := archivePath("missions", cutoff)
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("archiver: upload missions: %w", err)
	}

	pruned, err := a.missions.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		return int64(len(missions)), fmt.Errorf("archiver: prune missions: %w", err)
	}
	a.logger.Info("missions archived",
		slog.String("path", path),
		slog.Int("archived", len(missions)),
		slog.Int64("pruned", pruned),
	)
	return int64(len(missions)), nil
}

// ArchivePositions uploads positions closed before the cutoff to
// archive/positions/YYYY-MM.jsonl and prunes them from postgres.
func (a *Archiver) ArchivePositions(ctx context.Context, cutoff time.Time) (int64, error) {
	positions, err := a.positions.ListClosedBefore(ctx, cutoff, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("archiver: list positions: %w", err)
	}
	if len(positions) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(positions)
	if err != nil {
		return 0, fmt.Errorf("archiver: marshal positions: %w", err)
	}
	path := archivePath("positions", cutoff)
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("archiver: upload positions: %w", err)
	}

	pruned, err := a.positions.DeleteClosedBefore(ctx, cutoff)
	if err != nil {
		return int64(len(positions)), fmt.Errorf("archiver: prune positions: %w", err)
	}
	a.logger.Info("positions archived",
		slog.String("path", path),
		slog.Int("archived", len(positions)),
		slog.Int64("pruned", pruned),
	)
	return int64(len(positions)), nil
}

// Run archives both record kinds once per interval until the context ends.
// Archival failures are logged and retried next cycle; the trading loops
// never depend on this goroutine.
func (a *Archiver) Run(ctx context.Context, interval time.Duration, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-retention)
			if _, err := a.ArchiveMissions(ctx, cutoff); err != nil {
				a.logger.WarnContext(ctx, "mission archive cycle failed", slog.String("error", err.Error()))
			}
			if _, err := a.ArchivePositions(ctx, cutoff); err != nil {
				a.logger.WarnContext(ctx, "position archive cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// marshalJSONL encodes a slice as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// archivePath groups archive objects by the cutoff month.
func archivePath(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, cutoff.UTC().Format("2006-01"))
}
