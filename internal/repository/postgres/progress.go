package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nftecnologia/mailgenius/internal/progress"
)

// ProgressRepo implements progress.Repo.
type ProgressRepo struct{ db *sql.DB }

func NewProgressRepo(db *sql.DB) *ProgressRepo { return &ProgressRepo{db: db} }

func (r *ProgressRepo) Save(ctx context.Context, rec *progress.Record) error {
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("encode progress metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO progress_records
			(id, kind, owner_id, status, progress, total, processed, failed,
			 message, started_at, ended_at, metadata, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id)
		DO UPDATE SET status = $4, progress = $5, total = $6, processed = $7,
		              failed = $8, message = $9, started_at = $10, ended_at = $11,
		              metadata = $12, errors = $13
	`, rec.ID, rec.Kind, rec.OwnerID, rec.Status, rec.Progress, rec.Total,
		rec.Processed, rec.Failed, rec.Message, rec.StartedAt, rec.EndedAt,
		metadata, pq.Array(rec.Errors))
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

func (r *ProgressRepo) Get(ctx context.Context, id string) (*progress.Record, error) {
	rec := &progress.Record{}
	var metadata []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, kind, owner_id, status, progress, total, processed, failed,
		       COALESCE(message,''), started_at, ended_at, metadata, errors
		FROM progress_records
		WHERE id = $1
	`, id).Scan(&rec.ID, &rec.Kind, &rec.OwnerID, &rec.Status, &rec.Progress,
		&rec.Total, &rec.Processed, &rec.Failed, &rec.Message,
		&rec.StartedAt, &rec.EndedAt, &metadata, pq.Array(&rec.Errors))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode progress metadata: %w", err)
		}
	}
	return rec, nil
}

func (r *ProgressRepo) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*progress.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, kind, owner_id, status, progress, total, processed, failed,
		       COALESCE(message,''), started_at, ended_at
		FROM progress_records
		WHERE owner_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	var out []*progress.Record
	for rows.Next() {
		rec := &progress.Record{}
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.OwnerID, &rec.Status, &rec.Progress,
			&rec.Total, &rec.Processed, &rec.Failed, &rec.Message,
			&rec.StartedAt, &rec.EndedAt); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *ProgressRepo) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM progress_records WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	return nil
}

func (r *ProgressRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM progress_records WHERE started_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup progress: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *ProgressRepo) CountByStatus(ctx context.Context, ownerID string) (progress.StatusCounts, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM progress_records
		WHERE owner_id = $1
		GROUP BY status
	`, ownerID)
	if err != nil {
		return progress.StatusCounts{}, fmt.Errorf("count progress: %w", err)
	}
	defer rows.Close()

	var c progress.StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return progress.StatusCounts{}, fmt.Errorf("scan progress count: %w", err)
		}
		c.Total += n
		switch progress.Status(status) {
		case progress.StatusPending:
			c.Pending = n
		case progress.StatusProcessing:
			c.Processing = n
		case progress.StatusCompleted:
			c.Completed = n
		case progress.StatusFailed:
			c.Failed = n
		case progress.StatusCancelled:
			c.Cancelled = n
		}
	}
	return c, rows.Err()
}
