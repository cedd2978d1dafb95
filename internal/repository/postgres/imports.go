package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nftecnologia/mailgenius/internal/domain"
)

// ImportRepo implements the import worker's accounting store.
type ImportRepo struct{ db *sql.DB }

func NewImportRepo(db *sql.DB) *ImportRepo { return &ImportRepo{db: db} }

func (r *ImportRepo) CreateImport(ctx context.Context, imp *domain.Import) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO imports (id, owner_id, total_records, total_batches, status, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, imp.ID, imp.OwnerID, imp.TotalRecords, imp.TotalBatches, imp.Status)
	if err != nil {
		return fmt.Errorf("create import: %w", err)
	}
	return nil
}

func (r *ImportRepo) GetImport(ctx context.Context, id string) (*domain.Import, error) {
	imp := &domain.Import{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, total_records, total_batches, status, created_at, finished_at
		FROM imports
		WHERE id = $1
	`, id).Scan(&imp.ID, &imp.OwnerID, &imp.TotalRecords, &imp.TotalBatches,
		&imp.Status, &imp.CreatedAt, &imp.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get import: %w", err)
	}
	return imp, nil
}

func (r *ImportRepo) UpdateImportStatus(ctx context.Context, id, status string, finishedAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE imports SET status = $2, finished_at = $3 WHERE id = $1
	`, id, status, finishedAt)
	if err != nil {
		return fmt.Errorf("update import status: %w", err)
	}
	return nil
}

func (r *ImportRepo) UpsertBatch(ctx context.Context, b *domain.ImportBatch) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO import_batches (import_id, batch_id, batch_index, processed, failed, errors, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (import_id, batch_index)
		DO UPDATE SET batch_id = $2, processed = $4, failed = $5, errors = $6, updated_at = NOW()
	`, b.ImportID, b.BatchID, b.BatchIndex, b.Processed, b.Failed, pq.Array(b.Errors))
	if err != nil {
		return fmt.Errorf("upsert import batch: %w", err)
	}
	return nil
}

func (r *ImportRepo) CountBatches(ctx context.Context, importID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM import_batches WHERE import_id = $1`, importID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count import batches: %w", err)
	}
	return n, nil
}
