package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nftecnologia/mailgenius/internal/domain"
)

// SendRepo implements the email-send worker's accounting store.
type SendRepo struct{ db *sql.DB }

func NewSendRepo(db *sql.DB) *SendRepo { return &SendRepo{db: db} }

func (r *SendRepo) CreateSend(ctx context.Context, s *domain.Send) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sends (id, campaign_id, owner_id, total_recipients, total_batches, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, s.ID, s.CampaignID, s.OwnerID, s.TotalRecipients, s.TotalBatches, s.Status)
	if err != nil {
		return fmt.Errorf("create send: %w", err)
	}
	return nil
}

func (r *SendRepo) GetSend(ctx context.Context, id string) (*domain.Send, error) {
	s := &domain.Send{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, owner_id, total_recipients, total_batches, status, created_at, finished_at
		FROM sends
		WHERE id = $1
	`, id).Scan(&s.ID, &s.CampaignID, &s.OwnerID, &s.TotalRecipients, &s.TotalBatches,
		&s.Status, &s.CreatedAt, &s.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get send: %w", err)
	}
	return s, nil
}

func (r *SendRepo) UpdateSendStatus(ctx context.Context, id, status string, finishedAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sends SET status = $2, finished_at = $3 WHERE id = $1
	`, id, status, finishedAt)
	if err != nil {
		return fmt.Errorf("update send status: %w", err)
	}
	return nil
}

func (r *SendRepo) UpsertBatch(ctx context.Context, b *domain.SendBatch) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO send_batches (send_id, batch_id, batch_index, sent, failed, failures, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (send_id, batch_index)
		DO UPDATE SET batch_id = $2, sent = $4, failed = $5, failures = $6, updated_at = NOW()
	`, b.SendID, b.BatchID, b.BatchIndex, b.Sent, b.Failed, pq.Array(b.Failures))
	if err != nil {
		return fmt.Errorf("upsert send batch: %w", err)
	}
	return nil
}

func (r *SendRepo) CountBatches(ctx context.Context, sendID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM send_batches WHERE send_id = $1`, sendID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count send batches: %w", err)
	}
	return n, nil
}

func (r *SendRepo) InsertDelivery(ctx context.Context, d *domain.Delivery) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deliveries
			(id, send_id, campaign_id, owner_id, recipient_id, email, status, message_id, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
	`, d.ID, d.SendID, d.CampaignID, d.OwnerID, d.RecipientID, d.Email, d.Status, d.MessageID, d.Error)
	if err != nil {
		return fmt.Errorf("insert delivery: %w", err)
	}
	return nil
}
