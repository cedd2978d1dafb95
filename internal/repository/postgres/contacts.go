package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"

	"github.com/nftecnologia/mailgenius/internal/domain"
)

// ContactRepo implements the import worker's contact store.
type ContactRepo struct{ db *sql.DB }

func NewContactRepo(db *sql.DB) *ContactRepo { return &ContactRepo{db: db} }

func (r *ContactRepo) FindByEmail(ctx context.Context, ownerID, email string) (*domain.Contact, error) {
	c := &domain.Contact{}
	var metadata []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, email, COALESCE(name,''), COALESCE(phone,''),
		       tags, metadata, source, status, created_at, updated_at
		FROM contacts
		WHERE owner_id = $1 AND email = $2
	`, ownerID, email).Scan(
		&c.ID, &c.OwnerID, &c.Email, &c.Name, &c.Phone,
		pq.Array(&c.Tags), &metadata, &c.Source, &c.Status, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find contact: %w", err)
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode contact metadata: %w", err)
		}
	}
	return c, nil
}

func (r *ContactRepo) Insert(ctx context.Context, c *domain.Contact) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("encode contact metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO contacts
			(id, owner_id, email, name, phone, tags, metadata, source, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
	`, c.ID, c.OwnerID, c.Email, c.Name, c.Phone, pq.Array(c.Tags), metadata, c.Source, c.Status)
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

func (r *ContactRepo) Update(ctx context.Context, c *domain.Contact) error {
	metadata, err := json.Marshal(c.Metadata)
	if err != nil {
		return fmt.Errorf("encode contact metadata: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE contacts
		SET name = $3, phone = $4, tags = $5, metadata = $6, status = $7, updated_at = NOW()
		WHERE owner_id = $1 AND email = $2
	`, c.OwnerID, c.Email, c.Name, c.Phone, pq.Array(c.Tags), metadata, c.Status)
	if err != nil {
		return fmt.Errorf("update contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
