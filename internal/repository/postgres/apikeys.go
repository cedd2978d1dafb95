package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/nftecnologia/mailgenius/internal/apikey"
)

// APIKeyRepo implements apikey.Repo.
type APIKeyRepo struct{ db *sql.DB }

func NewAPIKeyRepo(db *sql.DB) *APIKeyRepo { return &APIKeyRepo{db: db} }

const apiKeyColumns = `id, owner_id, name, key_hash, hint, permissions, status,
	auto_renew, renewal_period_days, settings, expires_at, created_at, last_used_at,
	revoked_at, COALESCE(revoked_by,''), COALESCE(revoked_reason,'')`

func scanAPIKey(row interface{ Scan(...interface{}) error }) (*apikey.APIKey, error) {
	k := &apikey.APIKey{}
	var settings []byte
	err := row.Scan(&k.ID, &k.OwnerID, &k.Name, &k.KeyHash, &k.Hint,
		pq.Array(&k.Permissions), &k.Status, &k.AutoRenew, &k.RenewalPeriodDays, &settings,
		&k.ExpiresAt, &k.CreatedAt, &k.LastUsedAt, &k.RevokedAt, &k.RevokedBy, &k.RevokedReason)
	if err != nil {
		return nil, err
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &k.Settings); err != nil {
			return nil, fmt.Errorf("decode key settings: %w", err)
		}
	}
	return k, nil
}

func (r *APIKeyRepo) Insert(ctx context.Context, k *apikey.APIKey) error {
	settings, err := json.Marshal(k.Settings)
	if err != nil {
		return fmt.Errorf("encode key settings: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO api_keys
			(id, owner_id, name, key_hash, hint, permissions, status,
			 auto_renew, renewal_period_days, settings, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	`, k.ID, k.OwnerID, k.Name, k.KeyHash, k.Hint, pq.Array(k.Permissions),
		k.Status, k.AutoRenew, k.RenewalPeriodDays, settings, k.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

func (r *APIKeyRepo) GetByHash(ctx context.Context, hash string) (*apikey.APIKey, error) {
	k, err := scanAPIKey(r.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, hash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return k, nil
}

func (r *APIKeyRepo) GetByID(ctx context.Context, id, ownerID string) (*apikey.APIKey, error) {
	k, err := scanAPIKey(r.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

func (r *APIKeyRepo) Update(ctx context.Context, k *apikey.APIKey) error {
	settings, err := json.Marshal(k.Settings)
	if err != nil {
		return fmt.Errorf("encode key settings: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		UPDATE api_keys
		SET name = $2, permissions = $3, status = $4, auto_renew = $5,
		    renewal_period_days = $6, settings = $7, expires_at = $8,
		    last_used_at = $9, revoked_at = $10, revoked_by = NULLIF($11, ''),
		    revoked_reason = NULLIF($12, '')
		WHERE id = $1
	`, k.ID, k.Name, pq.Array(k.Permissions), k.Status, k.AutoRenew,
		k.RenewalPeriodDays, settings, k.ExpiresAt, k.LastUsedAt, k.RevokedAt,
		k.RevokedBy, k.RevokedReason)
	if err != nil {
		return fmt.Errorf("update api key: %w", err)
	}
	return nil
}

func (r *APIKeyRepo) ListByOwner(ctx context.Context, ownerID string, includeRevoked bool) ([]*apikey.APIKey, error) {
	q := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE owner_id = $1`
	if !includeRevoked {
		q += ` AND status != 'revoked'`
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var out []*apikey.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *APIKeyRepo) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*apikey.APIKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE status = 'active' AND expires_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expiring api keys: %w", err)
	}
	defer rows.Close()

	var out []*apikey.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *APIKeyRepo) AppendAudit(ctx context.Context, a *apikey.AuditLog) error {
	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("encode audit metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO api_key_audits (id, key_id, action, user_id, ip_address, user_agent, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`, a.ID, a.KeyID, a.Action, a.UserID, a.IPAddress, a.UserAgent, metadata)
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

func (r *APIKeyRepo) ListAudit(ctx context.Context, keyID string, limit int) ([]*apikey.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, key_id, action, COALESCE(user_id,''), COALESCE(ip_address,''),
		       COALESCE(user_agent,''), metadata, created_at
		FROM api_key_audits
		WHERE key_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, keyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	defer rows.Close()

	var out []*apikey.AuditLog
	for rows.Next() {
		a := &apikey.AuditLog{}
		var metadata []byte
		if err := rows.Scan(&a.ID, &a.KeyID, &a.Action, &a.UserID, &a.IPAddress,
			&a.UserAgent, &metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
