package apikey

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nftecnologia/mailgenius/internal/domain"
	"github.com/nftecnologia/mailgenius/internal/pkg/logger"
)

// DefaultExpirationDays applies when create omits a validity.
const DefaultExpirationDays = 90

// RequestContext carries caller metadata into validation audits.
type RequestContext struct {
	IPAddress string
	UserAgent string
}

// Identity is the successful validation result.
type Identity struct {
	KeyID       string
	OwnerID     string
	Permissions []string
}

// CreateResult returns the plaintext exactly once.
type CreateResult struct {
	ID           string `json:"id"`
	PlaintextKey string `json:"plaintext_key"`
}

// OwnerStats is the per-owner key census.
type OwnerStats struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	Expired      int `json:"expired"`
	Revoked      int `json:"revoked"`
	ExpiringSoon int `json:"expiring_soon"`
}

// Service implements the key lifecycle over a Repo.
type Service struct {
	repo Repo
}

func NewService(repo Repo) *Service {
	return &Service{repo: repo}
}

// Create issues a key. Only the SHA-256 digest is persisted; the audit row
// carries metadata without the plaintext.
func (s *Service) Create(ctx context.Context, ownerID, name string, permissions []string, expirationDays int, autoRenew bool) (*CreateResult, error) {
	if ownerID == "" || name == "" {
		return nil, domain.E(domain.KindValidation, "KEY_INVALID", "ownerId and name are required")
	}
	if expirationDays <= 0 {
		expirationDays = DefaultExpirationDays
	}

	plaintext, err := generateKey()
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, "KEY_GENERATE", "key generation failed", err)
	}

	now := time.Now()
	key := &APIKey{
		ID:                uuid.New().String(),
		OwnerID:           ownerID,
		Name:              name,
		KeyHash:           HashKey(plaintext),
		Hint:              hint(plaintext),
		Permissions:       permissions,
		Status:            StatusActive,
		AutoRenew:         autoRenew,
		RenewalPeriodDays: expirationDays,
		ExpiresAt:         now.AddDate(0, 0, expirationDays),
		CreatedAt:         now,
	}
	if err := s.repo.Insert(ctx, key); err != nil {
		return nil, domain.Wrap(domain.KindTransientDependency, "KEY_INSERT", "key persist failed", err)
	}

	s.audit(ctx, key.ID, "created", "", nil, map[string]interface{}{
		"name":            name,
		"permissions":     permissions,
		"expiration_days": expirationDays,
		"auto_renew":      autoRenew,
	})
	logger.Info("api key created", "key_id", key.ID, "owner_id", ownerID)
	return &CreateResult{ID: key.ID, PlaintextKey: plaintext}, nil
}

// Validate resolves a plaintext key to an identity, or nil when the key is
// unknown, revoked or expired. The first validation after the expiry
// instant flips the key to expired and audits the observation.
func (s *Service) Validate(ctx context.Context, plaintext string, rc *RequestContext) (*Identity, error) {
	if !wellFormed(plaintext) {
		return nil, nil
	}

	key, err := s.repo.GetByHash(ctx, HashKey(plaintext))
	if err != nil {
		return nil, domain.Wrap(domain.KindTransientDependency, "KEY_LOOKUP", "key lookup failed", err)
	}
	if key == nil || key.Status == StatusRevoked || key.Status == StatusExpired {
		return nil, nil
	}

	if time.Now().After(key.ExpiresAt) {
		key.Status = StatusExpired
		if err := s.repo.Update(ctx, key); err != nil {
			logger.Warn("expired key flip failed", "key_id", key.ID, "error", err.Error())
		} else {
			s.audit(ctx, key.ID, "expired", "", nil, nil)
		}
		return nil, nil
	}

	now := time.Now()
	key.LastUsedAt = &now
	if err := s.repo.Update(ctx, key); err != nil {
		logger.Debug("last-used stamp failed", "key_id", key.ID, "error", err.Error())
	}
	s.audit(ctx, key.ID, "used", "", rc, nil)

	return &Identity{KeyID: key.ID, OwnerID: key.OwnerID, Permissions: key.Permissions}, nil
}

// Revoke disables a key permanently.
func (s *Service) Revoke(ctx context.Context, id, ownerID, userID, reason string) error {
	key, err := s.mustGet(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if key.Status == StatusRevoked {
		return domain.E(domain.KindValidation, "KEY_REVOKED", "key is already revoked")
	}

	now := time.Now()
	key.Status = StatusRevoked
	key.RevokedAt = &now
	key.RevokedBy = userID
	key.RevokedReason = reason
	if err := s.repo.Update(ctx, key); err != nil {
		return domain.Wrap(domain.KindTransientDependency, "KEY_UPDATE", "revoke persist failed", err)
	}
	s.audit(ctx, id, "revoked", userID, nil, map[string]interface{}{"reason": reason})
	logger.Info("api key revoked", "key_id", id, "owner_id", ownerID)
	return nil
}

// Renew pushes the expiry forward from the later of now and the current
// expiry, and reactivates an expired key. An omitted extension falls back
// to the key's renewal period.
func (s *Service) Renew(ctx context.Context, id, ownerID, userID string, extensionDays int) error {
	key, err := s.mustGet(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if key.Status == StatusRevoked {
		return domain.E(domain.KindValidation, "KEY_REVOKED", "revoked keys cannot be renewed")
	}
	if extensionDays <= 0 {
		extensionDays = key.RenewalPeriodDays
	}
	if extensionDays <= 0 {
		extensionDays = DefaultExpirationDays
	}

	base := time.Now()
	if key.ExpiresAt.After(base) {
		base = key.ExpiresAt
	}
	key.ExpiresAt = base.AddDate(0, 0, extensionDays)
	key.Status = StatusActive
	if err := s.repo.Update(ctx, key); err != nil {
		return domain.Wrap(domain.KindTransientDependency, "KEY_UPDATE", "renew persist failed", err)
	}
	s.audit(ctx, id, "renewed", userID, nil, map[string]interface{}{"extension_days": extensionDays})
	return nil
}

// UpdateSettings replaces the key's settings blob. The renewal knobs are
// lifted out of the blob into their typed fields.
func (s *Service) UpdateSettings(ctx context.Context, id, ownerID string, settings map[string]interface{}) error {
	key, err := s.mustGet(ctx, id, ownerID)
	if err != nil {
		return err
	}
	key.Settings = settings
	if v, ok := settings["auto_renew"].(bool); ok {
		key.AutoRenew = v
	}
	if v, ok := settings["renewal_period_days"].(float64); ok && v > 0 {
		key.RenewalPeriodDays = int(v)
	}
	if err := s.repo.Update(ctx, key); err != nil {
		return domain.Wrap(domain.KindTransientDependency, "KEY_UPDATE", "settings persist failed", err)
	}
	s.audit(ctx, id, "settings_updated", "", nil, map[string]interface{}{"settings": settings})
	return nil
}

// List returns an owner's keys, newest first.
func (s *Service) List(ctx context.Context, ownerID string, includeRevoked bool) ([]*APIKey, error) {
	return s.repo.ListByOwner(ctx, ownerID, includeRevoked)
}

// Stats summarizes an owner's keys. ExpiringSoon counts active keys within
// seven days of expiry.
func (s *Service) Stats(ctx context.Context, ownerID string) (OwnerStats, error) {
	keys, err := s.repo.ListByOwner(ctx, ownerID, true)
	if err != nil {
		return OwnerStats{}, err
	}

	var st OwnerStats
	soon := time.Now().AddDate(0, 0, 7)
	for _, k := range keys {
		st.Total++
		switch k.Status {
		case StatusActive:
			st.Active++
			if k.ExpiresAt.Before(soon) {
				st.ExpiringSoon++
			}
		case StatusExpired:
			st.Expired++
		case StatusRevoked:
			st.Revoked++
		}
	}
	return st, nil
}

// Expiring returns an owner's active keys expiring within daysBefore days
// (default 7).
func (s *Service) Expiring(ctx context.Context, ownerID string, daysBefore int) ([]*APIKey, error) {
	if daysBefore <= 0 {
		daysBefore = 7
	}
	keys, err := s.repo.ListExpiringBefore(ctx, time.Now().AddDate(0, 0, daysBefore))
	if err != nil {
		return nil, err
	}
	var out []*APIKey
	for _, k := range keys {
		if k.OwnerID == ownerID {
			out = append(out, k)
		}
	}
	return out, nil
}

// AuditLogs returns up to limit (default 50) recent audit rows for a key
// the owner holds.
func (s *Service) AuditLogs(ctx context.Context, id, ownerID string, limit int) ([]*AuditLog, error) {
	if _, err := s.mustGet(ctx, id, ownerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.repo.ListAudit(ctx, id, limit)
}

func (s *Service) mustGet(ctx context.Context, id, ownerID string) (*APIKey, error) {
	key, err := s.repo.GetByID(ctx, id, ownerID)
	if err != nil {
		return nil, domain.Wrap(domain.KindTransientDependency, "KEY_LOOKUP", "key lookup failed", err)
	}
	if key == nil {
		return nil, domain.ErrNotFound
	}
	return key, nil
}

func (s *Service) audit(ctx context.Context, keyID, action, userID string, rc *RequestContext, metadata map[string]interface{}) {
	row := &AuditLog{
		ID:        uuid.New().String(),
		KeyID:     keyID,
		Action:    action,
		UserID:    userID,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if rc != nil {
		row.IPAddress = rc.IPAddress
		row.UserAgent = rc.UserAgent
	}
	if err := s.repo.AppendAudit(ctx, row); err != nil {
		logger.Warn("audit append failed", "key_id", keyID, "action", action, "error", err.Error())
	}
}
