// Package apikey issues, validates and audits tenant API keys. Plaintext
// keys exist only in the create response; the store holds a SHA-256 digest.
package apikey

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// KeyPrefix marks every issued key.
const KeyPrefix = "es_live_"

// keyRandomHexLen is the hex-encoded random tail after the prefix.
const keyRandomHexLen = 48

// Status is the key lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusRevoked Status = "revoked"
)

// APIKey is the stored representation. KeyHash is the SHA-256 hex digest
// of the plaintext; Hint keeps the first characters for display.
type APIKey struct {
	ID          string                 `json:"id"`
	OwnerID     string                 `json:"owner_id"`
	Name        string                 `json:"name"`
	KeyHash     string                 `json:"-"`
	Hint        string                 `json:"hint"`
	Permissions []string               `json:"permissions"`
	Status      Status                 `json:"status"`
	AutoRenew   bool                   `json:"auto_renew"`
	// RenewalPeriodDays is how far each renewal pushes the expiry.
	RenewalPeriodDays int                    `json:"renewal_period_days"`
	Settings          map[string]interface{} `json:"settings,omitempty"`
	ExpiresAt         time.Time              `json:"expires_at"`
	CreatedAt         time.Time              `json:"created_at"`
	LastUsedAt        *time.Time             `json:"last_used_at,omitempty"`
	RevokedAt         *time.Time             `json:"revoked_at,omitempty"`
	RevokedBy         string                 `json:"revoked_by,omitempty"`
	RevokedReason     string                 `json:"revoked_reason,omitempty"`
}

// HasPermission reports whether the key grants perm. The "*" grant
// matches everything.
func (k *APIKey) HasPermission(perm string) bool {
	for _, p := range k.Permissions {
		if p == "*" || p == perm {
			return true
		}
	}
	return false
}

// AuditLog is one append-only audit row for a key.
type AuditLog struct {
	ID        string                 `json:"id"`
	KeyID     string                 `json:"key_id"`
	Action    string                 `json:"action"`
	UserID    string                 `json:"user_id,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// generateKey returns a fresh plaintext key.
func generateKey() (string, error) {
	buf := make([]byte, keyRandomHexLen/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// HashKey is the at-rest digest of a plaintext key.
func HashKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// wellFormed rejects anything that cannot be an issued key before any
// store lookup happens.
func wellFormed(plaintext string) bool {
	if !strings.HasPrefix(plaintext, KeyPrefix) {
		return false
	}
	tail := plaintext[len(KeyPrefix):]
	if len(tail) != keyRandomHexLen {
		return false
	}
	for _, c := range tail {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func hint(plaintext string) string {
	if len(plaintext) < len(KeyPrefix)+4 {
		return plaintext
	}
	return plaintext[:len(KeyPrefix)+4] + "..."
}
