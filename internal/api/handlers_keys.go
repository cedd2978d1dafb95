package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

type createKeyRequest struct {
	Name           string   `json:"name"`
	Permissions    []string `json:"permissions"`
	ExpirationDays int      `json:"expiration_days"`
	AutoRenew      bool     `json:"auto_renew"`
}

// CreateKey issues a key. The plaintext appears in this response and
// nowhere else.
func (h *Handlers) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if !Decode(w, r, &req) {
		return
	}

	identity := IdentityFrom(r.Context())
	result, err := h.keys.Create(r.Context(), identity.OwnerID, req.Name, req.Permissions, req.ExpirationDays, req.AutoRenew)
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusCreated, result)
}

func (h *Handlers) ListKeys(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r.Context())
	includeRevoked := r.URL.Query().Get("include_revoked") == "true"
	keys, err := h.keys.List(r.Context(), identity.OwnerID, includeRevoked)
	if err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]any{"keys": keys, "count": len(keys)})
}

func (h *Handlers) KeyStats(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r.Context())
	stats, err := h.keys.Stats(r.Context(), identity.OwnerID)
	if err != nil {
		Fail(w, err)
		return
	}
	OK(w, stats)
}

func (h *Handlers) ExpiringKeys(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r.Context())
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))
	keys, err := h.keys.Expiring(r.Context(), identity.OwnerID, days)
	if err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]any{"keys": keys, "count": len(keys)})
}

type revokeKeyRequest struct {
	Reason string `json:"reason"`
}

func (h *Handlers) RevokeKey(w http.ResponseWriter, r *http.Request) {
	var req revokeKeyRequest
	// Body is optional on revoke.
	_ = decodeOptional(r, &req)

	identity := IdentityFrom(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.keys.Revoke(r.Context(), id, identity.OwnerID, identity.KeyID, req.Reason); err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]string{"id": id, "status": "revoked"})
}

type renewKeyRequest struct {
	ExtensionDays int `json:"extension_days"`
}

func (h *Handlers) RenewKey(w http.ResponseWriter, r *http.Request) {
	var req renewKeyRequest
	_ = decodeOptional(r, &req)

	identity := IdentityFrom(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.keys.Renew(r.Context(), id, identity.OwnerID, identity.KeyID, req.ExtensionDays); err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]string{"id": id, "status": "renewed"})
}

type keySettingsRequest struct {
	Settings map[string]interface{} `json:"settings"`
}

func (h *Handlers) UpdateKeySettings(w http.ResponseWriter, r *http.Request) {
	var req keySettingsRequest
	if !Decode(w, r, &req) {
		return
	}

	identity := IdentityFrom(r.Context())
	id := chi.URLParam(r, "id")
	if err := h.keys.UpdateSettings(r.Context(), id, identity.OwnerID, req.Settings); err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]string{"id": id, "status": "updated"})
}

func (h *Handlers) KeyAudits(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r.Context())
	id := chi.URLParam(r, "id")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	audits, err := h.keys.AuditLogs(r.Context(), id, identity.OwnerID, limit)
	if err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]any{"audits": audits, "count": len(audits)})
}
