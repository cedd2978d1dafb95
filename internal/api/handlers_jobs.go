package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nftecnologia/mailgenius/internal/domain"
)

type startImportRequest struct {
	Records []domain.ImportRecord `json:"records"`
}

// StartImport fans the supplied records out into chunk jobs and answers
// with the import id immediately; completion is observed via progress.
func (h *Handlers) StartImport(w http.ResponseWriter, r *http.Request) {
	var req startImportRequest
	if !Decode(w, r, &req) {
		return
	}

	identity := IdentityFrom(r.Context())
	importID, err := h.importer.Start(r.Context(), identity.OwnerID, req.Records)
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]any{
		"import_id": importID,
		"total":     len(req.Records),
	})
}

func (h *Handlers) CancelImport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.ownProgress(r, id); err != nil {
		Fail(w, err)
		return
	}
	if err := h.importer.Cancel(r.Context(), id); err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]string{"import_id": id, "status": "cancelled"})
}

type startSendRequest struct {
	CampaignID string             `json:"campaign_id"`
	Recipients []domain.Recipient `json:"recipients"`
	Template   domain.Template    `json:"template"`
	Sender     domain.Sender      `json:"sender"`
}

// StartSend creates the campaign fan-out and answers with the send id.
func (h *Handlers) StartSend(w http.ResponseWriter, r *http.Request) {
	var req startSendRequest
	if !Decode(w, r, &req) {
		return
	}

	identity := IdentityFrom(r.Context())
	sendID, err := h.sender.Start(r.Context(), identity.OwnerID, req.CampaignID, req.Recipients, req.Template, req.Sender)
	if err != nil {
		Fail(w, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]any{
		"send_id":    sendID,
		"recipients": len(req.Recipients),
	})
}

func (h *Handlers) CancelSend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.ownProgress(r, id); err != nil {
		Fail(w, err)
		return
	}
	if err := h.sender.Cancel(r.Context(), id); err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]string{"send_id": id, "status": "cancelled"})
}

// GetProgress returns one run's record. Foreign ids answer not-found, not
// forbidden, so that run ids cannot be probed across tenants.
func (h *Handlers) GetProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.tracker.Get(r.Context(), id)
	if err != nil {
		Fail(w, err)
		return
	}
	identity := IdentityFrom(r.Context())
	if rec == nil || rec.OwnerID != identity.OwnerID {
		Fail(w, domain.ErrNotFound)
		return
	}
	OK(w, rec)
}

func (h *Handlers) ListProgress(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r.Context())
	records, err := h.tracker.ListByOwner(r.Context(), identity.OwnerID)
	if err != nil {
		Fail(w, err)
		return
	}
	OK(w, map[string]any{"records": records, "count": len(records)})
}

func (h *Handlers) ProgressStats(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r.Context())
	counts, err := h.tracker.Stats(r.Context(), identity.OwnerID)
	if err != nil {
		Fail(w, err)
		return
	}
	OK(w, counts)
}

// ownProgress verifies the run behind id belongs to the caller.
func (h *Handlers) ownProgress(r *http.Request, id string) error {
	rec, err := h.tracker.Get(r.Context(), id)
	if err != nil {
		return err
	}
	identity := IdentityFrom(r.Context())
	if rec == nil || rec.OwnerID != identity.OwnerID {
		return domain.ErrNotFound
	}
	return nil
}
