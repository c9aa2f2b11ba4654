package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/service"
)

type WebhookController struct {
	WebhookService *service.WebhookService
}

// ownerID scopes registry calls to a caller. Authentication itself lives
// in front of this service; an absent header is the administrator view.
func ownerID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func (c *WebhookController) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var body service.SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sub, err := c.WebhookService.CreateSubscription(body, ownerID(r))
	if err != nil {
		writeError(w, err)
		return
	}

	// The secret is returned exactly once, at creation.
	writeJSON(w, http.StatusCreated, map[string]any{
		"subscription": sub,
		"secret":       sub.Secret,
	})
}

func (c *WebhookController) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := c.WebhookService.ListSubscriptions(ownerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": subs})
}

func (c *WebhookController) GetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := c.WebhookService.GetSubscription(chi.URLParam(r, "id"), ownerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (c *WebhookController) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var body service.SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sub, err := c.WebhookService.UpdateSubscription(chi.URLParam(r, "id"), body, ownerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (c *WebhookController) DeleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := c.WebhookService.DeleteSubscription(chi.URLParam(r, "id"), ownerID(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *WebhookController) ActivateSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := c.WebhookService.Activate(id, ownerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "active"})
}

func (c *WebhookController) ListEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": c.WebhookService.ListEvents()})
}

func (c *WebhookController) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	attempts, err := c.WebhookService.ListDeliveries(chi.URLParam(r, "id"), limit, ownerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": attempts})
}

func (c *WebhookController) RetryDelivery(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := c.WebhookService.RetryDelivery(id, ownerID(r)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"attempt_id": id, "status": "queued"})
}
