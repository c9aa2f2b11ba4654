package controller

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/bus"
	appErrors "github.com/nguyenhoangdanh/oauth-mail-sub000/internal/errors"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/model"
)

// EventController ingests collaborator-originated events (user.created,
// organization.created) and publishes them on the in-process bus so
// registered webhooks fan out. Mail lifecycle events are rejected here;
// they go through the per-message event endpoint so the message store
// stays consistent.
type EventController struct {
	Bus *bus.Bus
}

func (c *EventController) PublishEvent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if !model.SupportedWebhookEvent(body.Event) || strings.HasPrefix(body.Event, "email.") {
		writeError(w, appErrors.NewUnsupportedEventType(body.Event))
		return
	}

	c.Bus.Publish(body.Event, body.Data)
	writeJSON(w, http.StatusAccepted, map[string]string{"event": body.Event, "status": "published"})
}
