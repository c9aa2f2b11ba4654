package controller

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/queue"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/repository"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/service"
)

type MessageController struct {
	MailerService *service.MailerService
	Messages      repository.MessageRepositoryInterface
}

func (c *MessageController) SendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		To         string            `json:"to"`
		ToName     string            `json:"to_name"`
		Subject    string            `json:"subject"`
		Template   string            `json:"template"`
		Context    map[string]any    `json:"context"`
		Priority   uint8             `json:"priority"`
		DelaySecs  int               `json:"delay_seconds"`
		CampaignID string            `json:"campaign_id"`
		Tags       map[string]string `json:"tags"`
		UserID     string            `json:"user_id"`
		IsTest     bool              `json:"is_test"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	messageID, err := c.MailerService.Send(service.SendRequest{
		To:         body.To,
		ToName:     body.ToName,
		Subject:    body.Subject,
		Template:   body.Template,
		Context:    body.Context,
		Priority:   body.Priority,
		Delay:      time.Duration(body.DelaySecs) * time.Second,
		CampaignID: body.CampaignID,
		Tags:       body.Tags,
		UserID:     body.UserID,
		IsTest:     body.IsTest,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": messageID})
}

func (c *MessageController) SendBatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Recipients []queue.Recipient `json:"recipients"`
		Subject    string            `json:"subject"`
		Template   string            `json:"template"`
		Context    map[string]any    `json:"context"`
		BatchSize  int               `json:"batch_size"`
		CampaignID string            `json:"campaign_id"`
		UserID     string            `json:"user_id"`
		IsTest     bool              `json:"is_test"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	result, err := c.MailerService.SendBatch(service.BatchRequest{
		Recipients: body.Recipients,
		Subject:    body.Subject,
		Template:   body.Template,
		Context:    body.Context,
		BatchSize:  body.BatchSize,
		CampaignID: body.CampaignID,
		UserID:     body.UserID,
		IsTest:     body.IsTest,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

func (c *MessageController) GetMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	msg, err := c.MailerService.GetMessage(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

func (c *MessageController) GetMessageEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events, err := c.MailerService.GetMessageEvents(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"data": events})
}

func (c *MessageController) ResendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	newID, err := c.MailerService.Resend(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": newID, "resend_of": id})
}

// RecordEvent ingests a collaborator-reported lifecycle event for one
// message (delivered, bounced, complained from the receiving side).
// Accepts the kind bare or with its email. prefix.
func (c *MessageController) RecordEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Event    string            `json:"event"`
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	kind := strings.TrimPrefix(body.Event, "email.")
	if err := c.MailerService.RecordProviderEvent(id, kind, body.Metadata); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": id, "event": kind})
}

// GetCampaignStats returns message counts by status for one campaign or
// batch ID.
func (c *MessageController) GetCampaignStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	stats, err := c.Messages.CampaignStats(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"campaign_id": id, "stats": stats})
}
