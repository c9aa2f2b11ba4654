package service

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/bus"
	appErrors "github.com/nguyenhoangdanh/oauth-mail-sub000/internal/errors"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/model"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/queue"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/repository"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/pkg/metrics"
)

// MailerService accepts send requests from collaborators, owns the
// message lifecycle surface (status query, resend, tracking records) and
// submits jobs to the durable dispatch queue.
type MailerService struct {
	Messages repository.MessageRepositoryInterface
	Events   repository.EventRepositoryInterface
	Queue    queue.Publisher
	Bus      *bus.Bus
	Metrics  *metrics.Metrics
	Logger   *zap.SugaredLogger

	SendQueue  string
	BatchQueue string
	BatchSize  int
	AppURL     string
}

// SendRequest is one enqueue call.
type SendRequest struct {
	To         string            `json:"to"`
	ToName     string            `json:"to_name,omitempty"`
	Subject    string            `json:"subject"`
	Template   string            `json:"template"`
	Context    map[string]any    `json:"context,omitempty"`
	Priority   uint8             `json:"priority,omitempty"`
	Delay      time.Duration     `json:"-"`
	CampaignID string            `json:"campaign_id,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	IsTest     bool              `json:"is_test,omitempty"`
}

// BatchRequest fans one template out to many recipients.
type BatchRequest struct {
	Recipients []queue.Recipient `json:"recipients"`
	Subject    string            `json:"subject"`
	Template   string            `json:"template"`
	Context    map[string]any    `json:"context,omitempty"`
	BatchSize  int               `json:"batch_size,omitempty"`
	CampaignID string            `json:"campaign_id,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	IsTest     bool              `json:"is_test,omitempty"`
}

// Send validates the request, persists a pending message and submits a
// send job. The message ID is returned immediately; the outcome arrives
// asynchronously via status polling or webhooks.
func (s *MailerService) Send(req SendRequest) (string, error) {
	if err := validateRecipient(req.To); err != nil {
		return "", err
	}

	msg := &model.Message{
		ID:         uuid.NewString(),
		ToAddress:  req.To,
		ToName:     req.ToName,
		Subject:    req.Subject,
		Template:   req.Template,
		Context:    req.Context,
		Status:     model.StatusPending,
		CampaignID: req.CampaignID,
		Tags:       req.Tags,
		UserID:     req.UserID,
		IsTest:     req.IsTest,
	}
	if err := s.Messages.Create(msg); err != nil {
		return "", err
	}

	job := queue.SendJob{
		MessageID: msg.ID,
		To:        msg.ToAddress,
		ToName:    msg.ToName,
		Subject:   msg.Subject,
		Template:  msg.Template,
		Context:   msg.Context,
	}
	if err := s.Queue.Publish(s.SendQueue, job, queue.Options{Priority: req.Priority, Delay: req.Delay}); err != nil {
		return "", err
	}

	if s.Metrics != nil {
		s.Metrics.IncEnqueued()
	}
	return msg.ID, nil
}

// BatchResult reports what SendBatch queued.
type BatchResult struct {
	BatchID string `json:"batch_id"`
	Queued  int    `json:"queued"`
}

// SendBatch splits the recipients into fixed-size chunks and submits one
// batch job per chunk. The worker fans each chunk out into individual
// send jobs, so the batch is never blocked by one recipient.
func (s *MailerService) SendBatch(req BatchRequest) (*BatchResult, error) {
	if len(req.Recipients) == 0 {
		return nil, appErrors.NewInvalidRecipient("")
	}
	for _, rcpt := range req.Recipients {
		if err := validateRecipient(rcpt.Address); err != nil {
			return nil, err
		}
	}

	chunkSize := req.BatchSize
	if chunkSize <= 0 {
		chunkSize = s.BatchSize
	}
	if chunkSize <= 0 {
		chunkSize = 100
	}

	batchID := uuid.NewString()
	campaignID := req.CampaignID
	if campaignID == "" {
		campaignID = batchID
	}

	for start := 0; start < len(req.Recipients); start += chunkSize {
		end := start + chunkSize
		if end > len(req.Recipients) {
			end = len(req.Recipients)
		}
		job := queue.BatchJob{
			BatchID:    batchID,
			Recipients: req.Recipients[start:end],
			Subject:    req.Subject,
			Template:   req.Template,
			Context:    req.Context,
			CampaignID: campaignID,
			UserID:     req.UserID,
			IsTest:     req.IsTest,
		}
		if err := s.Queue.Publish(s.BatchQueue, job, queue.Options{}); err != nil {
			return nil, err
		}
	}

	return &BatchResult{BatchID: batchID, Queued: len(req.Recipients)}, nil
}

// GetMessage returns the current lifecycle state of one message.
func (s *MailerService) GetMessage(id string) (*model.Message, error) {
	msg, err := s.Messages.GetByID(id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, appErrors.NewMessageNotFound(id)
	}
	return msg, nil
}

// GetMessageEvents returns the append-only event history of one message.
func (s *MailerService) GetMessageEvents(id string) ([]*model.Event, error) {
	if _, err := s.GetMessage(id); err != nil {
		return nil, err
	}
	return s.Events.ListByMessage(id)
}

// Resend creates a fresh pending message carrying the original's
// recipient, template and context. Only failed and bounced messages may
// be resent; the original records the new ID in resend_id.
func (s *MailerService) Resend(id string) (string, error) {
	msg, err := s.GetMessage(id)
	if err != nil {
		return "", err
	}
	if msg.Status != model.StatusFailed && msg.Status != model.StatusBounced {
		return "", fmt.Errorf("message cannot be resent in status: %s", msg.Status)
	}

	newID, err := s.Send(SendRequest{
		To:         msg.ToAddress,
		ToName:     msg.ToName,
		Subject:    msg.Subject,
		Template:   msg.Template,
		Context:    msg.Context,
		CampaignID: msg.CampaignID,
		Tags:       msg.Tags,
		UserID:     msg.UserID,
		IsTest:     msg.IsTest,
	})
	if err != nil {
		return "", err
	}

	if err := s.Messages.SetResendID(id, newID); err != nil {
		s.Logger.Errorw("failed to link resend", "message_id", id, "resend_id", newID, "error", err)
	}
	return newID, nil
}

// RecordOpen handles a tracking-beacon hit: atomic open counter bump,
// opened event, bus publish.
func (s *MailerService) RecordOpen(id string) error {
	msg, err := s.GetMessage(id)
	if err != nil {
		return err
	}
	if err := s.Messages.IncrementOpen(id); err != nil {
		return err
	}
	if s.Metrics != nil {
		s.Metrics.IncOpens()
	}
	s.publishEvent(msg, model.EventOpened, nil)
	return nil
}

// RecordClick handles a click-redirect hit and returns the URL to
// redirect to. Only absolute http/https targets are honored; everything
// else falls back to the application URL.
func (s *MailerService) RecordClick(id, rawURL string) (string, error) {
	msg, err := s.GetMessage(id)
	if err != nil {
		return "", err
	}

	target := safeRedirectURL(rawURL, s.AppURL)
	if err := s.Messages.IncrementClick(id, target); err != nil {
		return "", err
	}
	if s.Metrics != nil {
		s.Metrics.IncClicks()
	}
	s.publishEvent(msg, model.EventClicked, map[string]string{"url": target})
	return target, nil
}

// RecordProviderEvent applies a collaborator-reported lifecycle event
// (delivered, bounced, complained) to a message. The status only moves
// along the allowed graph; the event row is recorded regardless.
func (s *MailerService) RecordProviderEvent(id, kind string, metadata map[string]string) error {
	status, ok := model.StatusForEvent(kind)
	if !ok {
		return appErrors.NewUnsupportedEventType(kind)
	}

	msg, err := s.GetMessage(id)
	if err != nil {
		return err
	}

	if model.CanTransition(msg.Status, status) {
		switch status {
		case model.StatusBounced:
			err = s.Messages.SetBounced(id, metadata["reason"])
		default:
			err = s.Messages.SetStatus(id, status)
		}
		if err != nil {
			return err
		}
	}

	s.publishEvent(msg, kind, metadata)
	return nil
}

func (s *MailerService) publishEvent(msg *model.Message, kind string, metadata map[string]string) {
	evt := &model.Event{
		ID:        uuid.NewString(),
		MessageID: msg.ID,
		Kind:      kind,
		Recipient: msg.ToAddress,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if err := s.Events.Create(evt); err != nil {
		s.Logger.Errorw("failed to record event", "message_id", msg.ID, "kind", kind, "error", err)
	}
	if s.Bus != nil {
		s.Bus.Publish(model.BusName(kind), evt)
	}
}

func validateRecipient(address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return appErrors.NewInvalidRecipient("")
	}
	at := strings.IndexByte(address, '@')
	if at <= 0 || at == len(address)-1 {
		return appErrors.NewInvalidRecipient(address)
	}
	return nil
}

// safeRedirectURL returns rawURL when it parses as an absolute http(s)
// URL, otherwise the fallback.
func safeRedirectURL(rawURL, fallback string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fallback
	}
	if parsed.Host == "" {
		return fallback
	}
	return rawURL
}
