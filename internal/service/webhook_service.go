package service

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/nguyenhoangdanh/oauth-mail-sub000/internal/errors"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/model"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/queue"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/repository"
)

// WebhookService is the registry surface: subscription CRUD, delivery
// logs and manual retry. List/get/update/delete are scoped to an owner
// when a userID is given; an empty userID is the administrator view.
type WebhookService struct {
	Repo   repository.WebhookRepositoryInterface
	Queue  queue.Publisher
	Logger *zap.SugaredLogger

	WebhookQueue string
}

// SubscriptionRequest is the create/update body.
type SubscriptionRequest struct {
	Name           string            `json:"name"`
	Event          string            `json:"event"`
	URL            string            `json:"url"`
	Method         string            `json:"method,omitempty"`
	Secret         string            `json:"secret,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	MaxRetries     *int              `json:"max_retries,omitempty"`
	TimeoutSeconds *int              `json:"timeout_seconds,omitempty"`
}

func (s *WebhookService) CreateSubscription(req SubscriptionRequest, userID string) (*model.WebhookSubscription, error) {
	if !model.SupportedWebhookEvent(req.Event) {
		return nil, appErrors.NewUnsupportedEventType(req.Event)
	}
	if strings.TrimSpace(req.URL) == "" {
		return nil, fmt.Errorf("webhook url is required")
	}

	secret := req.Secret
	if secret == "" {
		generated, err := generateSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
	}

	sub := &model.WebhookSubscription{
		ID:             uuid.NewString(),
		Name:           req.Name,
		Event:          req.Event,
		URL:            req.URL,
		Method:         normalizeMethod(req.Method),
		Secret:         secret,
		Active:         true,
		Headers:        req.Headers,
		MaxRetries:     3,
		TimeoutSeconds: 30,
		UserID:         userID,
	}
	if req.MaxRetries != nil && *req.MaxRetries > 0 {
		sub.MaxRetries = *req.MaxRetries
	}
	if req.TimeoutSeconds != nil && *req.TimeoutSeconds > 0 {
		sub.TimeoutSeconds = *req.TimeoutSeconds
	}

	if err := s.Repo.CreateSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *WebhookService) GetSubscription(id, userID string) (*model.WebhookSubscription, error) {
	sub, err := s.Repo.GetSubscription(id)
	if err != nil {
		return nil, err
	}
	if sub == nil || (userID != "" && sub.UserID != userID) {
		return nil, appErrors.NewSubscriptionNotFound(id)
	}
	return sub, nil
}

func (s *WebhookService) ListSubscriptions(userID string) ([]*model.WebhookSubscription, error) {
	return s.Repo.ListSubscriptions(userID)
}

func (s *WebhookService) UpdateSubscription(id string, req SubscriptionRequest, userID string) (*model.WebhookSubscription, error) {
	sub, err := s.GetSubscription(id, userID)
	if err != nil {
		return nil, err
	}

	if req.Event != "" && req.Event != sub.Event {
		if !model.SupportedWebhookEvent(req.Event) {
			return nil, appErrors.NewUnsupportedEventType(req.Event)
		}
		sub.Event = req.Event
	}
	if req.Name != "" {
		sub.Name = req.Name
	}
	if req.URL != "" {
		sub.URL = req.URL
	}
	if req.Method != "" {
		sub.Method = normalizeMethod(req.Method)
	}
	if req.Headers != nil {
		sub.Headers = req.Headers
	}
	if req.MaxRetries != nil && *req.MaxRetries > 0 {
		sub.MaxRetries = *req.MaxRetries
	}
	if req.TimeoutSeconds != nil && *req.TimeoutSeconds > 0 {
		sub.TimeoutSeconds = *req.TimeoutSeconds
	}

	if err := s.Repo.UpdateSubscription(sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// DeleteSubscription removes the registration for good. Attempt logs are
// kept for audit.
func (s *WebhookService) DeleteSubscription(id, userID string) error {
	if _, err := s.GetSubscription(id, userID); err != nil {
		return err
	}
	return s.Repo.DeleteSubscription(id)
}

// Activate reverses an auto-disable: re-enables the subscription and
// clears its lifetime failure counter.
func (s *WebhookService) Activate(id, userID string) error {
	if _, err := s.GetSubscription(id, userID); err != nil {
		return err
	}
	return s.Repo.Activate(id)
}

// ListEvents returns the supported subscription event names.
func (s *WebhookService) ListEvents() []string {
	return model.SupportedWebhookEvents
}

func (s *WebhookService) ListDeliveries(subscriptionID string, limit int, userID string) ([]*model.WebhookDeliveryAttempt, error) {
	if _, err := s.GetSubscription(subscriptionID, userID); err != nil {
		return nil, err
	}
	return s.Repo.ListAttempts(subscriptionID, limit)
}

// RetryDelivery resets a failed attempt and submits a single-try job,
// outside the automatic backoff schedule.
func (s *WebhookService) RetryDelivery(attemptID, userID string) error {
	attempt, err := s.Repo.GetAttempt(attemptID)
	if err != nil {
		return err
	}
	if attempt == nil {
		return fmt.Errorf("delivery attempt %s not found", attemptID)
	}
	if _, err := s.GetSubscription(attempt.SubscriptionID, userID); err != nil {
		return err
	}

	if err := s.Repo.RequeueAttempt(attemptID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("delivery attempt %s is not in a retriable state", attemptID)
		}
		return err
	}

	job := queue.WebhookJob{
		AttemptID:      attempt.ID,
		SubscriptionID: attempt.SubscriptionID,
		Payload:        attempt.Payload,
		Attempt:        attempt.Attempt,
		Single:         true,
	}
	return s.Queue.Publish(s.WebhookQueue, job, queue.Options{})
}

func normalizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return method
	default:
		return http.MethodPost
	}
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
