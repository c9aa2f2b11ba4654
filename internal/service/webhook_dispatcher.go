package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
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

const (
	signatureHeader = "X-Webhook-Signature"
	maxResponseSize = 1024
	maxWebhookDelay = 30 * time.Minute
)

// WebhookDispatcher bridges the event bus and the webhook delivery
// queue. Its only coupling to the delivery pipeline is bus subscription;
// it never talks to the delivery worker directly.
type WebhookDispatcher struct {
	Repo    repository.WebhookRepositoryInterface
	Queue   queue.Publisher
	Metrics *metrics.Metrics
	Logger  *zap.SugaredLogger

	WebhookQueue   string
	UserAgent      string
	DefaultTimeout time.Duration
	Client         *http.Client
}

// Register subscribes the dispatcher to every supported event name.
// Called once at the composition root before traffic begins.
func (d *WebhookDispatcher) Register(b *bus.Bus) {
	for _, name := range model.SupportedWebhookEvents {
		b.Subscribe(name, d.handleEvent)
	}
}

// handleEvent fans a published event out to every active matching
// subscription: one queued attempt row plus one delivery job each.
func (d *WebhookDispatcher) handleEvent(name string, payload any) {
	subs, err := d.Repo.ListActiveByEvent(name)
	if err != nil {
		d.Logger.Errorw("failed to list subscriptions for event", "event", name, "error", err)
		return
	}
	if len(subs) == 0 {
		return
	}

	label, data, messageID := describeEvent(name, payload)
	body := model.WebhookPayload{
		ID:        uuid.NewString(),
		Event:     label,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
	raw, err := json.Marshal(body)
	if err != nil {
		d.Logger.Errorw("failed to marshal webhook payload", "event", name, "error", err)
		return
	}

	for _, sub := range subs {
		attempt := &model.WebhookDeliveryAttempt{
			ID:             uuid.NewString(),
			SubscriptionID: sub.ID,
			Event:          name,
			Payload:        raw,
			Attempt:        1,
			Status:         model.AttemptQueued,
			MessageID:      messageID,
		}
		if err := d.Repo.CreateAttempt(attempt); err != nil {
			d.Logger.Errorw("failed to record delivery attempt", "subscription_id", sub.ID, "error", err)
			continue
		}

		job := queue.WebhookJob{
			AttemptID:      attempt.ID,
			SubscriptionID: sub.ID,
			Payload:        raw,
			Attempt:        1,
		}
		if err := d.Queue.Publish(d.WebhookQueue, job, queue.Options{}); err != nil {
			d.Logger.Errorw("failed to enqueue webhook delivery", "subscription_id", sub.ID, "error", err)
		}
	}
}

// ProcessDelivery executes one delivery attempt. A nil return
// acknowledges the job; follow-up attempts are scheduled explicitly.
func (d *WebhookDispatcher) ProcessDelivery(ctx context.Context, job queue.WebhookJob) error {
	sub, err := d.Repo.GetSubscription(job.SubscriptionID)
	if err != nil {
		return err
	}
	if sub == nil {
		return d.Repo.CompleteAttempt(job.AttemptID, model.AttemptFailed, 0, "", "subscription deleted", 0)
	}
	if !sub.Active {
		// Disabled between enqueue and delivery; drop without counting
		// another failure against it.
		return d.Repo.CompleteAttempt(job.AttemptID, model.AttemptFailed, 0, "", "subscription inactive", 0)
	}

	if err := d.Repo.MarkAttemptProcessing(job.AttemptID); err != nil {
		d.Logger.Warnw("failed to mark attempt processing", "attempt_id", job.AttemptID, "error", err)
	}

	statusCode, response, duration, callErr := d.call(ctx, sub, job.Payload)
	if callErr == nil {
		if err := d.Repo.CompleteAttempt(job.AttemptID, model.AttemptSuccess, statusCode, response, "", duration.Milliseconds()); err != nil {
			d.Logger.Errorw("failed to complete attempt", "attempt_id", job.AttemptID, "error", err)
		}
		if err := d.Repo.RecordSuccess(sub.ID); err != nil {
			d.Logger.Errorw("failed to record subscription success", "subscription_id", sub.ID, "error", err)
		}
		if d.Metrics != nil {
			d.Metrics.IncWebhookDelivered()
		}
		return nil
	}

	if err := d.Repo.CompleteAttempt(job.AttemptID, model.AttemptFailed, statusCode, response, callErr.Error(), duration.Milliseconds()); err != nil {
		d.Logger.Errorw("failed to complete attempt", "attempt_id", job.AttemptID, "error", err)
	}
	if d.Metrics != nil {
		d.Metrics.IncWebhookFailed()
	}

	failedAttempts, stillActive, err := d.Repo.RecordFailure(sub.ID, callErr.Error(), model.DisableThreshold)
	if err != nil {
		d.Logger.Errorw("failed to record subscription failure", "subscription_id", sub.ID, "error", err)
		return nil
	}
	if !stillActive {
		d.Logger.Warnw("subscription auto-disabled after sustained failure",
			"subscription_id", sub.ID, "failed_attempts", failedAttempts)
		return nil
	}

	if job.Single || job.Attempt >= sub.MaxRetries {
		return nil
	}

	next := &model.WebhookDeliveryAttempt{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		Event:          sub.Event,
		Payload:        job.Payload,
		Attempt:        job.Attempt + 1,
		Status:         model.AttemptQueued,
	}
	if err := d.Repo.CreateAttempt(next); err != nil {
		d.Logger.Errorw("failed to record retry attempt", "subscription_id", sub.ID, "error", err)
		return nil
	}

	retry := queue.WebhookJob{
		AttemptID:      next.ID,
		SubscriptionID: sub.ID,
		Payload:        job.Payload,
		Attempt:        next.Attempt,
	}
	delay := WebhookBackoff(job.Attempt)
	d.Logger.Infow("scheduling webhook retry",
		"subscription_id", sub.ID, "attempt", next.Attempt, "delay", delay)
	return d.Queue.Publish(d.WebhookQueue, retry, queue.Options{Delay: delay})
}

// call issues the signed HTTP request and classifies the outcome.
func (d *WebhookDispatcher) call(ctx context.Context, sub *model.WebhookSubscription, payload []byte) (int, string, time.Duration, error) {
	timeout := time.Duration(sub.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = d.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, sub.Method, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, "", 0, appErrors.NewTransport(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, Sign(payload, sub.Secret))
	if d.UserAgent != "" {
		req.Header.Set("User-Agent", d.UserAgent)
	}
	for key, value := range sub.Headers {
		req.Header.Set(key, value)
	}

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	start := time.Now()
	resp, err := client.Do(req)
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			return 0, "", duration, appErrors.NewTimeout("webhook call", err)
		}
		return 0, "", duration, appErrors.NewTransport(err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	response := string(body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, response, duration, appErrors.NewNonSuccessStatus(resp.StatusCode)
	}
	return resp.StatusCode, response, duration, nil
}

// Sign computes the hex HMAC-SHA256 of the payload with the subscription
// secret. Subscribers recompute this over the raw body to authenticate
// the call.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is the subscriber-side counterpart of Sign.
func VerifySignature(payload []byte, secret, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(mac.Sum(nil), expected)
}

// WebhookBackoff is min(2^attempt * 5s, 30m).
func WebhookBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 10 {
		return maxWebhookDelay
	}
	delay := (5 * time.Second) << attempt
	if delay > maxWebhookDelay {
		return maxWebhookDelay
	}
	return delay
}

// describeEvent maps a bus payload onto the canonical webhook body. Mail
// lifecycle events carry the bare kind (sent, opened, ...) as the event
// label plus the message details as data; collaborator events pass
// through under their full name.
func describeEvent(name string, payload any) (label string, data any, messageID string) {
	if evt, ok := payload.(*model.Event); ok {
		data := map[string]any{
			"message_id":  evt.MessageID,
			"recipient":   evt.Recipient,
			"occurred_at": evt.CreatedAt.UTC().Format(time.RFC3339),
		}
		for k, v := range evt.Metadata {
			data[k] = v
		}
		return evt.Kind, data, evt.MessageID
	}
	label = name
	if i := strings.IndexByte(name, '.'); i >= 0 && strings.HasPrefix(name, "email.") {
		label = name[i+1:]
	}
	return label, payload, ""
}
