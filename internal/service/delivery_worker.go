package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/bus"
	appErrors "github.com/nguyenhoangdanh/oauth-mail-sub000/internal/errors"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/model"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/queue"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/repository"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/template"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/internal/transport"
	"github.com/nguyenhoangdanh/oauth-mail-sub000/pkg/metrics"
)

// Renderer is the slice of the template renderer the worker needs.
type Renderer interface {
	Render(name string, data map[string]any) (*template.Rendered, error)
}

// DeliveryWorker processes send and batch jobs pulled from the durable
// queue: render, inject tracking, send through the Transport, persist the
// outcome and raise lifecycle events.
type DeliveryWorker struct {
	Messages  repository.MessageRepositoryInterface
	Events    repository.EventRepositoryInterface
	Renderer  Renderer
	Transport transport.Transport
	Queue     queue.Publisher
	Bus       *bus.Bus
	Limiter   *HourlyLimiter
	Metrics   *metrics.Metrics
	Logger    *zap.SugaredLogger

	AppName      string
	AppURL       string
	MailFrom     string
	MailFromName string
	SendQueue    string
	MaxAttempts  int
	BaseBackoff  time.Duration
}

// ProcessSend handles one send job. A nil return acknowledges the job;
// requeues for retry and rate-limit deferral are scheduled explicitly, so
// errors are only returned for infrastructure failures worth redelivery.
func (w *DeliveryWorker) ProcessSend(ctx context.Context, job queue.SendJob) error {
	if deferred, err := w.deferIfRateLimited(ctx, job); err != nil {
		return err
	} else if deferred {
		return nil
	}

	attempt, err := w.Messages.BeginAttempt(job.MessageID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Message gone or already terminal; a redelivered duplicate.
			w.Logger.Warnw("send job skipped", "message_id", job.MessageID)
			return nil
		}
		return err
	}

	rendered, err := w.Renderer.Render(job.Template, w.mergeContext(job))
	if err != nil {
		if isTemplateError(err) {
			return w.fail(job, err.Error())
		}
		return w.retryOrFail(job, attempt, err)
	}

	subject := job.Subject
	if subject == "" {
		subject = rendered.Subject
	}

	html := rendered.HTML
	if html != "" {
		html = template.InjectTracking(html, w.AppURL, job.MessageID)
	}

	providerID, err := w.Transport.Send(ctx, &transport.Mail{
		From:     w.MailFrom,
		FromName: w.MailFromName,
		To:       job.To,
		ToName:   job.ToName,
		Subject:  subject,
		HTML:     html,
		Text:     rendered.Text,
	})
	if err != nil {
		return w.retryOrFail(job, attempt, err)
	}

	if err := w.Messages.MarkSent(job.MessageID, providerID); err != nil {
		// The mail went out; a redelivered job would duplicate the send,
		// so record the problem and ack.
		w.Logger.Errorw("sent but failed to persist status", "message_id", job.MessageID, "error", err)
	}
	if w.Limiter != nil {
		if err := w.Limiter.Record(ctx); err != nil {
			w.Logger.Warnw("failed to record send in rate limiter", "error", err)
		}
	}
	if w.Metrics != nil {
		w.Metrics.IncSent()
	}
	w.publishEvent(job, model.EventSent, map[string]string{"provider_id": providerID})
	return nil
}

// ProcessBatch fans a chunk out into per-recipient send jobs. Recipient
// failures are logged and skipped so the rest of the chunk proceeds.
func (w *DeliveryWorker) ProcessBatch(ctx context.Context, job queue.BatchJob) error {
	for _, rcpt := range job.Recipients {
		merged := make(map[string]any, len(job.Context)+len(rcpt.Context))
		for k, v := range job.Context {
			merged[k] = v
		}
		for k, v := range rcpt.Context {
			merged[k] = v
		}

		msg := &model.Message{
			ID:         uuid.NewString(),
			ToAddress:  rcpt.Address,
			ToName:     rcpt.Name,
			Subject:    job.Subject,
			Template:   job.Template,
			Context:    merged,
			Status:     model.StatusPending,
			CampaignID: job.CampaignID,
			UserID:     job.UserID,
			IsTest:     job.IsTest,
		}
		if err := w.Messages.Create(msg); err != nil {
			w.Logger.Errorw("failed to create batch message", "batch_id", job.BatchID, "to", rcpt.Address, "error", err)
			continue
		}

		send := queue.SendJob{
			MessageID: msg.ID,
			To:        msg.ToAddress,
			ToName:    msg.ToName,
			Subject:   msg.Subject,
			Template:  msg.Template,
			Context:   msg.Context,
		}
		if err := w.Queue.Publish(w.SendQueue, send, queue.Options{}); err != nil {
			w.Logger.Errorw("failed to enqueue batch send", "batch_id", job.BatchID, "message_id", msg.ID, "error", err)
			continue
		}
		if w.Metrics != nil {
			w.Metrics.IncEnqueued()
		}
	}
	return nil
}

func (w *DeliveryWorker) deferIfRateLimited(ctx context.Context, job queue.SendJob) (bool, error) {
	if w.Limiter == nil {
		return false, nil
	}
	allowed, err := w.Limiter.Allow(ctx)
	if err != nil {
		// Limiter trouble must not stop the pipeline.
		w.Logger.Warnw("rate limiter unavailable, proceeding", "error", err)
		return false, nil
	}
	if allowed {
		return false, nil
	}

	delay := w.Limiter.Delay()
	w.Logger.Infow("hourly ceiling reached, deferring send", "message_id", job.MessageID, "delay", delay)
	if w.Metrics != nil {
		w.Metrics.IncRateLimited()
	}
	return true, w.Queue.Publish(w.SendQueue, job, queue.Options{Delay: delay})
}

// retryOrFail schedules a delayed redelivery while attempts remain and
// marks the message failed once they are exhausted.
func (w *DeliveryWorker) retryOrFail(job queue.SendJob, attempt int, cause error) error {
	maxAttempts := w.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if attempt < maxAttempts {
		delay := backoffDelay(attempt, w.BaseBackoff)
		w.Logger.Warnw("send failed, scheduling retry",
			"message_id", job.MessageID, "attempt", attempt, "delay", delay, "error", cause)
		if w.Metrics != nil {
			w.Metrics.IncRetried()
		}
		return w.Queue.Publish(w.SendQueue, job, queue.Options{Delay: delay})
	}
	return w.fail(job, cause.Error())
}

func (w *DeliveryWorker) fail(job queue.SendJob, lastError string) error {
	if err := w.Messages.MarkFailed(job.MessageID, lastError); err != nil {
		return err
	}
	if w.Metrics != nil {
		w.Metrics.IncFailed()
	}
	w.Logger.Errorw("message permanently failed", "message_id", job.MessageID, "error", lastError)
	w.publishEvent(job, model.EventFailed, map[string]string{"error": lastError})
	return nil
}

func (w *DeliveryWorker) publishEvent(job queue.SendJob, kind string, metadata map[string]string) {
	evt := &model.Event{
		ID:        uuid.NewString(),
		MessageID: job.MessageID,
		Kind:      kind,
		Recipient: job.To,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}
	if err := w.Events.Create(evt); err != nil {
		w.Logger.Errorw("failed to record event", "message_id", job.MessageID, "kind", kind, "error", err)
	}
	if w.Bus != nil {
		w.Bus.Publish(model.BusName(kind), evt)
	}
}

// mergeContext layers the job context over the standard variables every
// template can rely on.
func (w *DeliveryWorker) mergeContext(job queue.SendJob) map[string]any {
	merged := map[string]any{
		"app_name":   w.AppName,
		"app_url":    w.AppURL,
		"message_id": job.MessageID,
		"year":       time.Now().Year(),
		"to_name":    job.ToName,
	}
	for k, v := range job.Context {
		merged[k] = v
	}
	return merged
}

// backoffDelay is base * 2^(attempt-1): 5s, 10s, 20s for the defaults.
func backoffDelay(attempt int, base time.Duration) time.Duration {
	if base <= 0 {
		base = 5 * time.Second
	}
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

func isTemplateError(err error) bool {
	var notFound *appErrors.ErrTemplateNotFound
	var syntax *appErrors.ErrTemplateSyntax
	return errors.As(err, &notFound) || errors.As(err, &syntax)
}
